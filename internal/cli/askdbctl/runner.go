// Package askdbctl implements the askdbctl command line client for the
// askdb HTTP API.
package askdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// requestError marks failures that happened after arguments were accepted.
type requestError struct{ err error }

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// Run executes one command. Exit codes: 0 success, 1 request or HTTP
// failure, 2 usage error.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := newRootCommand(defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		_, _ = fmt.Fprintln(stderr, reqErr.Error())
		return 1
	}
	_, _ = fmt.Fprintf(stderr, "error: %v\n\n", err)
	_ = root.Usage()
	return 2
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	timeout time.Duration
}

func newRootCommand(defaults Options) *cobra.Command {
	var (
		baseURL string
		apiKey  string
		timeout time.Duration
	)
	newClient := func() *client {
		httpClient := defaults.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: timeout}
		}
		return &client{
			baseURL: strings.TrimRight(baseURL, "/"),
			apiKey:  strings.TrimSpace(apiKey),
			http:    httpClient,
			timeout: timeout,
		}
	}

	root := &cobra.Command{
		Use:           "askdbctl",
		Short:         "Ask questions of your database in plain language",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("missing command")
		},
	}
	root.PersistentFlags().StringVar(&baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "askdb API base URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	root.PersistentFlags().DurationVar(&timeout, "timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 30s)")

	root.AddCommand(
		newAskCommand(newClient),
		newTranslateCommand(newClient),
		newQueryCommand(newClient),
		simpleCommand("schema", "Show the schema description the assistant uses", http.MethodGet, "/v1/schema", newClient),
		newMemoryCommand(newClient),
		simpleCommand("archive", "Archive conversation memory to object storage", http.MethodPost, "/v1/memory/archive", newClient),
		simpleCommand("archives", "List memory archives", http.MethodGet, "/v1/memory/archives", newClient),
		simpleCommand("health", "Check API liveness", http.MethodGet, "/v1/health", newClient),
		simpleCommand("ready", "Check API readiness", http.MethodGet, "/v1/ready", newClient),
	)
	return root
}

func simpleCommand(use, short, method, path string, newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newClient().call(cmd, method, path, nil)
		},
	}
}

func newAskCommand(newClient func() *client) *cobra.Command {
	var (
		format string
		stream bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask a question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "text" {
				return fmt.Errorf("invalid --format %q: expected json or text", format)
			}
			question := strings.Join(args, " ")
			c := newClient()
			if stream {
				return c.askStream(cmd, question, format)
			}
			if format == "json" {
				return c.call(cmd, http.MethodPost, "/v1/ask", map[string]string{"question": question})
			}
			code, body, err := c.do(cmd.Context(), http.MethodPost, "/v1/ask", map[string]string{"question": question})
			if err != nil {
				return &requestError{fmt.Errorf("request failed: %w", err)}
			}
			answer, err := decodeAnswer(code, body)
			if err != nil {
				return err
			}
			writeAnswerText(cmd.OutOrStdout(), answer)
			if code >= 400 {
				return &requestError{fmt.Errorf("http %d: %s", code, answer.Message)}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or text")
	cmd.Flags().BoolVar(&stream, "stream", false, "Stream pipeline stages over WebSocket")
	return cmd
}

func newTranslateCommand(newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "translate <question...>",
		Short: "Show the SQL for a question without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().call(cmd, http.MethodPost, "/v1/translate", map[string]string{"question": strings.Join(args, " ")})
		},
	}
}

func newQueryCommand(newClient func() *client) *cobra.Command {
	var rowLimit int
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a read-only SQL statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().call(cmd, http.MethodPost, "/v1/query", map[string]any{"sql": args[0], "row_limit": rowLimit})
		},
	}
	cmd.Flags().IntVar(&rowLimit, "row-limit", 0, "Maximum rows to return (server limit applies)")
	return cmd
}

func newMemoryCommand(newClient func() *client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "List recent remembered answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return newClient().call(cmd, http.MethodGet, "/v1/memory?limit="+strconv.Itoa(limit), nil)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Max records")
	return cmd
}

// call performs the request and prints the response as indented JSON.
func (c *client) call(cmd *cobra.Command, method, path string, payload any) error {
	code, body, err := c.do(cmd.Context(), method, path, payload)
	if err != nil {
		return &requestError{fmt.Errorf("request failed: %w", err)}
	}
	if code >= 400 {
		return &requestError{fmt.Errorf("http %d: %s", code, strings.TrimSpace(string(body)))}
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), pretty)
		return nil
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(body))
	}
	return nil
}

func (c *client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

type streamFrame struct {
	Type      string          `json:"type"`
	Stage     string          `json:"stage"`
	Answer    json.RawMessage `json:"answer"`
	ErrorCode string          `json:"error_code"`
	Message   string          `json:"message"`
}

// askStream prints stage frames to stderr and the answer to stdout.
func (c *client) askStream(cmd *cobra.Command, question, format string) error {
	endpoint, err := websocketURL(c.baseURL + "/v1/ask/ws")
	if err != nil {
		return err
	}
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("X-API-Key", c.apiKey)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(cmd.Context(), endpoint, header)
	if err != nil {
		if resp != nil {
			return &requestError{fmt.Errorf("websocket handshake failed: http %d", resp.StatusCode)}
		}
		return &requestError{fmt.Errorf("websocket dial failed: %w", err)}
	}
	defer func() { _ = conn.Close() }()

	if c.timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	if err := conn.WriteJSON(map[string]string{"question": question}); err != nil {
		return &requestError{fmt.Errorf("send question: %w", err)}
	}
	for {
		var frame streamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return &requestError{fmt.Errorf("read stream: %w", err)}
		}
		switch frame.Type {
		case "stage":
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "... %s\n", frame.Stage)
		case "error":
			return &requestError{fmt.Errorf("%s: %s", frame.ErrorCode, frame.Message)}
		case "answer":
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if format == "text" {
				var answer answerView
				if err := json.Unmarshal(frame.Answer, &answer); err != nil {
					return &requestError{fmt.Errorf("decode answer: %w", err)}
				}
				writeAnswerText(cmd.OutOrStdout(), answer)
				return nil
			}
			if pretty, ok := prettyJSON(frame.Answer); ok {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), pretty)
			}
			return nil
		}
	}
}

func websocketURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", parsed.Scheme)
	}
	return parsed.String(), nil
}

type answerView struct {
	Kind       string   `json:"kind"`
	SQL        string   `json:"sql"`
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	Summary    string   `json:"summary"`
	Message    string   `json:"message"`
	FromMemory bool     `json:"from_memory"`
}

// decodeAnswer accepts both a plain answer body and the error envelope
// that carries the answer under context.answer.
func decodeAnswer(code int, body []byte) (answerView, error) {
	if code < 400 {
		var answer answerView
		if err := json.Unmarshal(body, &answer); err != nil {
			return answerView{}, &requestError{fmt.Errorf("decode answer: %w", err)}
		}
		return answer, nil
	}
	var envelope struct {
		Message string `json:"message"`
		Context struct {
			Answer *answerView `json:"answer"`
		} `json:"context"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Context.Answer == nil {
		return answerView{}, &requestError{fmt.Errorf("http %d: %s", code, strings.TrimSpace(string(body)))}
	}
	return *envelope.Context.Answer, nil
}

func writeAnswerText(w io.Writer, answer answerView) {
	if answer.Summary != "" {
		_, _ = fmt.Fprintln(w, answer.Summary)
	} else if answer.Message != "" {
		_, _ = fmt.Fprintln(w, answer.Message)
	}
	if answer.FromMemory {
		_, _ = fmt.Fprintln(w, "(from memory)")
	}
	if answer.SQL != "" {
		_, _ = fmt.Fprintf(w, "\nSQL:\n%s\n", answer.SQL)
	}
	if len(answer.Rows) > 0 {
		_, _ = fmt.Fprintf(w, "\n%s\n", strings.Join(answer.Columns, "\t"))
		for _, row := range answer.Rows {
			cells := make([]string, len(row))
			for i, cell := range row {
				cells[i] = fmt.Sprint(cell)
			}
			_, _ = fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
