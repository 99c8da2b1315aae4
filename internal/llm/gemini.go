package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/observability"
)

type GeminiConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// GeminiClient calls the generateContent REST endpoint.
type GeminiClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GeminiClient{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (c *GeminiClient) Model() string { return c.model }

func (c *GeminiClient) Generate(ctx context.Context, system, user string) (out string, err error) {
	defer func() { observability.ObserveLLMRequest("gemini", err) }()

	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: user}}}},
	}
	payload.GenerationConfig.Temperature = c.temperature
	if strings.TrimSpace(system) != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal generate payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request generate content: %w", redactKey(err, c.apiKey))
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read generate response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", &StatusError{Provider: "gemini", StatusCode: resp.StatusCode, Body: string(rawRespBody)}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// redactKey keeps the api key, which travels in the query string, out of
// transport errors that end up in logs.
func redactKey(err error, key string) error {
	msg := err.Error()
	redacted := strings.ReplaceAll(strings.ReplaceAll(msg, url.QueryEscape(key), "REDACTED"), key, "REDACTED")
	if key == "" || redacted == msg {
		return err
	}
	return errors.New(redacted)
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}
