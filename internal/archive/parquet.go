package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/askdb/askdb/internal/memory"
)

type EncodeResult struct {
	Data        []byte
	RecordCount int64
	MinTime     *time.Time
	MaxTime     *time.Time
}

type parquetRecord struct {
	Question       string  `parquet:"question"`
	QuestionTokens string  `parquet:"question_tokens"`
	SQLQuery       *string `parquet:"sql_query,optional"`
	Summary        *string `parquet:"summary,optional"`
	ResultsJSON    string  `parquet:"results_json"`
	TimestampUnix  int64   `parquet:"timestamp_unix"`
}

// EncodeRecords writes records to a single parquet file. Tokens are stored
// space-joined and results as a JSON array.
func EncodeRecords(records []memory.Record) (EncodeResult, error) {
	if len(records) == 0 {
		return EncodeResult{}, fmt.Errorf("records are required")
	}

	rows := make([]parquetRecord, 0, len(records))
	var minTime, maxTime *time.Time
	for i, record := range records {
		results := record.Results
		if results == nil {
			results = []map[string]any{}
		}
		resultsJSON, err := json.Marshal(results)
		if err != nil {
			return EncodeResult{}, fmt.Errorf("marshal results of record %d: %w", i, err)
		}
		rows = append(rows, parquetRecord{
			Question:       record.Question,
			QuestionTokens: strings.Join(record.QuestionTokens, " "),
			SQLQuery:       record.SQLQuery,
			Summary:        record.Summary,
			ResultsJSON:    string(resultsJSON),
			TimestampUnix:  record.Timestamp.Unix(),
		})

		ts := record.Timestamp.UTC()
		if minTime == nil || ts.Before(*minTime) {
			minTime = &ts
		}
		if maxTime == nil || ts.After(*maxTime) {
			maxTime = &ts
		}
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRecord](buf)
	if _, err := writer.Write(rows); err != nil {
		return EncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return EncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}

	return EncodeResult{
		Data:        buf.Bytes(),
		RecordCount: int64(len(rows)),
		MinTime:     minTime,
		MaxTime:     maxTime,
	}, nil
}

// DecodeRecords reads an archive written by EncodeRecords.
func DecodeRecords(data []byte) ([]memory.Record, error) {
	reader := parquet.NewGenericReader[parquetRecord](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	rows := make([]parquetRecord, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}

	records := make([]memory.Record, 0, n)
	for i, row := range rows[:n] {
		var results []map[string]any
		decoder := json.NewDecoder(strings.NewReader(row.ResultsJSON))
		decoder.UseNumber()
		if err := decoder.Decode(&results); err != nil {
			return nil, fmt.Errorf("decode results of row %d: %w", i, err)
		}
		tokens := strings.Fields(row.QuestionTokens)
		if tokens == nil {
			tokens = []string{}
		}
		records = append(records, memory.Record{
			Question:       row.Question,
			QuestionTokens: tokens,
			SQLQuery:       row.SQLQuery,
			Summary:        row.Summary,
			Results:        results,
			Timestamp:      time.Unix(row.TimestampUnix, 0).UTC(),
		})
	}
	return records, nil
}
