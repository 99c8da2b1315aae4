// Package schema extracts table and column metadata from the live
// database and renders it as the prompt context for SQL generation.
package schema

import (
	"fmt"
	"strings"
)

type Schema struct {
	Tables []Table `json:"tables"`
}

type Table struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Columns     []Column `json:"columns"`
}

type Column struct {
	Name          string   `json:"name"`
	DataType      string   `json:"data_type"`
	Description   string   `json:"description,omitempty"`
	SampleValues  []string `json:"sample_values,omitempty"`
	KnownValues   []string `json:"known_values,omitempty"`
	DistinctCount int64    `json:"distinct_count,omitempty"`
}

// maxSamplesInText keeps prompt size bounded; descriptions still see
// every sampled value.
const maxSamplesInText = 5

// Text renders the schema for the reasoning service. Low-cardinality
// columns list their known values so generated filters use real values.
func (s Schema) Text() string {
	var b strings.Builder
	for i, table := range s.Tables {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Table: %s\n", table.Name)
		if table.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", table.Description)
		}
		b.WriteString("Columns:\n")
		for _, column := range table.Columns {
			fmt.Fprintf(&b, "  - %s (%s)", column.Name, column.DataType)
			if column.Description != "" {
				fmt.Fprintf(&b, ": %s", column.Description)
			}
			switch {
			case len(column.KnownValues) > 0:
				fmt.Fprintf(&b, " | Known Values (%d unique): %s", len(column.KnownValues), strings.Join(column.KnownValues, ", "))
			case len(column.SampleValues) > 0:
				samples := column.SampleValues
				if len(samples) > maxSamplesInText {
					samples = samples[:maxSamplesInText]
				}
				fmt.Fprintf(&b, " | Examples: %s", strings.Join(samples, ", "))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Table returns the named table, if present.
func (s Schema) Table(name string) (Table, bool) {
	for _, table := range s.Tables {
		if strings.EqualFold(table.Name, name) {
			return table, true
		}
	}
	return Table{}, false
}
