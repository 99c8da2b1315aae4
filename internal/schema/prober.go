package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/askdb/askdb/internal/observability"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	DuckDB   Dialect = "duckdb"
	SQLite   Dialect = "sqlite"
)

const (
	DefaultSampleSize              = 20
	DefaultLowCardinalityThreshold = 20
)

// Prober reads table and column metadata plus value samples.
type Prober struct {
	DB      *sql.DB
	Dialect Dialect
	// Namespace is the schema holding the tables (postgres "public", duckdb
	// "main"). Ignored for sqlite.
	Namespace string
	// Tables restricts probing to these names when non-empty.
	Tables                  []string
	SampleSize              int
	LowCardinalityThreshold int
	Logger                  *slog.Logger
}

func (p *Prober) Probe(ctx context.Context) (Schema, error) {
	if p.DB == nil {
		return Schema{}, fmt.Errorf("database is required")
	}
	logger := observability.OrDiscard(p.Logger)

	names, err := p.listTables(ctx)
	if err != nil {
		return Schema{}, err
	}
	names = p.filter(ctx, logger, names)

	out := Schema{Tables: make([]Table, 0, len(names))}
	for _, name := range names {
		columns, err := p.listColumns(ctx, name)
		if err != nil {
			return Schema{}, err
		}
		table := Table{Name: name, Columns: columns}
		for i := range table.Columns {
			p.profileColumn(ctx, logger, name, &table.Columns[i])
		}
		out.Tables = append(out.Tables, table)
	}
	return out, nil
}

func (p *Prober) filter(ctx context.Context, logger *slog.Logger, names []string) []string {
	if len(p.Tables) == 0 {
		return names
	}
	present := make(map[string]string, len(names))
	for _, name := range names {
		present[strings.ToLower(name)] = name
	}
	out := make([]string, 0, len(p.Tables))
	for _, wanted := range p.Tables {
		name, ok := present[strings.ToLower(wanted)]
		if !ok {
			logger.WarnContext(ctx, "configured table not found", slog.String("table", wanted))
			continue
		}
		out = append(out, name)
	}
	return out
}

func (p *Prober) listTables(ctx context.Context) ([]string, error) {
	var rows *sql.Rows
	var err error
	switch p.Dialect {
	case Postgres:
		rows, err = p.DB.QueryContext(ctx,
			`SELECT table_name FROM information_schema.tables WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name`,
			p.namespace())
	case DuckDB:
		rows, err = p.DB.QueryContext(ctx,
			`SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type IN ('BASE TABLE', 'VIEW') ORDER BY table_name`,
			p.namespace())
	case SQLite:
		rows, err = p.DB.QueryContext(ctx,
			`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", p.Dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return names, nil
}

func (p *Prober) listColumns(ctx context.Context, table string) ([]Column, error) {
	var rows *sql.Rows
	var err error
	switch p.Dialect {
	case Postgres:
		rows, err = p.DB.QueryContext(ctx,
			`SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`,
			p.namespace(), table)
	case DuckDB:
		rows, err = p.DB.QueryContext(ctx,
			`SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position`,
			p.namespace(), table)
	case SQLite:
		rows, err = p.DB.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`, table)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", p.Dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("list columns of %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]Column, 0)
	for rows.Next() {
		var column Column
		var dataType sql.NullString
		if err := rows.Scan(&column.Name, &dataType); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", table, err)
		}
		column.DataType = strings.TrimSpace(dataType.String)
		if column.DataType == "" {
			column.DataType = "UNKNOWN"
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %q: %w", table, err)
	}
	return columns, nil
}

// profileColumn fills samples and low-cardinality values. Failures only
// cost the column its profile.
func (p *Prober) profileColumn(ctx context.Context, logger *slog.Logger, table string, column *Column) {
	source := p.qualified(table)
	ident := quoteIdent(column.Name)

	samples, err := p.values(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s IS NOT NULL ORDER BY random() LIMIT %d`,
		ident, source, ident, p.sampleSize()))
	if err != nil {
		logger.WarnContext(ctx, "column sampling failed",
			slog.String("table", table),
			slog.String("column", column.Name),
			slog.String("error", err.Error()),
		)
	} else {
		column.SampleValues = samples
	}

	var distinct sql.NullInt64
	countSQL := fmt.Sprintf(`SELECT COUNT(DISTINCT %s) FROM %s`, ident, source)
	if err := p.DB.QueryRowContext(ctx, countSQL).Scan(&distinct); err != nil {
		logger.WarnContext(ctx, "column cardinality check failed",
			slog.String("table", table),
			slog.String("column", column.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	column.DistinctCount = distinct.Int64
	threshold := p.threshold()
	if distinct.Int64 <= 0 || distinct.Int64 > int64(threshold) {
		return
	}
	known, err := p.values(ctx, fmt.Sprintf(
		`SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL ORDER BY 1 LIMIT %d`,
		ident, source, ident, threshold))
	if err != nil {
		logger.WarnContext(ctx, "column value listing failed",
			slog.String("table", table),
			slog.String("column", column.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	column.KnownValues = known
}

func (p *Prober) values(ctx context.Context, sqlText string) ([]string, error) {
	rows, err := p.DB.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	values := make([]string, 0)
	for rows.Next() {
		var value any
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, formatValue(value))
	}
	return values, rows.Err()
}

func (p *Prober) qualified(table string) string {
	if p.Dialect == SQLite {
		return quoteIdent(table)
	}
	return quoteIdent(p.namespace()) + "." + quoteIdent(table)
}

func (p *Prober) namespace() string {
	if p.Namespace != "" {
		return p.Namespace
	}
	if p.Dialect == DuckDB {
		return "main"
	}
	return "public"
}

func (p *Prober) sampleSize() int {
	if p.SampleSize > 0 {
		return p.SampleSize
	}
	return DefaultSampleSize
}

func (p *Prober) threshold() int {
	if p.LowCardinalityThreshold > 0 {
		return p.LowCardinalityThreshold
	}
	return DefaultLowCardinalityThreshold
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(typed)
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
