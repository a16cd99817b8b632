// Package database provides the Postgres gateway used by the SQL agent.
//
// Query-level failures (syntax errors, missing relations) are part of the
// agent's retry loop, so the gateway reports them as data inside QueryResult
// instead of returning an error. Only connectivity-level failures surface as
// Go errors.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	errx "github.com/faturai/server/internal/core/error"
	logx "github.com/faturai/server/pkg/logger"
)

// Config holds database connection configuration, sourced from environment
// variables.
type Config struct {
	URL             string        `envconfig:"DATABASE_URL" required:"true"`
	MaxConns        int32         `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	MaxConnLifetime time.Duration `envconfig:"DATABASE_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"DATABASE_MAX_CONN_IDLE_TIME" default:"30m"`
}

// QueryResult is the non-throwing outcome of executing one SQL statement.
// Err carries the database's own error text ("ERROR: ... (SQL state: ...)")
// when the statement failed; Rows is populated otherwise.
type QueryResult struct {
	Rows []map[string]any
	Err  string
}

// Failed reports whether the statement was rejected by the database.
func (r QueryResult) Failed() bool { return r.Err != "" }

// Gateway is the minimal database surface the agent needs. No catch-all
// passthrough: these four operations are the whole contract.
type Gateway interface {
	Query(ctx context.Context, sqlQuery string) (QueryResult, error)
	DescribeTable(ctx context.Context, table string) (string, error)
	ListTables(ctx context.Context) ([]string, error)
	Close()
}

// Postgres implements Gateway on top of a pgx connection pool. The pool is
// safe for concurrent use, so one Postgres instance is shared by all
// conversations.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a gateway backed by a new connection pool and verifies
// connectivity with a ping.
func NewPostgres(ctx context.Context, cfg *Config) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 10
	}
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errx.WrapDatabase(fmt.Errorf("create connection pool: %w", err))
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errx.WrapDatabase(fmt.Errorf("ping database: %w", err))
	}

	return &Postgres{pool: pool}, nil
}

// Query executes one SQL statement and collects the rows as column→value maps.
// Statement-level errors come back inside the QueryResult; the returned error
// is reserved for connectivity failures (cancelled context, broken pool).
func (p *Postgres) Query(ctx context.Context, sqlQuery string) (QueryResult, error) {
	rows, err := p.pool.Query(ctx, sqlQuery)
	if err != nil {
		if msg, ok := formatQueryError(err); ok {
			return QueryResult{Err: msg}, nil
		}
		return QueryResult{}, errx.WrapDatabase(err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return QueryResult{}, errx.WrapDatabase(fmt.Errorf("read row values: %w", err))
		}
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		if msg, ok := formatQueryError(err); ok {
			return QueryResult{Err: msg}, nil
		}
		return QueryResult{}, errx.WrapDatabase(err)
	}

	logx.Debug().Int("rows", len(resultRows)).Msg("Query executed")
	return QueryResult{Rows: resultRows}, nil
}

// DescribeTable returns a CREATE TABLE-style description of one table built
// from information_schema, suitable for embedding in an LLM prompt.
func (p *Postgres) DescribeTable(ctx context.Context, table string) (string, error) {
	const columnsQuery = `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_name = $1
		ORDER BY ordinal_position`

	rows, err := p.pool.Query(ctx, columnsQuery, table)
	if err != nil {
		return "", errx.WrapDatabase(fmt.Errorf("describe table %q: %w", table, err))
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return "", errx.WrapDatabase(fmt.Errorf("scan column of %q: %w", table, err))
		}
		constraint := "NOT NULL"
		if nullable == "YES" {
			constraint = "NULL"
		}
		cols = append(cols, fmt.Sprintf("    %s %s %s", name, dataType, constraint))
	}
	if err := rows.Err(); err != nil {
		return "", errx.WrapDatabase(err)
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("table %q not found", table)
	}

	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", table, strings.Join(cols, ",\n")), nil
}

// ListTables returns the base tables visible in the public schema.
func (p *Postgres) ListTables(ctx context.Context) ([]string, error) {
	const tablesQuery = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := p.pool.Query(ctx, tablesQuery)
	if err != nil {
		return nil, errx.WrapDatabase(err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errx.WrapDatabase(err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapDatabase(err)
	}
	return tables, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// formatQueryError converts a statement-level pgx error into the textual form
// the retry loop feeds back to the model. Non-statement errors return ok=false
// so callers can treat them as infrastructure failures.
func formatQueryError(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Sprintf("ERROR: %s (SQL state: %s)", pgErr.Message, pgErr.Code), true
	}
	return "", false
}

var _ Gateway = (*Postgres)(nil)
