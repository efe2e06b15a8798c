package engines

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querymend/querymend/core/catalog"
	"github.com/querymend/querymend/core/dialect"
	"github.com/querymend/querymend/core/logger"
)

// PostgresEngine executes SQL against PostgreSQL using pgx/v5.
type PostgresEngine struct {
	source string
	pool   *pgxpool.Pool
}

// NewPostgresEngine opens and pings a connection pool.
func NewPostgresEngine(ctx context.Context, ds catalog.DataSource) (*PostgresEngine, error) {
	log := logger.New("engine:postgres")
	log.Debugf("Opening PostgreSQL connection pool (pgx/v5)")

	config, err := pgxpool.ParseConfig(postgresDSN(ds))
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return &PostgresEngine{source: ds.ID, pool: pool}, nil
}

func postgresDSN(ds catalog.DataSource) string {
	conn := ds.Connection
	port := conn.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(conn.Host, strconv.Itoa(port)),
		Path:   "/" + conn.Database,
	}
	if conn.User != "" {
		u.User = url.UserPassword(conn.User, conn.Password)
	}
	return u.String()
}

// Execute executes a SQL statement against PostgreSQL with context support.
func (p *PostgresEngine) Execute(ctx context.Context, statement string) (*Result, error) {
	start := time.Now()
	rows, err := p.pool.Query(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fieldDescriptions := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescriptions))
	for i, fd := range fieldDescriptions {
		columns[i] = string(fd.Name)
	}

	results := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to get row values: %w", err)
		}

		rowMap := make(map[string]any)
		for i, col := range columns {
			if i < len(values) {
				rowMap[col] = values[i]
			}
		}
		results = append(results, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &Result{
		Columns:  columns,
		Rows:     results,
		RowCount: len(results),
		Elapsed:  time.Since(start),
		Source:   p.source,
	}, nil
}

// Dialect reports the SQL dialect the engine speaks.
func (p *PostgresEngine) Dialect() dialect.Dialect { return dialect.Postgres }

// Close closes the connection pool.
func (p *PostgresEngine) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
