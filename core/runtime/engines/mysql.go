package engines

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/querymend/querymend/core/catalog"
	"github.com/querymend/querymend/core/dialect"
)

// MySQLEngine executes SQL against MySQL.
type MySQLEngine struct {
	source string
	db     *sql.DB
}

// NewMySQLEngine opens and pings a connection.
func NewMySQLEngine(ds catalog.DataSource) (*MySQLEngine, error) {
	db, err := sql.Open("mysql", mysqlDSN(ds))
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	return &MySQLEngine{source: ds.ID, db: db}, nil
}

func mysqlDSN(ds catalog.DataSource) string {
	conn := ds.Connection
	port := conn.Port
	if port == 0 {
		port = 3306
	}
	cfg := mysql.NewConfig()
	cfg.User = conn.User
	cfg.Passwd = conn.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(conn.Host, strconv.Itoa(port))
	cfg.DBName = conn.Database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// Execute executes a SQL statement against MySQL with context support.
func (m *MySQLEngine) Execute(ctx context.Context, statement string) (*Result, error) {
	start := time.Now()
	rows, err := m.db.QueryContext(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, results, err := scanRows(rows)
	if err != nil {
		return nil, err
	}

	return &Result{
		Columns:  columns,
		Rows:     results,
		RowCount: len(results),
		Elapsed:  time.Since(start),
		Source:   m.source,
	}, nil
}

// Dialect reports the SQL dialect the engine speaks.
func (m *MySQLEngine) Dialect() dialect.Dialect { return dialect.MySQL }

// Close closes the database connection.
func (m *MySQLEngine) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
