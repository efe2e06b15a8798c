package main

import (
	"database/sql"
	"flag"
	"fmt"
	"math/rand"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
)

func main() {
	var (
		path  string
		table string
		count int
	)
	flag.StringVar(&path, "path", "demo.duckdb", "DuckDB database file")
	flag.StringVar(&table, "table", "orders", "Table name")
	flag.IntVar(&count, "count", 200, "Number of orders to generate")
	flag.Parse()

	db, err := sql.Open("duckdb", path)
	if err != nil {
		panic(fmt.Errorf("open failed: %w", err))
	}
	defer db.Close()

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR NOT NULL,
		status VARCHAR NOT NULL,
		total DOUBLE NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`, table)
	if _, err := db.Exec(ddl); err != nil {
		panic(fmt.Errorf("create table failed: %w", err))
	}

	statuses := []string{"pending", "paid", "shipped", "cancelled"}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	insert := fmt.Sprintf("INSERT INTO %s (id, status, total, created_at) VALUES (?, ?, ?, ?)", table)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("order_%d_%06d", time.Now().Unix(), rng.Intn(1_000_000))
		_, err := db.Exec(insert,
			id,
			statuses[rng.Intn(len(statuses))],
			float64(10+rng.Intn(4900))/100.0,
			time.Now().Add(-time.Duration(rng.Intn(720))*time.Hour),
		)
		if err != nil {
			panic(fmt.Errorf("insert failed: %w", err))
		}
	}

	fmt.Printf("inserted %d orders into %s (%s)\n", count, table, path)
	fmt.Printf("example question: how many paid orders came in over the last week?\n")
}
