package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/wmca-epc/internal/config"
)

// Connection holds the results database connection.
type Connection struct {
	DB *sql.DB
}

// NewConnection opens the results database using PG* environment variables.
func NewConnection() (*Connection, error) {
	host := config.GetEnv("PGHOST", "localhost")
	port := config.GetEnv("PGPORT", "5432")
	user := config.GetEnv("PGUSER", "wmca")
	password := config.GetEnv("PGPASSWORD", "wmca")
	dbname := config.GetEnv("PGDATABASE", "wmca_epc")

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)

	return &Connection{DB: db}, nil
}

// Close closes the database connection.
func (c *Connection) Close() error {
	return c.DB.Close()
}
