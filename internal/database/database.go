package database

import (
	"context"
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// DB is the bot's SQLite store for subscribers and persisted metrics.
type DB struct {
	db *sql.DB
}

func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// sqlite allows a single writer
	conn.SetMaxOpenConns(1)

	d := &DB{db: conn}
	if err := d.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}

	log.Debugf("Database initialized at %s", dbPath)
	return d, nil
}

func (d *DB) migrate(ctx context.Context) error {
	createSubscribersTable := `
	CREATE TABLE IF NOT EXISTS subscribers (
		chat_id INTEGER PRIMARY KEY,
		low_threshold TEXT DEFAULT NULL,
		high_threshold TEXT DEFAULT NULL,
		alert_state TEXT NOT NULL DEFAULT 'none',
		created_at INTEGER NOT NULL
	);`
	if _, err := d.db.ExecContext(ctx, createSubscribersTable); err != nil {
		return fmt.Errorf("failed to create subscribers table: %w", err)
	}

	createMetricsTable := `
		CREATE TABLE IF NOT EXISTS metrics (
		metric_name TEXT NOT NULL,
		label_key TEXT DEFAULT NULL,
		label_value TEXT DEFAULT NULL,
		metric_value REAL NOT NULL,
		PRIMARY KEY (metric_name, label_key, label_value)
	);`
	if _, err := d.db.ExecContext(ctx, createMetricsTable); err != nil {
		return fmt.Errorf("failed to create metrics table: %w", err)
	}
	return nil
}

func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
