package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS aliases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT UNIQUE NOT NULL,
			label TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			daily_cap_minor INTEGER NOT NULL DEFAULT 0,
			daily_total_minor INTEGER NOT NULL DEFAULT 0,
			weight INTEGER NOT NULL DEFAULT 1,
			last_used_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_aliases_active ON aliases(active)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			reference TEXT UNIQUE NOT NULL,
			amount_minor INTEGER NOT NULL,
			status TEXT NOT NULL,
			customer_email TEXT NOT NULL,
			customer_name TEXT NOT NULL DEFAULT '',
			customer_phone TEXT NOT NULL DEFAULT '',
			alias_id INTEGER,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			paid_at DATETIME,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY (alias_id) REFERENCES aliases(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_reference ON orders(reference)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_amount_status ON orders(amount_minor, status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_customer_email ON orders(customer_email)`,

		`CREATE TABLE IF NOT EXISTS rotation_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			current_alias_id INTEGER,
			order_count INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 0
		)`,
		`INSERT OR IGNORE INTO rotation_state (id, current_alias_id, order_count, version)
			VALUES (1, NULL, 0, 0)`,

		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			order_id TEXT,
			type TEXT NOT NULL,
			actor TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_order ON audit_events(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(type)`,

		`CREATE TABLE IF NOT EXISTS unmatched_payments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			amount_minor INTEGER,
			sender_email TEXT NOT NULL DEFAULT '',
			sender_name TEXT NOT NULL DEFAULT '',
			reference TEXT NOT NULL DEFAULT '',
			transaction_id TEXT NOT NULL DEFAULT '',
			raw_text TEXT NOT NULL,
			reason TEXT NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0,
			resolved_order_id TEXT,
			received_at DATETIME NOT NULL,
			resolved_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_unmatched_resolved ON unmatched_payments(resolved)`,

		`CREATE TABLE IF NOT EXISTS inbound_notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			raw_text TEXT NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0,
			outcome TEXT,
			received_at DATETIME NOT NULL,
			processed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inbound_processed ON inbound_notifications(processed)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}

	return nil
}
