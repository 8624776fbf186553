package migrations

import (
	"context"
	"fmt"

	"meditrack/m/internal/store"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS roles (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL UNIQUE,
            description TEXT,
            permissions TEXT NOT NULL DEFAULT '[]',
            created_at TEXT NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            username TEXT NOT NULL UNIQUE,
            email TEXT NOT NULL UNIQUE,
            password TEXT NOT NULL,
            first_name TEXT,
            last_name TEXT,
            role_id TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'active',
            last_login TEXT,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL,
            FOREIGN KEY(role_id) REFERENCES roles(id)
        );`,
	`CREATE TABLE IF NOT EXISTS medicines (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            generic_name TEXT,
            manufacturer TEXT,
            batch_number TEXT,
            quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
            purchase_price REAL NOT NULL DEFAULT 0,
            selling_price REAL NOT NULL DEFAULT 0,
            expiry_date TEXT,
            minimum_stock INTEGER NOT NULL DEFAULT 10,
            barcode TEXT UNIQUE,
            description TEXT,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS customers (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            email TEXT UNIQUE,
            phone TEXT UNIQUE,
            address TEXT,
            loyalty_points INTEGER NOT NULL DEFAULT 0,
            total_spent REAL NOT NULL DEFAULT 0,
            last_purchase TEXT,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS transactions (
            id TEXT PRIMARY KEY,
            medicine_id TEXT NOT NULL,
            medicine_name TEXT NOT NULL,
            customer_id TEXT,
            quantity INTEGER NOT NULL,
            unit_price REAL NOT NULL,
            total_price REAL NOT NULL,
            date TEXT NOT NULL,
            type TEXT NOT NULL,
            payment_method TEXT NOT NULL,
            notes TEXT,
            FOREIGN KEY(medicine_id) REFERENCES medicines(id),
            FOREIGN KEY(customer_id) REFERENCES customers(id) ON DELETE SET NULL
        );`,
	`CREATE TABLE IF NOT EXISTS loyalty_transactions (
            id TEXT PRIMARY KEY,
            customer_id TEXT NOT NULL,
            points INTEGER NOT NULL,
            reason TEXT NOT NULL,
            timestamp TEXT NOT NULL,
            FOREIGN KEY(customer_id) REFERENCES customers(id) ON DELETE CASCADE
        );`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
            id TEXT PRIMARY KEY,
            user_id TEXT,
            action TEXT NOT NULL,
            entity TEXT NOT NULL,
            entity_id TEXT NOT NULL,
            changes TEXT,
            timestamp TEXT NOT NULL,
            FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE SET NULL
        );`,
	`CREATE TABLE IF NOT EXISTS settings (
            id TEXT PRIMARY KEY,
            key TEXT NOT NULL UNIQUE,
            value TEXT NOT NULL,
            type TEXT NOT NULL,
            updated_at TEXT NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS reports (
            id TEXT PRIMARY KEY,
            type TEXT NOT NULL,
            period TEXT NOT NULL,
            data TEXT NOT NULL,
            generated_at TEXT NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date);`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_type_date ON transactions(type, date);`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_medicine ON transactions(medicine_id);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_loyalty_customer ON loyalty_transactions(customer_id);`,
}

// Run creates the nine tables and their indexes. Every statement is guarded
// by IF NOT EXISTS so Run is safe on an already initialized database.
func Run(ctx context.Context, q store.Queryer) error {
	for i, stmt := range schema {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
