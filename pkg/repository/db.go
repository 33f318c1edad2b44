package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// Config holds database connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// NewDB opens a postgres connection pool and verifies connectivity.
func NewDB(cfg Config) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// factorColumns is the column set shared by the three per-kind factor
// tables.
var factorColumns = []string{"id", "user_id", "secret", "verified", "failed_attempts", "created_at", "last_used_at"}

// requiredSchema lists every table and column the repositories read or
// write. ValidateSchema checks columns as well as tables, so a stale
// migration fails at startup instead of on the first query that names
// the missing column.
var requiredSchema = map[string][]string{
	"users":            {"id", "email", "name", "failed_login_attempts", "locked_until", "created_at", "updated_at", "deleted_at"},
	"user_credentials": {"user_id", "password_hash", "password_updated_at"},
	"sessions":         {"id", "user_id", "token_hash", "created_at", "expires_at", "revoked_at", "last_seen_at", "metadata"},
	"enrolled_totp":    factorColumns,
	"enrolled_face":    factorColumns,
	"enrolled_voice":   factorColumns,
	"recovery_codes":   {"id", "user_id", "code_hash", "used_at", "created_at"},
}

// ValidateSchema checks that the required tables and columns exist.
// Migrations are run out of band.
func ValidateSchema(db *sql.DB) error {
	query := `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
	`

	for table, columns := range requiredSchema {
		rows, err := db.Query(query, table)
		if err != nil {
			return fmt.Errorf("failed to check schema: %w", err)
		}

		present := make(map[string]bool)
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return fmt.Errorf("failed to check schema: %w", err)
			}
			present[name] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("failed to check schema: %w", err)
		}
		rows.Close()

		if len(present) == 0 {
			return fmt.Errorf("missing table '%s': run migrations first", table)
		}
		for _, column := range columns {
			if !present[column] {
				return fmt.Errorf("table '%s' is missing column '%s': run migrations first", table, column)
			}
		}
	}

	return nil
}

// Tx runs fn within a transaction, committing on nil error and rolling back
// otherwise.
func Tx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
