// Package database defines the insertions and transactions to the database
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Invocation is one journaled bridge invocation.
type Invocation struct {
	RequestID  string
	Method     string
	Path       string
	StatusCode int
	BodyBytes  int
	Duration   time.Duration
	Failed     bool
	Phase      string
	CreatedAt  time.Time
}

// Schema creates the invocation journal table.
const Schema = `CREATE TABLE IF NOT EXISTS invocation (
	id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	request_id VARCHAR(64) NOT NULL,
	method VARCHAR(16) NOT NULL,
	path VARCHAR(2048) NOT NULL,
	status_code SMALLINT UNSIGNED NOT NULL,
	body_bytes BIGINT UNSIGNED NOT NULL,
	duration_ms BIGINT UNSIGNED NOT NULL,
	failed BOOLEAN NOT NULL DEFAULT FALSE,
	phase VARCHAR(32) NOT NULL DEFAULT '',
	created_at DATETIME(3) NOT NULL,
	INDEX idx_invocation_created_at (created_at)
)`

// SaveInvocations inserts all records with a single multi-row statement.
func SaveInvocations(ctx context.Context, tx *sql.Tx, records []Invocation) error {
	if len(records) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO invocation (
            request_id, method, path, status_code, body_bytes,
            duration_ms, failed, phase, created_at
        ) VALUES `)

	vals := make([]any, 0, len(records)*9)
	for i, r := range records {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		vals = append(vals,
			r.RequestID, r.Method, r.Path, r.StatusCode, r.BodyBytes,
			r.Duration.Milliseconds(), r.Failed, r.Phase, r.CreatedAt,
		)
	}

	_, err := tx.ExecContext(ctx, sb.String(), vals...)
	if err != nil {
		return fmt.Errorf("failed to save invocations: %w", err)
	}
	return nil
}

// ExecuteTransaction executes one transaction with one or multiple database executions.
func ExecuteTransaction(ctx context.Context, writeDB *sql.DB, fns []func(*sql.Tx) error) error {
	tx, err := writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Execute all functions in the transaction
	for _, fn := range fns {
		if err := fn(tx); err != nil {
			return fmt.Errorf("failed to execute transaction function: %w", err)
		}
	}

	// Commit the transaction if all functions succeeded
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
