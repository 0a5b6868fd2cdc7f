package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// withTx runs fn inside a transaction and commits only when fn succeeds.
func withTx(ctx context.Context, db *sql.DB, method string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", method, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", method, "error", rbErr)
			return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", method, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func statusStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
