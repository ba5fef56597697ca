package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/roomflow/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

const (
	// DefaultTimeout bounds every store operation when no timeout is configured
	DefaultTimeout = 5 * time.Second

	// maxConflictRetries bounds how often an update re-reads a job after losing a version race
	maxConflictRetries = 5
)

// Storage is the durable job store and credit ledger
type Storage struct {
	db      *sqlx.DB
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger, timeout time.Duration) *Storage {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Storage{
		db:      db,
		logger:  logger,
		timeout: timeout,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Migrate creates the tables and indexes if they do not exist
func (s *Storage) Migrate(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return s.wrapErr("apply schema", err)
	}

	s.logger.Info("Database schema applied")
	return nil
}

func (s *Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// wrapErr distinguishes deadline expiry from other database failures
func (s *Storage) wrapErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to %s: %w: %w", op, domain.ErrTimeout, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}
