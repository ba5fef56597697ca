// Package storagetest opens a migrated in-memory store for tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/roomflow/internal/storage"
	"github.com/cuongbtq/roomflow/shared/logger"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// New returns a Storage backed by a private in-memory SQLite database.
func New(t testing.TB) *storage.Storage {
	t.Helper()

	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := storage.NewStorage(db, logger.NewDiscard().Logger, 2*time.Second)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}
