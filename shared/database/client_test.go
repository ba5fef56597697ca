package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/roomflow/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	pg := &Config{Host: "db", Port: 5432, User: "app", Password: "secret", Database: "roomflow", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=app password=secret dbname=roomflow sslmode=disable", pg.DSN())

	lite := &Config{Driver: DriverSQLite, Database: "/tmp/roomflow.db"}
	assert.Equal(t, "file:/tmp/roomflow.db?_busy_timeout=5000&_journal_mode=WAL", lite.DSN())
}

func TestNewClient_SQLite(t *testing.T) {
	client, err := NewClient(&Config{
		Driver:   DriverSQLite,
		Database: filepath.Join(t.TempDir(), "roomflow.db"),
	}, logger.NewDiscard().Logger)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.HealthCheck(context.Background()))
	assert.Contains(t, client.Stats(), "MaxOpenConns: 1")
	assert.NotNil(t, client.GetDB())
}
