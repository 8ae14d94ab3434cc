package helpers

import (
	"database/sql"
	"path"
	"testing"

	"github.com/chain-relay/evmindexor/internal/db"
	"github.com/chain-relay/evmindexor/internal/logger"
	"github.com/chain-relay/evmindexor/internal/reorg"
	"github.com/chain-relay/evmindexor/pkg/config"
	"github.com/stretchr/testify/require"
)

// NewTestDB creates a new temporary SQLite database for testing purposes,
// with the reorg block-hash cache migrated in since the reorg integration
// tests are this helper's only caller.
func NewTestDB(t *testing.T, dbName string) *sql.DB {
	t.Helper()

	tmpDBPath := path.Join(t.TempDir(), dbName)

	dbConfig := config.DatabaseConfig{Path: tmpDBPath}
	dbConfig.ApplyDefaults()

	database, err := db.NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)

	require.NoError(t, db.RunMigrationsDB(logger.NewNopLogger(), database, reorg.Migrations()))

	return database
}
