package sql

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	core "flowengine/data/db"
	"flowengine/data/db/basic"
)

// openTestDB opens a throwaway in-memory sqlite database with Schema
// applied, following the same basic.New(core.DBConfig{...}) pattern
// used to wire a real store/sql backend. Each sqlite ":memory:" connection
// is a separate database, so the pool is held to one connection.
func openTestDB(t *testing.T) core.IDatabase {
	t.Helper()
	database, err := basic.New(core.DBConfig{Driver: "sqlite", Database: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, Migrate(context.Background(), database))
	return database
}
