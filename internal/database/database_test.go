package database

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMigrateHealth(t *testing.T) {
	db, err := Open(sqlite.Open(":memory:"))
	require.NoError(t, err)

	require.NoError(t, Migrate(db))
	assert.NoError(t, HealthCheck(db))

	for _, table := range []string{"experiments", "segmentations", "user_segmentations", "experiment_locks", "users"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	require.NoError(t, Close(db))
}

func TestNilDatabase(t *testing.T) {
	assert.Error(t, Migrate(nil))
	assert.Error(t, HealthCheck(nil))
	assert.NoError(t, Close(nil))
}
