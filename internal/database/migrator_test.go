package database

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/document-acquisition-service/migrations"
)

func TestNewMigrator_Validation(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("fails with nil database", func(t *testing.T) {
		migrator, err := NewMigrator(nil, "/some/path", logger)
		require.Error(t, err)
		assert.Nil(t, migrator)
		assert.ErrorIs(t, err, errNoDB)
	})

	t.Run("fails with nil pool", func(t *testing.T) {
		migrator, err := NewMigrator(&DB{}, "/some/path", logger)
		require.Error(t, err)
		assert.Nil(t, migrator)
		assert.ErrorIs(t, err, errNoPool)
	})

	t.Run("embedded fails with nil database", func(t *testing.T) {
		migrator, err := NewEmbeddedMigrator(nil, migrations.FS, ".", logger)
		assert.Nil(t, migrator)
		assert.ErrorIs(t, err, errNoDB)
	})

	t.Run("embedded fails with nil filesystem", func(t *testing.T) {
		migrator, err := NewEmbeddedMigrator(&DB{pool: &pgxpool.Pool{}}, nil, ".", logger)
		assert.Nil(t, migrator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "filesystem is required")
	})
}

func TestEmbeddedMigrations_ArePaired(t *testing.T) {
	entries, err := migrations.FS.ReadDir(".")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		if base, ok := strings.CutSuffix(name, ".up.sql"); ok {
			ups[base] = true
		}
		if base, ok := strings.CutSuffix(name, ".down.sql"); ok {
			downs[base] = true
		}
	}

	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

// TestMigrator_Lifecycle runs the embedded migrations against a real database.
func TestMigrator_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupTestDB(t)
	defer db.Close()

	logger := zerolog.Nop()

	t.Run("path validation", func(t *testing.T) {
		migrator, err := NewMigrator(db, "", logger)
		require.Error(t, err)
		assert.Nil(t, migrator)
		assert.Contains(t, err.Error(), "migrations directory is required")

		migrator, err = NewMigrator(db, "/nonexistent/path", logger)
		require.Error(t, err)
		assert.Nil(t, migrator)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("embedded up is idempotent", func(t *testing.T) {
		migrator, err := NewEmbeddedMigrator(db, migrations.FS, ".", logger)
		require.NoError(t, err)
		defer migrator.Close()

		require.NoError(t, migrator.Up())
		require.NoError(t, migrator.Up(), "second run is a no-op")

		version, dirty, err := migrator.Version()
		require.NoError(t, err)
		assert.False(t, dirty)
		assert.GreaterOrEqual(t, version, uint(1))
	})

	t.Run("file source matches embedded", func(t *testing.T) {
		cwd, err := os.Getwd()
		require.NoError(t, err)
		path := filepath.Join(cwd, "..", "..", "migrations")

		migrator, err := NewMigrator(db, path, logger)
		require.NoError(t, err)
		defer migrator.Close()

		version, _, err := migrator.Version()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, version, uint(1))
		assert.NoError(t, migrator.Steps(1))
	})
}
