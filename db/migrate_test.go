package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, files map[string]string) string {
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestLoadMigrations(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"010_tags.sql":          "SELECT 10;",
		"002_indexes.sql":       "SELECT 2;",
		"001_stored_images.sql": "CREATE TABLE stored_images (id TEXT PRIMARY KEY);",
		"README.md":             "not a migration",
		"notes.sql":             "no version prefix",
		"draft_later.sql":       "non numeric prefix",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 3)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "001_stored_images.sql", migrations[0].Name)
	assert.Equal(t, "CREATE TABLE stored_images (id TEXT PRIMARY KEY);", migrations[0].SQL)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, 10, migrations[2].Version)
}

func TestLoadMigrationsDuplicateVersion(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"001_a.sql": "SELECT 1;",
		"1_b.sql":   "SELECT 1;",
	})
	_, err := NewMigrator(nil, dir).LoadMigrations()
	assert.Error(t, err)
}

func TestLoadMigrationsMissingDir(t *testing.T) {
	_, err := NewMigrator(nil, filepath.Join(t.TempDir(), "missing")).LoadMigrations()
	assert.Error(t, err)
}

func TestRepositoryMigrations(t *testing.T) {
	migrations, err := NewMigrator(nil, "../migrations").LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS stored_images")
}

func TestPendingAndStatuses(t *testing.T) {
	migrations := []Migration{{Version: 1, Name: "001_a.sql"}, {Version: 2, Name: "002_b.sql"}, {Version: 3, Name: "003_c.sql"}}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	applied := map[int]time.Time{1: at}

	todo := pending(migrations, applied, 0)
	require.Len(t, todo, 2)
	assert.Equal(t, 2, todo[0].Version)
	assert.Len(t, pending(migrations, applied, 2), 1)

	out := statuses(migrations, applied)
	require.Len(t, out, 3)
	assert.True(t, out[0].Applied)
	assert.Equal(t, at, *out[0].AppliedAt)
	assert.False(t, out[1].Applied)
	assert.Nil(t, out[1].AppliedAt)
}
