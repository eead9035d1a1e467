package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/qnabot/core/config"
)

func TestDSNs(t *testing.T) {
	cfg := coreconfig.DatabaseConfig{
		Host: "db", Port: "5432", User: "bot", Password: "p@ss", Name: "qnabot", SSLMode: "disable",
	}
	require.Equal(t, "user=bot password=p@ss host=db port=5432 dbname=qnabot sslmode=disable", KeywordDSN(cfg))
	require.Equal(t, "postgres://bot:p%40ss@db:5432/qnabot?sslmode=disable", URLDSN(cfg))
}

func TestMigrationFileSelection(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_add_index.up.sql",
		"000001_create_bot_state.up.sql",
		"000001_create_bot_state.down.sql",
		"notes.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o600))
	}
	files := listMigrationFiles(dir)
	require.Equal(t, []string{"000001_create_bot_state.up.sql", "000002_add_index.up.sql"}, files)

	require.EqualValues(t, 2, parseVersion(files[1]))
	require.Equal(t, []string{"000002_add_index.up.sql"}, selectApplied(files, 1, 2))
	require.Nil(t, selectApplied(files, 2, 2))
}

func TestResolveMigrationsDir(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "m")
	got, err := resolveMigrationsDir(abs)
	require.NoError(t, err)
	require.Equal(t, abs, got)

	cwd, err := os.Getwd()
	require.NoError(t, err)
	got, err = resolveMigrationsDir("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cwd, "migrations"), got)
}
