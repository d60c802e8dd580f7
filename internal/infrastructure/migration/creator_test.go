package migration

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMigration(t *testing.T) {
	t.Run("writes an up and down pair with headers", func(t *testing.T) {
		dir := t.TempDir()

		pair, err := CreateMigration(dir, "Add Ledger Index", "index actor column")
		require.NoError(t, err)

		assert.Len(t, pair.Version, 14)
		assert.Contains(t, pair.UpPath, pair.Version+"_add_ledger_index.up.sql")
		assert.Contains(t, pair.DownPath, pair.Version+"_add_ledger_index.down.sql")

		up, err := os.ReadFile(pair.UpPath)
		require.NoError(t, err)
		assert.Contains(t, string(up), "-- Migration: Add Ledger Index")
		assert.Contains(t, string(up), "-- Description: index actor column")

		down, err := os.ReadFile(pair.DownPath)
		require.NoError(t, err)
		assert.Contains(t, string(down), "(Rollback)")
		assert.Contains(t, string(down), "Rollback for index actor column")
	})

	t.Run("creates the directory when missing", func(t *testing.T) {
		dir := t.TempDir() + "/nested/migrations"

		_, err := CreateMigration(dir, "init", "")
		require.NoError(t, err)

		_, err = os.Stat(dir)
		assert.NoError(t, err)
	})
}

func TestListMigrations(t *testing.T) {
	t.Run("lists up migrations sorted by version", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{
			"20260301000002_create_credential_states.up.sql",
			"20260301000002_create_credential_states.down.sql",
			"20260301000001_create_ledger_entries.up.sql",
			"20260301000001_create_ledger_entries.down.sql",
			"README.md",
		} {
			require.NoError(t, os.WriteFile(dir+"/"+name, nil, 0o644))
		}

		names, err := ListMigrations(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"20260301000001_create_ledger_entries",
			"20260301000002_create_credential_states",
		}, names)
	})

	t.Run("missing directory is an empty list", func(t *testing.T) {
		names, err := ListMigrations(t.TempDir() + "/absent")
		require.NoError(t, err)
		assert.Empty(t, names)
	})
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"Add Ledger Index":    "add_ledger_index",
		"add--ledger  index ": "add_ledger_index",
		"UPPER-Case-123":      "upper_case_123",
		"weird!@#chars":       "weirdchars",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeName(in), in)
	}
	assert.False(t, strings.HasSuffix(sanitizeName("trailing_"), "_"))
}
