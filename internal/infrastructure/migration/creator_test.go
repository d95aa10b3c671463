package migration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMigration(t *testing.T) {
	t.Run("writes an up and down pair", func(t *testing.T) {
		dir := t.TempDir()

		mf, err := CreateMigration(dir, "Add Charge Order Tables", "charge orders and payment records")
		require.NoError(t, err)

		assert.Len(t, mf.Version, 14)
		assert.Contains(t, mf.UpPath, "_add_charge_order_tables.up.sql")
		assert.Contains(t, mf.DownPath, "_add_charge_order_tables.down.sql")

		up, err := os.ReadFile(mf.UpPath)
		require.NoError(t, err)
		assert.Contains(t, string(up), "-- Add Charge Order Tables")
		assert.Contains(t, string(up), "-- charge orders and payment records")

		down, err := os.ReadFile(mf.DownPath)
		require.NoError(t, err)
		assert.Contains(t, string(down), "(rollback)")
		assert.Contains(t, string(down), "-- reverts: charge orders and payment records")
	})

	t.Run("creates the directory when missing", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "migrations")

		mf, err := CreateMigration(dir, "init", "")
		require.NoError(t, err)
		assert.FileExists(t, mf.UpPath)
		assert.FileExists(t, mf.DownPath)
	})

	t.Run("omits the description line when empty", func(t *testing.T) {
		dir := t.TempDir()

		mf, err := CreateMigration(dir, "init", "")
		require.NoError(t, err)

		up, err := os.ReadFile(mf.UpPath)
		require.NoError(t, err)
		assert.NotContains(t, string(up), "reverts:")
	})
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Add Charge Order Tables", "add_charge_order_tables"},
		{"add-audit-events", "add_audit_events"},
		{"already_sane", "already_sane"},
		{"  spaced  out  ", "spaced_out"},
		{"Drop %% weird ## chars", "drop_weird_chars"},
		{"trailing-", "trailing"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, sanitizeName(tc.in))
		})
	}
}

func TestListMigrations(t *testing.T) {
	t.Run("missing directory lists as empty", func(t *testing.T) {
		migrations, err := ListMigrations(filepath.Join(t.TempDir(), "nope"))
		require.NoError(t, err)
		assert.Empty(t, migrations)
	})

	t.Run("lists up files once, sorted by version", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{
			"20250102000000_add_payments.up.sql",
			"20250102000000_add_payments.down.sql",
			"20250101000000_init.up.sql",
			"20250101000000_init.down.sql",
			"notes.txt",
		} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("-- x\n"), 0o644))
		}

		migrations, err := ListMigrations(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"20250101000000_init",
			"20250102000000_add_payments",
		}, migrations)
	})
}
