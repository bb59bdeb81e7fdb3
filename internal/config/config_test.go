package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.DrizzleDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Window.Disk)
	assert.Equal(t, 2, cfg.Window.Journal)
	assert.False(t, cfg.Window.Disabled)
	assert.Equal(t, "/tmp/theirs_journal.json", cfg.Merge.Base)
	assert.Equal(t, "/tmp/ours_journal.json", cfg.Merge.Feature)
	assert.Equal(t, "/tmp/merged_journal.json", cfg.Merge.Output)
	assert.Equal(t, "/tmp/drizzle_rename_map.txt", cfg.Merge.RenameMap)
	assert.Empty(t, cfg.Ledger.DSN)
}

func TestLoad_ScriptEnvironmentVariables(t *testing.T) {
	t.Setenv("JOURNAL_FILE", "/repo/drizzle/meta/_journal.json")
	t.Setenv("DRIZZLE_DIR", "/repo/drizzle")
	t.Setenv("META_DIR", "/repo/drizzle/meta")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/repo/drizzle/meta/_journal.json", cfg.JournalFile)
	assert.Equal(t, "/repo/drizzle", cfg.DrizzleDir)
	assert.Equal(t, "/repo/drizzle/meta", cfg.MetaDir)
}

func TestLoad_PrefixedEnvironmentVariables(t *testing.T) {
	t.Setenv("DRIZZLE_RECONCILE_WINDOW_DISK", "9")
	t.Setenv("DRIZZLE_RECONCILE_LEDGER_DSN", "/tmp/ledger.db")
	t.Setenv("DRIZZLE_RECONCILE_DRY_RUN", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Window.Disk)
	assert.Equal(t, "/tmp/ledger.db", cfg.Ledger.DSN)
	assert.True(t, cfg.DryRun)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconcile.yaml")
	content := `
drizzle_dir: ./drizzle
log_level: debug
window:
  disabled: true
merge:
  rename_map: ./rename_map.txt
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "./drizzle", cfg.DrizzleDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Window.Disabled)
	assert.Equal(t, 5, cfg.Window.Disk)
	assert.Equal(t, "./rename_map.txt", cfg.Merge.RenameMap)
}

func TestLoad_InvalidWindow(t *testing.T) {
	t.Setenv("DRIZZLE_RECONCILE_WINDOW_JOURNAL", "-1")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "window.journal")
}
