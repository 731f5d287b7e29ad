package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := `
store:
  driver: postgres
  dsn: "postgres://localhost/rcl"
idxflushmb: 50
fields:
  title:
    prefix: "S"
    wdfinc: 10
    stored: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rclindex.yaml"), []byte(yaml), 0o644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 50, cfg.IdxFlushMB)
	// unset keys retain their Default() value
	assert.Equal(t, 90, cfg.MaxFsOccupPct)

	traits := cfg.Fields["title"].Traits()
	assert.Equal(t, "S", traits.Pfx)
	assert.Equal(t, 10, traits.Wdfinc)
	assert.True(t, traits.Stored)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}
