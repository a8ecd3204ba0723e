package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
project:
  id: demo
ai:
  provider: openai
  summary_model: gpt-4o-mini
risk:
  legacy_days: 90
  max_hops: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("CODETWIN_API_KEY", "secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Project.ID)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, "secret", cfg.AI.APIKey)
	assert.Equal(t, 90, cfg.Risk.LegacyDays)
	assert.Equal(t, 2, cfg.Risk.MaxHops)

	t.Run("Unset values take defaults", func(t *testing.T) {
		assert.Equal(t, 30, cfg.Risk.ActiveDays)
		assert.Equal(t, 80, cfg.Risk.AgeGapDays)
		assert.Equal(t, 150, cfg.Risk.HighGapDays)
		assert.Equal(t, 25.0, cfg.Risk.SourceIncrement)
		assert.Equal(t, 200, cfg.Sync.BatchSize)
		assert.Equal(t, "codetwin.db", cfg.Storage.Path)
	})
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	t.Setenv("CODETWIN_DB", "/tmp/other.db")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.db", cfg.Storage.Path)
	assert.Equal(t, DefaultRiskConfig(), cfg.Risk)
}

func TestLoadOrDefault_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk: [unterminated"), 0o644))

	_, err := LoadOrDefault(path)
	assert.Error(t, err)
}
