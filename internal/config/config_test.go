package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidate(t *testing.T) {
	cfg := Default()
	require.ErrorIs(t, cfg.Validate(), ErrInvalid, "zero threads must be rejected")

	cfg.Threads = 4
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "</page>", cfg.Marker)
	assert.Equal(t, 5*time.Second, cfg.ParseBudget)
	assert.Equal(t, DropPage, cfg.LinkPolicy)
	assert.Equal(t, filepath.Join("temp", "2.db"), cfg.ShardStorePath(2))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"negative threads", func(c *Config) { c.Threads = -1 }},
		{"empty marker", func(c *Config) { c.Marker = "" }},
		{"negative budget", func(c *Config) { c.ParseBudget = -time.Second }},
		{"unknown policy", func(c *Config) { c.LinkPolicy = "drop-everything" }},
		{"negative retries", func(c *Config) { c.MergeRetries = -2 }},
		{"no output", func(c *Config) { c.Output = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Threads = 2
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestValidateThreadLimit(t *testing.T) {
	limit := MaxThreads()
	if limit == 0 {
		t.Skip("no file descriptor limit on this platform")
	}
	cfg := Default()
	cfg.Threads = limit + 1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg.Threads = limit
	assert.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	src := []byte(`
temp_dir            = "work"
threads             = 8
parse_budget_ms     = 250
disallowed_prefixes = ["Portal:", "Help:"]
link_policy         = "drop-edge"
allow_partial       = true
merge_retries       = 0
`)
	cfg, err := Parse(src, "wikigraph.hcl")
	require.NoError(t, err)

	assert.Equal(t, "work", cfg.TempDir)
	assert.Equal(t, "wikigraph.db", cfg.Output, "unset attributes keep defaults")
	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, 250*time.Millisecond, cfg.ParseBudget)
	assert.Equal(t, []string{"Portal:", "Help:"}, cfg.DisallowedPrefixes)
	assert.Equal(t, DropEdge, cfg.LinkPolicy)
	assert.True(t, cfg.AllowPartial)
	assert.Equal(t, 0, cfg.MergeRetries)
	require.NoError(t, cfg.Validate())
}

func TestParseErrors(t *testing.T) {
	t.Run("syntax", func(t *testing.T) {
		_, err := Parse([]byte(`threads = `), "bad.hcl")
		require.Error(t, err)
	})

	t.Run("unknown attribute", func(t *testing.T) {
		_, err := Parse([]byte(`workers = 3`), "bad.hcl")
		require.Error(t, err)
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := Parse([]byte(`threads = "many"`), "bad.hcl")
		require.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wikigraph.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`output = "graph.db"`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "graph.db", cfg.Output)

	_, err = Load(filepath.Join(t.TempDir(), "missing.hcl"))
	require.Error(t, err)
}
