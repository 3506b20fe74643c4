package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// fileConfig mirrors the attributes accepted in a wikigraph.hcl file. Pointer
// fields distinguish an explicit zero from an absent attribute.
type fileConfig struct {
	TempDir            string   `hcl:"temp_dir,optional"`
	Output             string   `hcl:"output,optional"`
	Unparseables       string   `hcl:"unparseables,optional"`
	Marker             string   `hcl:"marker,optional"`
	Threads            int      `hcl:"threads,optional"`
	ParseBudgetMS      *int     `hcl:"parse_budget_ms,optional"`
	DisallowedPrefixes []string `hcl:"disallowed_prefixes,optional"`
	LinkPolicy         string   `hcl:"link_policy,optional"`
	AllowPartial       *bool    `hcl:"allow_partial,optional"`
	MergeRetries       *int     `hcl:"merge_retries,optional"`
}

// Load reads an HCL config file and overlays it on the defaults.
func Load(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(src, path)
}

// Parse decodes HCL source; filename is only used in diagnostics.
func Parse(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %s", filename, diags.Error())
	}

	var fc fileConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &fc); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %s", filename, diags.Error())
	}

	cfg := Default()
	fc.apply(cfg)
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) {
	if fc.TempDir != "" {
		cfg.TempDir = fc.TempDir
	}
	if fc.Output != "" {
		cfg.Output = fc.Output
	}
	if fc.Unparseables != "" {
		cfg.Unparseables = fc.Unparseables
	}
	if fc.Marker != "" {
		cfg.Marker = fc.Marker
	}
	if fc.Threads != 0 {
		cfg.Threads = fc.Threads
	}
	if fc.ParseBudgetMS != nil {
		cfg.ParseBudget = time.Duration(*fc.ParseBudgetMS) * time.Millisecond
	}
	if fc.DisallowedPrefixes != nil {
		cfg.DisallowedPrefixes = append([]string(nil), fc.DisallowedPrefixes...)
	}
	if fc.LinkPolicy != "" {
		cfg.LinkPolicy = fc.LinkPolicy
	}
	if fc.AllowPartial != nil {
		cfg.AllowPartial = *fc.AllowPartial
	}
	if fc.MergeRetries != nil {
		cfg.MergeRetries = *fc.MergeRetries
	}
}
