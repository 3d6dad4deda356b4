package token

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"trading-service/pkg/db"
)

// SeedEntry represents one well-known token in the YAML seed file.
type SeedEntry struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Name     string `yaml:"name"`
	Decimals int    `yaml:"decimals"`
	LogoURI  string `yaml:"logo_uri"`
	Verified bool   `yaml:"verified"`
}

// SeedFile represents the top-level YAML structure.
type SeedFile struct {
	Tokens []SeedEntry `yaml:"tokens"`
}

// LoadSeed reads well-known tokens from a YAML file.
func LoadSeed(path string) ([]SeedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	return file.Tokens, nil
}

// SyncSeed upserts seed tokens into the store and warms the registry cache,
// so the common pairs resolve without touching the external list.
func (r *Registry) SyncSeed(ctx context.Context, entries []SeedEntry) error {
	for _, e := range entries {
		if e.Address == "" || e.Symbol == "" {
			return fmt.Errorf("seed entry %q missing symbol or address", e.Symbol+e.Address)
		}
		tok := &db.Token{
			Address:  e.Address,
			Symbol:   e.Symbol,
			Name:     e.Name,
			Decimals: e.Decimals,
			LogoURI:  e.LogoURI,
			Verified: e.Verified,
		}
		if tok.Decimals == 0 {
			tok.Decimals = 9
		}
		if err := r.store.UpsertToken(ctx, *tok); err != nil {
			return fmt.Errorf("failed to upsert seed token %s: %w", e.Symbol, err)
		}
		r.cacheToken(tok)
	}
	return nil
}
