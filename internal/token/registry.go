// Package token caches token metadata and discovers unknown tokens from
// external lists. Lookups walk memory -> store -> discovery; discovered
// tokens are written through to the store and cached under both keys.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"trading-service/internal/events"
	"trading-service/pkg/db"
)

// solana addresses are base58-encoded 32-byte keys; the original service
// treats 43- and 44-char inputs as addresses.
func looksLikeAddress(s string) bool {
	return len(s) == 43 || len(s) == 44
}

// Registry resolves token symbols and addresses to metadata.
type Registry struct {
	store      *db.Queries
	bus        *events.Bus
	listURL    string
	metaURL    string
	httpClient *http.Client

	mu        sync.RWMutex
	bySymbol  map[string]*db.Token
	byAddress map[string]*db.Token
}

// NewRegistry wires the registry to its store and discovery endpoints.
func NewRegistry(store *db.Queries, bus *events.Bus, listURL, metaURL string) *Registry {
	return &Registry{
		store:      store,
		bus:        bus,
		listURL:    listURL,
		metaURL:    metaURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		bySymbol:   make(map[string]*db.Token),
		byAddress:  make(map[string]*db.Token),
	}
}

// GetTokenInfo resolves a symbol or address to token metadata. Returns nil
// when the token cannot be found or discovered; lookups never raise.
func (r *Registry) GetTokenInfo(ctx context.Context, symbolOrAddress string) *db.Token {
	if symbolOrAddress == "" {
		return nil
	}

	if tok := r.cached(symbolOrAddress); tok != nil {
		return tok
	}

	tok, err := r.store.GetToken(ctx, symbolOrAddress)
	if err == nil {
		r.cacheToken(tok)
		return tok
	}
	if !errors.Is(err, db.ErrNotFound) {
		log.Printf("token: store lookup for %q failed: %v", symbolOrAddress, err)
	}

	return r.discoverToken(ctx, symbolOrAddress)
}

func (r *Registry) cached(key string) *db.Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tok, ok := r.byAddress[key]; ok {
		return tok
	}
	if tok, ok := r.bySymbol[strings.ToUpper(key)]; ok {
		return tok
	}
	return nil
}

func (r *Registry) cacheToken(tok *db.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAddress[tok.Address] = tok
	r.bySymbol[strings.ToUpper(tok.Symbol)] = tok
}

// listEntry is one row of the external token list.
type listEntry struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	LogoURI  string `json:"logoURI"`
}

// discoverToken queries the external token list, falling back to the
// secondary metadata source, and finally to an unverified address entry.
func (r *Registry) discoverToken(ctx context.Context, symbolOrAddress string) *db.Token {
	if tok, err := r.lookupList(ctx, symbolOrAddress); err == nil {
		r.persist(ctx, tok)
		return tok
	} else {
		log.Printf("token: list lookup for %q failed: %v", symbolOrAddress, err)
	}

	if r.metaURL != "" && looksLikeAddress(symbolOrAddress) {
		if tok, err := r.lookupMeta(ctx, symbolOrAddress); err == nil {
			r.persist(ctx, tok)
			return tok
		} else {
			log.Printf("token: metadata lookup for %q failed: %v", symbolOrAddress, err)
		}
	}

	// Addresses we cannot verify still resolve, marked unverified, so a
	// swap against a brand-new mint is not blocked on list propagation.
	if looksLikeAddress(symbolOrAddress) {
		tok := &db.Token{
			Address:  symbolOrAddress,
			Symbol:   symbolOrAddress[:8],
			Decimals: 9,
			Verified: false,
		}
		r.persist(ctx, tok)
		return tok
	}

	return nil
}

func (r *Registry) lookupList(ctx context.Context, symbolOrAddress string) (*db.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.listURL, nil)
	if err != nil {
		return nil, err
	}

	res, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token list status %d", res.StatusCode)
	}

	var entries []listEntry
	if err := json.NewDecoder(res.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode token list: %w", err)
	}

	want := strings.ToUpper(symbolOrAddress)
	for _, e := range entries {
		if e.Address == symbolOrAddress || strings.ToUpper(e.Symbol) == want {
			return &db.Token{
				Address:  e.Address,
				Symbol:   e.Symbol,
				Name:     e.Name,
				Decimals: e.Decimals,
				LogoURI:  e.LogoURI,
				Verified: true,
			}, nil
		}
	}
	return nil, fmt.Errorf("token %q not in list", symbolOrAddress)
}

func (r *Registry) lookupMeta(ctx context.Context, mint string) (*db.Token, error) {
	u := fmt.Sprintf("%s/token/%s", r.metaURL, mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	res, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token metadata status %d: %s", res.StatusCode, string(body))
	}

	var meta listEntry
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("decode token metadata: %w", err)
	}
	if meta.Symbol == "" {
		return nil, fmt.Errorf("metadata source has no symbol for %s", mint)
	}

	return &db.Token{
		Address:  mint,
		Symbol:   meta.Symbol,
		Name:     meta.Name,
		Decimals: meta.Decimals,
		Verified: true,
	}, nil
}

// persist writes a discovered token through to the store and cache.
func (r *Registry) persist(ctx context.Context, tok *db.Token) {
	if tok.Decimals == 0 {
		tok.Decimals = 9
	}
	tok.LastUpdated = time.Now().UTC()

	if err := r.store.UpsertToken(ctx, *tok); err != nil {
		log.Printf("token: persist %s failed: %v", tok.Symbol, err)
	}
	r.cacheToken(tok)

	if r.bus != nil {
		r.bus.Publish(events.TopicTokenDiscovered, "", map[string]any{
			"symbol":   tok.Symbol,
			"address":  tok.Address,
			"verified": tok.Verified,
		})
	}
}

// CachedCount reports in-memory entries, for the status endpoint.
func (r *Registry) CachedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddress)
}
