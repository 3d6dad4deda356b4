package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"trading-service/pkg/db"
)

func newTestStore(t *testing.T) *db.Queries {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database.Queries()
}

const usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

func newListServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode([]listEntry{
			{Symbol: "USDC", Address: usdcMint, Name: "USD Coin", Decimals: 6},
		})
	}))
}

func TestDiscoverThenResolveFromStore(t *testing.T) {
	var hits atomic.Int64
	srv := newListServer(t, &hits)
	defer srv.Close()

	store := newTestStore(t)
	reg := NewRegistry(store, nil, srv.URL, "")
	ctx := context.Background()

	tok := reg.GetTokenInfo(ctx, "usdc")
	if tok == nil {
		t.Fatal("expected discovery to resolve USDC")
	}
	if tok.Address != usdcMint || !tok.Verified {
		t.Fatalf("unexpected token %+v", tok)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 list hit, got %d", hits.Load())
	}

	// A fresh registry over the same store must resolve without the list.
	reg2 := NewRegistry(store, nil, srv.URL, "")
	if tok := reg2.GetTokenInfo(ctx, usdcMint); tok == nil || tok.Symbol != "USDC" {
		t.Fatalf("expected store lookup by address, got %+v", tok)
	}
	if hits.Load() != 1 {
		t.Fatalf("store lookup should not hit the list, got %d hits", hits.Load())
	}
}

func TestMemoryCacheSkipsStore(t *testing.T) {
	var hits atomic.Int64
	srv := newListServer(t, &hits)
	defer srv.Close()

	reg := NewRegistry(newTestStore(t), nil, srv.URL, "")
	ctx := context.Background()

	if tok := reg.GetTokenInfo(ctx, "USDC"); tok == nil {
		t.Fatal("expected discovery to resolve USDC")
	}
	// Cached under both keys.
	if tok := reg.GetTokenInfo(ctx, usdcMint); tok == nil {
		t.Fatal("expected address cache hit")
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 list hit, got %d", hits.Load())
	}
	if reg.CachedCount() != 1 {
		t.Fatalf("expected 1 cached token, got %d", reg.CachedCount())
	}
}

func TestUnknownAddressFallsBackUnverified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]listEntry{})
	}))
	defer srv.Close()

	reg := NewRegistry(newTestStore(t), nil, srv.URL, "")
	mint := "3YgJc7yYoKWRKTpAt7L7aF3rRRpb6BsbBg3BYhsDYoA7" // 44 chars, not listed

	tok := reg.GetTokenInfo(context.Background(), mint)
	if tok == nil {
		t.Fatal("expected unverified fallback for address-shaped query")
	}
	if tok.Verified {
		t.Fatal("fallback token must be unverified")
	}
	if tok.Symbol != mint[:8] {
		t.Fatalf("unexpected fallback symbol %q", tok.Symbol)
	}
}

func TestUnknownSymbolReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]listEntry{})
	}))
	defer srv.Close()

	reg := NewRegistry(newTestStore(t), nil, srv.URL, "")
	if tok := reg.GetTokenInfo(context.Background(), "NOPE"); tok != nil {
		t.Fatalf("expected nil for unknown symbol, got %+v", tok)
	}
}

func TestMetadataFallback(t *testing.T) {
	list := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]listEntry{})
	}))
	defer list.Close()

	mint := "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	meta := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token/"+mint {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(listEntry{Symbol: "SAMO", Name: "Samoyedcoin", Decimals: 9})
	}))
	defer meta.Close()

	reg := NewRegistry(newTestStore(t), nil, list.URL, meta.URL)
	tok := reg.GetTokenInfo(context.Background(), mint)
	if tok == nil || tok.Symbol != "SAMO" || !tok.Verified {
		t.Fatalf("expected metadata fallback, got %+v", tok)
	}
}

func TestSyncSeedWarmsCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.yaml")
	seed := `tokens:
  - symbol: SOL
    address: So11111111111111111111111111111111111111112
    name: Solana
    decimals: 9
    verified: true
  - symbol: BONK
    address: DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263
    name: Bonk
    decimals: 5
    verified: true
`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	entries, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 seed entries, got %d", len(entries))
	}

	// No list server: any lookup falling past the cache would fail.
	reg := NewRegistry(newTestStore(t), nil, "http://127.0.0.1:0", "")
	if err := reg.SyncSeed(context.Background(), entries); err != nil {
		t.Fatalf("sync seed: %v", err)
	}

	tok := reg.GetTokenInfo(context.Background(), "sol")
	if tok == nil || tok.Address != "So11111111111111111111111111111111111111112" {
		t.Fatalf("expected seeded SOL, got %+v", tok)
	}
	if tok := reg.GetTokenInfo(context.Background(), "BONK"); tok == nil || tok.Decimals != 5 {
		t.Fatalf("expected seeded BONK with 5 decimals, got %+v", tok)
	}
}
