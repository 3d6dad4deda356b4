package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"trading-service/internal/broadcast"
	"trading-service/internal/events"
	"trading-service/internal/market"
	"trading-service/internal/monitor"
	"trading-service/internal/session"
	"trading-service/internal/token"
	"trading-service/internal/trade"
	"trading-service/internal/wallet"
	"trading-service/pkg/aggregator"
	"trading-service/pkg/cache"
	"trading-service/pkg/db"
	"trading-service/pkg/pricing"
	"trading-service/pkg/relay"
)

const (
	testInMint  = "So11111111111111111111111111111111111111112"
	testOutMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

type staticSource struct {
	price float64
}

func (s staticSource) Name() string { return "static" }

func (s staticSource) FetchPrice(ctx context.Context, mint string) (float64, error) {
	return s.price, nil
}

func newTestAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	store := database.Queries()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/all":
			fmt.Fprintf(w, `[{"symbol":"SOL","address":%q,"decimals":9},{"symbol":"USDC","address":%q,"decimals":6}]`, testInMint, testOutMint)
		case r.URL.Path == "/quote":
			fmt.Fprintf(w, `{"inputMint":%q,"outputMint":%q,"inAmount":"1000000","outAmount":"985000","priceImpactPct":"0.02","slippageBps":50}`, testInMint, testOutMint)
		case r.URL.Path == "/swap":
			fmt.Fprint(w, `{"swapTransaction":"dW5zaWduZWQ="}`)
		case r.URL.Path == "/bundle" && r.Method == http.MethodPost:
			fmt.Fprint(w, `{"bundleId":"bundle-1"}`)
		case r.Method == http.MethodGet && len(r.URL.Path) > len("/bundle/"):
			fmt.Fprint(w, `{"status":"confirmed","signature":"sig-final","slot":10}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(upstream.Close)

	bus := events.NewBus()
	sessions := session.NewManager(store, bus, "test-secret", time.Hour, 15*time.Minute)
	marketSvc := market.NewService(
		[]pricing.Source{staticSource{price: 1.23}}, cache.NewShardedPriceCache(time.Minute), bus, 1, time.Millisecond)
	tokens := token.NewRegistry(store, bus, upstream.URL+"/all", "")
	executor := trade.NewExecutor(sessions, marketSvc, tokens,
		aggregator.NewClient(upstream.URL), relay.NewClient(upstream.URL),
		store, bus, 500, 2*time.Millisecond, 3)
	hub := broadcast.NewHub(bus, time.Hour, time.Hour)

	seed := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	signer, err := wallet.NewKeypairSigner(seed)
	if err != nil {
		t.Fatalf("wallet signer: %v", err)
	}

	s := NewServer(bus, database, sessions, marketSvc, tokens, executor, hub, signer,
		monitor.NewSystemMetrics(), SystemMeta{Network: "mainnet-beta", RelaySet: true, Version: "test"})

	srv := httptest.NewServer(s.Router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer res.Body.Close()

	var out map[string]any
	json.NewDecoder(res.Body).Decode(&out)
	return res, out
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()

	var out map[string]any
	json.NewDecoder(res.Body).Decode(&out)
	return res, out
}

func TestHealth(t *testing.T) {
	srv := newTestAPIServer(t)
	res, body := getJSON(t, srv.URL+"/health")
	if res.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", res.StatusCode, body)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv := newTestAPIServer(t)

	res, body := postJSON(t, srv.URL+"/api/session/init",
		map[string]any{"publicKey": "WalletAAAA", "signature": "sig-1"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("init = %d %v", res.StatusCode, body)
	}
	if body["sessionId"] == "" || body["sessionId"] == nil {
		t.Fatalf("init returned no sessionId: %v", body)
	}

	res, body = getJSON(t, srv.URL+"/api/session/validate?publicKey=WalletAAAA")
	if res.StatusCode != http.StatusOK || body["valid"] != true {
		t.Fatalf("validate = %d %v", res.StatusCode, body)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/session?publicKey=WalletAAAA", nil)
	delRes, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	delRes.Body.Close()
	if delRes.StatusCode != http.StatusOK {
		t.Fatalf("end = %d", delRes.StatusCode)
	}

	_, body = getJSON(t, srv.URL+"/api/session/validate?publicKey=WalletAAAA")
	if body["valid"] != false {
		t.Fatalf("session should be invalid after end: %v", body)
	}
}

func TestInitSessionRequiresPublicKey(t *testing.T) {
	srv := newTestAPIServer(t)

	res, body := postJSON(t, srv.URL+"/api/session/init",
		map[string]any{"signature": "sig-1"}, nil)
	if res.StatusCode != http.StatusBadRequest || body["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %d %v", res.StatusCode, body)
	}
}

func TestTradeRoutesRequireSessionHeader(t *testing.T) {
	srv := newTestAPIServer(t)

	res, body := postJSON(t, srv.URL+"/api/trade/quote",
		map[string]any{"inputMint": testInMint, "outputMint": testOutMint, "amount": 1000000}, nil)
	if res.StatusCode != http.StatusUnauthorized || body["code"] != "SESSION_INVALID" {
		t.Fatalf("expected SESSION_INVALID, got %d %v", res.StatusCode, body)
	}
}

func TestQuoteAndExecuteWithSession(t *testing.T) {
	srv := newTestAPIServer(t)

	_, initBody := postJSON(t, srv.URL+"/api/session/init",
		map[string]any{"publicKey": "WalletAAAA", "signature": "sig-1"}, nil)
	sessionID, _ := initBody["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("no session id: %v", initBody)
	}
	headers := map[string]string{SessionHeader: sessionID}

	res, body := postJSON(t, srv.URL+"/api/trade/quote",
		map[string]any{"inputMint": testInMint, "outputMint": testOutMint, "amount": 1000000, "slippage": 0.5},
		headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("quote = %d %v", res.StatusCode, body)
	}
	if body["route"] == nil {
		t.Fatalf("quote has no route: %v", body)
	}

	res, body = postJSON(t, srv.URL+"/api/trade/execute",
		map[string]any{"inputMint": testInMint, "outputMint": testOutMint, "amount": 1000000, "slippage": 0.5},
		headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("execute = %d %v", res.StatusCode, body)
	}
	if body["success"] != true || body["signature"] != "sig-final" {
		t.Fatalf("unexpected execution result %v", body)
	}
}

func TestMarketEndpoint(t *testing.T) {
	srv := newTestAPIServer(t)

	res, body := getJSON(t, srv.URL+"/api/market/"+testInMint)
	if res.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("market = %d %v", res.StatusCode, body)
	}
	if body["price"] != 1.23 {
		t.Fatalf("price = %v", body["price"])
	}
}

func TestTokenEndpointNotFound(t *testing.T) {
	srv := newTestAPIServer(t)

	res, body := getJSON(t, srv.URL+"/api/token/NOPE")
	if res.StatusCode != http.StatusNotFound || body["code"] != "TOKEN_NOT_FOUND" {
		t.Fatalf("token = %d %v", res.StatusCode, body)
	}
}

func TestSystemStatus(t *testing.T) {
	srv := newTestAPIServer(t)

	res, body := getJSON(t, srv.URL+"/api/system/status")
	if res.StatusCode != http.StatusOK || body["status"] != "running" {
		t.Fatalf("status = %d %v", res.StatusCode, body)
	}
	if body["relay_configured"] != true {
		t.Fatalf("relay flag missing: %v", body)
	}
}
