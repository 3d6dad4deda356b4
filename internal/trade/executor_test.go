package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"trading-service/internal/events"
	"trading-service/internal/market"
	"trading-service/internal/token"
	"trading-service/pkg/aggregator"
	"trading-service/pkg/cache"
	"trading-service/pkg/db"
	"trading-service/pkg/relay"
)

const (
	inMint  = "So11111111111111111111111111111111111111112"
	outMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

type fakeSessions struct {
	valid bool
	calls atomic.Int64
}

func (f *fakeSessions) Validate(ctx context.Context, publicKey, signature string) bool {
	f.calls.Add(1)
	return f.valid
}

type fakeSigner struct{ err error }

func (f *fakeSigner) SignTransaction(ctx context.Context, unsignedTxB64 string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "signed:" + unsignedTxB64, nil
}

// fakeAggregator serves /quote and /swap, counting hits and recording the
// last slippageBps it was asked for.
type fakeAggregator struct {
	srv       *httptest.Server
	quoteHits atomic.Int64
	lastBps   atomic.Int64
	noRoute   bool
	outAmount uint64
}

func newFakeAggregator(t *testing.T) *fakeAggregator {
	t.Helper()
	f := &fakeAggregator{outAmount: 990_000}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			f.quoteHits.Add(1)
			bps := r.URL.Query().Get("slippageBps")
			var n int64
			fmt.Sscanf(bps, "%d", &n)
			f.lastBps.Store(n)
			if f.noRoute {
				http.NotFound(w, r)
				return
			}
			fmt.Fprintf(w, `{"inputMint":%q,"outputMint":%q,"inAmount":"1000000","outAmount":"%d","priceImpactPct":"0.01","slippageBps":%s}`,
				inMint, outMint, f.outAmount, bps)
		case "/swap":
			fmt.Fprint(w, `{"swapTransaction":"dW5zaWduZWQ="}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

// fakeRelay serves bundle submission and a scripted status sequence.
type fakeRelay struct {
	srv        *httptest.Server
	submitHits atomic.Int64
	statuses   []relay.BundleStatus
	polls      atomic.Int64
}

func newFakeRelay(t *testing.T, statuses ...relay.BundleStatus) *fakeRelay {
	t.Helper()
	f := &fakeRelay{statuses: statuses}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/bundle" {
			f.submitHits.Add(1)
			fmt.Fprint(w, `{"bundleId":"bundle-1"}`)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/bundle/") {
			i := int(f.polls.Add(1)) - 1
			if i >= len(f.statuses) {
				i = len(f.statuses) - 1
			}
			json.NewEncoder(w).Encode(f.statuses[i])
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

type fixture struct {
	exec     *Executor
	sessions *fakeSessions
	agg      *fakeAggregator
	relay    *fakeRelay
	store    *db.Queries
	bus      *events.Bus
}

func newFixture(t *testing.T, sessionsValid bool, pollMaxRetries int, statuses ...relay.BundleStatus) *fixture {
	t.Helper()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := database.Queries()

	list := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"symbol":"SOL","address":%q,"decimals":9},{"symbol":"USDC","address":%q,"decimals":6}]`, inMint, outMint)
	}))
	t.Cleanup(list.Close)

	bus := events.NewBus()
	sessions := &fakeSessions{valid: sessionsValid}
	agg := newFakeAggregator(t)
	rel := newFakeRelay(t, statuses...)
	marketSvc := market.NewService(nil, cache.NewShardedPriceCache(time.Minute), bus, 1, time.Millisecond)
	tokens := token.NewRegistry(store, nil, list.URL, "")

	exec := NewExecutor(sessions, marketSvc, tokens,
		aggregator.NewClient(agg.srv.URL), relay.NewClient(rel.srv.URL),
		store, bus, 500, 2*time.Millisecond, pollMaxRetries)

	return &fixture{exec: exec, sessions: sessions, agg: agg, relay: rel, store: store, bus: bus}
}

func execParams(signer Signer) ExecuteParams {
	return ExecuteParams{
		PublicKey:  "WalletAAAA",
		InputMint:  inMint,
		OutputMint: outMint,
		Amount:     1_000_000,
		Slippage:   0.5,
		Signer:     signer,
	}
}

func TestSlippageClampNeverExceedsMax(t *testing.T) {
	fx := newFixture(t, true, 1)

	cases := []struct {
		slippage float64
		wantBps  int64
	}{
		{0.5, 50},
		{99.0, 500},
		{5.0, 500},
		{-1.0, 0},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("slippage=%v", tc.slippage), func(t *testing.T) {
			_, err := fx.exec.GetRouteQuote(context.Background(), QuoteParams{
				InputMint:  inMint,
				OutputMint: outMint,
				Amount:     1_000_000,
				Slippage:   tc.slippage,
			})
			if err != nil {
				t.Fatalf("quote: %v", err)
			}
			if got := fx.agg.lastBps.Load(); got != tc.wantBps {
				t.Fatalf("aggregator saw %d bps, want %d", got, tc.wantBps)
			}
		})
	}
}

func TestQuoteNoRoute(t *testing.T) {
	fx := newFixture(t, true, 1)
	fx.agg.noRoute = true

	_, err := fx.exec.GetRouteQuote(context.Background(), QuoteParams{
		InputMint: inMint, OutputMint: outMint, Amount: 1,
	})
	if CodeOf(err) != CodeNoRouteFound {
		t.Fatalf("expected NO_ROUTE_FOUND, got %v", err)
	}
	if !errors.Is(err, aggregator.ErrNoRoute) {
		t.Fatalf("expected wrapped ErrNoRoute, got %v", err)
	}
}

func TestExecuteConfirmedBundle(t *testing.T) {
	fx := newFixture(t, true, 5,
		relay.BundleStatus{Status: relay.StatusPending},
		relay.BundleStatus{Status: relay.StatusConfirmed, Signature: "sig-abc", Slot: 42},
	)

	updates, cancel := fx.bus.Subscribe(events.TopicExecutionUpdate, 8)
	defer cancel()

	res, err := fx.exec.ExecuteTradeWithMEV(context.Background(), execParams(&fakeSigner{}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.Signature != "sig-abc" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.OutputAmount != 990_000 {
		t.Fatalf("output amount = %d", res.OutputAmount)
	}

	rows, err := fx.store.GetExecutionsByStatus(context.Background(), db.ExecStatusConfirmed, 10)
	if err != nil {
		t.Fatalf("query executions: %v", err)
	}
	if len(rows) != 1 || rows[0].TxSignature != "sig-abc" {
		t.Fatalf("expected one confirmed row with signature, got %+v", rows)
	}

	select {
	case msg := <-updates:
		if msg.Identity != "WalletAAAA" {
			t.Fatalf("execution update for wrong identity %q", msg.Identity)
		}
	case <-time.After(time.Second):
		t.Fatal("no execution_update emitted")
	}
}

func TestExecuteInvalidSessionSkipsAggregatorAndRelay(t *testing.T) {
	fx := newFixture(t, false, 1)

	res, err := fx.exec.ExecuteTradeWithMEV(context.Background(), execParams(&fakeSigner{}))
	if CodeOf(err) != CodeSessionInvalid {
		t.Fatalf("expected SESSION_INVALID, got %v", err)
	}
	if res == nil || res.Success {
		t.Fatalf("expected failure result, got %+v", res)
	}
	if fx.agg.quoteHits.Load() != 0 {
		t.Fatalf("aggregator contacted %d times for invalid session", fx.agg.quoteHits.Load())
	}
	if fx.relay.submitHits.Load() != 0 {
		t.Fatalf("relay contacted %d times for invalid session", fx.relay.submitHits.Load())
	}
}

func TestExecuteFailedBundleReportsRelayError(t *testing.T) {
	fx := newFixture(t, true, 3,
		relay.BundleStatus{Status: relay.StatusPending},
		relay.BundleStatus{Status: relay.StatusFailed, Error: "blockhash expired"},
	)

	res, err := fx.exec.ExecuteTradeWithMEV(context.Background(), execParams(&fakeSigner{}))
	if CodeOf(err) != CodeSubmissionError {
		t.Fatalf("expected SUBMISSION_ERROR, got %v", err)
	}
	if !strings.Contains(res.Error, "blockhash expired") {
		t.Fatalf("result should carry the relay error, got %q", res.Error)
	}

	rows, err := fx.store.GetExecutionsByStatus(context.Background(), db.ExecStatusFailed, 10)
	if err != nil {
		t.Fatalf("query executions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one failed row, got %d", len(rows))
	}
}

func TestExecuteTimeoutMarksUnknown(t *testing.T) {
	fx := newFixture(t, true, 2,
		relay.BundleStatus{Status: relay.StatusPending},
	)

	statuses, cancel := fx.bus.Subscribe(events.TopicTradeStatus, 16)
	defer cancel()

	_, err := fx.exec.ExecuteTradeWithMEV(context.Background(), execParams(&fakeSigner{}))
	if CodeOf(err) != CodeExecutionTimeout {
		t.Fatalf("expected EXECUTION_TIMEOUT, got %v", err)
	}

	rows, err := fx.store.GetExecutionsByStatus(context.Background(), db.ExecStatusUnknown, 10)
	if err != nil {
		t.Fatalf("query executions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one unknown row, got %d", len(rows))
	}

	// Submission emit plus one per poll attempt.
	var n int
	for {
		select {
		case <-statuses:
			n++
			continue
		default:
		}
		break
	}
	if n != 3 {
		t.Fatalf("expected 3 trade_status events, got %d", n)
	}
}

func TestExecuteRequiresSigner(t *testing.T) {
	fx := newFixture(t, true, 1)

	p := execParams(nil)
	_, err := fx.exec.ExecuteTradeWithMEV(context.Background(), p)
	if CodeOf(err) != CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}

	p = execParams(&fakeSigner{err: errors.New("hardware wallet locked")})
	_, err = fx.exec.ExecuteTradeWithMEV(context.Background(), p)
	if CodeOf(err) != CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR for signer failure, got %v", err)
	}
}
