// Package trade runs the quote -> sign -> submit -> monitor pipeline.
// Signed transactions go to a private relay as a bundle instead of the
// public mempool, which keeps them out of reach of sandwich bots.
package trade

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"trading-service/internal/events"
	"trading-service/internal/market"
	"trading-service/internal/token"
	"trading-service/pkg/aggregator"
	"trading-service/pkg/db"
	"trading-service/pkg/relay"
)

// SessionValidator reports whether an identity has a live session.
type SessionValidator interface {
	Validate(ctx context.Context, publicKey, signature string) bool
}

// Signer signs an unsigned base64 transaction and returns the signed form.
type Signer interface {
	SignTransaction(ctx context.Context, unsignedTxB64 string) (string, error)
}

// QuoteParams describes a route quote request.
type QuoteParams struct {
	InputMint  string  `json:"inputMint"`
	OutputMint string  `json:"outputMint"`
	Amount     uint64  `json:"amount"`
	Slippage   float64 `json:"slippage"` // percent, e.g. 0.5 for 0.5%
}

// QuoteResult is the best route plus resolved token metadata.
type QuoteResult struct {
	Route       *aggregator.Route `json:"route"`
	InputToken  *db.Token         `json:"inputToken,omitempty"`
	OutputToken *db.Token         `json:"outputToken,omitempty"`
	SlippageBps int               `json:"slippageBps"`
}

// ExecuteParams describes a trade execution request.
type ExecuteParams struct {
	PublicKey  string
	Signature  string
	InputMint  string
	OutputMint string
	Amount     uint64
	Slippage   float64
	Signer     Signer
}

// ExecuteResult is returned to the caller; a copy is persisted for audit.
type ExecuteResult struct {
	Success      bool      `json:"success"`
	Signature    string    `json:"signature,omitempty"`
	BundleID     string    `json:"bundleId,omitempty"`
	InputAmount  uint64    `json:"inputAmount"`
	OutputAmount uint64    `json:"outputAmount"`
	Price        float64   `json:"price,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Error        string    `json:"error,omitempty"`
}

// Executor coordinates sessions, quotes, signing, and relay submission.
type Executor struct {
	sessions SessionValidator
	market   *market.Service
	tokens   *token.Registry
	agg      *aggregator.Client
	relay    *relay.Client
	store    *db.Queries
	bus      *events.Bus

	maxSlippageBps int
	pollInterval   time.Duration
	pollMaxRetries int
}

// NewExecutor wires the executor to its collaborators.
func NewExecutor(sessions SessionValidator, marketSvc *market.Service, tokens *token.Registry,
	agg *aggregator.Client, relayClient *relay.Client, store *db.Queries, bus *events.Bus,
	maxSlippageBps int, pollInterval time.Duration, pollMaxRetries int) *Executor {
	return &Executor{
		sessions:       sessions,
		market:         marketSvc,
		tokens:         tokens,
		agg:            agg,
		relay:          relayClient,
		store:          store,
		bus:            bus,
		maxSlippageBps: maxSlippageBps,
		pollInterval:   pollInterval,
		pollMaxRetries: pollMaxRetries,
	}
}

// clampSlippage converts a percentage to bps, capped at the configured max.
func (e *Executor) clampSlippage(slippage float64) int {
	bps := int(math.Round(slippage * 100))
	if bps < 0 {
		bps = 0
	}
	if bps > e.maxSlippageBps {
		bps = e.maxSlippageBps
	}
	return bps
}

// GetRouteQuote asks the aggregator for the best route and resolves token
// metadata for both legs. Emits a quote_update on success.
func (e *Executor) GetRouteQuote(ctx context.Context, p QuoteParams) (*QuoteResult, error) {
	if p.InputMint == "" || p.OutputMint == "" {
		return nil, newError(CodeValidation, "input and output mints are required", nil)
	}
	if p.Amount == 0 {
		return nil, newError(CodeValidation, "amount must be positive", nil)
	}

	bps := e.clampSlippage(p.Slippage)
	route, err := e.agg.Quote(ctx, aggregator.QuoteRequest{
		InputMint:   p.InputMint,
		OutputMint:  p.OutputMint,
		Amount:      p.Amount,
		SlippageBps: bps,
	})
	if err != nil {
		if err == aggregator.ErrNoRoute {
			return nil, newError(CodeNoRouteFound, fmt.Sprintf("no route for %s -> %s", p.InputMint, p.OutputMint), err)
		}
		return nil, newError(CodeRouteError, "quote failed", err)
	}

	result := &QuoteResult{
		Route:       route,
		InputToken:  e.tokens.GetTokenInfo(ctx, p.InputMint),
		OutputToken: e.tokens.GetTokenInfo(ctx, p.OutputMint),
		SlippageBps: bps,
	}

	e.bus.Publish(events.TopicQuoteUpdate, "", map[string]any{
		"inputMint":   p.InputMint,
		"outputMint":  p.OutputMint,
		"inAmount":    route.InAmount,
		"outAmount":   route.OutAmount,
		"priceImpact": route.PriceImpactPct,
		"slippageBps": bps,
	})

	return result, nil
}

// ExecuteTradeWithMEV runs the full pipeline. The session check happens
// before any aggregator or relay traffic.
func (e *Executor) ExecuteTradeWithMEV(ctx context.Context, p ExecuteParams) (*ExecuteResult, error) {
	result := &ExecuteResult{InputAmount: p.Amount, Timestamp: time.Now().UTC()}

	if p.Signer == nil {
		return e.fail(result, newError(CodeValidation, "signer is required", nil))
	}
	if p.PublicKey != "" && !e.sessions.Validate(ctx, p.PublicKey, p.Signature) {
		return e.fail(result, newError(CodeSessionInvalid, "no active session for "+p.PublicKey, nil))
	}

	quote, err := e.GetRouteQuote(ctx, QuoteParams{
		InputMint:  p.InputMint,
		OutputMint: p.OutputMint,
		Amount:     p.Amount,
		Slippage:   p.Slippage,
	})
	if err != nil {
		return e.fail(result, err)
	}
	result.OutputAmount = quote.Route.OutAmount

	unsignedTx, err := e.agg.BuildSwap(ctx, quote.Route, p.PublicKey)
	if err != nil {
		return e.fail(result, newError(CodeRouteError, "swap build failed", err))
	}
	signedTx, err := p.Signer.SignTransaction(ctx, unsignedTx)
	if err != nil {
		return e.fail(result, newError(CodeValidation, "transaction signing failed", err))
	}

	bundleID, err := e.relay.Submit(ctx, []string{signedTx})
	if err != nil {
		return e.fail(result, newError(CodeSubmissionError, "relay rejected bundle", err))
	}
	result.BundleID = bundleID

	if md := e.market.GetMarketData(ctx, p.OutputMint); md.Success {
		result.Price = md.Price
	}

	execID := uuid.New().String()
	e.recordExecution(ctx, execID, p, quote, bundleID, result.Price)
	e.publishStatus(p.PublicKey, bundleID, relay.StatusPending, 0)

	return e.monitorBundle(ctx, execID, bundleID, p, result)
}

// monitorBundle polls the relay until a terminal status or retry exhaustion.
func (e *Executor) monitorBundle(ctx context.Context, execID, bundleID string, p ExecuteParams, result *ExecuteResult) (*ExecuteResult, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= e.pollMaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			e.markExecution(ctx, execID, db.ExecStatusUnknown, "", ctx.Err().Error())
			return e.fail(result, newError(CodeExecutionTimeout, "monitoring cancelled", ctx.Err()))
		case <-ticker.C:
		}

		status, err := e.relay.Status(ctx, bundleID)
		if err != nil {
			log.Printf("executor: status poll %d for bundle %s failed: %v", attempt, bundleID, err)
			continue
		}

		e.publishStatus(p.PublicKey, bundleID, status.Status, attempt)

		switch status.Status {
		case relay.StatusConfirmed:
			result.Success = true
			result.Signature = status.Signature
			e.markExecution(ctx, execID, db.ExecStatusConfirmed, status.Signature, "")
			e.publishExecution(p.PublicKey, result)
			return result, nil
		case relay.StatusFailed:
			e.markExecution(ctx, execID, db.ExecStatusFailed, "", status.Error)
			err := newError(CodeSubmissionError, "bundle failed: "+status.Error, nil)
			res, _ := e.fail(result, err)
			e.publishExecution(p.PublicKey, res)
			return res, err
		}
	}

	// Ambiguous outcome: the bundle may still land. The reconcile sweep
	// re-polls unknown rows and settles them later.
	e.markExecution(ctx, execID, db.ExecStatusUnknown, "", "monitoring exhausted retries")
	err := newError(CodeExecutionTimeout,
		fmt.Sprintf("bundle %s not terminal after %d polls", bundleID, e.pollMaxRetries), nil)
	res, _ := e.fail(result, err)
	e.publishExecution(p.PublicKey, res)
	return res, err
}

func (e *Executor) fail(result *ExecuteResult, err error) (*ExecuteResult, error) {
	result.Success = false
	result.Error = err.Error()
	return result, err
}

// recordExecution writes the audit row. Persistence failures are logged,
// not surfaced; the trade is already in flight.
func (e *Executor) recordExecution(ctx context.Context, execID string, p ExecuteParams, quote *QuoteResult, bundleID string, price float64) {
	rec := db.TradeExecution{
		ID:           execID,
		PublicKey:    p.PublicKey,
		InputMint:    p.InputMint,
		OutputMint:   p.OutputMint,
		InputAmount:  float64(p.Amount),
		OutputAmount: float64(quote.Route.OutAmount),
		Price:        price,
		SlippageBps:  quote.SlippageBps,
		BundleID:     bundleID,
		Status:       db.ExecStatusSubmitted,
	}
	if err := e.store.CreateExecution(ctx, rec); err != nil {
		log.Printf("executor: record execution %s: %v", execID, err)
	}
}

func (e *Executor) markExecution(ctx context.Context, execID, status, signature, errMsg string) {
	if err := e.store.UpdateExecutionStatus(ctx, execID, status, signature, errMsg); err != nil {
		log.Printf("executor: mark execution %s %s: %v", execID, status, err)
	}
}

func (e *Executor) publishStatus(identity, bundleID, status string, attempt int) {
	e.bus.Publish(events.TopicTradeStatus, identity, map[string]any{
		"bundleId": bundleID,
		"status":   status,
		"attempt":  attempt,
	})
}

func (e *Executor) publishExecution(identity string, result *ExecuteResult) {
	e.bus.Publish(events.TopicExecutionUpdate, identity, result)
}
