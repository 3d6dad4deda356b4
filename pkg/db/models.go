package db

import "time"

// Session represents a persisted trading session row.
type Session struct {
	ID         string
	PublicKey  string
	Signature  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  time.Time
	IsActive   bool
	WalletData string // JSON blob as provided by the wallet adapter
}

// Token represents cached metadata for a discovered token.
type Token struct {
	Address     string
	Symbol      string
	Name        string
	Decimals    int
	LogoURI     string
	Verified    bool
	LastUpdated time.Time
}

// TradeExecution is the audit row written for every execution attempt.
// Status moves submitted -> confirmed | failed | unknown; unknown rows are
// picked up by the reconciliation sweep.
type TradeExecution struct {
	ID           string
	PublicKey    string
	InputMint    string
	OutputMint   string
	InputAmount  float64
	OutputAmount float64
	Price        float64
	SlippageBps  int
	BundleID     string
	TxSignature  string
	Status       string
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Execution status values.
const (
	ExecStatusSubmitted = "submitted"
	ExecStatusConfirmed = "confirmed"
	ExecStatusFailed    = "failed"
	ExecStatusUnknown   = "unknown"
)
