// Package db provides the CRUD-style store consumed by the session, token and
// trade services. Schema mechanics stay here; callers only see typed rows.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrPublicKeyRequired = errors.New("public_key is required")
	ErrNotFound          = errors.New("record not found")
)

// Queries provides typed access to the session/token/execution tables.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a new Queries instance.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// ----------------------------------------
// Session queries
// ----------------------------------------

// GetActiveSession returns the active, non-expired session for a wallet, or
// ErrNotFound when none exists.
func (q *Queries) GetActiveSession(ctx context.Context, publicKey string) (*Session, error) {
	if publicKey == "" {
		return nil, ErrPublicKeyRequired
	}

	var s Session
	err := q.db.QueryRowContext(ctx, `
		SELECT id, public_key, signature, created_at, updated_at, expires_at,
		       is_active, COALESCE(wallet_data, '')
		FROM trading_sessions
		WHERE public_key = ? AND is_active = 1 AND expires_at > ?
		ORDER BY created_at DESC
		LIMIT 1
	`, publicKey, time.Now().UTC()).Scan(&s.ID, &s.PublicKey, &s.Signature,
		&s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt, &s.IsActive, &s.WalletData)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return &s, nil
}

// CreateSessionExclusive deactivates any existing sessions for the wallet and
// inserts the new row in a single transaction, so two racing creations cannot
// both end up active.
func (q *Queries) CreateSessionExclusive(ctx context.Context, s Session) error {
	if s.PublicKey == "" {
		return ErrPublicKeyRequired
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE trading_sessions
		SET is_active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE public_key = ? AND is_active = 1
	`, s.PublicKey); err != nil {
		return fmt.Errorf("deactivate sessions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trading_sessions (id, public_key, signature, created_at, updated_at, expires_at, is_active, wallet_data)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
	`, s.ID, s.PublicKey, s.Signature, s.CreatedAt, s.CreatedAt, s.ExpiresAt, s.WalletData); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return tx.Commit()
}

// UpdateSessionExpiry extends a session's expiry.
func (q *Queries) UpdateSessionExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE trading_sessions
		SET expires_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND is_active = 1
	`, expiresAt, id)
	if err != nil {
		return fmt.Errorf("update session expiry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateSessions marks every active session for the wallet inactive.
// Returns the number of rows touched; deactivating nothing is not an error.
func (q *Queries) DeactivateSessions(ctx context.Context, publicKey string) (int64, error) {
	if publicKey == "" {
		return 0, ErrPublicKeyRequired
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE trading_sessions
		SET is_active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE public_key = ? AND is_active = 1
	`, publicKey)
	if err != nil {
		return 0, fmt.Errorf("deactivate sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountActiveSessions reports active, non-expired sessions for a wallet.
func (q *Queries) CountActiveSessions(ctx context.Context, publicKey string) (int, error) {
	if publicKey == "" {
		return 0, ErrPublicKeyRequired
	}

	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trading_sessions
		WHERE public_key = ? AND is_active = 1 AND expires_at > ?
	`, publicKey, time.Now().UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// ----------------------------------------
// Token queries
// ----------------------------------------

// GetToken looks a token up by address or (case-insensitive) symbol.
func (q *Queries) GetToken(ctx context.Context, symbolOrAddress string) (*Token, error) {
	var t Token
	err := q.db.QueryRowContext(ctx, `
		SELECT address, symbol, COALESCE(name, ''), decimals, COALESCE(logo_uri, ''), verified, last_updated
		FROM tokens
		WHERE address = ? OR symbol = ? COLLATE NOCASE
		LIMIT 1
	`, symbolOrAddress, symbolOrAddress).Scan(&t.Address, &t.Symbol, &t.Name,
		&t.Decimals, &t.LogoURI, &t.Verified, &t.LastUpdated)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query token: %w", err)
	}
	return &t, nil
}

// UpsertToken writes discovered token metadata through to the store.
func (q *Queries) UpsertToken(ctx context.Context, t Token) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO tokens (address, symbol, name, decimals, logo_uri, verified, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(address) DO UPDATE SET
			symbol = excluded.symbol,
			name = excluded.name,
			decimals = excluded.decimals,
			logo_uri = excluded.logo_uri,
			verified = excluded.verified,
			last_updated = CURRENT_TIMESTAMP
	`, t.Address, t.Symbol, t.Name, t.Decimals, t.LogoURI, t.Verified)

	return err
}

// ----------------------------------------
// Trade execution queries
// ----------------------------------------

// CreateExecution inserts a new execution audit row.
func (q *Queries) CreateExecution(ctx context.Context, e TradeExecution) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO trade_executions (id, public_key, input_mint, output_mint, input_amount,
			output_amount, price, slippage_bps, bundle_id, tx_signature, status, error,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, e.ID, e.PublicKey, e.InputMint, e.OutputMint, e.InputAmount,
		e.OutputAmount, e.Price, e.SlippageBps, e.BundleID, e.TxSignature, e.Status, e.Error)

	return err
}

// UpdateExecutionStatus records the terminal (or monitoring) state of an execution.
func (q *Queries) UpdateExecutionStatus(ctx context.Context, id, status, txSignature, errMsg string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE trade_executions
		SET status = ?, tx_signature = COALESCE(NULLIF(?, ''), tx_signature),
		    error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, txSignature, errMsg, id)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExecutionsByStatus returns executions in the given state, oldest first.
func (q *Queries) GetExecutionsByStatus(ctx context.Context, status string, limit int) ([]TradeExecution, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, COALESCE(public_key, ''), input_mint, output_mint, input_amount,
		       output_amount, price, slippage_bps, COALESCE(bundle_id, ''),
		       COALESCE(tx_signature, ''), status, COALESCE(error, ''),
		       created_at, updated_at
		FROM trade_executions
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []TradeExecution
	for rows.Next() {
		var e TradeExecution
		if err := rows.Scan(&e.ID, &e.PublicKey, &e.InputMint, &e.OutputMint, &e.InputAmount,
			&e.OutputAmount, &e.Price, &e.SlippageBps, &e.BundleID,
			&e.TxSignature, &e.Status, &e.Error, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
