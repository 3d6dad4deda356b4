// Package session owns the trading-session lifecycle: a session binds a
// wallet public key to a signed challenge for a bounded time window, and is
// the gate every execution request must pass.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"trading-service/internal/events"
	"trading-service/pkg/crypto"
	"trading-service/pkg/db"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingIdentity  = errors.New("wallet public key is required")
	ErrMissingSignature = errors.New("no signature produced for session challenge")
	ErrPersistence      = errors.New("failed to persist session")
	ErrNoActiveSession  = errors.New("no active session")
)

// Signer produces a signature over the session challenge. The wallet adapter
// behind the API implements this; tests supply fakes.
type Signer interface {
	SignMessage(ctx context.Context, message string) (string, error)
}

// Session is the caller-facing view of an initialized session.
type Session struct {
	ID        string    `json:"sessionId"`
	PublicKey string    `json:"publicKey"`
	Signature string    `json:"signature"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type cached struct {
	id        string
	signature string
	expiresAt time.Time
}

// Manager drives session creation, validation, refresh and expiry.
//
// State machine: CREATED -> ACTIVE -> (REFRESHED -> ACTIVE)* -> EXPIRED|ENDED.
// Terminal states never transition back; a new Init always creates a new row.
type Manager struct {
	store         *db.Queries
	bus           *events.Bus
	jwtSecret     string
	duration      time.Duration
	refreshWindow time.Duration

	sealer *crypto.Sealer // optional at-rest encryption for wallet metadata

	mu    sync.Mutex
	cache map[string]cached
	locks map[string]*sync.Mutex // per-identity Init serialization
}

// SetSealer enables at-rest encryption of the wallet_data column.
func (m *Manager) SetSealer(s *crypto.Sealer) {
	m.sealer = s
}

// NewManager wires the session manager to its store and event bus.
func NewManager(store *db.Queries, bus *events.Bus, jwtSecret string, duration, refreshWindow time.Duration) *Manager {
	return &Manager{
		store:         store,
		bus:           bus,
		jwtSecret:     jwtSecret,
		duration:      duration,
		refreshWindow: refreshWindow,
		cache:         make(map[string]cached),
		locks:         make(map[string]*sync.Mutex),
	}
}

// Challenge builds the canonical, time-stamped message the wallet must sign.
func (m *Manager) Challenge(publicKey string) string {
	return fmt.Sprintf("Trading session initialization for %s at %d", publicKey, time.Now().UnixMilli())
}

// identityLock returns the mutex serializing session creation for one wallet.
// Two concurrent Init calls for the same identity would otherwise both pass
// the deactivation step before either insert lands.
func (m *Manager) identityLock(publicKey string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[publicKey]
	if !ok {
		l = &sync.Mutex{}
		m.locks[publicKey] = l
	}
	return l
}

// Init creates a fresh session for the wallet, deactivating any prior one.
func (m *Manager) Init(ctx context.Context, publicKey, walletData string, signer Signer) (*Session, error) {
	if publicKey == "" {
		return nil, ErrMissingIdentity
	}
	if signer == nil {
		return nil, ErrMissingSignature
	}

	lock := m.identityLock(publicKey)
	lock.Lock()
	defer lock.Unlock()

	challenge := m.Challenge(publicKey)
	signature, err := signer.SignMessage(ctx, challenge)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingSignature, err)
	}
	if signature == "" {
		return nil, ErrMissingSignature
	}

	now := time.Now().UTC()
	expiresAt := now.Add(m.duration)

	id, err := m.mintSessionID(publicKey, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("mint session id: %w", err)
	}

	if m.sealer != nil && walletData != "" {
		walletData, err = m.sealer.Seal(walletData)
		if err != nil {
			return nil, fmt.Errorf("%w: seal wallet data: %v", ErrPersistence, err)
		}
	}

	row := db.Session{
		ID:         id,
		PublicKey:  publicKey,
		Signature:  signature,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
		IsActive:   true,
		WalletData: walletData,
	}
	if err := m.store.CreateSessionExclusive(ctx, row); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	m.mu.Lock()
	m.cache[publicKey] = cached{id: id, signature: signature, expiresAt: expiresAt}
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(events.TopicSessionStarted, publicKey, map[string]any{
			"sessionId": id,
			"expiresAt": expiresAt,
		})
	}

	return &Session{ID: id, PublicKey: publicKey, Signature: signature, ExpiresAt: expiresAt}, nil
}

// Validate reports whether the wallet holds a live session. When signature is
// non-empty it must match the stored one exactly. Validate never fails hard:
// store errors degrade to false.
func (m *Manager) Validate(ctx context.Context, publicKey, signature string) bool {
	if publicKey == "" {
		return false
	}

	now := time.Now()

	m.mu.Lock()
	entry, ok := m.cache[publicKey]
	if ok && now.After(entry.expiresAt) {
		delete(m.cache, publicKey)
		ok = false
	}
	m.mu.Unlock()

	if ok {
		return signature == "" || constantTimeEqual(entry.signature, signature)
	}

	row, err := m.store.GetActiveSession(ctx, publicKey)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			log.Printf("session: validate lookup for %s failed: %v", publicKey, err)
		}
		return false
	}
	if now.After(row.ExpiresAt) {
		return false
	}

	m.mu.Lock()
	m.cache[publicKey] = cached{id: row.ID, signature: row.Signature, expiresAt: row.ExpiresAt}
	m.mu.Unlock()

	return signature == "" || constantTimeEqual(row.Signature, signature)
}

// WalletData returns the wallet metadata stored with the active session,
// unsealing it when at-rest encryption is enabled.
func (m *Manager) WalletData(ctx context.Context, publicKey string) (string, error) {
	row, err := m.store.GetActiveSession(ctx, publicKey)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return "", ErrNoActiveSession
		}
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if m.sealer != nil && crypto.IsSealed(row.WalletData) {
		return m.sealer.Unseal(row.WalletData)
	}
	return row.WalletData, nil
}

// Refresh extends the session only when it is inside the refresh window.
// Sessions with plenty of time left are returned unchanged, which keeps a
// chatty client from extending a session forever.
func (m *Manager) Refresh(ctx context.Context, publicKey string) (*Session, error) {
	if publicKey == "" {
		return nil, ErrMissingIdentity
	}

	row, err := m.store.GetActiveSession(ctx, publicKey)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNoActiveSession
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	remaining := time.Until(row.ExpiresAt)
	if remaining <= 0 {
		return nil, ErrNoActiveSession
	}
	if remaining > m.refreshWindow {
		return &Session{ID: row.ID, PublicKey: publicKey, Signature: row.Signature, ExpiresAt: row.ExpiresAt}, nil
	}

	expiresAt := time.Now().UTC().Add(m.duration)
	if err := m.store.UpdateSessionExpiry(ctx, row.ID, expiresAt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	m.mu.Lock()
	m.cache[publicKey] = cached{id: row.ID, signature: row.Signature, expiresAt: expiresAt}
	m.mu.Unlock()

	return &Session{ID: row.ID, PublicKey: publicKey, Signature: row.Signature, ExpiresAt: expiresAt}, nil
}

// End marks the wallet's sessions inactive. Ending a wallet with no live
// session is a no-op.
func (m *Manager) End(ctx context.Context, publicKey string) error {
	if publicKey == "" {
		return ErrMissingIdentity
	}

	if _, err := m.store.DeactivateSessions(ctx, publicKey); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	m.mu.Lock()
	delete(m.cache, publicKey)
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(events.TopicSessionEnded, publicKey, map[string]any{"publicKey": publicKey})
	}
	return nil
}

// StartSweep purges expired cache entries on an interval. Expiry is checked
// on every read anyway, so the sweep only bounds memory; it never touches
// the store.
func (m *Manager) StartSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := m.sweepExpired()
				if removed > 0 {
					log.Printf("session: swept %d expired cache entries", removed)
				}
			}
		}
	}()
}

func (m *Manager) sweepExpired() int {
	now := time.Now()
	removed := 0

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, entry := range m.cache {
		if now.After(entry.expiresAt) {
			delete(m.cache, key)
			removed++
		}
	}
	return removed
}

// CachedCount reports live cache entries, for the status endpoint.
func (m *Manager) CachedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

type walletClaims struct {
	Wallet string `json:"wlt"`
	jwt.RegisteredClaims
}

// mintSessionID issues the opaque session identifier as a signed token
// carrying the wallet and expiry. The store stays the source of truth; the
// token format just makes the id self-describing for the API layer.
func (m *Manager) mintSessionID(publicKey string, expiresAt time.Time) (string, error) {
	claims := walletClaims{
		Wallet: publicKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   publicKey,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.jwtSecret))
}

// ParseSessionID extracts the wallet public key from a session id token.
func (m *Manager) ParseSessionID(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &walletClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(m.jwtSecret), nil
	})
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*walletClaims); ok && token.Valid {
		return claims.Wallet, nil
	}
	return "", errors.New("invalid session token claims")
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
