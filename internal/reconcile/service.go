// Package reconcile settles executions whose monitoring timed out. A bundle
// can land after the executor stops polling, so rows marked unknown are
// re-checked against the relay until they reach a terminal state.
package reconcile

import (
	"context"
	"log"
	"sync"
	"time"

	"trading-service/internal/events"
	"trading-service/pkg/db"
	"trading-service/pkg/relay"
)

// StatusSource reports the current state of a submitted bundle.
type StatusSource interface {
	Status(ctx context.Context, bundleID string) (*relay.BundleStatus, error)
}

// Service handles periodic reconciliation of unresolved executions.
type Service struct {
	store    *db.Queries
	relay    StatusSource
	bus      *events.Bus
	interval time.Duration
	cutoff   time.Duration
	mu       sync.Mutex
}

// Report contains the outcome of one reconciliation pass.
type Report struct {
	Timestamp    time.Time
	Checked      int
	Confirmed    int
	Failed       int
	StillPending int
}

// NewService creates a reconciliation service. Rows older than cutoff are
// given up on and marked failed.
func NewService(store *db.Queries, statusSource StatusSource, bus *events.Bus, interval, cutoff time.Duration) *Service {
	return &Service{
		store:    store,
		relay:    statusSource,
		bus:      bus,
		interval: interval,
		cutoff:   cutoff,
	}
}

// Start begins periodic reconciliation.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report, err := s.Reconcile(ctx)
				if err != nil {
					log.Printf("reconcile: pass failed: %v", err)
					continue
				}
				if report.Checked > 0 {
					log.Printf("reconcile: checked=%d confirmed=%d failed=%d pending=%d",
						report.Checked, report.Confirmed, report.Failed, report.StillPending)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("reconcile: service started (interval: %v, cutoff: %v)", s.interval, s.cutoff)
}

// Reconcile re-polls every unknown execution once.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{Timestamp: time.Now()}

	rows, err := s.store.GetExecutionsByStatus(ctx, db.ExecStatusUnknown, 100)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		report.Checked++

		if row.BundleID == "" || time.Since(row.CreatedAt) > s.cutoff {
			s.settle(ctx, row, db.ExecStatusFailed, "", "not confirmed within reconciliation cutoff")
			report.Failed++
			continue
		}

		status, err := s.relay.Status(ctx, row.BundleID)
		if err != nil {
			log.Printf("reconcile: status for bundle %s: %v", row.BundleID, err)
			report.StillPending++
			continue
		}

		switch status.Status {
		case relay.StatusConfirmed:
			s.settle(ctx, row, db.ExecStatusConfirmed, status.Signature, "")
			report.Confirmed++
		case relay.StatusFailed:
			s.settle(ctx, row, db.ExecStatusFailed, "", status.Error)
			report.Failed++
		default:
			report.StillPending++
		}
	}

	return report, nil
}

// settle writes the terminal state and emits the final execution_update the
// original monitoring loop never got to send.
func (s *Service) settle(ctx context.Context, row db.TradeExecution, status, signature, errMsg string) {
	if err := s.store.UpdateExecutionStatus(ctx, row.ID, status, signature, errMsg); err != nil {
		log.Printf("reconcile: settle %s as %s: %v", row.ID, status, err)
		return
	}

	s.bus.Publish(events.TopicExecutionUpdate, row.PublicKey, map[string]any{
		"success":    status == db.ExecStatusConfirmed,
		"bundleId":   row.BundleID,
		"signature":  signature,
		"error":      errMsg,
		"reconciled": true,
	})
}
