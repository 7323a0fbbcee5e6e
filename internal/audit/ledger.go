package audit

import (
	"context"
	"time"

	"scriptoria.org/internal/ids"
	"scriptoria.org/internal/obs"
)

// Ledger is the writer/reader the state machines talk to. Record is
// best-effort: a missing audit row must never block an editorial action, so
// append failures are logged and swallowed here.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger wraps a store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Record appends one transition entry, filling ID and CreatedAt.
func (l *Ledger) Record(ctx context.Context, e Entry) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	if err := l.store.Append(ctx, &e); err != nil {
		obs.Warn("audit append failed", map[string]any{
			"manuscript_id": e.ManuscriptID,
			"from_status":   e.FromStatus,
			"to_status":     e.ToStatus,
			"error":         err.Error(),
		})
	}
}

// List returns the manuscript's transition history, most recent first.
func (l *Ledger) List(ctx context.Context, manuscriptID string) ([]Entry, error) {
	return l.store.List(ctx, manuscriptID)
}
