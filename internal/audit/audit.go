// Package audit records every editorial state transition in an append-only
// ledger. Entries are never updated or deleted; the payload schema has grown
// additively over the product's life, so readers must treat unknown keys as
// opaque.
package audit

import (
	"context"
	"sync"
	"time"
)

// Well-known payload keys. The payload map may carry more.
const (
	KeyAction         = "action"
	KeyDecision       = "decision"
	KeySource         = "source"
	KeyIdempotency    = "idempotency_key"
	KeyPreCheckFrom   = "pre_check_from"
	KeyPreCheckTo     = "pre_check_to"
	KeyAEBefore       = "assistant_editor_before"
	KeyAEAfter        = "assistant_editor_after"
	KeyVersionBefore  = "version_before"
	KeyVersionAfter   = "version_after"
	KeyCycleID        = "cycle_id"
	KeyProofRound     = "proof_round"
	KeyGate           = "gate"
	KeyInvoiceStatus  = "invoice_status"
	KeyReviewsCreated = "reviews_created"
)

// Entry is one immutable transition record.
type Entry struct {
	ID           string         `json:"id"`
	ManuscriptID string         `json:"manuscript_id"`
	FromStatus   string         `json:"from_status"`
	ToStatus     string         `json:"to_status"`
	ChangedBy    string         `json:"changed_by,omitempty"` // empty for system-generated
	Comment      string         `json:"comment,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Store appends and reads entries. No update or delete operations exist.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	// List returns entries for the manuscript, most recent first.
	List(ctx context.Context, manuscriptID string) ([]Entry, error)
}

// InMemory is the reference Store used by tests and the smoke tool.
type InMemory struct {
	mu      sync.RWMutex
	entries []Entry
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.Payload = make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		cp.Payload[k] = v
	}
	s.entries = append(s.entries, cp)
	return nil
}

func (s *InMemory) List(ctx context.Context, manuscriptID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Append order is insertion order; walk backwards for most-recent-first.
	var out []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].ManuscriptID == manuscriptID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}
