package audit

import (
	"context"
	"errors"
	"testing"
)

func TestLedgerFillsIDAndTimestamp(t *testing.T) {
	store := NewInMemory()
	ledger := NewLedger(store)
	ctx := context.Background()

	ledger.Record(ctx, Entry{
		ManuscriptID: "ms-1",
		FromStatus:   "submitted",
		ToStatus:     "pre_check",
		Payload:      map[string]any{KeyAction: "precheck_begin"},
	})

	entries, err := ledger.List(ctx, "ms-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("expected filled id and timestamp: %+v", e)
	}
	if e.Payload[KeyAction] != "precheck_begin" {
		t.Fatalf("payload lost: %+v", e.Payload)
	}
}

func TestListMostRecentFirstPerManuscript(t *testing.T) {
	store := NewInMemory()
	ledger := NewLedger(store)
	ctx := context.Background()

	ledger.Record(ctx, Entry{ManuscriptID: "ms-1", ToStatus: "pre_check"})
	ledger.Record(ctx, Entry{ManuscriptID: "ms-2", ToStatus: "pre_check"})
	ledger.Record(ctx, Entry{ManuscriptID: "ms-1", ToStatus: "under_review"})
	ledger.Record(ctx, Entry{ManuscriptID: "ms-1", ToStatus: "decision"})

	entries, err := ledger.List(ctx, "ms-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ToStatus != "decision" || entries[2].ToStatus != "pre_check" {
		t.Fatalf("order violated: %v %v %v", entries[0].ToStatus, entries[1].ToStatus, entries[2].ToStatus)
	}
}

type failingStore struct{}

func (failingStore) Append(ctx context.Context, e *Entry) error {
	return errors.New("disk full")
}

func (failingStore) List(ctx context.Context, manuscriptID string) ([]Entry, error) {
	return nil, nil
}

func TestRecordSwallowsAppendFailure(t *testing.T) {
	ledger := NewLedger(failingStore{})
	// Must not panic or surface the error.
	ledger.Record(context.Background(), Entry{ManuscriptID: "ms-1", ToStatus: "approved"})
}
