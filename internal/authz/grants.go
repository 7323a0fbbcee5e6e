package authz

import (
	"context"
	"sync"
	"time"
)

// Grant authorizes a user to act in a role within one journal.
type Grant struct {
	UserID    string    `json:"user_id"`
	JournalID string    `json:"journal_id"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// InMemoryGrants is the reference GrantStore used by tests and the smoke
// tool.
type InMemoryGrants struct {
	mu     sync.RWMutex
	grants []Grant
}

var _ GrantStore = (*InMemoryGrants)(nil)

// NewInMemoryGrants creates an empty grant store.
func NewInMemoryGrants() *InMemoryGrants {
	return &InMemoryGrants{}
}

// Add records a grant.
func (s *InMemoryGrants) Add(g Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	s.grants = append(s.grants, g)
}

func (s *InMemoryGrants) ActiveJournals(ctx context.Context, userID, role string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, g := range s.grants {
		if g.UserID == userID && g.Role == role && g.IsActive {
			out = append(out, g.JournalID)
		}
	}
	return out, nil
}
