package manuscript

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// InMemory implements every store contract with in-process concurrency
// safety. It backs the test suites and the smoke tool; production deploys
// use the Postgres store.
type InMemory struct {
	mu          sync.RWMutex
	manuscripts map[string]*Manuscript
	invoices    map[string]*Invoice
	reviews     []*ReviewAssignment
	cycles      map[string]*ProductionCycle
	responses   map[string]*ProofingResponse // key: cycleID + "/" + round
	corrections map[string][]CorrectionItem  // key: responseID
	seq         int
}

var (
	_ Store        = (*InMemory)(nil)
	_ InvoiceStore = (*InMemory)(nil)
	_ ReviewStore  = (*InMemory)(nil)
	_ CycleStore   = (*InMemory)(nil)
)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		manuscripts: make(map[string]*Manuscript),
		invoices:    make(map[string]*Invoice),
		cycles:      make(map[string]*ProductionCycle),
		responses:   make(map[string]*ProofingResponse),
		corrections: make(map[string][]CorrectionItem),
	}
}

func copyManuscript(m *Manuscript) *Manuscript {
	out := *m
	return &out
}

func copyCycle(c *ProductionCycle) *ProductionCycle {
	out := *c
	out.CollaboratorIDs = append([]string(nil), c.CollaboratorIDs...)
	return &out
}

func (s *InMemory) Create(ctx context.Context, m *Manuscript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	s.manuscripts[m.ID] = copyManuscript(m)
	return nil
}

func (s *InMemory) Get(ctx context.Context, id string) (*Manuscript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manuscripts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyManuscript(m), nil
}

func matchStatus(m *Manuscript, expect Expectation) bool {
	found := false
	for _, st := range expect.Statuses {
		if m.Status == st {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if len(expect.Stages) == 0 {
		return true
	}
	for _, stage := range expect.Stages {
		if m.PreCheckStatus == stage {
			return true
		}
	}
	return false
}

func (s *InMemory) UpdateStatus(ctx context.Context, id string, expect Expectation, change Change) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.manuscripts[id]
	if !ok {
		return false, ErrNotFound
	}
	if !matchStatus(m, expect) {
		return false, nil
	}
	m.Status = change.Status
	m.PreCheckStatus = change.Stage
	if change.AssistantEditorID != nil {
		m.AssistantEditorID = *change.AssistantEditorID
	}
	if change.BindOwner != "" && m.OwnerID == "" {
		m.OwnerID = change.BindOwner
	}
	if change.BumpVersion {
		m.Version++
	}
	if change.PublishedAt != nil {
		t := change.PublishedAt.UTC()
		m.PublishedAt = &t
	}
	if change.DOI != "" {
		m.DOI = change.DOI
	}
	m.UpdatedAt = time.Now().UTC()
	return true, nil
}

// SetFinalPDF records the rendered PDF path, standing in for the external
// renderer callback.
func (s *InMemory) SetFinalPDF(id, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.manuscripts[id]
	if !ok {
		return ErrNotFound
	}
	m.FinalPDFPath = path
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) Upsert(ctx context.Context, inv *Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inv
	s.invoices[inv.ManuscriptID] = &cp
	return nil
}

func (s *InMemory) GetInvoice(ctx context.Context, manuscriptID string) (*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[manuscriptID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *InMemory) SetStatus(ctx context.Context, manuscriptID string, status InvoiceStatus, confirmedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[manuscriptID]
	if !ok {
		return false, nil
	}
	inv.Status = status
	t := confirmedAt.UTC()
	inv.ConfirmedAt = &t
	return true, nil
}

func (s *InMemory) CreateReview(ctx context.Context, a *ReviewAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	cp.CreatedAt = time.Now().UTC()
	s.reviews = append(s.reviews, &cp)
	return nil
}

func (s *InMemory) ListByManuscript(ctx context.Context, manuscriptID string) ([]ReviewAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ReviewAssignment
	for _, a := range s.reviews {
		if a.ManuscriptID == manuscriptID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].ReviewerID < out[j].ReviewerID
	})
	return out, nil
}

func (s *InMemory) CancelPending(ctx context.Context, manuscriptID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.reviews {
		if a.ManuscriptID == manuscriptID && a.Status == ReviewPending {
			a.Status = ReviewCancelled
			n++
		}
	}
	return n, nil
}

func (s *InMemory) CloneCompleted(ctx context.Context, manuscriptID string) ([]ReviewAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maxRound := 0
	for _, a := range s.reviews {
		if a.ManuscriptID == manuscriptID && a.Round > maxRound {
			maxRound = a.Round
		}
	}
	var created []ReviewAssignment
	now := time.Now().UTC()
	for _, a := range s.reviews {
		if a.ManuscriptID != manuscriptID || a.Round != maxRound || a.Status != ReviewCompleted {
			continue
		}
		s.seq++
		clone := ReviewAssignment{
			ID:           a.ID + "-r",
			ManuscriptID: manuscriptID,
			ReviewerID:   a.ReviewerID,
			Round:        maxRound + 1,
			Status:       ReviewPending,
			CreatedAt:    now,
		}
		s.reviews = append(s.reviews, &clone)
		created = append(created, clone)
	}
	return created, nil
}

func (s *InMemory) CreateCycle(ctx context.Context, c *ProductionCycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.cycles {
		if existing.ManuscriptID == c.ManuscriptID && CycleActive(existing.Status) {
			return &ConflictError{
				ManuscriptID: c.ManuscriptID,
				CycleID:      existing.ID,
				CurrentCycle: existing.Status,
				Detail:       "an active production cycle already exists",
			}
		}
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.cycles[c.ID] = copyCycle(c)
	return nil
}

func (s *InMemory) GetCycle(ctx context.Context, id string) (*ProductionCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cycles[id]
	if !ok {
		return nil, ErrCycleNotFound
	}
	return copyCycle(c), nil
}

func (s *InMemory) ActiveCycle(ctx context.Context, manuscriptID string) (*ProductionCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cycles {
		if c.ManuscriptID == manuscriptID && CycleActive(c.Status) {
			return copyCycle(c), nil
		}
	}
	return nil, ErrCycleNotFound
}

func (s *InMemory) LatestCycle(ctx context.Context, manuscriptID string) (*ProductionCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *ProductionCycle
	for _, c := range s.cycles {
		if c.ManuscriptID != manuscriptID {
			continue
		}
		if latest == nil || c.CycleNo > latest.CycleNo {
			latest = c
		}
	}
	if latest == nil {
		return nil, ErrCycleNotFound
	}
	return copyCycle(latest), nil
}

func (s *InMemory) UpdateCycle(ctx context.Context, id string, expect []CycleStatus, change CycleChange) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return false, ErrCycleNotFound
	}
	match := false
	for _, st := range expect {
		if c.Status == st {
			match = true
			break
		}
	}
	if !match {
		return false, nil
	}
	c.Status = change.Status
	if change.GalleyPath != nil {
		c.GalleyPath = *change.GalleyPath
	}
	if change.ProofDueAt != nil {
		t := change.ProofDueAt.UTC()
		c.ProofDueAt = &t
	}
	if change.BumpProofRound {
		c.ProofRound++
	}
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func responseKey(cycleID string, round int) string {
	return cycleID + "/" + strconv.Itoa(round)
}

func (s *InMemory) SaveResponse(ctx context.Context, r *ProofingResponse, items []CorrectionItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := responseKey(r.CycleID, r.ProofRound)
	if existing, ok := s.responses[key]; ok {
		return &ConflictError{
			CycleID:      r.CycleID,
			CurrentCycle: CycleAwaitingAuthor,
			Detail:       "response already recorded as " + string(existing.Decision),
		}
	}
	r.CreatedAt = time.Now().UTC()
	cp := *r
	s.responses[key] = &cp
	s.corrections[r.ID] = append([]CorrectionItem(nil), items...)
	return nil
}

func (s *InMemory) GetResponse(ctx context.Context, cycleID string, proofRound int) (*ProofingResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.responses[responseKey(cycleID, proofRound)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *InMemory) ListCorrections(ctx context.Context, responseID string) ([]CorrectionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]CorrectionItem(nil), s.corrections[responseID]...), nil
}
