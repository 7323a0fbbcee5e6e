package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"scriptoria.org/internal/ids"
	"scriptoria.org/internal/manuscript"
)

func (s *Store) CreateReview(ctx context.Context, a *manuscript.ReviewAssignment) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into review_assignments (id, manuscript_id, reviewer_id, round, status, created_at)
		values ($1,$2,$3,$4,$5,now())
	`, a.ID, a.ManuscriptID, a.ReviewerID, a.Round, a.Status)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return &manuscript.ConflictError{
			ManuscriptID: a.ManuscriptID,
			Detail:       "reviewer already assigned for this round",
		}
	}
	return err
}

func (s *Store) ListByManuscript(ctx context.Context, manuscriptID string) ([]manuscript.ReviewAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, manuscript_id, reviewer_id, round, status, created_at
		from review_assignments
		where manuscript_id = $1
		order by round, created_at
	`, manuscriptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []manuscript.ReviewAssignment
	for rows.Next() {
		var a manuscript.ReviewAssignment
		if err := rows.Scan(&a.ID, &a.ManuscriptID, &a.ReviewerID, &a.Round, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) CancelPending(ctx context.Context, manuscriptID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update review_assignments set status = $2
		where manuscript_id = $1 and status = $3
	`, manuscriptID, manuscript.ReviewCancelled, manuscript.ReviewPending)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CloneCompleted re-invites every reviewer who completed the latest round,
// creating pending assignments at round+1 in one statement.
func (s *Store) CloneCompleted(ctx context.Context, manuscriptID string) ([]manuscript.ReviewAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		with latest as (
			select coalesce(max(round), 0) as round
			from review_assignments where manuscript_id = $1
		)
		insert into review_assignments (id, manuscript_id, reviewer_id, round, status, created_at)
		select gen_random_uuid()::text, r.manuscript_id, r.reviewer_id, r.round + 1, $2, now()
		from review_assignments r, latest
		where r.manuscript_id = $1 and r.round = latest.round and r.status = $3
		returning id, manuscript_id, reviewer_id, round, status, created_at
	`, manuscriptID, manuscript.ReviewPending, manuscript.ReviewCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []manuscript.ReviewAssignment
	for rows.Next() {
		var a manuscript.ReviewAssignment
		if err := rows.Scan(&a.ID, &a.ManuscriptID, &a.ReviewerID, &a.Round, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

const cycleCols = `id, manuscript_id, cycle_no, status, layout_editor_id,
	coalesce(collaborator_ids,''), proofreader_author_id, proof_round, proof_due_at,
	coalesce(galley_path,''), created_at, updated_at`

func scanCycle(row interface{ Scan(...any) error }) (*manuscript.ProductionCycle, error) {
	var (
		c       manuscript.ProductionCycle
		collabs string
		due     sql.NullTime
	)
	err := row.Scan(&c.ID, &c.ManuscriptID, &c.CycleNo, &c.Status, &c.LayoutEditorID,
		&collabs, &c.ProofreaderAuthorID, &c.ProofRound, &due, &c.GalleyPath, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, manuscript.ErrCycleNotFound
	}
	if err != nil {
		return nil, err
	}
	if collabs != "" {
		c.CollaboratorIDs = strings.Split(collabs, ",")
	}
	if due.Valid {
		t := due.Time
		c.ProofDueAt = &t
	}
	return &c, nil
}

// CreateCycle inserts a new cycle. The partial unique index on
// (manuscript_id) where the status is non-terminal is what rejects a second
// active cycle, so two concurrent opens cannot both land.
func (s *Store) CreateCycle(ctx context.Context, c *manuscript.ProductionCycle) error {
	_, err := s.db.ExecContext(ctx, `
		insert into production_cycles
			(id, manuscript_id, cycle_no, status, layout_editor_id, collaborator_ids, proofreader_author_id, proof_round, created_at, updated_at)
		values ($1,$2,$3,$4,$5,nullif($6,''),$7,$8,now(),now())
	`, c.ID, c.ManuscriptID, c.CycleNo, c.Status, c.LayoutEditorID,
		strings.Join(c.CollaboratorIDs, ","), c.ProofreaderAuthorID, c.ProofRound)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return &manuscript.ConflictError{
			ManuscriptID: c.ManuscriptID,
			Detail:       "an active production cycle already exists",
		}
	}
	return err
}

func (s *Store) GetCycle(ctx context.Context, id string) (*manuscript.ProductionCycle, error) {
	return scanCycle(s.db.QueryRowContext(ctx,
		`select `+cycleCols+` from production_cycles where id = $1`, id))
}

func (s *Store) ActiveCycle(ctx context.Context, manuscriptID string) (*manuscript.ProductionCycle, error) {
	return scanCycle(s.db.QueryRowContext(ctx,
		`select `+cycleCols+` from production_cycles where manuscript_id = $1 and status <> $2`,
		manuscriptID, manuscript.CycleApprovedForPublish))
}

func (s *Store) LatestCycle(ctx context.Context, manuscriptID string) (*manuscript.ProductionCycle, error) {
	return scanCycle(s.db.QueryRowContext(ctx,
		`select `+cycleCols+` from production_cycles where manuscript_id = $1 order by cycle_no desc limit 1`,
		manuscriptID))
}

func (s *Store) UpdateCycle(ctx context.Context, id string, expect []manuscript.CycleStatus, change manuscript.CycleChange) (bool, error) {
	var (
		sets []string
		args []any
	)
	add := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets = append(sets, "status = "+add(string(change.Status)))
	if change.GalleyPath != nil {
		sets = append(sets, "galley_path = "+add(*change.GalleyPath))
	}
	if change.ProofDueAt != nil {
		sets = append(sets, "proof_due_at = "+add(*change.ProofDueAt))
	}
	if change.BumpProofRound {
		sets = append(sets, "proof_round = proof_round + 1")
	}
	sets = append(sets, "updated_at = now()")

	where := []string{"id = " + add(id), "status in (" + placeholders(&args, expect) + ")"}

	q := "update production_cycles set " + strings.Join(sets, ", ") + " where " + strings.Join(where, " and ")
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveResponse persists the author's answer and replaces its correction
// items in one transaction. The (cycle_id, proof_round) unique constraint
// rejects a second answer to the same round.
func (s *Store) SaveResponse(ctx context.Context, r *manuscript.ProofingResponse, items []manuscript.CorrectionItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into proofing_responses (id, cycle_id, proof_round, author_id, decision, comment, created_at)
		values ($1,$2,$3,$4,$5,nullif($6,''),$7)
	`, r.ID, r.CycleID, r.ProofRound, r.AuthorID, r.Decision, r.Comment, r.CreatedAt.UTC()); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return &manuscript.ConflictError{
				CycleID: r.CycleID,
				Detail:  "a response for this proof round already exists",
			}
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		delete from correction_items
		where response_id in (select id from proofing_responses where cycle_id = $1 and proof_round < $2)
	`, r.CycleID, r.ProofRound); err != nil {
		return err
	}
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `
			insert into correction_items (id, response_id, page, line, note)
			values ($1,$2,$3,$4,$5)
		`, it.ID, it.ResponseID, it.Page, it.Line, it.Note); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetResponse(ctx context.Context, cycleID string, proofRound int) (*manuscript.ProofingResponse, error) {
	var r manuscript.ProofingResponse
	err := s.db.QueryRowContext(ctx, `
		select id, cycle_id, proof_round, author_id, decision, coalesce(comment,''), created_at
		from proofing_responses where cycle_id = $1 and proof_round = $2
	`, cycleID, proofRound).Scan(&r.ID, &r.CycleID, &r.ProofRound, &r.AuthorID, &r.Decision, &r.Comment, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, manuscript.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListCorrections(ctx context.Context, responseID string) ([]manuscript.CorrectionItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, response_id, page, line, note
		from correction_items where response_id = $1 order by page, line
	`, responseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []manuscript.CorrectionItem
	for rows.Next() {
		var it manuscript.CorrectionItem
		if err := rows.Scan(&it.ID, &it.ResponseID, &it.Page, &it.Line, &it.Note); err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	return result, rows.Err()
}
