package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"scriptoria.org/internal/audit"
)

// Append inserts one transition record. The table carries no update or
// delete path; immutability is enforced at the schema level.
func (s *Store) Append(ctx context.Context, e *audit.Entry) error {
	payload := []byte("{}")
	if len(e.Payload) > 0 {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		payload = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into transition_logs
			(id, manuscript_id, from_status, to_status, changed_by, comment, payload, created_at)
		values ($1,$2,$3,$4,nullif($5,''),nullif($6,''),$7,$8)
	`, e.ID, e.ManuscriptID, e.FromStatus, e.ToStatus, e.ChangedBy, e.Comment, payload, e.CreatedAt.UTC())
	return err
}

func (s *Store) List(ctx context.Context, manuscriptID string) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, manuscript_id, from_status, to_status, coalesce(changed_by,''), coalesce(comment,''), payload, created_at
		from transition_logs
		where manuscript_id = $1
		order by created_at desc, id desc
	`, manuscriptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Entry
	for rows.Next() {
		var (
			e   audit.Entry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.ManuscriptID, &e.FromStatus, &e.ToStatus, &e.ChangedBy, &e.Comment, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// ActiveJournals resolves the journal scope for a scoped role from the
// user's active grants.
func (s *Store) ActiveJournals(ctx context.Context, userID, role string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select journal_id from user_journal_roles
		where user_id = $1 and role = $2 and is_active
	`, userID, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var journals []string
	for rows.Next() {
		var j string
		if err := rows.Scan(&j); err != nil {
			return nil, err
		}
		journals = append(journals, j)
	}
	return journals, rows.Err()
}
