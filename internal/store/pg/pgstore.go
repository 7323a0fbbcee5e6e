// Package pg is the Postgres persistence layer. Conditional updates carry
// their expected pre-state in the WHERE clause and report RowsAffected, so
// every state-machine write is a single compare-and-swap statement.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jackc/pgx/v5/pgconn"

	"scriptoria.org/internal/audit"
	"scriptoria.org/internal/authz"
	"scriptoria.org/internal/manuscript"
	"scriptoria.org/internal/obs"
)

const (
	pgErrUniqueViolation = "23505"
	pgErrUndefinedColumn = "42703"
)

type Store struct {
	db *sql.DB
	// hasFinalPDF is false when the deployed schema predates the
	// final_pdf_path / doi / published_at columns. Publication then degrades
	// to a status-only write.
	hasFinalPDF bool
}

var (
	_ manuscript.Store        = (*Store)(nil)
	_ manuscript.InvoiceStore = (*Store)(nil)
	_ manuscript.ReviewStore  = (*Store)(nil)
	_ manuscript.CycleStore   = (*Store)(nil)
	_ audit.Store             = (*Store)(nil)
	_ authz.GrantStore        = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{db: db, hasFinalPDF: true}
	s.detectSchema(context.Background())
	return s, nil
}

// NewWithDB wraps an existing connection, assuming the full schema.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, hasFinalPDF: true}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// HasFinalPDFColumn reports whether the production gate can be evaluated
// against this schema.
func (s *Store) HasFinalPDFColumn() bool { return s.hasFinalPDF }

func (s *Store) detectSchema(ctx context.Context) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		select 1 from information_schema.columns
		where table_name = 'manuscripts' and column_name = 'final_pdf_path'
	`).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		s.hasFinalPDF = false
		obs.Warn("manuscripts.final_pdf_path missing, publication metadata disabled", nil)
	}
}

func (s *Store) Create(ctx context.Context, m *manuscript.Manuscript) error {
	_, err := s.db.ExecContext(ctx, `
		insert into manuscripts
			(id, title, status, pre_check_status, version, author_id, owner_id, assistant_editor_id, journal_id, created_at, updated_at)
		values ($1,$2,$3,nullif($4,''),$5,$6,nullif($7,''),nullif($8,''),$9,$10,$10)
	`, m.ID, m.Title, m.Status, string(m.PreCheckStatus), m.Version, m.AuthorID, m.OwnerID, m.AssistantEditorID, m.JournalID, m.CreatedAt.UTC())
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return &manuscript.ConflictError{ManuscriptID: m.ID, Detail: "manuscript already exists"}
	}
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*manuscript.Manuscript, error) {
	cols := `id, title, status, coalesce(pre_check_status,''), version, author_id,
		coalesce(owner_id,''), coalesce(assistant_editor_id,''), journal_id, created_at, updated_at`
	if s.hasFinalPDF {
		cols += `, coalesce(final_pdf_path,''), coalesce(doi,''), published_at`
	}

	var (
		m     manuscript.Manuscript
		stage string
		pub   sql.NullTime
	)
	dst := []any{&m.ID, &m.Title, &m.Status, &stage, &m.Version, &m.AuthorID,
		&m.OwnerID, &m.AssistantEditorID, &m.JournalID, &m.CreatedAt, &m.UpdatedAt}
	if s.hasFinalPDF {
		dst = append(dst, &m.FinalPDFPath, &m.DOI, &pub)
	}
	err := s.db.QueryRowContext(ctx, `select `+cols+` from manuscripts where id = $1`, id).Scan(dst...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, manuscript.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.PreCheckStatus = manuscript.PreCheckStatus(stage)
	if pub.Valid {
		t := pub.Time
		m.PublishedAt = &t
	}
	return &m, nil
}

// UpdateStatus is the CAS write. Zero rows affected with no error means the
// expectation did not hold; the caller re-reads and reconciles.
func (s *Store) UpdateStatus(ctx context.Context, id string, expect manuscript.Expectation, change manuscript.Change) (bool, error) {
	var (
		sets []string
		args []any
	)
	add := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets = append(sets, "status = "+add(string(change.Status)))
	sets = append(sets, "pre_check_status = nullif("+add(string(change.Stage))+", '')")
	if change.AssistantEditorID != nil {
		sets = append(sets, "assistant_editor_id = nullif("+add(*change.AssistantEditorID)+", '')")
	}
	if change.BindOwner != "" {
		sets = append(sets, "owner_id = coalesce(owner_id, "+add(change.BindOwner)+")")
	}
	if change.BumpVersion {
		sets = append(sets, "version = version + 1")
	}
	if change.PublishedAt != nil || change.DOI != "" {
		if s.hasFinalPDF {
			sets = append(sets, "published_at = "+add(change.PublishedAt))
			sets = append(sets, "doi = nullif("+add(change.DOI)+", '')")
		} else {
			obs.Warn("schema degraded, writing publication status only", map[string]any{
				"manuscript_id": id,
			})
		}
	}
	sets = append(sets, "updated_at = now()")

	where := []string{"id = " + add(id), "status in (" + placeholders(&args, expect.Statuses) + ")"}
	if len(expect.Stages) > 0 {
		where = append(where, "coalesce(pre_check_status,'') in ("+placeholders(&args, expect.Stages)+")")
	}

	q := "update manuscripts set " + strings.Join(sets, ", ") + " where " + strings.Join(where, " and ")
	res, err := s.db.ExecContext(ctx, q, args...)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUndefinedColumn && s.hasFinalPDF {
		// Schema predates the publication columns: degrade and retry as a
		// status-only write.
		s.hasFinalPDF = false
		obs.Warn("manuscripts publication columns missing, degrading", map[string]any{
			"manuscript_id": id,
		})
		return s.UpdateStatus(ctx, id, expect, change)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Upsert(ctx context.Context, inv *manuscript.Invoice) error {
	_, err := s.db.ExecContext(ctx, `
		insert into invoices (manuscript_id, amount, status, confirmed_at)
		values ($1,$2,$3,$4)
		on conflict (manuscript_id) do update
		set amount = excluded.amount, status = excluded.status, confirmed_at = excluded.confirmed_at
	`, inv.ManuscriptID, inv.Amount, inv.Status, inv.ConfirmedAt)
	return err
}

func (s *Store) GetInvoice(ctx context.Context, manuscriptID string) (*manuscript.Invoice, error) {
	var (
		inv  manuscript.Invoice
		conf sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select manuscript_id, amount, status, confirmed_at from invoices where manuscript_id = $1
	`, manuscriptID).Scan(&inv.ManuscriptID, &inv.Amount, &inv.Status, &conf)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, manuscript.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if conf.Valid {
		t := conf.Time
		inv.ConfirmedAt = &t
	}
	return &inv, nil
}

func (s *Store) SetStatus(ctx context.Context, manuscriptID string, status manuscript.InvoiceStatus, confirmedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update invoices set status = $2, confirmed_at = $3 where manuscript_id = $1
	`, manuscriptID, status, confirmedAt.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// placeholders appends vals to args and renders their parameter list.
func placeholders[T ~string](args *[]any, vals []T) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		*args = append(*args, string(v))
		parts = append(parts, fmt.Sprintf("$%d", len(*args)))
	}
	return strings.Join(parts, ", ")
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
