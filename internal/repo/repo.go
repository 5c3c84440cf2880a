package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ugchub/internal/db"
	"ugchub/internal/domain"
)

type Repo struct {
	DB      *sql.DB
	Dialect string
}

var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// on returns tx when set, otherwise the pool.
func (r Repo) on(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) q(query string) string {
	return db.Rebind(r.Dialect, query)
}

func (r Repo) UpsertProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	niches, err := marshalStrings(p.Niches)
	if err != nil {
		return err
	}
	_, err = r.on(tx).ExecContext(ctx, r.q(`INSERT INTO profiles(id,role,display_name,bio,niches_json,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET role=excluded.role, display_name=excluded.display_name, bio=excluded.bio, niches_json=excluded.niches_json, updated_at=excluded.updated_at`),
		p.ID, p.Role, p.DisplayName, nullable(p.Bio), niches, p.UpdatedAt)
	return err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	var p domain.Profile
	var bio, niches sql.NullString
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id,role,display_name,bio,niches_json,updated_at FROM profiles WHERE id=?`), id).
		Scan(&p.ID, &p.Role, &p.DisplayName, &bio, &niches, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Bio = bio.String
	p.Niches, err = unmarshalStrings(niches)
	return p, err
}

func (r Repo) InsertOpportunity(ctx context.Context, tx *sql.Tx, o domain.Opportunity) error {
	_, err := r.on(tx).ExecContext(ctx, r.q(`INSERT INTO opportunities(id,analyst_id,title,description,budget_cents,deadline,status,created_at) VALUES (?,?,?,?,?,?,?,?)`),
		o.ID, o.AnalystID, o.Title, nullable(o.Description), o.BudgetCents, nullable(o.Deadline), o.Status, o.CreatedAt)
	return err
}

const opportunityColumns = `id,analyst_id,title,COALESCE(description,''),budget_cents,COALESCE(deadline,''),status,created_at`

func scanOpportunity(row interface{ Scan(...any) error }) (domain.Opportunity, error) {
	var o domain.Opportunity
	err := row.Scan(&o.ID, &o.AnalystID, &o.Title, &o.Description, &o.BudgetCents, &o.Deadline, &o.Status, &o.CreatedAt)
	return o, err
}

func (r Repo) GetOpportunity(ctx context.Context, tx *sql.Tx, id string) (domain.Opportunity, error) {
	o, err := scanOpportunity(r.on(tx).QueryRowContext(ctx, r.q(`SELECT `+opportunityColumns+` FROM opportunities WHERE id=?`), id))
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

type OpportunityFilters struct {
	AnalystID string
	Status    string
	Limit     int
}

func (r Repo) ListOpportunities(ctx context.Context, f OpportunityFilters) ([]domain.Opportunity, error) {
	var clauses []string
	var args []any
	if f.AnalystID != "" {
		clauses = append(clauses, "analyst_id=?")
		args = append(args, f.AnalystID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + opportunityColumns + ` FROM opportunities` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) InsertApplication(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	_, err := r.on(tx).ExecContext(ctx, r.q(`INSERT INTO applications(id,opportunity_id,creator_id,status,pitch,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`),
		a.ID, a.OpportunityID, a.CreatorID, a.Status, nullable(a.Pitch), a.CreatedAt, a.UpdatedAt)
	return err
}

const applicationColumns = `id,opportunity_id,creator_id,status,COALESCE(pitch,''),created_at,updated_at`

func scanApplication(row interface{ Scan(...any) error }) (domain.Application, error) {
	var a domain.Application
	err := row.Scan(&a.ID, &a.OpportunityID, &a.CreatorID, &a.Status, &a.Pitch, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r Repo) GetApplication(ctx context.Context, tx *sql.Tx, id string) (domain.Application, error) {
	a, err := scanApplication(r.on(tx).QueryRowContext(ctx, r.q(`SELECT `+applicationColumns+` FROM applications WHERE id=?`), id))
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) ListApplications(ctx context.Context, opportunityID string) ([]domain.Application, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+applicationColumns+` FROM applications WHERE opportunity_id=? ORDER BY created_at ASC, id ASC`), opportunityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateApplicationStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := r.on(tx).ExecContext(ctx, r.q(`UPDATE applications SET status=?, updated_at=? WHERE id=?`), status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApprovedApplications returns approved applications where actorID is the
// creator or the owning analyst. An empty actorID returns all of them.
func (r Repo) ApprovedApplications(ctx context.Context, actorID string) ([]domain.ApprovedApplication, error) {
	query := `SELECT a.id,a.opportunity_id,o.title,a.creator_id,o.analyst_id,COALESCE(o.deadline,'')
FROM applications a JOIN opportunities o ON o.id=a.opportunity_id
WHERE a.status='approved'`
	var args []any
	if actorID != "" {
		query += ` AND (a.creator_id=? OR o.analyst_id=?)`
		args = append(args, actorID, actorID)
	}
	query += ` ORDER BY a.created_at ASC, a.id ASC`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ApprovedApplication
	for rows.Next() {
		var a domain.ApprovedApplication
		if err := rows.Scan(&a.ID, &a.OpportunityID, &a.OpportunityTitle, &a.CreatorID, &a.AnalystID, &a.Deadline); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func marshalStrings(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal strings: %w", err)
	}
	return string(b), nil
}

func unmarshalStrings(v sql.NullString) ([]string, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, fmt.Errorf("unmarshal strings: %w", err)
	}
	return out, nil
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
