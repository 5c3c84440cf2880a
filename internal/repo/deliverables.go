package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ugchub/internal/domain"
)

const deliverableColumns = `id,application_id,opportunity_id,creator_id,analyst_id,template_id,title,description,due_date,priority,estimated_hours,status,feedback,depends_on,tags_json,created_at,updated_at`

func (r Repo) InsertDeliverable(ctx context.Context, tx *sql.Tx, d domain.Deliverable) error {
	tags, err := marshalStrings(d.Tags)
	if err != nil {
		return err
	}
	_, err = r.on(tx).ExecContext(ctx, r.q(`INSERT INTO deliverables(`+deliverableColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		d.ID, d.ApplicationID, d.OpportunityID, d.CreatorID, d.AnalystID, nullable(d.TemplateID), d.Title, nullable(d.Description),
		d.DueDate, d.Priority, nullableFloatPtr(d.EstimatedHours), d.Status, nullable(d.Feedback), nullableStringPtr(d.DependsOn),
		tags, d.CreatedAt, d.UpdatedAt)
	return err
}

func scanDeliverable(row interface{ Scan(...any) error }) (domain.Deliverable, error) {
	var d domain.Deliverable
	var templateID, description, feedback, dependsOn, tags sql.NullString
	var hours sql.NullFloat64
	err := row.Scan(&d.ID, &d.ApplicationID, &d.OpportunityID, &d.CreatorID, &d.AnalystID, &templateID, &d.Title, &description,
		&d.DueDate, &d.Priority, &hours, &d.Status, &feedback, &dependsOn, &tags, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return d, err
	}
	d.TemplateID = templateID.String
	d.Description = description.String
	d.Feedback = feedback.String
	if hours.Valid {
		h := hours.Float64
		d.EstimatedHours = &h
	}
	if dependsOn.Valid {
		dep := dependsOn.String
		d.DependsOn = &dep
	}
	d.Tags, err = unmarshalStrings(tags)
	return d, err
}

func (r Repo) GetDeliverable(ctx context.Context, tx *sql.Tx, id string) (domain.Deliverable, error) {
	d, err := scanDeliverable(r.on(tx).QueryRowContext(ctx, r.q(`SELECT `+deliverableColumns+` FROM deliverables WHERE id=?`), id))
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

type DeliverableFilters struct {
	ApplicationID string
	CreatorID     string
	AnalystID     string
	Statuses      []string
	DueBefore     string
}

// ListDeliverables returns deliverables in due-date order, then creation order.
func (r Repo) ListDeliverables(ctx context.Context, f DeliverableFilters) ([]domain.Deliverable, error) {
	var clauses []string
	var args []any
	if f.ApplicationID != "" {
		clauses = append(clauses, "application_id=?")
		args = append(args, f.ApplicationID)
	}
	if f.CreatorID != "" {
		clauses = append(clauses, "creator_id=?")
		args = append(args, f.CreatorID)
	}
	if f.AnalystID != "" {
		clauses = append(clauses, "analyst_id=?")
		args = append(args, f.AnalystID)
	}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	if f.DueBefore != "" {
		clauses = append(clauses, "due_date < ?")
		args = append(args, f.DueBefore)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+deliverableColumns+` FROM deliverables`+where+` ORDER BY due_date ASC, created_at ASC, id ASC`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Deliverable
	for rows.Next() {
		d, err := scanDeliverable(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// DeliverablePatch overwrites the fields that are set.
type DeliverablePatch struct {
	Status   *string
	Feedback *string
	Priority *int
	Tags     *[]string
}

func (r Repo) UpdateDeliverable(ctx context.Context, tx *sql.Tx, id string, p DeliverablePatch, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if p.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *p.Status)
	}
	if p.Feedback != nil {
		fields = append(fields, "feedback=?")
		args = append(args, nullable(*p.Feedback))
	}
	if p.Priority != nil {
		fields = append(fields, "priority=?")
		args = append(args, *p.Priority)
	}
	if p.Tags != nil {
		tags, err := marshalStrings(*p.Tags)
		if err != nil {
			return err
		}
		fields = append(fields, "tags_json=?")
		args = append(args, tags)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := r.on(tx).ExecContext(ctx, r.q(fmt.Sprintf(`UPDATE deliverables SET %s WHERE id=?`, strings.Join(fields, ","))), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
