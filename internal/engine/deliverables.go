package engine

import (
	"context"
	"fmt"
	"strings"

	"ugchub/internal/domain"
	"ugchub/internal/engine/auth"
	"ugchub/internal/events"
	"ugchub/internal/planner"
	"ugchub/internal/repo"
	"ugchub/internal/tagset"
)

// DeliverableView is a stored deliverable plus its derived display fields.
type DeliverableView struct {
	domain.Deliverable
	DisplayStatus planner.DisplayStatus `json:"display_status"`
	PriorityLabel string                `json:"priority_label"`
}

func (e Engine) view(d domain.Deliverable) DeliverableView {
	v := DeliverableView{Deliverable: d, PriorityLabel: planner.PriorityLabel(d.Priority)}
	ds, err := planner.ClassifyDeliverable(d, e.now())
	if err != nil {
		e.logger().Sugar().Warnw("unparsable due date", "deliverable_id", d.ID, "due_date", d.DueDate)
		ds = planner.DisplayStatus(d.Status)
	}
	v.DisplayStatus = ds
	return v
}

// project loads an application with its opportunity and checks the actor is
// a party.
func (e Engine) project(ctx context.Context, actor auth.Actor, applicationID, action string) (domain.Application, domain.Opportunity, error) {
	a, err := e.Repo.GetApplication(ctx, nil, applicationID)
	if err != nil {
		return a, domain.Opportunity{}, wrapNotFound("application", applicationID, err)
	}
	opp, err := e.Repo.GetOpportunity(ctx, nil, a.OpportunityID)
	if err != nil {
		return a, opp, wrapNotFound("opportunity", a.OpportunityID, err)
	}
	if err := auth.RequireParty(actor, action, a.CreatorID, opp.AnalystID); err != nil {
		return a, opp, err
	}
	return a, opp, nil
}

type ApplyTemplateOptions struct {
	ApplicationID string
	TemplateID    string
	// StartDate is YYYY-MM-DD; empty means today.
	StartDate string
}

// ApplyTemplate expands a template for an approved application and stores
// every resulting deliverable in one transaction. Either all of them are
// persisted or none.
func (e Engine) ApplyTemplate(ctx context.Context, actor auth.Actor, opts ApplyTemplateOptions) ([]DeliverableView, error) {
	tpl, err := e.Catalog.Get(opts.TemplateID)
	if err != nil {
		return nil, err
	}
	start := planner.Civil(e.now())
	if opts.StartDate != "" {
		start, err = planner.ParseDate(opts.StartDate)
		if err != nil {
			return nil, ValidationError{Field: "start_date", Message: "must be YYYY-MM-DD"}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	app, err := e.Repo.GetApplication(ctx, tx, opts.ApplicationID)
	if err != nil {
		return nil, wrapNotFound("application", opts.ApplicationID, err)
	}
	opp, err := e.Repo.GetOpportunity(ctx, tx, app.OpportunityID)
	if err != nil {
		return nil, wrapNotFound("opportunity", app.OpportunityID, err)
	}
	if err := auth.RequireOwner(actor, "apply templates", opp.AnalystID); err != nil {
		return nil, err
	}
	if app.Status != domain.ApplicationApproved {
		return nil, ValidationError{Field: "application_id", Message: fmt.Sprintf("application is %s, not approved", app.Status)}
	}

	drafts, err := planner.Expand(tpl, start, planner.Refs{
		ApplicationID: app.ID,
		OpportunityID: opp.ID,
		CreatorID:     app.CreatorID,
		AnalystID:     opp.AnalystID,
	}, e.newID)
	if err != nil {
		return nil, err
	}
	now := e.stamp()
	ids := make([]string, 0, len(drafts))
	for i := range drafts {
		d := &drafts[i]
		d.TemplateID = tpl.ID
		d.CreatedAt = now
		d.UpdatedAt = now
		if err := e.Repo.InsertDeliverable(ctx, tx, *d); err != nil {
			return nil, fmt.Errorf("insert deliverable %d (%s): %w", i, d.Title, err)
		}
		ids = append(ids, d.ID)
	}
	evt, err := e.appendEvent(ctx, tx, events.Entry{
		Type: events.TemplateApplied, EntityKind: "application", EntityID: app.ID,
		ActorID: actor.ID, CreatorID: app.CreatorID, AnalystID: opp.AnalystID,
		Payload: events.EventPayload{
			"template_id":     tpl.ID,
			"start_date":      start.Format(planner.DateLayout),
			"deliverable_ids": ids,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.Metrics.TemplateApplied(tpl.ID, len(drafts))
	e.logger().Sugar().Infow("template applied", "application_id", app.ID, "template_id", tpl.ID, "deliverables", len(drafts))
	e.publish(ctx, evt)

	out := make([]DeliverableView, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, e.view(d))
	}
	return out, nil
}

type UpdateDeliverableOptions struct {
	ID       string
	Status   *string
	Feedback *string
	Priority *int
	Tags     *[]string
}

// UpdateDeliverable patches a deliverable. Concurrent edits are last write
// wins.
func (e Engine) UpdateDeliverable(ctx context.Context, actor auth.Actor, opts UpdateDeliverableOptions) (DeliverableView, error) {
	patch := repo.DeliverablePatch{Feedback: opts.Feedback, Priority: opts.Priority}
	payload := events.EventPayload{}
	if opts.Status != nil {
		s := strings.TrimSpace(*opts.Status)
		if !validStatus(s) {
			return DeliverableView{}, ValidationError{Field: "status", Message: fmt.Sprintf("invalid status %q", s)}
		}
		patch.Status = &s
		payload["status"] = s
	}
	if opts.Priority != nil {
		if *opts.Priority < 1 || *opts.Priority > 5 {
			return DeliverableView{}, ValidationError{Field: "priority", Message: "must be between 1 and 5"}
		}
		payload["priority"] = *opts.Priority
	}
	if opts.Feedback != nil {
		payload["feedback"] = *opts.Feedback
	}
	if opts.Tags != nil {
		tags := tagset.Normalize(*opts.Tags)
		patch.Tags = &tags
		payload["tags"] = tags
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return DeliverableView{}, err
	}
	defer tx.Rollback()
	d, err := e.Repo.GetDeliverable(ctx, tx, opts.ID)
	if err != nil {
		return DeliverableView{}, wrapNotFound("deliverable", opts.ID, err)
	}
	if err := auth.RequireParty(actor, "update deliverables", d.CreatorID, d.AnalystID); err != nil {
		return DeliverableView{}, err
	}
	if actor.Role == domain.RoleCreator {
		if err := creatorPatchAllowed(actor, patch); err != nil {
			return DeliverableView{}, err
		}
	}
	if len(payload) == 0 {
		return e.view(d), nil
	}
	if err := e.Repo.UpdateDeliverable(ctx, tx, d.ID, patch, e.stamp()); err != nil {
		return DeliverableView{}, err
	}
	d, err = e.Repo.GetDeliverable(ctx, tx, d.ID)
	if err != nil {
		return DeliverableView{}, err
	}
	evt, err := e.appendEvent(ctx, tx, events.Entry{
		Type: events.DeliverableUpdated, EntityKind: "deliverable", EntityID: d.ID,
		ActorID: actor.ID, CreatorID: d.CreatorID, AnalystID: d.AnalystID,
		Payload: payload,
	})
	if err != nil {
		return DeliverableView{}, err
	}
	if err := tx.Commit(); err != nil {
		return DeliverableView{}, err
	}
	e.publish(ctx, evt)
	return e.view(d), nil
}

// creatorPatchAllowed limits creators to moving work forward and tagging.
// Review outcomes, feedback and priority belong to the analyst.
func creatorPatchAllowed(actor auth.Actor, patch repo.DeliverablePatch) error {
	if patch.Status != nil {
		switch *patch.Status {
		case domain.StatusInProgress, domain.StatusSubmitted:
		default:
			return auth.ForbiddenError{ActorID: actor.ID, Action: "set deliverable status " + *patch.Status}
		}
	}
	if patch.Feedback != nil {
		return auth.ForbiddenError{ActorID: actor.ID, Action: "write deliverable feedback"}
	}
	if patch.Priority != nil {
		return auth.ForbiddenError{ActorID: actor.ID, Action: "change deliverable priority"}
	}
	return nil
}

func validStatus(s string) bool {
	switch s {
	case domain.StatusPending, domain.StatusInProgress, domain.StatusSubmitted, domain.StatusApproved, domain.StatusRejected:
		return true
	}
	return false
}

type DeliverableQuery struct {
	ApplicationID string
	Statuses      []string
}

// ListDeliverables returns the deliverables of one application, or every
// deliverable the actor is a party to when ApplicationID is empty.
func (e Engine) ListDeliverables(ctx context.Context, actor auth.Actor, q DeliverableQuery) ([]DeliverableView, error) {
	f := repo.DeliverableFilters{ApplicationID: q.ApplicationID, Statuses: q.Statuses}
	if q.ApplicationID != "" {
		if _, _, err := e.project(ctx, actor, q.ApplicationID, "list deliverables"); err != nil {
			return nil, err
		}
	} else if !actor.IsSystem() {
		switch actor.Role {
		case domain.RoleCreator:
			f.CreatorID = actor.ID
		case domain.RoleAnalyst:
			f.AnalystID = actor.ID
		default:
			return nil, auth.ForbiddenError{ActorID: actor.ID, Action: "list deliverables"}
		}
	}
	ds, err := e.Repo.ListDeliverables(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]DeliverableView, 0, len(ds))
	for _, d := range ds {
		out = append(out, e.view(d))
	}
	return out, nil
}

// ProjectStatusView summarizes one approved application.
type ProjectStatusView struct {
	ApplicationID    string `json:"application_id"`
	OpportunityID    string `json:"opportunity_id"`
	OpportunityTitle string `json:"opportunity_title"`
	planner.ProjectSummary
}

func (e Engine) ProjectStatus(ctx context.Context, actor auth.Actor, applicationID string) (ProjectStatusView, error) {
	app, opp, err := e.project(ctx, actor, applicationID, "read project status")
	if err != nil {
		return ProjectStatusView{}, err
	}
	ds, err := e.Repo.ListDeliverables(ctx, repo.DeliverableFilters{ApplicationID: app.ID})
	if err != nil {
		return ProjectStatusView{}, err
	}
	return ProjectStatusView{
		ApplicationID:    app.ID,
		OpportunityID:    opp.ID,
		OpportunityTitle: opp.Title,
		ProjectSummary:   planner.SummarizeProject(ds, opp.Deadline, e.now()),
	}, nil
}

// SweepOverdue emits one deliverable.overdue event for each open deliverable
// past its due day that has not been reported yet. Stored statuses are left
// untouched.
func (e Engine) SweepOverdue(ctx context.Context) (int, error) {
	today := planner.Civil(e.now()).Format(planner.DateLayout)
	ds, err := e.Repo.ListDeliverables(ctx, repo.DeliverableFilters{
		Statuses:  []string{domain.StatusPending, domain.StatusInProgress},
		DueBefore: today,
	})
	if err != nil {
		return 0, err
	}
	var pending []domain.Deliverable
	for _, d := range ds {
		seen, err := e.Repo.HasEvent(ctx, events.DeliverableOverdue, "deliverable", d.ID)
		if err != nil {
			return 0, err
		}
		if !seen {
			pending = append(pending, d)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	evts := make([]domain.Event, 0, len(pending))
	for _, d := range pending {
		evt, err := e.appendEvent(ctx, tx, events.Entry{
			Type: events.DeliverableOverdue, EntityKind: "deliverable", EntityID: d.ID,
			ActorID: auth.System.ID, CreatorID: d.CreatorID, AnalystID: d.AnalystID,
			Payload: events.EventPayload{
				"due_date":       d.DueDate,
				"status":         d.Status,
				"display_status": string(e.view(d).DisplayStatus),
				"application_id": d.ApplicationID,
			},
		})
		if err != nil {
			return 0, err
		}
		evts = append(evts, evt)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	e.Metrics.Overdue(len(evts))
	e.publish(ctx, evts...)
	return len(evts), nil
}
