package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ugchub/internal/domain"
	"ugchub/internal/engine/auth"
	"ugchub/internal/events"
	"ugchub/internal/planner"
	"ugchub/internal/repo"
	"ugchub/internal/retry"
)

type CreateOpportunityOptions struct {
	ID          string
	Title       string
	Description string
	BudgetCents int64
	Deadline    string
}

func (e Engine) CreateOpportunity(ctx context.Context, actor auth.Actor, opts CreateOpportunityOptions) (domain.Opportunity, error) {
	if err := auth.RequireRole(actor, domain.RoleAnalyst, "create opportunities"); err != nil {
		return domain.Opportunity{}, err
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Opportunity{}, ValidationError{Field: "title", Message: "required"}
	}
	if opts.BudgetCents < 0 {
		return domain.Opportunity{}, ValidationError{Field: "budget_cents", Message: "must not be negative"}
	}
	if opts.Deadline != "" {
		if _, err := planner.ParseDate(opts.Deadline); err != nil {
			return domain.Opportunity{}, ValidationError{Field: "deadline", Message: "must be YYYY-MM-DD"}
		}
	}
	o := domain.Opportunity{
		ID:          opts.ID,
		AnalystID:   actor.ID,
		Title:       strings.TrimSpace(opts.Title),
		Description: opts.Description,
		BudgetCents: opts.BudgetCents,
		Deadline:    opts.Deadline,
		Status:      "open",
		CreatedAt:   e.stamp(),
	}
	if o.ID == "" {
		o.ID = e.newID()
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Opportunity{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertOpportunity(ctx, tx, o); err != nil {
		return domain.Opportunity{}, fmt.Errorf("insert opportunity: %w", err)
	}
	evt, err := e.appendEvent(ctx, tx, events.Entry{
		Type: events.OpportunityCreated, EntityKind: "opportunity", EntityID: o.ID,
		ActorID: actor.ID, AnalystID: o.AnalystID,
		Payload: events.EventPayload{"title": o.Title, "deadline": o.Deadline},
	})
	if err != nil {
		return domain.Opportunity{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Opportunity{}, err
	}
	e.publish(ctx, evt)
	return o, nil
}

func (e Engine) ListOpportunities(ctx context.Context, f repo.OpportunityFilters) ([]domain.Opportunity, error) {
	return e.Repo.ListOpportunities(ctx, f)
}

type ApplyOptions struct {
	OpportunityID string
	Pitch         string
}

// Apply records a creator's application to an open opportunity.
func (e Engine) Apply(ctx context.Context, actor auth.Actor, opts ApplyOptions) (domain.Application, error) {
	if err := auth.RequireRole(actor, domain.RoleCreator, "apply to opportunities"); err != nil {
		return domain.Application{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()
	opp, err := e.Repo.GetOpportunity(ctx, tx, opts.OpportunityID)
	if err != nil {
		return domain.Application{}, wrapNotFound("opportunity", opts.OpportunityID, err)
	}
	if opp.Status != "open" {
		return domain.Application{}, ValidationError{Field: "opportunity_id", Message: "opportunity is closed"}
	}
	now := e.stamp()
	a := domain.Application{
		ID:            e.newID(),
		OpportunityID: opp.ID,
		CreatorID:     actor.ID,
		Status:        domain.ApplicationPending,
		Pitch:         opts.Pitch,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Repo.InsertApplication(ctx, tx, a); err != nil {
		if _, kind := retry.Classify(err); kind == "duplicate_key" {
			return domain.Application{}, fmt.Errorf("creator %s already applied to %s: %w", actor.ID, opp.ID, ErrConflict)
		}
		return domain.Application{}, fmt.Errorf("insert application: %w", err)
	}
	evt, err := e.appendEvent(ctx, tx, events.Entry{
		Type: events.ApplicationSubmitted, EntityKind: "application", EntityID: a.ID,
		ActorID: actor.ID, CreatorID: a.CreatorID, AnalystID: opp.AnalystID,
		Payload: events.EventPayload{"opportunity_id": opp.ID},
	})
	if err != nil {
		return domain.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	e.publish(ctx, evt)
	return a, nil
}

type DecideOptions struct {
	ApplicationID string
	Decision      string
}

// DecideApplication approves or rejects a pending application. Approval
// opens a conversation between the two parties for the opportunity.
func (e Engine) DecideApplication(ctx context.Context, actor auth.Actor, opts DecideOptions) (domain.Application, error) {
	if opts.Decision != domain.ApplicationApproved && opts.Decision != domain.ApplicationRejected {
		return domain.Application{}, ValidationError{Field: "decision", Message: "must be approved or rejected"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()
	a, err := e.Repo.GetApplication(ctx, tx, opts.ApplicationID)
	if err != nil {
		return domain.Application{}, wrapNotFound("application", opts.ApplicationID, err)
	}
	opp, err := e.Repo.GetOpportunity(ctx, tx, a.OpportunityID)
	if err != nil {
		return domain.Application{}, wrapNotFound("opportunity", a.OpportunityID, err)
	}
	if err := auth.RequireOwner(actor, "decide applications", opp.AnalystID); err != nil {
		return domain.Application{}, err
	}
	if a.Status != domain.ApplicationPending {
		return domain.Application{}, fmt.Errorf("application %s already %s: %w", a.ID, a.Status, ErrConflict)
	}
	now := e.stamp()
	if err := e.Repo.UpdateApplicationStatus(ctx, tx, a.ID, opts.Decision, now); err != nil {
		return domain.Application{}, err
	}
	a.Status = opts.Decision
	a.UpdatedAt = now

	payload := events.EventPayload{"decision": opts.Decision, "opportunity_id": opp.ID}
	if opts.Decision == domain.ApplicationApproved {
		conv, err := e.Repo.FindConversation(ctx, tx, opp.AnalystID, a.CreatorID, opp.ID)
		switch {
		case err == nil:
			payload["conversation_id"] = conv.ID
		case errors.Is(err, repo.ErrNotFound):
			conv = domain.Conversation{
				ID: e.newID(), AnalystID: opp.AnalystID, CreatorID: a.CreatorID,
				OpportunityID: opp.ID, CreatedAt: now,
			}
			if err := e.Repo.InsertConversation(ctx, tx, conv); err != nil {
				return domain.Application{}, fmt.Errorf("open conversation: %w", err)
			}
			payload["conversation_id"] = conv.ID
		default:
			return domain.Application{}, err
		}
	}
	evt, err := e.appendEvent(ctx, tx, events.Entry{
		Type: events.ApplicationDecided, EntityKind: "application", EntityID: a.ID,
		ActorID: actor.ID, CreatorID: a.CreatorID, AnalystID: opp.AnalystID,
		Payload: payload,
	})
	if err != nil {
		return domain.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	e.publish(ctx, evt)
	return a, nil
}

// ListApplications returns every application of an opportunity to its
// analyst, and only their own to a creator.
func (e Engine) ListApplications(ctx context.Context, actor auth.Actor, opportunityID string) ([]domain.Application, error) {
	opp, err := e.Repo.GetOpportunity(ctx, nil, opportunityID)
	if err != nil {
		return nil, wrapNotFound("opportunity", opportunityID, err)
	}
	apps, err := e.Repo.ListApplications(ctx, opportunityID)
	if err != nil {
		return nil, err
	}
	if actor.IsSystem() || actor.ID == opp.AnalystID {
		return apps, nil
	}
	var own []domain.Application
	for _, a := range apps {
		if a.CreatorID == actor.ID {
			own = append(own, a)
		}
	}
	return own, nil
}
