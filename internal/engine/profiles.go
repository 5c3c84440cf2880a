package engine

import (
	"context"
	"fmt"
	"strings"

	"ugchub/internal/domain"
	"ugchub/internal/engine/auth"
	"ugchub/internal/events"
	"ugchub/internal/repo"
	"ugchub/internal/tagset"
)

// ProfileInput is the onboarding form.
type ProfileInput struct {
	DisplayName string   `json:"display_name"`
	Bio         string   `json:"bio,omitempty"`
	Niches      []string `json:"niches,omitempty"`
}

// SubmitOnboarding creates or replaces the actor's profile.
func (e Engine) SubmitOnboarding(ctx context.Context, actor auth.Actor, in ProfileInput) (domain.Profile, error) {
	if actor.Role != domain.RoleCreator && actor.Role != domain.RoleAnalyst {
		return domain.Profile{}, auth.ForbiddenError{ActorID: actor.ID, Action: "submit onboarding"}
	}
	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		return domain.Profile{}, ValidationError{Field: "display_name", Message: "required"}
	}
	p := domain.Profile{
		ID:          actor.ID,
		Role:        actor.Role,
		DisplayName: name,
		Bio:         strings.TrimSpace(in.Bio),
		Niches:      tagset.Normalize(in.Niches),
		UpdatedAt:   e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertProfile(ctx, tx, p); err != nil {
		return domain.Profile{}, fmt.Errorf("save profile: %w", err)
	}
	entry := events.Entry{
		Type: events.OnboardingSubmitted, EntityKind: "profile", EntityID: p.ID, ActorID: actor.ID,
		Payload: events.EventPayload{"role": p.Role},
	}
	if p.Role == domain.RoleCreator {
		entry.CreatorID = p.ID
	} else {
		entry.AnalystID = p.ID
	}
	evt, err := e.appendEvent(ctx, tx, entry)
	if err != nil {
		return domain.Profile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Profile{}, err
	}
	e.publish(ctx, evt)
	return p, nil
}

func (e Engine) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	p, err := e.Repo.GetProfile(ctx, id)
	if err != nil {
		return p, wrapNotFound("profile", id, err)
	}
	return p, nil
}

// ResolveAPIKey maps a raw API key to its actor.
func (e Engine) ResolveAPIKey(ctx context.Context, raw string) (auth.Actor, error) {
	key, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw))
	if err != nil {
		return auth.Actor{}, err
	}
	return auth.Actor{ID: key.ActorID, Role: key.Role}, nil
}

// CreateAPIKey stores the hash of a fresh key and returns the raw key once.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, role, name string) (domain.APIKey, string, error) {
	raw := "ugc_" + strings.ReplaceAll(e.newID(), "-", "")
	key := domain.APIKey{
		ID:        e.newID(),
		ActorID:   actorID,
		Role:      role,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}
