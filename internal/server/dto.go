package server

import (
	"encoding/json"

	"ugchub/internal/catalog"
	"ugchub/internal/domain"
	"ugchub/internal/engine"
)

// Request payloads

type CreateOpportunityRequest struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	BudgetCents int64  `json:"budget_cents,omitempty"`
	Deadline    string `json:"deadline,omitempty" format:"date"`
}

type ApplyRequest struct {
	Pitch string `json:"pitch,omitempty"`
}

type DecisionRequest struct {
	Decision string `json:"decision" enum:"approved,rejected"`
}

type ApplyTemplateRequest struct {
	TemplateID string `json:"template_id"`
	StartDate  string `json:"start_date,omitempty" format:"date"`
}

type UpdateDeliverableRequest struct {
	Status   *string   `json:"status,omitempty" enum:"pending,in_progress,submitted,approved,rejected"`
	Feedback *string   `json:"feedback,omitempty"`
	Priority *int      `json:"priority,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
}

type StartConversationRequest struct {
	CounterpartID string `json:"counterpart_id"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type ThreadDetailsRequest struct {
	CustomTitle string `json:"custom_title,omitempty"`
	// Tags is a comma-separated list; at most 10 distinct tags are kept.
	Tags string `json:"tags,omitempty"`
}

type RecoverOnboardingRequest struct {
	Mode string `json:"mode" enum:"merge,discard"`
}

type DevTokenRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"creator,analyst"`
}

// Response payloads

type TemplateSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Deliverables int    `json:"deliverables"`
}

type MessageListResponse struct {
	Items []domain.Message `json:"items"`
}

type DeliverableListResponse struct {
	Items []engine.DeliverableView `json:"items"`
}

type ThreadListResponse struct {
	Items []domain.Thread `json:"items"`
}

type OnboardingResponse struct {
	Profile *domain.Profile `json:"profile,omitempty"`
	// FallbackSaved is true when the submission failed and the data was kept
	// for a later recover call.
	FallbackSaved bool   `json:"fallback_saved"`
	Error         string `json:"error,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string          `json:"actor_id"`
	Role    string          `json:"role"`
	Source  string          `json:"source"`
	Profile *domain.Profile `json:"profile,omitempty"`
}

type DevTokenResponse struct {
	Token string `json:"token"`
}

type StreamEvent struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Mappers

func templateSummaries(items []catalog.Template) []TemplateSummary {
	out := make([]TemplateSummary, 0, len(items))
	for _, t := range items {
		out = append(out, TemplateSummary{
			ID:           t.ID,
			Name:         t.Name,
			Description:  t.Description,
			Deliverables: len(t.Specs),
		})
	}
	return out
}

func streamEvent(e domain.Event) StreamEvent {
	return StreamEvent{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func whoAmI(p Principal, profile *domain.Profile) WhoAmIResponse {
	return WhoAmIResponse{ActorID: p.Actor.ID, Role: p.Actor.Role, Source: p.Source, Profile: profile}
}

func updateOptions(id string, in UpdateDeliverableRequest) engine.UpdateDeliverableOptions {
	return engine.UpdateDeliverableOptions{
		ID:       id,
		Status:   in.Status,
		Feedback: in.Feedback,
		Priority: in.Priority,
		Tags:     in.Tags,
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
