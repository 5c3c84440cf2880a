package ugchubsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ugchub/internal/retry"
)

// Client is a minimal UGC Hub HTTP API client. GET requests are retried on
// transient failures; writes are sent once.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
	Retry       retry.Policy
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
		Retry:   retry.Default,
	}
}

type Opportunity struct {
	ID          string `json:"id"`
	AnalystID   string `json:"analyst_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	BudgetCents int64  `json:"budget_cents"`
	Deadline    string `json:"deadline,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type Application struct {
	ID            string `json:"id"`
	OpportunityID string `json:"opportunity_id"`
	CreatorID     string `json:"creator_id"`
	Status        string `json:"status"`
	Pitch         string `json:"pitch,omitempty"`
}

// Deliverable carries the stored status and the derived display status.
type Deliverable struct {
	ID            string   `json:"id"`
	ApplicationID string   `json:"application_id"`
	Title         string   `json:"title"`
	DueDate       string   `json:"due_date"`
	Priority      int      `json:"priority"`
	Status        string   `json:"status"`
	Feedback      string   `json:"feedback,omitempty"`
	DependsOn     *string  `json:"depends_on,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	DisplayStatus string   `json:"display_status"`
	PriorityLabel string   `json:"priority_label"`
}

type DeliverablePatch struct {
	Status   *string   `json:"status,omitempty"`
	Feedback *string   `json:"feedback,omitempty"`
	Priority *int      `json:"priority,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
}

type ProjectStatus struct {
	ApplicationID    string  `json:"application_id"`
	OpportunityTitle string  `json:"opportunity_title"`
	Status           string  `json:"status"`
	Total            int     `json:"total"`
	Approved         int     `json:"approved"`
	Overdue          int     `json:"overdue"`
	CompletionRatio  float64 `json:"completion_ratio"`
	Deadline         string  `json:"deadline,omitempty"`
}

type Template struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Deliverables int    `json:"deliverables"`
}

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
}

type Conversation struct {
	ID          string   `json:"id"`
	AnalystID   string   `json:"analyst_id,omitempty"`
	CreatorID   string   `json:"creator_id,omitempty"`
	CustomTitle string   `json:"custom_title,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Thread is one analyst/creator pair with its merged conversations.
type Thread struct {
	AnalystID        string   `json:"analyst_id"`
	CreatorID        string   `json:"creator_id"`
	RepresentativeID string   `json:"representative_id"`
	ConversationIDs  []string `json:"conversation_ids"`
	LastMessageAt    *string  `json:"last_message_at,omitempty"`
	LastMessage      *Message `json:"last_message,omitempty"`
	CustomTitle      string   `json:"custom_title,omitempty"`
	Tags             []string `json:"tags,omitempty"`
}

type Profile struct {
	ID          string   `json:"id"`
	Role        string   `json:"role"`
	DisplayName string   `json:"display_name"`
	Bio         string   `json:"bio,omitempty"`
	Niches      []string `json:"niches,omitempty"`
}

type Onboarding struct {
	Profile       *Profile `json:"profile,omitempty"`
	FallbackSaved bool     `json:"fallback_saved"`
	Error         string   `json:"error,omitempty"`
}

type WhoAmI struct {
	ActorID string   `json:"actor_id"`
	Role    string   `json:"role"`
	Source  string   `json:"source"`
	Profile *Profile `json:"profile,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Unwrap exposes the status to retry.Classify.
func (e *APIError) Unwrap() error {
	return retry.StatusError{Code: e.StatusCode, Msg: e.Error()}
}

func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "v0/health", nil)
}

func (c *Client) Me(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.get(ctx, "v0/me", &resp)
	return resp, err
}

func (c *Client) Templates(ctx context.Context) ([]Template, error) {
	var resp []Template
	err := c.get(ctx, "v0/templates", &resp)
	return resp, err
}

// CreateOpportunity publishes an opportunity. deadline is YYYY-MM-DD or empty.
func (c *Client) CreateOpportunity(ctx context.Context, title, description string, budgetCents int64, deadline string) (Opportunity, error) {
	body := map[string]any{
		"title":        title,
		"description":  description,
		"budget_cents": budgetCents,
	}
	if deadline != "" {
		body["deadline"] = deadline
	}
	var resp Opportunity
	err := c.do(ctx, http.MethodPost, "v0/opportunities", body, &resp)
	return resp, err
}

func (c *Client) Opportunities(ctx context.Context, status string) ([]Opportunity, error) {
	endpoint := "v0/opportunities"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Opportunity
	err := c.get(ctx, endpoint, &resp)
	return resp, err
}

func (c *Client) Apply(ctx context.Context, opportunityID, pitch string) (Application, error) {
	var resp Application
	endpoint := fmt.Sprintf("v0/opportunities/%s/applications", url.PathEscape(opportunityID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"pitch": pitch}, &resp)
	return resp, err
}

// Decide approves or rejects an application.
func (c *Client) Decide(ctx context.Context, applicationID string, approve bool) (Application, error) {
	decision := "rejected"
	if approve {
		decision = "approved"
	}
	var resp Application
	endpoint := fmt.Sprintf("v0/applications/%s/decision", url.PathEscape(applicationID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"decision": decision}, &resp)
	return resp, err
}

// ApplyTemplate creates every deliverable of a template, or none.
func (c *Client) ApplyTemplate(ctx context.Context, applicationID, templateID, startDate string) ([]Deliverable, error) {
	body := map[string]any{"template_id": templateID}
	if startDate != "" {
		body["start_date"] = startDate
	}
	var resp struct {
		Items []Deliverable `json:"items"`
	}
	endpoint := fmt.Sprintf("v0/applications/%s/template", url.PathEscape(applicationID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Items, err
}

// Deliverables lists an application's deliverables, or all of the caller's
// when applicationID is empty.
func (c *Client) Deliverables(ctx context.Context, applicationID string, statuses ...string) ([]Deliverable, error) {
	endpoint := "v0/deliverables"
	if applicationID != "" {
		endpoint = fmt.Sprintf("v0/applications/%s/deliverables", url.PathEscape(applicationID))
	}
	if len(statuses) > 0 {
		endpoint += "?status=" + url.QueryEscape(strings.Join(statuses, ","))
	}
	var resp struct {
		Items []Deliverable `json:"items"`
	}
	err := c.get(ctx, endpoint, &resp)
	return resp.Items, err
}

func (c *Client) UpdateDeliverable(ctx context.Context, id string, patch DeliverablePatch) (Deliverable, error) {
	var resp Deliverable
	err := c.do(ctx, http.MethodPatch, "v0/deliverables/"+url.PathEscape(id), patch, &resp)
	return resp, err
}

func (c *Client) ProjectStatus(ctx context.Context, applicationID string) (ProjectStatus, error) {
	var resp ProjectStatus
	err := c.get(ctx, fmt.Sprintf("v0/applications/%s/status", url.PathEscape(applicationID)), &resp)
	return resp, err
}

func (c *Client) Threads(ctx context.Context) ([]Thread, error) {
	var resp struct {
		Items []Thread `json:"items"`
	}
	err := c.get(ctx, "v0/threads", &resp)
	return resp.Items, err
}

func (c *Client) ThreadMessages(ctx context.Context, analystID, creatorID string) ([]Message, error) {
	q := url.Values{}
	q.Set("analyst_id", analystID)
	q.Set("creator_id", creatorID)
	var resp struct {
		Items []Message `json:"items"`
	}
	err := c.get(ctx, "v0/threads/messages?"+q.Encode(), &resp)
	return resp.Items, err
}

func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (Message, error) {
	var resp Message
	endpoint := fmt.Sprintf("v0/conversations/%s/messages", url.PathEscape(conversationID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"content": content}, &resp)
	return resp, err
}

// SaveThreadDetails sets a thread's title and comma-separated tags.
func (c *Client) SaveThreadDetails(ctx context.Context, conversationID, title, tags string) (Conversation, error) {
	var resp Conversation
	endpoint := fmt.Sprintf("v0/conversations/%s/details", url.PathEscape(conversationID))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"custom_title": title, "tags": tags}, &resp)
	return resp, err
}

func (c *Client) SubmitOnboarding(ctx context.Context, p Profile) (Onboarding, error) {
	body := map[string]any{
		"display_name": p.DisplayName,
		"bio":          p.Bio,
		"niches":       p.Niches,
	}
	var resp Onboarding
	err := c.do(ctx, http.MethodPost, "v0/onboarding", body, &resp)
	return resp, err
}

// RecoverOnboarding resolves a saved fallback with mode "merge" or "discard".
func (c *Client) RecoverOnboarding(ctx context.Context, mode string) (Onboarding, error) {
	var resp Onboarding
	err := c.do(ctx, http.MethodPost, "v0/onboarding/recover", map[string]any{"mode": mode}, &resp)
	return resp, err
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	policy := c.Retry
	if policy.Attempts == 0 {
		policy = retry.Default
	}
	return retry.Do(ctx, policy, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, endpoint, nil, out)
	})
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
