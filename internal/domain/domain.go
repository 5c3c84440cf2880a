package domain

// Deliverable statuses. Stored values are exactly these strings.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusSubmitted  = "submitted"
	StatusApproved   = "approved"
	StatusRejected   = "rejected"
)

// Application statuses.
const (
	ApplicationPending  = "pending"
	ApplicationApproved = "approved"
	ApplicationRejected = "rejected"
)

// Actor roles.
const (
	RoleCreator = "creator"
	RoleAnalyst = "analyst"
)

type Profile struct {
	ID          string   `json:"id"`
	Role        string   `json:"role" enum:"creator,analyst"`
	DisplayName string   `json:"display_name"`
	Bio         string   `json:"bio,omitempty"`
	Niches      []string `json:"niches,omitempty"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type Opportunity struct {
	ID          string `json:"id"`
	AnalystID   string `json:"analyst_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	BudgetCents int64  `json:"budget_cents"`
	Deadline    string `json:"deadline,omitempty" format:"date"`
	Status      string `json:"status" enum:"open,closed"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Application struct {
	ID            string `json:"id"`
	OpportunityID string `json:"opportunity_id"`
	CreatorID     string `json:"creator_id"`
	Status        string `json:"status" enum:"pending,approved,rejected"`
	Pitch         string `json:"pitch,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

// ApprovedApplication is an approved application joined with the analyst
// owning its opportunity.
type ApprovedApplication struct {
	ID               string `json:"id"`
	OpportunityID    string `json:"opportunity_id"`
	OpportunityTitle string `json:"opportunity_title"`
	CreatorID        string `json:"creator_id"`
	AnalystID        string `json:"analyst_id"`
	Deadline         string `json:"deadline,omitempty" format:"date"`
}

type Deliverable struct {
	ID             string   `json:"id"`
	ApplicationID  string   `json:"application_id"`
	OpportunityID  string   `json:"opportunity_id"`
	CreatorID      string   `json:"creator_id"`
	AnalystID      string   `json:"analyst_id"`
	TemplateID     string   `json:"template_id,omitempty"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	DueDate        string   `json:"due_date" format:"date"`
	Priority       int      `json:"priority" minimum:"1" maximum:"5"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
	Status         string   `json:"status" enum:"pending,in_progress,submitted,approved,rejected"`
	Feedback       string   `json:"feedback,omitempty"`
	DependsOn      *string  `json:"depends_on,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

type Conversation struct {
	ID            string   `json:"id"`
	AnalystID     string   `json:"analyst_id,omitempty"`
	CreatorID     string   `json:"creator_id,omitempty"`
	OpportunityID string   `json:"opportunity_id,omitempty"`
	LastMessageAt *string  `json:"last_message_at,omitempty" format:"date-time"`
	CustomTitle   string   `json:"custom_title,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
}

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// Thread is the unified view of every conversation row between one analyst
// and one creator. It is derived and never stored.
type Thread struct {
	AnalystID        string                `json:"analyst_id"`
	CreatorID        string                `json:"creator_id"`
	RepresentativeID string                `json:"representative_id"`
	ConversationIDs  []string              `json:"conversation_ids"`
	LastMessageAt    *string               `json:"last_message_at,omitempty" format:"date-time"`
	LastMessage      *Message              `json:"last_message,omitempty"`
	Projects         []ApprovedApplication `json:"projects"`
	CustomTitle      string                `json:"custom_title,omitempty"`
	Tags             []string              `json:"tags,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	CreatorID  string `json:"creator_id,omitempty"`
	AnalystID  string `json:"analyst_id,omitempty"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
