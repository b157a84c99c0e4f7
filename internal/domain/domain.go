package domain

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID        string `json:"id"`
	Code      string `json:"code,omitempty"`
	Slug      string `json:"slug,omitempty"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Membership struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role" enum:"owner,manager,member,viewer"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Artifact is a governance document (charter, plan, register extract).
// DueAt may be blank with the effective date buried in the document body.
type Artifact struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	Kind      string  `json:"kind"`
	Title     string  `json:"title"`
	Status    string  `json:"status,omitempty"`
	DueAt     *string `json:"due_at,omitempty"`
	DocJSON   *string `json:"doc_json,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

type Milestone struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	StartsAt   *string `json:"starts_at,omitempty"`
	EndsAt     *string `json:"ends_at,omitempty"`
	Critical   bool    `json:"critical"`
	ArtifactID *string `json:"artifact_id,omitempty"`
	OwnerID    *string `json:"owner_id,omitempty"`
	DoneAt     *string `json:"done_at,omitempty"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type WorkItem struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	ParentID   *string `json:"parent_id,omitempty"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	DueAt      *string `json:"due_at,omitempty"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	ArtifactID *string `json:"artifact_id,omitempty"`
	DoneAt     *string `json:"done_at,omitempty"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

// RAIDEntry is a risk, assumption, issue or dependency log row.
// RefCode is the human-facing short id (e.g. R-12) used in links when present.
type RAIDEntry struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Type        string  `json:"type" enum:"risk,assumption,issue,dependency"`
	RefCode     *string `json:"ref_code,omitempty"`
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority,omitempty"`
	DueAt       *string `json:"due_at,omitempty"`
	ClosedAt    *string `json:"closed_at,omitempty"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type ChangeRequest struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	Seq            int     `json:"seq"`
	Title          string  `json:"title"`
	DeliveryStatus string  `json:"delivery_status"`
	DecisionStatus string  `json:"decision_status,omitempty"`
	ReviewBy       *string `json:"review_by,omitempty"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ReportSnapshot is an optionally persisted delivery report document.
type ReportSnapshot struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	PeriodFrom string `json:"period_from"`
	PeriodTo   string `json:"period_to"`
	DocJSON    string `json:"doc_json"`
	CreatedBy  string `json:"created_by"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}
