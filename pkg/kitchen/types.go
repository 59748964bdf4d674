package kitchen

import (
	"fmt"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a recipe. A recipe's status determines the
// Redis partition it is stored in, so a recipe is always in exactly one status.
type Status string

const (
	// StatusPending indicates the recipe is in production and not yet approved
	StatusPending Status = "pending"

	// StatusApproved indicates the recipe passed human review and awaits deployment
	StatusApproved Status = "approved"

	// StatusPublished indicates the recipe reached its terminal published state
	StatusPublished Status = "published"

	// StatusRejected indicates the recipe was terminally rejected (kept as archive)
	StatusRejected Status = "rejected"
)

// AllStatuses lists every status partition in a fixed scan order.
var AllStatuses = []Status{StatusPending, StatusApproved, StatusPublished, StatusRejected}

// Validate checks if the Status is a valid enum value.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusApproved, StatusPublished, StatusRejected:
		return nil
	default:
		return fmt.Errorf("unknown status: %q", s)
	}
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	return s == StatusPublished || s == StatusRejected
}

// Stage is one named production step in the recipe pipeline.
type Stage string

const (
	StageDevelopment    Stage = "development"
	StagePhotography    Stage = "photography"
	StageCopywriting    Stage = "copywriting"
	StageCreativeReview Stage = "creative_review"
	StageHumanReview    Stage = "human_review"
	StageDeployment     Stage = "deployment"
)

// StageOrder is the fixed production order. Deployment is unreachable without
// both review gates passing in sequence.
var StageOrder = []Stage{
	StageDevelopment,
	StagePhotography,
	StageCopywriting,
	StageCreativeReview,
	StageHumanReview,
	StageDeployment,
}

// Validate checks if the Stage is a valid enum value.
func (st Stage) Validate() error {
	if st.Index() < 0 {
		return fmt.Errorf("unknown stage: %q", st)
	}
	return nil
}

// Index returns the stage's position in StageOrder, or -1 if unknown.
func (st Stage) Index() int {
	for i, s := range StageOrder {
		if s == st {
			return i
		}
	}
	return -1
}

// Next returns the following stage in StageOrder. ok is false for the last
// stage and for unknown stages.
func (st Stage) Next() (next Stage, ok bool) {
	i := st.Index()
	if i < 0 || i >= len(StageOrder)-1 {
		return "", false
	}
	return StageOrder[i+1], true
}

// IsReview reports whether the stage is a quality gate allowed to issue
// revision outcomes.
func (st Stage) IsReview() bool {
	return st == StageCreativeReview || st == StageHumanReview
}

// StageRecord is one entry in a recipe's stage history.
type StageRecord struct {
	Stage       Stage  `json:"stage"`
	TimestampMs int64  `json:"timestamp_ms"`
	Outcome     string `json:"outcome"` // "success", "revise", or "reject"
}

// Recipe represents a unit of work tracked through the pipeline to a terminal
// published or rejected state. Content fields (ingredients, instructions, body)
// are opaque to the engine; the status field is owned by the lifecycle manager
// and the stage/revision fields by the pipeline engine.
type Recipe struct {
	ID            string        `json:"id"`             // UUID - unique identifier
	Slug          string        `json:"slug"`           // URL-safe name used by the site renderer
	Title         string        `json:"title"`          // Display title
	Ingredients   []string      `json:"ingredients"`    // Opaque content
	Instructions  []string      `json:"instructions"`   // Opaque content
	Body          string        `json:"body"`           // Opaque free text
	Status        Status        `json:"status"`         // Lifecycle status (matches storage partition)
	CurrentStage  Stage         `json:"current_stage"`  // Pipeline position
	RevisionCount int           `json:"revision_count"` // Only ever increases
	Escalated     bool          `json:"escalated"`      // True when the revision bound forced rejection
	Stuck         bool          `json:"stuck"`          // True when capability retries were exhausted
	StageHistory  []StageRecord `json:"stage_history"`  // Ordered by invocation time
	ReviewNotes   []string      `json:"review_notes"`   // Notes accumulated by transitions
	CreatedAtMs   int64         `json:"created_at_ms"`  // Unix timestamp in milliseconds
	UpdatedAtMs   int64         `json:"updated_at_ms"`  // Unix timestamp in milliseconds
}

// Validate checks if the Recipe has valid field values.
func (r *Recipe) Validate() error {
	if !isValidUUID(r.ID) {
		return fmt.Errorf("invalid recipe ID: not a valid UUID")
	}

	if r.Slug == "" {
		return fmt.Errorf("recipe slug cannot be empty")
	}

	if r.Title == "" {
		return fmt.Errorf("recipe title cannot be empty")
	}

	if err := r.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	if err := r.CurrentStage.Validate(); err != nil {
		return fmt.Errorf("invalid stage: %w", err)
	}

	if r.RevisionCount < 0 {
		return fmt.Errorf("invalid revision count: must be >= 0, got %d", r.RevisionCount)
	}

	return nil
}

// MessageType categorizes inter-agent messages.
type MessageType string

const (
	// MessageTypeFeedbackRequest asks another persona for input on work in progress
	MessageTypeFeedbackRequest MessageType = "feedback_request"

	// MessageTypeRevisionRequest sends work back with required changes
	MessageTypeRevisionRequest MessageType = "revision_request"

	// MessageTypeApprovalNotification announces that a quality gate passed
	MessageTypeApprovalNotification MessageType = "approval_notification"

	// MessageTypeCreativeSuggestion hands work (or ideas) to another persona
	MessageTypeCreativeSuggestion MessageType = "creative_suggestion"
)

// Validate checks if the MessageType is a valid enum value.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeFeedbackRequest, MessageTypeRevisionRequest,
		MessageTypeApprovalNotification, MessageTypeCreativeSuggestion:
		return nil
	default:
		return fmt.Errorf("unknown message type: %q", mt)
	}
}

// Message represents one append-only entry in the team's addressed message log.
// Messages are never mutated or deleted after creation. Seq is assigned from a
// per-instance counter, so messages are monotonically orderable without any
// global clock.
type Message struct {
	ID          string      `json:"id"`                    // UUID - unique identifier
	Seq         int64       `json:"seq"`                   // Monotonic sequence number
	Sender      string      `json:"sender"`                // Persona name
	Recipient   string      `json:"recipient"`             // Persona name
	Type        MessageType `json:"type"`                  // Message category
	Content     string      `json:"content"`               // Opaque text
	RecipeID    string      `json:"recipe_id,omitempty"`   // Optional correlation
	InReplyTo   string      `json:"in_reply_to,omitempty"` // Message ID this replies to
	CreatedAtMs int64       `json:"created_at_ms"`         // Unix timestamp in milliseconds
}

// Validate checks if the Message has valid field values.
func (m *Message) Validate() error {
	if !isValidUUID(m.ID) {
		return fmt.Errorf("invalid message ID: not a valid UUID")
	}

	if m.Seq < 1 {
		return fmt.Errorf("invalid sequence number: must be >= 1, got %d", m.Seq)
	}

	if m.Sender == "" {
		return fmt.Errorf("sender cannot be empty")
	}

	if m.Recipient == "" {
		return fmt.Errorf("recipient cannot be empty")
	}

	if err := m.Type.Validate(); err != nil {
		return fmt.Errorf("invalid type: %w", err)
	}

	return nil
}

// RecipeEvent is the terminal-state notification emitted when a recipe reaches
// published, rejected, or stuck. External notification collaborators consume
// these; delivery mechanics beyond the pub/sub channel are out of scope.
type RecipeEvent struct {
	RecipeID    string `json:"recipe_id"`
	EventType   string `json:"event_type"` // "published", "rejected", or "stuck"
	TimestampMs int64  `json:"timestamp_ms"`
	Details     string `json:"details,omitempty"`
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
