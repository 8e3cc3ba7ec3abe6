package newsletter

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Campaign status constants
const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusCancelled = "cancelled"
)

// Campaign scope constants
const (
	ScopeSpecific       = "specific"
	ScopeOrganizational = "organizational"
)

// Subscriber status constants
const (
	SubscriberActive       = "active"
	SubscriberUnsubscribed = "unsubscribed"
)

// Delivery event type constants
const (
	EventSent    = "sent"
	EventBounced = "bounced"
)

// BlockKind identifies a block variant. The set is closed: the renderer
// dispatches over it exhaustively and rejects anything else.
type BlockKind string

const (
	BlockHeader   BlockKind = "header"
	BlockText     BlockKind = "text"
	BlockImage    BlockKind = "image"
	BlockButton   BlockKind = "button"
	BlockProgress BlockKind = "progress"
	BlockSpacer   BlockKind = "spacer"
	BlockDivider  BlockKind = "divider"
)

// Button variant constants
const (
	ButtonPrimary   = "primary"
	ButtonSecondary = "secondary"
)

// JSON helper type for JSONB fields
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, j)
}

// Organization represents a tenant/organization
type Organization struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Story represents one fundraising story under an organization. Its facts
// (title, amounts, photo) feed the resolver's variable map.
type Story struct {
	ID             uuid.UUID `json:"id" db:"id"`
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	Title          string    `json:"title" db:"title"`
	Slug           string    `json:"slug" db:"slug"`
	PhotoURL       string    `json:"photo_url" db:"photo_url"`
	GoalCents      int64     `json:"goal_cents" db:"goal_cents"`
	RaisedCents    int64     `json:"raised_cents" db:"raised_cents"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Theme holds the color tokens applied as block defaults.
type Theme struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Primary    string    `json:"primary_color" db:"primary_color"`
	Secondary  string    `json:"secondary_color" db:"secondary_color"`
	Accent     string    `json:"accent_color" db:"accent_color"`
	Background string    `json:"background_color" db:"background_color"`
	Border     string    `json:"border_color" db:"border_color"`
}

// BlockContent carries the variant-specific fields for a block. Only the
// fields belonging to the block's kind are meaningful; the rest stay zero.
type BlockContent struct {
	// header
	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
	// text
	Text string `json:"text,omitempty"`
	// image
	Src     string `json:"src,omitempty"`
	Alt     string `json:"alt,omitempty"`
	Caption string `json:"caption,omitempty"`
	// button
	Label   string `json:"label,omitempty"`
	URL     string `json:"url,omitempty"`
	Variant string `json:"variant,omitempty"`
	// progress (filled from story facts at resolve time)
	RaisedCents int64 `json:"raised_cents,omitempty"`
	GoalCents   int64 `json:"goal_cents,omitempty"`
	// spacer
	Height int `json:"height,omitempty"`
}

// StyleOverride holds per-block styling overrides. Empty fields inherit the
// theme default.
type StyleOverride struct {
	TextColor       string `json:"text_color,omitempty"`
	BackgroundColor string `json:"background_color,omitempty"`
	Padding         string `json:"padding,omitempty"`
	Align           string `json:"align,omitempty"`
}

// Block is one content unit within a template.
type Block struct {
	ID      uuid.UUID      `json:"id"`
	Kind    BlockKind      `json:"type"`
	Order   int            `json:"order"`
	Content BlockContent   `json:"content"`
	Styling *StyleOverride `json:"styling,omitempty"`
}

// Template is an ordered block list plus its default theme.
type Template struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	ThemeID   uuid.UUID `json:"theme_id" db:"theme_id"`
	Blocks    []Block   `json:"blocks"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ResolvedStyle is the effective styling for one block after merging theme
// defaults with the block's override. Immutable once produced.
type ResolvedStyle struct {
	TextColor       string `json:"text_color"`
	BackgroundColor string `json:"background_color"`
	AccentColor     string `json:"accent_color"`
	BorderColor     string `json:"border_color"`
	Padding         string `json:"padding"`
	Align           string `json:"align"`
}

// ResolvedBlock is a block with its effective styling and resolve-time
// variables substituted. Recipient-level tokens remain in the content.
type ResolvedBlock struct {
	Kind    BlockKind
	Content BlockContent
	Style   ResolvedStyle
}

// Document is the immutable output of the resolver: ordered resolved blocks
// plus the subject line, still carrying recipient-level tokens.
type Document struct {
	Subject string
	Blocks  []ResolvedBlock
	Theme   Theme
}

// Campaign represents one outbound newsletter send.
type Campaign struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	OrganizationID  uuid.UUID  `json:"organization_id" db:"organization_id"`
	StoryID         *uuid.UUID `json:"story_id,omitempty" db:"story_id"`
	Scope           string     `json:"scope" db:"scope"`
	CampaignType    string     `json:"campaign_type" db:"campaign_type"`
	Subject         string     `json:"subject" db:"subject"`
	HTMLContent     string     `json:"html_content" db:"html_content"`
	Status          string     `json:"status" db:"status"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	TotalRecipients int        `json:"total_recipients" db:"total_recipients"`
	TotalSent       int        `json:"total_sent" db:"total_sent"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	SentAt          *time.Time `json:"sent_at,omitempty" db:"sent_at"`
}

// Recipient is one deduplicated, eligible subscriber for a campaign.
type Recipient struct {
	ID           uuid.UUID `json:"id" db:"id"`
	StoryID      uuid.UUID `json:"story_id" db:"story_id"`
	Email        string    `json:"email" db:"email"`
	FirstName    string    `json:"first_name" db:"first_name"`
	Status       string    `json:"status" db:"status"`
	SubscribedAt time.Time `json:"subscribed_at" db:"subscribed_at"`
}

// DeliveryEvent is the immutable record of one send attempt's outcome.
// Exactly one terminal event exists per (campaign, recipient).
type DeliveryEvent struct {
	ID          uuid.UUID `json:"id" db:"id"`
	CampaignID  uuid.UUID `json:"campaign_id" db:"campaign_id"`
	RecipientID uuid.UUID `json:"recipient_id" db:"recipient_id"`
	EventType   string    `json:"event_type" db:"event_type"`
	Payload     JSON      `json:"payload" db:"payload"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
