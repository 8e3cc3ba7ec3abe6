package newsletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store provides database operations for newsletter entities.
type Store struct {
	db *sql.DB
}

// NewStore creates a new newsletter store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that share the connection
// pool (scheduler locks).
func (s *Store) DB() *sql.DB {
	return s.db
}

// GetOrganization retrieves an organization by ID.
func (s *Store) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	query := `SELECT id, name, slug, created_at, updated_at
		FROM newsletter_organizations WHERE id = $1`

	org := &Organization{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&org.ID, &org.Name, &org.Slug, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return org, err
}

// GetStory retrieves a story by ID.
func (s *Store) GetStory(ctx context.Context, id uuid.UUID) (*Story, error) {
	query := `SELECT id, organization_id, title, slug, photo_url, goal_cents, raised_cents, created_at
		FROM newsletter_stories WHERE id = $1`

	story := &Story{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&story.ID, &story.OrganizationID, &story.Title, &story.Slug,
		&story.PhotoURL, &story.GoalCents, &story.RaisedCents, &story.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return story, err
}

// GetTheme retrieves a theme by ID.
func (s *Store) GetTheme(ctx context.Context, id uuid.UUID) (*Theme, error) {
	query := `SELECT id, name, primary_color, secondary_color, accent_color, background_color, border_color
		FROM newsletter_themes WHERE id = $1`

	theme := &Theme{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&theme.ID, &theme.Name, &theme.Primary, &theme.Secondary,
		&theme.Accent, &theme.Background, &theme.Border)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return theme, err
}

// GetTemplate retrieves a template with its block list.
func (s *Store) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	query := `SELECT id, name, theme_id, blocks, created_at
		FROM newsletter_templates WHERE id = $1`

	tmpl := &Template{}
	var blocksJSON []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&tmpl.ID, &tmpl.Name, &tmpl.ThemeID, &blocksJSON, &tmpl.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(blocksJSON, &tmpl.Blocks); err != nil {
		return nil, fmt.Errorf("parse template blocks: %w", err)
	}
	return tmpl, nil
}

// CreateCampaign inserts a campaign and its frozen recipient snapshot in one
// transaction. totalRecipients is the deduplicated eligible-set size at this
// moment and is never re-evaluated.
func (s *Store) CreateCampaign(ctx context.Context, c *Campaign, recipients []Recipient) error {
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.TotalRecipients = len(recipients)
	if c.Status == "" {
		c.Status = StatusDraft
	}
	if c.CampaignType == "" {
		c.CampaignType = "newsletter"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO newsletter_campaigns
		(id, organization_id, story_id, scope, campaign_type, subject, html_content,
		 status, scheduled_at, total_recipients, total_sent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11)`,
		c.ID, c.OrganizationID, c.StoryID, c.Scope, c.CampaignType, c.Subject,
		c.HTMLContent, c.Status, c.ScheduledAt, c.TotalRecipients, c.CreatedAt)
	if err != nil {
		return err
	}

	for _, r := range recipients {
		_, err = tx.ExecContext(ctx, `INSERT INTO newsletter_campaign_recipients
			(campaign_id, recipient_id, story_id, email, first_name)
			VALUES ($1, $2, $3, $4, $5)`,
			c.ID, r.ID, r.StoryID, r.Email, r.FirstName)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetCampaign retrieves a campaign by ID.
func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	query := `SELECT id, organization_id, story_id, scope, campaign_type, subject,
		html_content, status, scheduled_at, total_recipients, total_sent, created_at, sent_at
		FROM newsletter_campaigns WHERE id = $1`

	c := &Campaign{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.OrganizationID, &c.StoryID, &c.Scope, &c.CampaignType, &c.Subject,
		&c.HTMLContent, &c.Status, &c.ScheduledAt, &c.TotalRecipients, &c.TotalSent,
		&c.CreatedAt, &c.SentAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListCampaigns retrieves campaigns for an organization, optionally filtered
// by story, newest first.
func (s *Store) ListCampaigns(ctx context.Context, orgID uuid.UUID, storyID *uuid.UUID) ([]*Campaign, error) {
	query := `SELECT id, organization_id, story_id, scope, campaign_type, subject,
		status, scheduled_at, total_recipients, total_sent, created_at, sent_at
		FROM newsletter_campaigns WHERE organization_id = $1`
	args := []interface{}{orgID}
	if storyID != nil {
		query += ` AND story_id = $2`
		args = append(args, *storyID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*Campaign
	for rows.Next() {
		c := &Campaign{}
		err := rows.Scan(&c.ID, &c.OrganizationID, &c.StoryID, &c.Scope, &c.CampaignType,
			&c.Subject, &c.Status, &c.ScheduledAt, &c.TotalRecipients, &c.TotalSent,
			&c.CreatedAt, &c.SentAt)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// UpdateContent replaces the campaign's subject and rendered body snapshot.
func (s *Store) UpdateContent(ctx context.Context, id uuid.UUID, subject, htmlBody string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE newsletter_campaigns
		SET subject = $2, html_content = $3 WHERE id = $1`,
		id, subject, htmlBody)
	return err
}

// MarkSending transitions a campaign to sending. The status guard makes the
// claim atomic: exactly one caller wins for a draft or due scheduled
// campaign, and sent campaigns can never move backward.
func (s *Store) MarkSending(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE newsletter_campaigns
		SET status = $2 WHERE id = $1 AND status IN ($3, $4)`,
		id, StatusSending, StatusDraft, StatusScheduled)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Finalize completes a campaign after the orchestrator's join barrier:
// status=sent, sentAt set, totalSent taken from the immutable event log.
func (s *Store) Finalize(ctx context.Context, id uuid.UUID, sentAt time.Time, totalSent int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE newsletter_campaigns
		SET status = $2, sent_at = $3, total_sent = $4 WHERE id = $1`,
		id, StatusSent, sentAt, totalSent)
	return err
}

// CancelScheduled cancels a campaign that has not started executing.
// Returns false if the campaign is not in scheduled status.
func (s *Store) CancelScheduled(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE newsletter_campaigns
		SET status = $2 WHERE id = $1 AND status = $3`,
		id, StatusCancelled, StatusScheduled)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ClaimDueScheduled atomically claims scheduled campaigns whose scheduled_at
// has arrived, flipping them to sending so no other scheduler instance picks
// them up.
func (s *Store) ClaimDueScheduled(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `UPDATE newsletter_campaigns
		SET status = 'sending'
		WHERE id IN (
			SELECT id FROM newsletter_campaigns
			WHERE status = 'scheduled' AND scheduled_at <= NOW()
			ORDER BY scheduled_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CampaignRecipients reads back the frozen recipient snapshot.
func (s *Store) CampaignRecipients(ctx context.Context, campaignID uuid.UUID) ([]Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT recipient_id, story_id, email, first_name
		FROM newsletter_campaign_recipients WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.ID, &r.StoryID, &r.Email, &r.FirstName); err != nil {
			return nil, err
		}
		r.Status = SubscriberActive
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// AppendDeliveryEvent appends one terminal event for a (campaign, recipient)
// pair. The unique index makes the append idempotent: a duplicate
// terminal event is silently a no-op, so concurrent workers can never record
// two outcomes for the same recipient.
func (s *Store) AppendDeliveryEvent(ctx context.Context, ev *DeliveryEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO newsletter_delivery_events
		(id, campaign_id, recipient_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (campaign_id, recipient_id) DO NOTHING`,
		ev.ID, ev.CampaignID, ev.RecipientID, ev.EventType, ev.Payload, ev.CreatedAt)
	return err
}

// CountEvents counts events of one type for a campaign. Totals are always
// derived this way, never by incrementing a shared counter.
func (s *Store) CountEvents(ctx context.Context, campaignID uuid.UUID, eventType string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM newsletter_delivery_events
		WHERE campaign_id = $1 AND event_type = $2`, campaignID, eventType).Scan(&count)
	return count, err
}

// ListDeliveryEvents returns the event log for a campaign, oldest first.
func (s *Store) ListDeliveryEvents(ctx context.Context, campaignID uuid.UUID) ([]*DeliveryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, campaign_id, recipient_id, event_type, payload, created_at
		FROM newsletter_delivery_events WHERE campaign_id = $1 ORDER BY created_at ASC`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*DeliveryEvent
	for rows.Next() {
		ev := &DeliveryEvent{}
		if err := rows.Scan(&ev.ID, &ev.CampaignID, &ev.RecipientID, &ev.EventType, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkUnsubscribed flips a subscriber to unsubscribed. Idempotent; the
// campaign's frozen recipient snapshot is unaffected.
func (s *Store) MarkUnsubscribed(ctx context.Context, subscriberID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE newsletter_subscribers
		SET status = 'unsubscribed', unsubscribed_at = NOW()
		WHERE id = $1 AND status = 'active'`, subscriberID)
	return err
}
