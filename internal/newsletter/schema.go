package newsletter

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the newsletter tables and indexes if missing.
// Every statement is idempotent, so running this on startup from multiple
// instances is safe.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS newsletter_organizations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) NOT NULL,
			slug VARCHAR(255) NOT NULL UNIQUE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS newsletter_stories (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			organization_id UUID NOT NULL REFERENCES newsletter_organizations(id),
			title VARCHAR(500) NOT NULL,
			slug VARCHAR(255) NOT NULL,
			photo_url TEXT DEFAULT '',
			goal_cents BIGINT NOT NULL DEFAULT 0,
			raised_cents BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_newsletter_stories_org ON newsletter_stories(organization_id)`,
		`CREATE TABLE IF NOT EXISTS newsletter_themes (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) NOT NULL,
			primary_color VARCHAR(16) NOT NULL,
			secondary_color VARCHAR(16) NOT NULL,
			accent_color VARCHAR(16) NOT NULL,
			background_color VARCHAR(16) NOT NULL,
			border_color VARCHAR(16) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS newsletter_templates (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) NOT NULL,
			theme_id UUID NOT NULL REFERENCES newsletter_themes(id),
			blocks JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS newsletter_subscribers (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			story_id UUID NOT NULL REFERENCES newsletter_stories(id),
			email VARCHAR(320) NOT NULL,
			first_name VARCHAR(255) DEFAULT '',
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			subscribed_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			unsubscribed_at TIMESTAMP WITH TIME ZONE
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_newsletter_subscribers_story_email
			ON newsletter_subscribers(story_id, LOWER(email))`,
		`CREATE TABLE IF NOT EXISTS newsletter_campaigns (
			id UUID PRIMARY KEY,
			organization_id UUID NOT NULL REFERENCES newsletter_organizations(id),
			story_id UUID REFERENCES newsletter_stories(id),
			scope VARCHAR(20) NOT NULL,
			campaign_type VARCHAR(50) NOT NULL DEFAULT 'newsletter',
			subject TEXT NOT NULL,
			html_content TEXT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'draft',
			scheduled_at TIMESTAMP WITH TIME ZONE,
			total_recipients INTEGER NOT NULL DEFAULT 0,
			total_sent INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			sent_at TIMESTAMP WITH TIME ZONE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_newsletter_campaigns_org ON newsletter_campaigns(organization_id)`,
		`CREATE INDEX IF NOT EXISTS idx_newsletter_campaigns_due
			ON newsletter_campaigns(scheduled_at) WHERE status = 'scheduled'`,
		`CREATE TABLE IF NOT EXISTS newsletter_campaign_recipients (
			campaign_id UUID NOT NULL REFERENCES newsletter_campaigns(id),
			recipient_id UUID NOT NULL,
			story_id UUID,
			email VARCHAR(320) NOT NULL,
			first_name VARCHAR(255) DEFAULT '',
			PRIMARY KEY (campaign_id, recipient_id)
		)`,
		`CREATE TABLE IF NOT EXISTS newsletter_delivery_events (
			id UUID PRIMARY KEY,
			campaign_id UUID NOT NULL REFERENCES newsletter_campaigns(id),
			recipient_id UUID NOT NULL,
			event_type VARCHAR(20) NOT NULL,
			payload JSONB,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_newsletter_delivery_terminal
			ON newsletter_delivery_events(campaign_id, recipient_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
