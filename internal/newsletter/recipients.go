package newsletter

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ResolveRecipients computes the deduplicated, active-subscriber set for a
// campaign scope. The returned set is stable for this call; no ordering
// among recipients is guaranteed to callers.
//
// specific scope: active subscribers of the story. organizational scope:
// active subscribers of any story under the organization, deduplicated by
// lowercased email. Returns NotFoundError for a missing story/org and
// NoRecipientsError when the post-filter set is empty.
func (s *Store) ResolveRecipients(ctx context.Context, scope string, orgID uuid.UUID, storyID *uuid.UUID) ([]Recipient, error) {
	switch scope {
	case ScopeSpecific:
		if storyID == nil {
			return nil, NewValidationError("specific scope requires a story id")
		}
		return s.resolveStoryRecipients(ctx, *storyID)
	case ScopeOrganizational:
		return s.resolveOrgRecipients(ctx, orgID)
	default:
		return nil, NewValidationError("unknown campaign scope %q", scope)
	}
}

func (s *Store) resolveStoryRecipients(ctx context.Context, storyID uuid.UUID) ([]Recipient, error) {
	story, err := s.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story == nil {
		return nil, NewNotFoundError("story", storyID.String())
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, story_id, email, first_name, status, subscribed_at
		FROM newsletter_subscribers
		WHERE story_id = $1 AND status = 'active'`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.ID, &r.StoryID, &r.Email, &r.FirstName, &r.Status, &r.SubscribedAt); err != nil {
			return nil, err
		}
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(recipients) == 0 {
		return nil, &NoRecipientsError{Scope: ScopeSpecific}
	}
	return recipients, nil
}

func (s *Store) resolveOrgRecipients(ctx context.Context, orgID uuid.UUID) ([]Recipient, error) {
	org, err := s.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, NewNotFoundError("organization", orgID.String())
	}

	rows, err := s.db.QueryContext(ctx, `SELECT sub.id, sub.story_id, sub.email, sub.first_name, sub.status, sub.subscribed_at
		FROM newsletter_subscribers sub
		JOIN newsletter_stories st ON st.id = sub.story_id
		WHERE st.organization_id = $1 AND sub.status = 'active'`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.ID, &r.StoryID, &r.Email, &r.FirstName, &r.Status, &r.SubscribedAt); err != nil {
			return nil, err
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	deduped := DedupRecipients(all)
	if len(deduped) == 0 {
		return nil, &NoRecipientsError{Scope: ScopeOrganizational}
	}
	return deduped, nil
}

// DedupRecipients collapses recipients by lowercased email. When one email
// holds subscriptions to multiple stories, the entry with the most recent
// subscribed_at is retained, so the unsubscribe link always targets the
// newest subscription.
func DedupRecipients(recipients []Recipient) []Recipient {
	// Newest first, so the first occurrence per email wins.
	sorted := make([]Recipient, len(recipients))
	copy(sorted, recipients)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SubscribedAt.After(sorted[j].SubscribedAt)
	})

	seen := make(map[string]bool, len(sorted))
	deduped := make([]Recipient, 0, len(sorted))
	for _, r := range sorted {
		key := strings.ToLower(strings.TrimSpace(r.Email))
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, r)
	}
	return deduped
}
