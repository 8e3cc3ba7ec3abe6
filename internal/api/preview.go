package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/storyraise/newsletter-service/internal/newsletter"
	"github.com/storyraise/newsletter-service/internal/pkg/httputil"
)

// PreviewRequest renders a template against live story facts without
// persisting anything.
type PreviewRequest struct {
	OrganizationID string                     `json:"organization_id"`
	StoryID        string                     `json:"story_id,omitempty"`
	TemplateID     string                     `json:"template_id"`
	Subject        string                     `json:"subject"`
	ThemeOverrides *newsletter.ThemeOverrides `json:"theme_overrides,omitempty"`
}

// PreviewCampaign runs the composition pipeline and returns the rendered
// HTML with sample recipient tokens substituted. Nothing is stored and no
// recipient set is resolved.
func (h *Handlers) PreviewCampaign(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		httputil.BadRequest(w, "invalid organization_id")
		return
	}
	tmplID, err := uuid.Parse(req.TemplateID)
	if err != nil {
		httputil.BadRequest(w, "invalid template_id")
		return
	}
	if req.Subject == "" {
		httputil.BadRequest(w, "subject is required")
		return
	}

	ctx := r.Context()

	org, err := h.store.GetOrganization(ctx, orgID)
	if err != nil {
		httputil.Internal(w, err)
		return
	}
	if org == nil {
		httputil.NotFound(w, "organization not found")
		return
	}

	vars := newsletter.Variables{OrganizationName: org.Name, Slug: org.Slug}
	var storyID *uuid.UUID
	if req.StoryID != "" {
		id, err := uuid.Parse(req.StoryID)
		if err != nil {
			httputil.BadRequest(w, "invalid story_id")
			return
		}
		storyID = &id
		story, err := h.store.GetStory(ctx, id)
		if err != nil {
			httputil.Internal(w, err)
			return
		}
		if story == nil {
			httputil.NotFound(w, "story not found")
			return
		}
		if story.OrganizationID != orgID {
			httputil.BadRequest(w, "story does not belong to organization")
			return
		}
		vars.StoryTitle = story.Title
		vars.CurrentAmountCents = story.RaisedCents
		vars.GoalAmountCents = story.GoalCents
		vars.PhotoURL = story.PhotoURL
		vars.Slug = story.Slug
	}

	tmpl, err := h.store.GetTemplate(ctx, tmplID)
	if err != nil {
		httputil.Internal(w, err)
		return
	}
	if tmpl == nil {
		httputil.NotFound(w, "template not found")
		return
	}
	theme, err := h.store.GetTheme(ctx, tmpl.ThemeID)
	if err != nil {
		httputil.Internal(w, err)
		return
	}
	if theme == nil {
		httputil.NotFound(w, "theme not found")
		return
	}

	doc, err := newsletter.Resolve(tmpl, *theme, req.ThemeOverrides, req.Subject, vars)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	html, err := newsletter.RenderDocument(doc)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	// Substitute sample recipient tokens so the preview is fully rendered.
	sample := &newsletter.Campaign{
		ID:             uuid.New(),
		OrganizationID: orgID,
		StoryID:        storyID,
		Subject:        doc.Subject,
		HTMLContent:    html,
	}
	recipient := &newsletter.Recipient{ID: uuid.New(), Email: "preview@example.com"}
	msg, err := h.personalizer.Personalize(sample, recipient)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.OK(w, map[string]string{
		"subject": msg.Subject,
		"html":    msg.HTMLBody,
	})
}
