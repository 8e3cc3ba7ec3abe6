package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/storyraise/newsletter-service/internal/newsletter"
	"github.com/storyraise/newsletter-service/internal/pkg/httputil"
	"github.com/storyraise/newsletter-service/internal/pkg/logger"
	"github.com/storyraise/newsletter-service/internal/snapshot"
	"github.com/storyraise/newsletter-service/internal/worker"
)

// Handlers holds dependencies for the newsletter API endpoints.
type Handlers struct {
	store        *newsletter.Store
	orchestrator *worker.Orchestrator
	personalizer *newsletter.Personalizer
	archiver     snapshot.Archiver
}

// NewHandlers creates API handlers. archiver may be nil.
func NewHandlers(store *newsletter.Store, orchestrator *worker.Orchestrator, personalizer *newsletter.Personalizer, archiver snapshot.Archiver) *Handlers {
	return &Handlers{
		store:        store,
		orchestrator: orchestrator,
		personalizer: personalizer,
		archiver:     archiver,
	}
}

// HealthCheck returns service liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok", "service": "newsletter"})
}

// CreateCampaignRequest is the payload for campaign creation.
type CreateCampaignRequest struct {
	OrganizationID string                     `json:"organization_id"`
	StoryID        string                     `json:"story_id,omitempty"`
	Scope          string                     `json:"scope"`
	TemplateID     string                     `json:"template_id"`
	Subject        string                     `json:"subject"`
	ThemeOverrides *newsletter.ThemeOverrides `json:"theme_overrides,omitempty"`
	ScheduledAt    *time.Time                 `json:"scheduled_at,omitempty"`
}

// CreateCampaign composes, renders, and persists a campaign. Immediate
// campaigns start delivering asynchronously; scheduled ones wait for the
// scheduler. The recipient set is frozen here and never re-evaluated.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
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
	var storyID *uuid.UUID
	if req.StoryID != "" {
		id, err := uuid.Parse(req.StoryID)
		if err != nil {
			httputil.BadRequest(w, "invalid story_id")
			return
		}
		storyID = &id
	}
	if req.Subject == "" {
		httputil.BadRequest(w, "subject is required")
		return
	}
	if req.Scope == newsletter.ScopeSpecific && storyID == nil {
		httputil.BadRequest(w, "specific scope requires story_id")
		return
	}
	if req.Scope == newsletter.ScopeOrganizational && storyID != nil {
		httputil.BadRequest(w, "organizational scope does not take a story_id")
		return
	}
	if req.ScheduledAt != nil && !req.ScheduledAt.After(time.Now()) {
		httputil.BadRequest(w, "scheduled_at must be in the future")
		return
	}

	ctx := r.Context()

	campaign, err := h.composeCampaign(ctx, orgID, storyID, tmplID, &req)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if h.archiver != nil {
		if err := h.archiver.Put(ctx, campaign.ID, campaign.HTMLContent); err != nil {
			logger.Warn("snapshot archive failed",
				"campaign_id", campaign.ID.String(), "error", err.Error())
		}
	}

	if campaign.ScheduledAt == nil {
		// Deliver in the background; creation responds immediately.
		go func(id uuid.UUID) {
			if _, err := h.orchestrator.Run(context.Background(), id, false); err != nil {
				logger.Error("async delivery failed", "campaign_id", id.String(), "error", err.Error())
			}
		}(campaign.ID)
	}

	httputil.Created(w, campaign)
}

// composeCampaign runs the composition pipeline: load entities, resolve
// recipients, resolve and render the document, persist campaign plus
// snapshot.
func (h *Handlers) composeCampaign(ctx context.Context, orgID uuid.UUID, storyID *uuid.UUID, tmplID uuid.UUID, req *CreateCampaignRequest) (*newsletter.Campaign, error) {
	org, err := h.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, newsletter.NewNotFoundError("organization", orgID.String())
	}

	var story *newsletter.Story
	if storyID != nil {
		story, err = h.store.GetStory(ctx, *storyID)
		if err != nil {
			return nil, err
		}
		if story == nil {
			return nil, newsletter.NewNotFoundError("story", storyID.String())
		}
		// The story must belong to the requesting organization; otherwise
		// another org's subscribers would be snapshotted under this one.
		if story.OrganizationID != orgID {
			return nil, newsletter.NewValidationError("story %s does not belong to organization %s", storyID, orgID)
		}
	}

	tmpl, err := h.store.GetTemplate(ctx, tmplID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, newsletter.NewNotFoundError("template", tmplID.String())
	}

	theme, err := h.store.GetTheme(ctx, tmpl.ThemeID)
	if err != nil {
		return nil, err
	}
	if theme == nil {
		return nil, newsletter.NewNotFoundError("theme", tmpl.ThemeID.String())
	}

	recipients, err := h.store.ResolveRecipients(ctx, req.Scope, orgID, storyID)
	if err != nil {
		return nil, err
	}

	vars := newsletter.Variables{
		OrganizationName: org.Name,
		Slug:             org.Slug,
	}
	if story != nil {
		vars.StoryTitle = story.Title
		vars.CurrentAmountCents = story.RaisedCents
		vars.GoalAmountCents = story.GoalCents
		vars.PhotoURL = story.PhotoURL
		vars.Slug = story.Slug
	}

	doc, err := newsletter.Resolve(tmpl, *theme, req.ThemeOverrides, req.Subject, vars)
	if err != nil {
		return nil, err
	}
	html, err := newsletter.RenderDocument(doc)
	if err != nil {
		return nil, err
	}

	campaign := &newsletter.Campaign{
		OrganizationID: orgID,
		StoryID:        storyID,
		Scope:          req.Scope,
		Subject:        doc.Subject,
		HTMLContent:    html,
		Status:         newsletter.StatusDraft,
		ScheduledAt:    req.ScheduledAt,
	}
	if req.ScheduledAt != nil {
		campaign.Status = newsletter.StatusScheduled
	}

	if err := h.store.CreateCampaign(ctx, campaign, recipients); err != nil {
		return nil, err
	}
	return campaign, nil
}

// GetCampaign returns one campaign with derived delivery totals.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "invalid campaign id")
		return
	}

	campaign, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		httputil.Internal(w, err)
		return
	}
	if campaign == nil {
		httputil.NotFound(w, "campaign not found")
		return
	}
	httputil.OK(w, campaign)
}

// ListCampaigns returns an organization's campaigns, optionally filtered
// by story.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(r.URL.Query().Get("org_id"))
	if err != nil {
		httputil.BadRequest(w, "org_id is required")
		return
	}

	var storyID *uuid.UUID
	if s := r.URL.Query().Get("story_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			httputil.BadRequest(w, "invalid story_id")
			return
		}
		storyID = &id
	}

	campaigns, err := h.store.ListCampaigns(r.Context(), orgID, storyID)
	if err != nil {
		httputil.Internal(w, err)
		return
	}
	if campaigns == nil {
		campaigns = []*newsletter.Campaign{}
	}
	httputil.OK(w, map[string]interface{}{"campaigns": campaigns, "total": len(campaigns)})
}

// CancelSchedule cancels a scheduled campaign before execution. Only the
// scheduled state can be cancelled; anything past it has already begun.
func (h *Handlers) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "invalid campaign id")
		return
	}

	cancelled, err := h.store.CancelScheduled(r.Context(), id)
	if err != nil {
		httputil.Internal(w, err)
		return
	}
	if !cancelled {
		campaign, err := h.store.GetCampaign(r.Context(), id)
		if err != nil {
			httputil.Internal(w, err)
			return
		}
		if campaign == nil {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.Error(w, http.StatusConflict, "campaign is not scheduled")
		return
	}
	httputil.OK(w, map[string]string{"status": newsletter.StatusCancelled})
}

// ListDeliveryEvents returns the immutable event log for a campaign.
func (h *Handlers) ListDeliveryEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "invalid campaign id")
		return
	}

	events, err := h.store.ListDeliveryEvents(r.Context(), id)
	if err != nil {
		httputil.Internal(w, err)
		return
	}
	if events == nil {
		events = []*newsletter.DeliveryEvent{}
	}
	httputil.OK(w, map[string]interface{}{"events": events, "total": len(events)})
}

// respondDomainError maps domain errors to HTTP statuses. Validation
// failures are the caller's fault; missing entities and empty recipient
// sets are 404 per the composition contract; everything else is internal.
func respondDomainError(w http.ResponseWriter, err error) {
	var validationErr *newsletter.ValidationError
	var notFoundErr *newsletter.NotFoundError
	var noRecipientsErr *newsletter.NoRecipientsError
	var unsupportedErr *newsletter.UnsupportedBlockTypeError
	var unresolvedErr *newsletter.UnresolvedTokenError

	switch {
	case errors.As(err, &validationErr):
		httputil.BadRequest(w, validationErr.Error())
	case errors.As(err, &notFoundErr):
		httputil.NotFound(w, notFoundErr.Error())
	case errors.As(err, &noRecipientsErr):
		httputil.NotFound(w, noRecipientsErr.Error())
	case errors.As(err, &unsupportedErr):
		httputil.BadRequest(w, unsupportedErr.Error())
	case errors.As(err, &unresolvedErr):
		httputil.BadRequest(w, unresolvedErr.Error())
	default:
		httputil.Internal(w, err)
	}
}
