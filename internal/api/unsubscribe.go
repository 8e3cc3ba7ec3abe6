package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storyraise/newsletter-service/internal/pkg/httputil"
	"github.com/storyraise/newsletter-service/internal/pkg/logger"
)

// Unsubscribe handles signed unsubscribe links from delivered emails.
// Invalid or tampered tokens get a 400; a valid token flips the subscriber
// to unsubscribed and renders a confirmation page. Idempotent, since
// recipients click these links more than once.
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	data := chi.URLParam(r, "data")
	sig := chi.URLParam(r, "sig")

	tok, err := h.personalizer.VerifyUnsubscribe(data, sig)
	if err != nil {
		httputil.BadRequest(w, "invalid unsubscribe link")
		return
	}

	if err := h.store.MarkUnsubscribed(r.Context(), tok.RecipientID); err != nil {
		httputil.Internal(w, err)
		return
	}

	logger.Info("subscriber unsubscribed",
		"organization_id", tok.OrganizationID.String(),
		"campaign_id", tok.CampaignID.String(),
		"recipient_id", tok.RecipientID.String())

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>Unsubscribed</title></head>
<body style="font-family: Arial, sans-serif; text-align: center; padding: 60px 20px;">
  <h2>You're unsubscribed</h2>
  <p>You will no longer receive newsletter updates for this story.</p>
</body>
</html>`)
}
