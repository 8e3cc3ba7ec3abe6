package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/storyraise/newsletter-service/internal/newsletter"
	"github.com/storyraise/newsletter-service/internal/pkg/logger"
)

// Orchestrator drives campaign delivery: it claims the campaign, fans the
// frozen recipient snapshot out over a bounded worker pool, records one
// terminal delivery event per recipient, and finalizes the campaign once
// every worker has finished.
type Orchestrator struct {
	store        *newsletter.Store
	transport    Transport
	personalizer *newsletter.Personalizer
	limiter      *RateLimiter

	fromName  string
	fromEmail string

	workers       int
	sendTimeout   time.Duration
	appendRetries int
}

// OrchestratorConfig carries orchestrator tuning knobs.
type OrchestratorConfig struct {
	FromName      string
	FromEmail     string
	Workers       int
	SendTimeout   time.Duration
	AppendRetries int
}

// DeliveryStats summarizes one campaign run.
type DeliveryStats struct {
	Total   int
	Sent    int
	Bounced int
	Elapsed time.Duration
}

// NewOrchestrator creates a delivery orchestrator. limiter may be nil.
func NewOrchestrator(store *newsletter.Store, transport Transport, personalizer *newsletter.Personalizer, limiter *RateLimiter, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.AppendRetries <= 0 {
		cfg.AppendRetries = 3
	}
	return &Orchestrator{
		store:         store,
		transport:     transport,
		personalizer:  personalizer,
		limiter:       limiter,
		fromName:      cfg.FromName,
		fromEmail:     cfg.FromEmail,
		workers:       cfg.Workers,
		sendTimeout:   cfg.SendTimeout,
		appendRetries: cfg.AppendRetries,
	}
}

// Run executes delivery for a campaign. claimed indicates whether the
// caller already moved the campaign to sending (the scheduler claims
// atomically when it picks up due campaigns); when false, Run claims it
// here so two concurrent runs cannot both deliver.
//
// Run does not return until every worker has finished. The final sent
// count is derived by counting recorded events, never by incrementing a
// counter, so a crash mid-delivery can only undercount, not double count.
func (o *Orchestrator) Run(ctx context.Context, campaignID uuid.UUID, claimed bool) (*DeliveryStats, error) {
	if !claimed {
		ok, err := o.store.MarkSending(ctx, campaignID)
		if err != nil {
			return nil, fmt.Errorf("claim campaign: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("campaign %s is not in a sendable state", campaignID)
		}
	}

	campaign, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, newsletter.NewNotFoundError("campaign", campaignID.String())
	}

	recipients, err := o.store.CampaignRecipients(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load recipient snapshot: %w", err)
	}

	start := time.Now()
	logger.Info("delivery started",
		"campaign_id", campaignID.String(),
		"recipients", len(recipients),
		"workers", o.workers)

	var sent, bounced int64

	jobs := make(chan newsletter.Recipient, o.workers)
	var wg sync.WaitGroup

	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range jobs {
				if o.deliverOne(ctx, campaign, &r) {
					atomic.AddInt64(&sent, 1)
				} else {
					atomic.AddInt64(&bounced, 1)
				}
			}
		}()
	}

	for _, r := range recipients {
		jobs <- r
	}
	close(jobs)
	wg.Wait()

	// Derive the final count from the event log rather than trusting the
	// in-memory counters.
	sentCount, err := o.store.CountEvents(ctx, campaignID, newsletter.EventSent)
	if err != nil {
		logger.Error("count sent events failed, using in-memory count",
			"campaign_id", campaignID.String(), "error", err.Error())
		sentCount = int(atomic.LoadInt64(&sent))
	}

	sentAt := time.Now()
	if err := o.store.Finalize(ctx, campaignID, sentAt, sentCount); err != nil {
		return nil, fmt.Errorf("finalize campaign: %w", err)
	}

	stats := &DeliveryStats{
		Total:   len(recipients),
		Sent:    sentCount,
		Bounced: int(atomic.LoadInt64(&bounced)),
		Elapsed: time.Since(start),
	}

	logger.Info("delivery finished",
		"campaign_id", campaignID.String(),
		"sent", stats.Sent,
		"bounced", stats.Bounced,
		"elapsed", stats.Elapsed.String())

	return stats, nil
}

// deliverOne personalizes, sends, and records the terminal event for one
// recipient. Returns true when the send succeeded. A failure for one
// recipient never aborts the run.
func (o *Orchestrator) deliverOne(ctx context.Context, c *newsletter.Campaign, r *newsletter.Recipient) bool {
	msg, err := o.personalizer.Personalize(c, r)
	if err != nil {
		logger.Error("personalization failed",
			"campaign_id", c.ID.String(),
			"recipient_id", r.ID.String(),
			"error", err.Error())
		o.recordEvent(ctx, c.ID, r.ID, newsletter.EventBounced, map[string]interface{}{
			"reason":    "personalization_failed",
			"error":     err.Error(),
			"failed_at": time.Now().UTC().Format(time.RFC3339),
		})
		return false
	}

	if o.limiter != nil {
		if err := o.limiter.Acquire(ctx); err != nil {
			o.recordEvent(ctx, c.ID, r.ID, newsletter.EventBounced, map[string]interface{}{
				"reason": "cancelled",
			})
			return false
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, o.sendTimeout)
	result, err := o.transport.Send(sendCtx, &OutboundEmail{
		FromName:    o.fromName,
		FromEmail:   o.fromEmail,
		ToEmail:     r.Email,
		Subject:     msg.Subject,
		HTMLContent: msg.HTMLBody,
		CampaignID:  c.ID.String(),
		RecipientID: r.ID.String(),
	})
	cancel()

	if err != nil || result == nil || !result.Success {
		reason := "send_failed"
		detail := ""
		switch {
		case err != nil:
			detail = err.Error()
		case result != nil && result.Error != nil:
			detail = result.Error.Error()
		}
		logger.Warn("send failed",
			"campaign_id", c.ID.String(),
			"email", logger.RedactEmail(r.Email),
			"error", detail)
		o.recordEvent(ctx, c.ID, r.ID, newsletter.EventBounced, map[string]interface{}{
			"reason":    reason,
			"error":     detail,
			"failed_at": time.Now().UTC().Format(time.RFC3339),
		})
		return false
	}

	payload := map[string]interface{}{
		"message_id": result.MessageID,
		"subject":    msg.Subject,
		"sent_at":    result.SentAt.UTC().Format(time.RFC3339),
	}
	if c.StoryID != nil {
		payload["story_id"] = c.StoryID.String()
	}
	o.recordEvent(ctx, c.ID, r.ID, newsletter.EventSent, payload)
	return true
}

// recordEvent appends the terminal event with bounded retries. The unique
// index makes the append idempotent, so retrying after an ambiguous
// failure is safe. A recipient whose event is lost after all retries is
// logged and surfaces as an undercount, which is the acceptable direction.
func (o *Orchestrator) recordEvent(ctx context.Context, campaignID, recipientID uuid.UUID, eventType string, payload map[string]interface{}) {
	ev := &newsletter.DeliveryEvent{
		ID:          uuid.New(),
		CampaignID:  campaignID,
		RecipientID: recipientID,
		EventType:   eventType,
		Payload:     newsletter.JSON(payload),
		CreatedAt:   time.Now(),
	}

	var err error
	for attempt := 0; attempt < o.appendRetries; attempt++ {
		if err = o.store.AppendDeliveryEvent(ctx, ev); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}

	logger.Error("delivery event lost after retries",
		"campaign_id", campaignID.String(),
		"recipient_id", recipientID.String(),
		"event_type", eventType,
		"error", err.Error())
}
