package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/storyraise/newsletter-service/internal/newsletter"
	"github.com/storyraise/newsletter-service/internal/worker"
)

type nullTransport struct{}

func (nullTransport) Send(_ context.Context, _ *worker.OutboundEmail) (*worker.SendResult, error) {
	return &worker.SendResult{Success: true, SentAt: time.Now()}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store := newsletter.NewStore(db)
	personalizer := newsletter.NewPersonalizer("http://localhost:8080", "test-secret")
	orchestrator := worker.NewOrchestrator(store, nullTransport{}, personalizer, nil, worker.OrchestratorConfig{Workers: 2})

	handlers := NewHandlers(store, orchestrator, personalizer, nil)
	ts := httptest.NewServer(SetupRoutes(handlers))
	t.Cleanup(ts.Close)

	return ts, mock
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHealthCheck(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{
			"missing subject",
			map[string]interface{}{
				"organization_id": uuid.NewString(),
				"template_id":     uuid.NewString(),
				"scope":           newsletter.ScopeOrganizational,
			},
		},
		{
			"bad organization id",
			map[string]interface{}{
				"organization_id": "not-a-uuid",
				"template_id":     uuid.NewString(),
				"scope":           newsletter.ScopeOrganizational,
				"subject":         "s",
			},
		},
		{
			"specific scope without story",
			map[string]interface{}{
				"organization_id": uuid.NewString(),
				"template_id":     uuid.NewString(),
				"scope":           newsletter.ScopeSpecific,
				"subject":         "s",
			},
		},
		{
			"organizational scope with story",
			map[string]interface{}{
				"organization_id": uuid.NewString(),
				"story_id":        uuid.NewString(),
				"template_id":     uuid.NewString(),
				"scope":           newsletter.ScopeOrganizational,
				"subject":         "s",
			},
		},
		{
			"scheduled in the past",
			map[string]interface{}{
				"organization_id": uuid.NewString(),
				"template_id":     uuid.NewString(),
				"scope":           newsletter.ScopeOrganizational,
				"subject":         "s",
				"scheduled_at":    time.Now().Add(-time.Hour).Format(time.RFC3339),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/campaigns", tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestCreateCampaignUnknownStory(t *testing.T) {
	ts, mock := newTestServer(t)

	orgID := uuid.New()
	storyID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM newsletter_organizations").
		WithArgs(orgID).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "slug", "created_at", "updated_at"}).
			AddRow(orgID, "Hope Wells", "hope-wells", time.Now(), time.Now()))
	mock.ExpectQuery("SELECT (.+) FROM newsletter_stories").
		WithArgs(storyID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	resp := postJSON(t, ts.URL+"/api/campaigns", map[string]interface{}{
		"organization_id": orgID.String(),
		"story_id":        storyID.String(),
		"template_id":     uuid.NewString(),
		"scope":           newsletter.ScopeSpecific,
		"subject":         "Update",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	// Composition aborted before any campaign or event was written.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateCampaignRejectsForeignStory(t *testing.T) {
	ts, mock := newTestServer(t)

	orgID := uuid.New()
	otherOrgID := uuid.New()
	storyID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM newsletter_organizations").
		WithArgs(orgID).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "slug", "created_at", "updated_at"}).
			AddRow(orgID, "Hope Wells", "hope-wells", time.Now(), time.Now()))
	mock.ExpectQuery("SELECT (.+) FROM newsletter_stories").
		WithArgs(storyID).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "organization_id", "title", "slug", "photo_url", "goal_cents", "raised_cents", "created_at"}).
			AddRow(storyID, otherOrgID, "Clean Water", "clean-water", "", 100000, 75000, time.Now()))

	resp := postJSON(t, ts.URL+"/api/campaigns", map[string]interface{}{
		"organization_id": orgID.String(),
		"story_id":        storyID.String(),
		"template_id":     uuid.NewString(),
		"scope":           newsletter.ScopeSpecific,
		"subject":         "Update",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	// Composition aborted before any campaign or snapshot was written.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateScheduledCampaignRecordsNoEvents(t *testing.T) {
	ts, mock := newTestServer(t)

	orgID := uuid.New()
	storyID := uuid.New()
	tmplID := uuid.New()
	themeID := uuid.New()

	storyRow := func() *sqlmock.Rows {
		return sqlmock.NewRows(
			[]string{"id", "organization_id", "title", "slug", "photo_url", "goal_cents", "raised_cents", "created_at"}).
			AddRow(storyID, orgID, "Clean Water", "clean-water", "", 100000, 75000, time.Now())
	}

	mock.ExpectQuery("SELECT (.+) FROM newsletter_organizations").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "slug", "created_at", "updated_at"}).
			AddRow(orgID, "Hope Wells", "hope-wells", time.Now(), time.Now()))
	mock.ExpectQuery("SELECT (.+) FROM newsletter_stories").WillReturnRows(storyRow())
	mock.ExpectQuery("SELECT (.+) FROM newsletter_templates").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "theme_id", "blocks", "created_at"}).
			AddRow(tmplID, "story-update", themeID,
				[]byte(`[{"id":"`+uuid.NewString()+`","type":"text","order":1,"content":{"text":"Hi {{first_name}}"}}]`),
				time.Now()))
	mock.ExpectQuery("SELECT (.+) FROM newsletter_themes").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "primary_color", "secondary_color", "accent_color", "background_color", "border_color"}).
			AddRow(themeID, "default", "#111", "#222", "#333", "#fff", "#ddd"))
	mock.ExpectQuery("SELECT (.+) FROM newsletter_stories").WillReturnRows(storyRow())
	mock.ExpectQuery("SELECT (.+) FROM newsletter_subscribers").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "story_id", "email", "first_name", "status", "subscribed_at"}).
			AddRow(uuid.New(), storyID, "donor@example.com", "Dana", "active", time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO newsletter_campaigns").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO newsletter_campaign_recipients").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp := postJSON(t, ts.URL+"/api/campaigns", map[string]interface{}{
		"organization_id": orgID.String(),
		"story_id":        storyID.String(),
		"template_id":     tmplID.String(),
		"scope":           newsletter.ScopeSpecific,
		"subject":         "Update from {{organization_name}}",
		"scheduled_at":    time.Now().Add(2 * time.Hour).Format(time.RFC3339),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var created newsletter.Campaign
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.Status != newsletter.StatusScheduled {
		t.Errorf("status = %q, want scheduled", created.Status)
	}
	if created.TotalRecipients != 1 || created.TotalSent != 0 {
		t.Errorf("totals = %d/%d, want 1 recipients and 0 sent", created.TotalRecipients, created.TotalSent)
	}

	// No delivery events and no send path until the scheduler executes it.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetCampaignNotFound(t *testing.T) {
	ts, mock := newTestServer(t)

	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM newsletter_campaigns").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	resp, err := http.Get(ts.URL + "/api/campaigns/" + id.String())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListCampaignsRequiresOrg(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/campaigns")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCancelScheduleConflict(t *testing.T) {
	ts, mock := newTestServer(t)

	id := uuid.New()
	mock.ExpectExec("UPDATE newsletter_campaigns").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM newsletter_campaigns").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "organization_id", "story_id", "scope", "campaign_type", "subject",
			"html_content", "status", "scheduled_at", "total_recipients", "total_sent",
			"created_at", "sent_at",
		}).AddRow(id, uuid.New(), nil, newsletter.ScopeOrganizational, "newsletter", "s",
			"<html></html>", newsletter.StatusSent, nil, 10, 10, time.Now(), time.Now()))

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/campaigns/"+id.String()+"/schedule", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestUnsubscribeEndToEnd(t *testing.T) {
	ts, mock := newTestServer(t)

	personalizer := newsletter.NewPersonalizer("http://localhost:8080", "test-secret")
	storyID := uuid.New()
	campaign := &newsletter.Campaign{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		StoryID:        &storyID,
	}
	recipient := &newsletter.Recipient{ID: uuid.New(), Email: "jane@example.org"}

	url := personalizer.UnsubscribeURL(campaign, recipient)
	// The personalizer embeds its own base URL; swap in the test server's.
	path := url[len("http://localhost:8080"):]

	mock.ExpectExec("UPDATE newsletter_subscribers").
		WithArgs(recipient.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUnsubscribeRejectsForgedSignature(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/unsubscribe/bm90LXJlYWw=/deadbeefdeadbeef")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
