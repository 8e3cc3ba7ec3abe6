package newsletter

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestMarkSendingClaimsOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	id := uuid.New()
	store := NewStore(db)

	mock.ExpectExec("UPDATE newsletter_campaigns").
		WithArgs(id, StatusSending, StatusDraft, StatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := store.MarkSending(context.Background(), id)
	if err != nil {
		t.Fatalf("MarkSending: %v", err)
	}
	if !claimed {
		t.Error("first claim should win")
	}

	// A second claim hits the status guard and affects zero rows.
	mock.ExpectExec("UPDATE newsletter_campaigns").
		WithArgs(id, StatusSending, StatusDraft, StatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err = store.MarkSending(context.Background(), id)
	if err != nil {
		t.Fatalf("MarkSending: %v", err)
	}
	if claimed {
		t.Error("second claim must lose")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCancelScheduledOnlyFromScheduled(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	id := uuid.New()
	store := NewStore(db)

	mock.ExpectExec("UPDATE newsletter_campaigns").
		WithArgs(id, StatusCancelled, StatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 0))

	cancelled, err := store.CancelScheduled(context.Background(), id)
	if err != nil {
		t.Fatalf("CancelScheduled: %v", err)
	}
	if cancelled {
		t.Error("a campaign past scheduled must not be cancellable")
	}
}

func TestCreateCampaignFreezesSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store := NewStore(db)
	storyID := uuid.New()
	campaign := &Campaign{
		OrganizationID: uuid.New(),
		StoryID:        &storyID,
		Scope:          ScopeSpecific,
		Subject:        "Update",
		HTMLContent:    "<html></html>",
	}
	recipients := []Recipient{
		{ID: uuid.New(), StoryID: storyID, Email: "a@example.com", FirstName: "A"},
		{ID: uuid.New(), StoryID: storyID, Email: "b@example.com", FirstName: "B"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO newsletter_campaigns").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO newsletter_campaign_recipients").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO newsletter_campaign_recipients").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.CreateCampaign(context.Background(), campaign, recipients); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}

	if campaign.ID == uuid.Nil {
		t.Error("campaign ID should be assigned")
	}
	if campaign.TotalRecipients != 2 {
		t.Errorf("total recipients = %d, want 2", campaign.TotalRecipients)
	}
	if campaign.Status != StatusDraft {
		t.Errorf("status = %q, want draft", campaign.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateCampaignRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store := NewStore(db)
	campaign := &Campaign{OrganizationID: uuid.New(), Scope: ScopeOrganizational, Subject: "s", HTMLContent: "x"}
	recipients := []Recipient{{ID: uuid.New(), Email: "a@example.com"}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO newsletter_campaigns").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO newsletter_campaign_recipients").
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	if err := store.CreateCampaign(context.Background(), campaign, recipients); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAppendDeliveryEventIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store := NewStore(db)
	ev := &DeliveryEvent{
		CampaignID:  uuid.New(),
		RecipientID: uuid.New(),
		EventType:   EventSent,
		Payload:     JSON{"message_id": "abc"},
	}

	// Conflict path: zero rows affected, no error.
	mock.ExpectExec("INSERT INTO newsletter_delivery_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.AppendDeliveryEvent(context.Background(), ev); err != nil {
		t.Fatalf("AppendDeliveryEvent: %v", err)
	}
	if ev.ID == uuid.Nil {
		t.Error("event ID should be assigned")
	}
	if ev.CreatedAt.IsZero() {
		t.Error("created_at should be assigned")
	}
}

func TestCountEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store := NewStore(db)
	campaignID := uuid.New()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(campaignID, EventSent).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := store.CountEvents(context.Background(), campaignID, EventSent)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 4 {
		t.Errorf("count = %d, want 4", n)
	}
}

func TestClaimDueScheduled(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store := NewStore(db)
	first := uuid.New()
	second := uuid.New()

	mock.ExpectQuery("UPDATE newsletter_campaigns").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(first).AddRow(second))

	ids, err := store.ClaimDueScheduled(context.Background(), 10)
	if err != nil {
		t.Fatalf("ClaimDueScheduled: %v", err)
	}
	if len(ids) != 2 || ids[0] != first || ids[1] != second {
		t.Errorf("ids = %v", ids)
	}
}

func TestUpdateContent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store := NewStore(db)
	id := uuid.New()

	mock.ExpectExec("UPDATE newsletter_campaigns").
		WithArgs(id, "New subject", "<html>v2</html>").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpdateContent(context.Background(), id, "New subject", "<html>v2</html>"); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
}

func TestFinalize(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store := NewStore(db)
	id := uuid.New()
	sentAt := time.Now()

	mock.ExpectExec("UPDATE newsletter_campaigns").
		WithArgs(id, StatusSent, sentAt, 42).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Finalize(context.Background(), id, sentAt, 42); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
