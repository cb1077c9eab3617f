package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	notify "building-cloud/internal/notify/domain"
	"building-cloud/internal/notify/template"
)

var templateRowColumns = []string{
	"id", "scope", "tenant_id", "name", "subject", "body_html", "body_text", "variables",
	"description", "is_active", "created_at", "updated_at",
}

func TestTemplateStoreFind(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM notification_templates").
		WithArgs("tenant_override", "tenant-a", "welcome").
		WillReturnRows(sqlmock.NewRows(templateRowColumns).AddRow(
			"tpl-1", "tenant_override", "tenant-a", "welcome", "Hello", "<p>Hi {{user_name}}</p>", "", `["user_name"]`,
			nil, true, now, now,
		))
	mock.ExpectQuery("FROM notification_templates").
		WithArgs("shared_custom", "", "welcome").
		WillReturnRows(sqlmock.NewRows(templateRowColumns))

	store := NewTemplateStore(db)
	got, err := store.Find(context.Background(), template.ScopeTenantOverride, "tenant-a", "welcome")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil || got.Scope != template.ScopeTenantOverride || len(got.Variables) != 1 {
		t.Fatalf("unexpected template: %+v", got)
	}
	missing, err := store.Find(context.Background(), template.ScopeSharedCustom, "", "welcome")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing template")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTemplateStoreSaveUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO notification_templates").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("tpl-old", created, updated))

	tpl := &template.Template{Scope: template.ScopeSharedCustom, Name: "announcement", Subject: "News", Active: true}
	if err := NewTemplateStore(db).Save(context.Background(), tpl); err != nil {
		t.Fatalf("save: %v", err)
	}
	if tpl.ID != "tpl-old" || !tpl.CreatedAt.Equal(created) {
		t.Fatalf("expected existing id and created_at, got %s %s", tpl.ID, tpl.CreatedAt)
	}
}

func TestTemplateStoreDeleteMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("DELETE FROM notification_templates").
		WithArgs("shared_custom", "", "nope").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewTemplateStore(db).Delete(context.Background(), template.ScopeSharedCustom, "", "nope")
	if !errors.Is(err, template.ErrTemplateNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMailLogRepositoryRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO mail_logs").
		WithArgs("log-1", "tenant-a", []byte(`["a@example.com"]`), "Dues", "payment_reminder", "failed", "smtp rejected", at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM mail_logs").
		WithArgs("tenant-a", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "recipients", "subject", "template_name", "status", "error", "created_at"}).
			AddRow("log-1", "tenant-a", `["a@example.com"]`, "Dues", "payment_reminder", "failed", "smtp rejected", at))

	repo := NewMailLogRepository(db)
	err = repo.Append(context.Background(), notify.MailLogEntry{
		ID:           "log-1",
		TenantID:     "tenant-a",
		Recipients:   []string{"a@example.com"},
		Subject:      "Dues",
		TemplateName: "payment_reminder",
		Status:       notify.MailFailed,
		Error:        "smtp rejected",
		CreatedAt:    at,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, err := repo.List(context.Background(), "tenant-a", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != notify.MailFailed || entries[0].Recipients[0] != "a@example.com" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestDeliveryLedgerRecordAndLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	key := notify.DeliveryKey{TenantID: "tenant-a", DefinitionID: "def-1", Channel: notify.ChannelEmail}
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO notification_deliveries .* VALUES \(\$1, \$2, \$3, \$5, \$4\), \(\$1, \$2, \$3, \$6, \$4\)`).
		WithArgs("tenant-a", "def-1", "email", at, "r-1", "r-2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("FROM notification_deliveries").
		WithArgs("tenant-a", "def-1", "email").
		WillReturnRows(sqlmock.NewRows([]string{"recipient_id"}).AddRow("r-1").AddRow("r-2"))

	ledger := NewDeliveryLedger(db)
	if err := ledger.Record(context.Background(), key, []string{"r-1", "r-2"}, at); err != nil {
		t.Fatalf("record: %v", err)
	}
	delivered, err := ledger.Delivered(context.Background(), key)
	if err != nil {
		t.Fatalf("delivered: %v", err)
	}
	if _, ok := delivered["r-2"]; !ok || len(delivered) != 2 {
		t.Fatalf("unexpected delivered set: %v", delivered)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
