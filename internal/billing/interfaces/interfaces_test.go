package interfaces

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	billing "building-cloud/internal/billing/domain"
	"building-cloud/internal/eventing"
	paymentevents "building-cloud/internal/payments/application/events"
)

type settleRecorder struct {
	calls []string
	err   error
}

func (s *settleRecorder) Settle(ctx context.Context, tenantID, dueID, orderID string) (*billing.ApartmentDue, error) {
	s.calls = append(s.calls, tenantID+"|"+dueID+"|"+orderID)
	if s.err != nil {
		return nil, s.err
	}
	return &billing.ApartmentDue{ID: dueID, TenantID: tenantID, Status: billing.DuePaid}, nil
}

func TestPaymentConsumerSettlesCompletedDue(t *testing.T) {
	ledger := &settleRecorder{}
	consumer, err := NewPaymentCompletedConsumer(ledger, nil)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	bus := eventing.NewInMemoryBus()
	consumer.Register(bus, nil)

	ctx := context.Background()
	_ = bus.Publish(ctx, paymentevents.StatusChanged{TenantID: "tenant-1", DueID: "due-1", OrderID: "YNT-1", To: "completed"})
	_ = bus.Publish(ctx, paymentevents.StatusChanged{TenantID: "tenant-1", DueID: "due-2", OrderID: "YNT-2", To: "failed"})
	_ = bus.Publish(ctx, paymentevents.StatusChanged{TenantID: "tenant-1", OrderID: "YNT-3", To: "completed"})

	if len(ledger.calls) != 1 || ledger.calls[0] != "tenant-1|due-1|YNT-1" {
		t.Fatalf("expected single settle for due-1, got %v", ledger.calls)
	}
}

func TestPaymentConsumerIgnoresAlreadyPaid(t *testing.T) {
	ledger := &settleRecorder{err: billing.ErrInvalidTransition}
	consumer, _ := NewPaymentCompletedConsumer(ledger, nil)
	err := consumer.Handle(context.Background(), paymentevents.StatusChanged{TenantID: "t", DueID: "d", To: "completed"})
	if err != nil {
		t.Fatalf("expected already-paid due to be ignored, got %v", err)
	}
}

func exportInput() ExportInput {
	paidAt := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	return ExportInput{
		BuildingName: "Lale Apartments",
		Definition: &billing.DueDefinition{
			ID:                 "def-1",
			Period:             "2026-03",
			Items:              []billing.ExpenseItem{{Name: "Cleaning", Amount: decimal.RequireFromString("18000")}},
			TotalAmount:        decimal.RequireFromString("18000"),
			PerApartmentAmount: decimal.RequireFromString("367.35"),
			ApartmentCount:     49,
			Currency:           "TRY",
			DueDate:            time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC),
		},
		Dues: []billing.ApartmentDue{
			{ApartmentID: "apt-1", Amount: decimal.RequireFromString("367.35"), Status: billing.DuePaid, PaidAt: &paidAt},
			{ApartmentID: "apt-2", Amount: decimal.RequireFromString("367.35"), Status: billing.DueUnpaid},
		},
		Labels: map[string]string{"apt-1": "A-1"},
	}
}

func TestBuildDefinitionPDF(t *testing.T) {
	body, contentType, err := BuildDefinitionExport(FormatPDF, exportInput())
	if err != nil {
		t.Fatalf("pdf: %v", err)
	}
	if contentType != "application/pdf" || !bytes.HasPrefix(body, []byte("%PDF")) {
		t.Fatalf("expected pdf output, got %s", contentType)
	}
}

func TestBuildDefinitionXLSX(t *testing.T) {
	body, _, err := BuildDefinitionExport(FormatXLSX, exportInput())
	if err != nil {
		t.Fatalf("xlsx: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	got, err := f.GetCellValue("dues", "A2")
	if err != nil || got != "A-1" {
		t.Fatalf("expected apartment label A-1, got %q %v", got, err)
	}
	got, _ = f.GetCellValue("dues", "A3")
	if got != "apt-2" {
		t.Fatalf("expected fallback to apartment id, got %q", got)
	}
	period, _ := f.GetCellValue("summary", "B2")
	if period != "2026-03" {
		t.Fatalf("expected period 2026-03, got %q", period)
	}
}

func TestBuildDefinitionExportUnknownFormat(t *testing.T) {
	if _, _, err := BuildDefinitionExport("csv", exportInput()); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
