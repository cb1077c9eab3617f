package payments

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, time.March, 5, 14, 30, 15, 0, time.UTC)

func newPending(t *testing.T) *Transaction {
	t.Helper()
	tx, err := NewTransaction("tx-1", "tenant-1", "YNT-1", "tok", decimal.RequireFromString("367.35"), "TRY", Customer{Name: "Ayse"}, EnvironmentTest, testNow)
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	return tx
}

func TestNewTransactionRejectsNonPositiveAmount(t *testing.T) {
	_, err := NewTransaction("tx", "t", "o", "s", decimal.Zero, "TRY", Customer{}, EnvironmentTest, testNow)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestApplyProviderStatus(t *testing.T) {
	cases := map[string]Status{
		"COMPLETED": StatusCompleted,
		"CANCELED":  StatusCancelled,
		"failed":    StatusFailed,
	}
	for remote, want := range cases {
		tx := newPending(t)
		change := tx.ApplyProviderStatus(remote, testNow.Add(time.Minute))
		if change == nil || tx.Status != want {
			t.Fatalf("%s: expected %s, got %s", remote, want, tx.Status)
		}
		if change.From != StatusPending || change.To != want {
			t.Fatalf("%s: unexpected change %+v", remote, change)
		}
	}

	tx := newPending(t)
	if change := tx.ApplyProviderStatus("OPEN", testNow); change != nil || tx.Status != StatusPending {
		t.Fatalf("expected pending to stay on unknown remote status, got %s", tx.Status)
	}
}

func TestApplyProviderStatusOnlyFromPending(t *testing.T) {
	tx := newPending(t)
	tx.ApplyProviderStatus("COMPLETED", testNow)
	if change := tx.ApplyProviderStatus("FAILED", testNow); change != nil {
		t.Fatalf("expected completed to ignore remote FAILED")
	}
	if tx.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", tx.Status)
	}
}

func TestMarkRefunded(t *testing.T) {
	tx := newPending(t)
	if _, err := tx.MarkRefunded(tx.Amount, testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for pending refund, got %v", err)
	}
	tx.ApplyProviderStatus("COMPLETED", testNow)
	change, err := tx.MarkRefunded(tx.Amount, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if tx.Status != StatusRefunded || tx.RefundedAt == nil || !tx.RefundedAmount.Equal(tx.Amount) {
		t.Fatalf("unexpected refunded transaction: %+v", tx)
	}
	if change.From != StatusCompleted || change.To != StatusRefunded {
		t.Fatalf("unexpected change: %+v", change)
	}
	if !tx.Status.Terminal() {
		t.Fatalf("expected refunded to be terminal")
	}
	if _, err := tx.MarkRefunded(tx.Amount, testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected second refund to be invalid, got %v", err)
	}
}

func TestCheckRefundAmount(t *testing.T) {
	tx := newPending(t)
	amount, err := tx.CheckRefundAmount(nil)
	if err != nil || !amount.Equal(tx.Amount) {
		t.Fatalf("expected full amount default, got %s %v", amount, err)
	}
	over := decimal.RequireFromString("400")
	if _, err := tx.CheckRefundAmount(&over); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestNewOrderID(t *testing.T) {
	got := NewOrderID(testNow, "a1b2c3d4-e5f6")
	if got != "YNT-20260305143015-A1B2C3D4" {
		t.Fatalf("expected YNT-20260305143015-A1B2C3D4, got %s", got)
	}
}
