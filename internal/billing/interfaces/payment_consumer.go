package interfaces

import (
	"context"
	"errors"

	billing "building-cloud/internal/billing/domain"
	"building-cloud/internal/eventing"
	"building-cloud/internal/observability/logging"
	paymentevents "building-cloud/internal/payments/application/events"
)

const paymentConsumerName = "billing.settle_due_on_payment"

// DueSettler marks an apartment due paid.
type DueSettler interface {
	Settle(ctx context.Context, tenantID, dueID, orderID string) (*billing.ApartmentDue, error)
}

// PaymentCompletedConsumer settles the linked apartment due when a
// payment transaction completes.
type PaymentCompletedConsumer struct {
	ledger DueSettler
	logger logging.Logger
}

// NewPaymentCompletedConsumer constructs the consumer.
func NewPaymentCompletedConsumer(ledger DueSettler, logger logging.Logger) (*PaymentCompletedConsumer, error) {
	if ledger == nil {
		return nil, errors.New("payment consumer: nil ledger")
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &PaymentCompletedConsumer{ledger: ledger, logger: logger}, nil
}

// Register subscribes the consumer, deduplicated through processed when set.
func (c *PaymentCompletedConsumer) Register(bus eventing.Subscriber, processed eventing.ProcessedStore) {
	eventing.On(bus, paymentConsumerName, processed, c.Handle)
}

// Handle processes one StatusChanged event.
func (c *PaymentCompletedConsumer) Handle(ctx context.Context, evt paymentevents.StatusChanged) error {
	if evt.To != "completed" || evt.DueID == "" {
		return nil
	}
	due, err := c.ledger.Settle(ctx, evt.TenantID, evt.DueID, evt.OrderID)
	switch {
	case errors.Is(err, billing.ErrInvalidTransition):
		// Already paid by an earlier delivery or by hand.
		c.logger.WithFields(logging.Fields{
			"tenant_id": evt.TenantID,
			"due_id":    evt.DueID,
			"order_id":  evt.OrderID,
		}).Info("due already settled")
		return nil
	case errors.Is(err, billing.ErrNotFound):
		c.logger.WithFields(logging.Fields{
			"tenant_id": evt.TenantID,
			"due_id":    evt.DueID,
		}).Warn("payment completed for unknown due")
		return nil
	case err != nil:
		return err
	}
	c.logger.WithFields(logging.Fields{
		"tenant_id": due.TenantID,
		"due_id":    due.ID,
		"order_id":  evt.OrderID,
	}).Info("due settled by payment")
	return nil
}
