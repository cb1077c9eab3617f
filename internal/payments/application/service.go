package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"building-cloud/internal/observability/logging"
	"building-cloud/internal/observability/metrics"
	"building-cloud/internal/payments/application/events"
	payments "building-cloud/internal/payments/domain"
	"building-cloud/internal/payments/gateway"
	"building-cloud/internal/providers"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// ConfigSource returns a tenant's provider config snapshot.
type ConfigSource interface {
	Get(ctx context.Context, tenantID string) (*providers.TenantConfig, error)
}

// Gateway is the remote payment provider.
type Gateway interface {
	CreateSession(ctx context.Context, cfg providers.GatewayConfig, req gateway.SessionRequest) (gateway.Response, error)
	QuerySession(ctx context.Context, cfg providers.GatewayConfig, orderID, sessionToken string) (gateway.Response, error)
	Refund(ctx context.Context, cfg providers.GatewayConfig, orderID string, amount decimal.Decimal) (gateway.Response, error)
	PaymentSystems(ctx context.Context, cfg providers.GatewayConfig) (gateway.Response, error)
	PaymentURL(env providers.Environment, sessionToken string) string
}

// DueReader resolves the outstanding amount of an apartment due.
type DueReader interface {
	DueAmount(ctx context.Context, tenantID, dueID string) (decimal.Decimal, string, error)
}

// CreateSession opens a checkout for an amount or an apartment due.
type CreateSession struct {
	TenantID  string
	OrderID   string
	Amount    *decimal.Decimal
	Currency  string
	Customer  payments.Customer
	ReturnURL string
	CancelURL string
	DueID     string
}

// Session is a persisted pending transaction plus where to send the payer.
type Session struct {
	Transaction *payments.Transaction `json:"transaction"`
	PaymentURL  string                `json:"payment_url"`
}

// Service drives payment transactions against the gateway and keeps the
// local state machine in step with it.
type Service struct {
	repo      payments.Repository
	configs   ConfigSource
	gateway   Gateway
	dues      DueReader
	publisher EventPublisher
	clock     Clock
	newID     func() string
	logger    logging.Logger
}

// Option configures the service.
type Option func(*Service)

// WithDueReader enables due-linked sessions without an explicit amount.
func WithDueReader(dues DueReader) Option {
	return func(s *Service) {
		if dues != nil {
			s.dues = dues
		}
	}
}

// WithPublisher enables status change events.
func WithPublisher(publisher EventPublisher) Option {
	return func(s *Service) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator overrides id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs the payment service.
func NewService(repo payments.Repository, configs ConfigSource, gw Gateway, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("payment service: nil repository")
	}
	if configs == nil {
		return nil, errors.New("payment service: nil config source")
	}
	if gw == nil {
		return nil, errors.New("payment service: nil gateway")
	}
	s := &Service{
		repo:    repo,
		configs: configs,
		gateway: gw,
		clock:   systemClock{},
		newID:   uuid.NewString,
		logger:  logging.NewDiscard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateSession opens a remote session and persists a pending transaction.
// Nothing is stored when the gateway rejects or cannot be reached.
func (s *Service) CreateSession(ctx context.Context, cmd CreateSession) (*Session, error) {
	cfg, err := s.settings(ctx, cmd.TenantID)
	if err != nil {
		return nil, err
	}
	amount, currency, err := s.sessionAmount(ctx, cmd)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		orderID = payments.NewOrderID(now, s.newID())
	} else {
		existing, err := s.repo.FindByOrderID(ctx, cmd.TenantID, orderID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, payments.ErrDuplicateOrder
		}
	}

	resp, err := s.gateway.CreateSession(ctx, cfg, gateway.SessionRequest{
		OrderID:   orderID,
		Amount:    amount,
		Currency:  currency,
		Customer:  cmd.Customer,
		ReturnURL: cmd.ReturnURL,
		CancelURL: cmd.CancelURL,
	})
	if err != nil {
		s.logger.WithFields(logging.Fields{
			"tenant_id": cmd.TenantID,
			"order_id":  orderID,
			"kind":      providers.Kind(err),
		}).WithError(err).Warn("payment session rejected")
		return nil, err
	}

	tx, err := payments.NewTransaction(s.newID(), cmd.TenantID, orderID, resp.SessionToken, amount, currency, cmd.Customer, payments.Environment(cfg.Environment), now)
	if err != nil {
		return nil, err
	}
	tx.DueID = cmd.DueID
	tx.ProviderResponse = resp.Raw
	if err := s.repo.Create(ctx, tx); err != nil {
		return nil, err
	}
	metrics.IncPaymentTransition(string(payments.StatusPending))
	s.logger.WithFields(logging.Fields{
		"tenant_id":   tx.TenantID,
		"order_id":    tx.OrderID,
		"amount":      tx.Amount.String(),
		"environment": tx.Environment,
	}).Info("payment session created")
	return &Session{Transaction: tx, PaymentURL: s.gateway.PaymentURL(cfg.Environment, resp.SessionToken)}, nil
}

// Query reconciles the local transaction with the remote session. Only a
// pending transaction can move, and repeated queries against an unchanged
// session write nothing. Credentials and endpoint both come from the
// tenant's current gateway config.
func (s *Service) Query(ctx context.Context, tenantID, orderID, sessionToken string) (*payments.Transaction, error) {
	tx, err := s.find(ctx, tenantID, orderID, sessionToken)
	if err != nil {
		return nil, err
	}
	cfg, err := s.settings(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway.QuerySession(ctx, cfg, tx.OrderID, tx.SessionToken)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	change := tx.ApplyProviderStatus(resp.SessionStatus, now)
	if change == nil {
		return tx, nil
	}
	tx.ProviderResponse = resp.Raw
	if err := s.repo.Save(ctx, tx, change); err != nil {
		return nil, err
	}
	s.transitioned(ctx, tx, change)
	return tx, nil
}

// Refund refunds a transaction in full unless amount is given. A rejected
// refund leaves the local record untouched.
func (s *Service) Refund(ctx context.Context, tenantID, orderID string, amount *decimal.Decimal) (*payments.Transaction, error) {
	tx, err := s.find(ctx, tenantID, orderID, "")
	if err != nil {
		return nil, err
	}
	refundAmount, err := tx.CheckRefundAmount(amount)
	if err != nil {
		return nil, err
	}
	cfg, err := s.settings(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway.Refund(ctx, cfg, tx.OrderID, refundAmount)
	if err != nil {
		return nil, err
	}
	change, err := tx.MarkRefunded(refundAmount, s.clock.Now())
	if err != nil {
		s.logger.WithFields(logging.Fields{
			"tenant_id": tenantID,
			"order_id":  tx.OrderID,
			"status":    tx.Status,
		}).Error("gateway accepted refund for a transaction that is not completed locally")
		return nil, err
	}
	tx.ProviderResponse = resp.Raw
	if err := s.repo.Save(ctx, tx, change); err != nil {
		return nil, err
	}
	s.transitioned(ctx, tx, change)
	return tx, nil
}

// TestConnection checks the tenant's gateway credentials and returns the
// merchant's payment systems.
func (s *Service) TestConnection(ctx context.Context, tenantID string) (json.RawMessage, error) {
	cfg, err := s.settings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	resp, err := s.gateway.PaymentSystems(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(resp.PaymentSystems) == 0 {
		return json.RawMessage("[]"), nil
	}
	return resp.PaymentSystems, nil
}

// Get returns a transaction by order id.
func (s *Service) Get(ctx context.Context, tenantID, orderID string) (*payments.Transaction, error) {
	return s.find(ctx, tenantID, orderID, "")
}

// List returns a tenant's transactions, newest first.
func (s *Service) List(ctx context.Context, tenantID string, filter payments.ListFilter) ([]payments.Transaction, error) {
	if tenantID == "" {
		return nil, errors.New("payment service: empty tenant id")
	}
	return s.repo.List(ctx, tenantID, filter)
}

// History returns the status changes of a transaction, oldest first.
func (s *Service) History(ctx context.Context, tenantID, orderID string) ([]payments.StatusChange, error) {
	tx, err := s.find(ctx, tenantID, orderID, "")
	if err != nil {
		return nil, err
	}
	return s.repo.History(ctx, tenantID, tx.ID)
}

func (s *Service) settings(ctx context.Context, tenantID string) (providers.GatewayConfig, error) {
	if tenantID == "" {
		return providers.GatewayConfig{}, errors.New("payment service: empty tenant id")
	}
	cfg, err := s.configs.Get(ctx, tenantID)
	if err != nil {
		return providers.GatewayConfig{}, err
	}
	return cfg.GatewaySettings()
}

func (s *Service) sessionAmount(ctx context.Context, cmd CreateSession) (decimal.Decimal, string, error) {
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if cmd.DueID != "" && s.dues != nil {
		dueAmount, dueCurrency, err := s.dues.DueAmount(ctx, cmd.TenantID, cmd.DueID)
		if err != nil {
			return decimal.Zero, "", err
		}
		if cmd.Amount != nil && !cmd.Amount.Equal(dueAmount) {
			return decimal.Zero, "", fmt.Errorf("%w: due %s is %s", payments.ErrInvalidAmount, cmd.DueID, dueAmount.StringFixed(2))
		}
		if currency == "" {
			currency = dueCurrency
		}
		return dueAmount, defaultCurrency(currency), nil
	}
	if cmd.Amount == nil || !cmd.Amount.IsPositive() {
		return decimal.Zero, "", payments.ErrInvalidAmount
	}
	return *cmd.Amount, defaultCurrency(currency), nil
}

func defaultCurrency(currency string) string {
	if currency == "" {
		return "TRY"
	}
	return currency
}

func (s *Service) find(ctx context.Context, tenantID, orderID, sessionToken string) (*payments.Transaction, error) {
	if tenantID == "" {
		return nil, errors.New("payment service: empty tenant id")
	}
	var (
		tx  *payments.Transaction
		err error
	)
	switch {
	case orderID != "":
		tx, err = s.repo.FindByOrderID(ctx, tenantID, orderID)
	case sessionToken != "":
		tx, err = s.repo.FindBySessionToken(ctx, tenantID, sessionToken)
	default:
		return nil, payments.ErrMissingReference
	}
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, payments.ErrNotFound
	}
	return tx, nil
}

func (s *Service) transitioned(ctx context.Context, tx *payments.Transaction, change *payments.StatusChange) {
	metrics.IncPaymentTransition(string(change.To))
	s.logger.WithFields(logging.Fields{
		"tenant_id": tx.TenantID,
		"order_id":  tx.OrderID,
		"from":      change.From,
		"to":        change.To,
	}).Info("payment status changed")
	if s.publisher == nil {
		return
	}
	evt := events.StatusChanged{
		TransactionID: tx.ID,
		TenantID:      tx.TenantID,
		OrderID:       tx.OrderID,
		DueID:         tx.DueID,
		From:          string(change.From),
		To:            string(change.To),
		Amount:        tx.Amount.String(),
		Currency:      tx.Currency,
		OccurredAt:    change.OccurredAt,
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.WithError(err).WithField("order_id", tx.OrderID).Warn("publish payment status failed")
	}
}
