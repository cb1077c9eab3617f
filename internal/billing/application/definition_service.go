package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"building-cloud/internal/billing/application/events"
	billing "building-cloud/internal/billing/domain"
	masterdata "building-cloud/internal/masterdata/domain"
	"building-cloud/internal/observability/logging"
	"building-cloud/internal/observability/metrics"
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

// TenantReader loads tenants.
type TenantReader interface {
	Get(ctx context.Context, id string) (*masterdata.Tenant, error)
}

// CreateDefinition is the input for a new monthly definition.
type CreateDefinition struct {
	TenantID           string
	Period             string
	Items              []billing.ExpenseItem
	DueDate            time.Time
	Currency           string
	PerApartmentAmount *decimal.Decimal
}

// UpdateDefinition replaces the editable fields of an unsent definition.
type UpdateDefinition struct {
	Items              []billing.ExpenseItem
	DueDate            time.Time
	PerApartmentAmount *decimal.Decimal
}

// DefinitionService manages monthly due definitions.
type DefinitionService struct {
	repo      billing.DefinitionRepository
	tenants   TenantReader
	clock     Clock
	publisher EventPublisher
	newID     func() string
	logger    logging.Logger
}

// DefinitionOption configures the service.
type DefinitionOption func(*DefinitionService)

// WithClock overrides the clock.
func WithClock(clock Clock) DefinitionOption {
	return func(s *DefinitionService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPublisher enables domain events.
func WithPublisher(publisher EventPublisher) DefinitionOption {
	return func(s *DefinitionService) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

// WithIDGenerator overrides id generation.
func WithIDGenerator(fn func() string) DefinitionOption {
	return func(s *DefinitionService) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) DefinitionOption {
	return func(s *DefinitionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewDefinitionService constructs the service.
func NewDefinitionService(repo billing.DefinitionRepository, tenants TenantReader, opts ...DefinitionOption) (*DefinitionService, error) {
	if repo == nil {
		return nil, errors.New("definition service: nil repository")
	}
	if tenants == nil {
		return nil, errors.New("definition service: nil tenant reader")
	}
	s := &DefinitionService{
		repo:    repo,
		tenants: tenants,
		clock:   systemClock{},
		newID:   uuid.NewString,
		logger:  logging.NewDiscard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create validates, allocates and stores a definition.
func (s *DefinitionService) Create(ctx context.Context, cmd CreateDefinition) (*billing.DueDefinition, error) {
	tenant, err := s.tenant(ctx, cmd.TenantID)
	if err != nil {
		return nil, err
	}
	currency := cmd.Currency
	if currency == "" {
		currency = tenant.Currency
	}
	def, err := billing.NewDueDefinition(s.newID(), billing.DefinitionInput{
		TenantID:             tenant.ID,
		Period:               cmd.Period,
		Items:                cmd.Items,
		DueDate:              cmd.DueDate,
		Currency:             currency,
		ApartmentCount:       tenant.ApartmentCount,
		SuppliedPerApartment: cmd.PerApartmentAmount,
	}, s.clock.Now())
	if err != nil {
		metrics.IncDueDefinitionOp("create", metrics.ResultError)
		return nil, err
	}
	if err := s.repo.Create(ctx, def); err != nil {
		metrics.IncDueDefinitionOp("create", metrics.ResultError)
		return nil, err
	}
	metrics.IncDueDefinitionOp("create", metrics.ResultSuccess)
	s.logger.WithFields(logging.Fields{
		"tenant_id":     def.TenantID,
		"definition_id": def.ID,
		"period":        def.Period,
		"total":         def.TotalAmount.String(),
		"per_apartment": def.PerApartmentAmount.String(),
	}).Info("due definition created")
	return def, nil
}

// Update revises an unsent definition.
func (s *DefinitionService) Update(ctx context.Context, tenantID, id string, cmd UpdateDefinition) (*billing.DueDefinition, error) {
	def, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	err = def.Revise(billing.DefinitionInput{
		TenantID:             tenantID,
		Period:               string(def.Period),
		Items:                cmd.Items,
		DueDate:              cmd.DueDate,
		Currency:             def.Currency,
		ApartmentCount:       tenant.ApartmentCount,
		SuppliedPerApartment: cmd.PerApartmentAmount,
	}, s.clock.Now())
	if err != nil {
		metrics.IncDueDefinitionOp("update", metrics.ResultError)
		return nil, err
	}
	if err := s.repo.Update(ctx, def); err != nil {
		metrics.IncDueDefinitionOp("update", metrics.ResultError)
		return nil, err
	}
	metrics.IncDueDefinitionOp("update", metrics.ResultSuccess)
	return def, nil
}

// Delete removes an unsent definition.
func (s *DefinitionService) Delete(ctx context.Context, tenantID, id string) error {
	def, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if def.IsSent {
		return billing.ErrAlreadySent
	}
	if err := s.repo.Delete(ctx, tenantID, id); err != nil {
		metrics.IncDueDefinitionOp("delete", metrics.ResultError)
		return err
	}
	metrics.IncDueDefinitionOp("delete", metrics.ResultSuccess)
	return nil
}

// Get loads a definition of the tenant.
func (s *DefinitionService) Get(ctx context.Context, tenantID, id string) (*billing.DueDefinition, error) {
	if tenantID == "" || id == "" {
		return nil, billing.ErrNotFound
	}
	def, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, billing.ErrNotFound
	}
	return def, nil
}

// List lists the tenant's definitions, newest period first.
func (s *DefinitionService) List(ctx context.Context, tenantID string, filter billing.ListFilter) ([]billing.DueDefinition, error) {
	return s.repo.List(ctx, tenantID, filter)
}

// BindingVariables returns the template variables a definition contributes
// to a notification dispatch.
func (s *DefinitionService) BindingVariables(ctx context.Context, tenantID, id string) (map[string]string, error) {
	def, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	precision := billing.CurrencyPrecision(def.Currency)
	return map[string]string{
		"period":        string(def.Period),
		"month":         string(def.Period),
		"amount":        def.PerApartmentAmount.StringFixed(precision),
		"per_apartment": def.PerApartmentAmount.StringFixed(precision),
		"total_amount":  def.TotalAmount.StringFixed(precision),
		"currency":      def.Currency,
		"due_date":      def.DueDate.Format("2006-01-02"),
	}, nil
}

// MarkSent flags a definition as dispatched after a fan-out delivered at least once.
func (s *DefinitionService) MarkSent(ctx context.Context, tenantID, id string, sentCount int) error {
	def, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if !def.MarkSent(now) {
		return nil
	}
	if err := s.repo.MarkSent(ctx, tenantID, id, now); err != nil {
		return fmt.Errorf("mark definition sent: %w", err)
	}
	metrics.IncDueDefinitionOp("dispatch", metrics.ResultSuccess)
	if s.publisher != nil {
		evt := events.DueDefinitionSent{
			DefinitionID: id,
			TenantID:     tenantID,
			Period:       string(def.Period),
			SentCount:    sentCount,
			OccurredAt:   now,
		}
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.logger.WithError(err).WithField("definition_id", id).Warn("publish definition sent failed")
		}
	}
	return nil
}

func (s *DefinitionService) tenant(ctx context.Context, tenantID string) (*masterdata.Tenant, error) {
	if tenantID == "" {
		return nil, masterdata.ErrTenantNotFound
	}
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, masterdata.ErrTenantNotFound
	}
	return tenant, nil
}
