package application

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"building-cloud/internal/billing/application/events"
	billing "building-cloud/internal/billing/domain"
	masterdata "building-cloud/internal/masterdata/domain"
	"building-cloud/internal/observability/logging"
	"building-cloud/internal/observability/metrics"
)

// ApartmentLister lists a tenant's apartments.
type ApartmentLister interface {
	ListByTenant(ctx context.Context, tenantID string) ([]masterdata.Apartment, error)
}

// ResidentLister lists a tenant's active residents.
type ResidentLister interface {
	ListActive(ctx context.Context, tenantID string) ([]masterdata.Resident, error)
}

// LedgerService manages per-apartment dues generated from definitions.
type LedgerService struct {
	defs       billing.DefinitionRepository
	dues       billing.ApartmentDueRepository
	apartments ApartmentLister
	residents  ResidentLister
	clock      Clock
	publisher  EventPublisher
	newID      func() string
	logger     logging.Logger
}

// LedgerOption configures the ledger service.
type LedgerOption func(*LedgerService)

// WithLedgerClock overrides the clock.
func WithLedgerClock(clock Clock) LedgerOption {
	return func(s *LedgerService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLedgerPublisher enables settlement events.
func WithLedgerPublisher(publisher EventPublisher) LedgerOption {
	return func(s *LedgerService) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

// WithLedgerLogger sets the logger.
func WithLedgerLogger(logger logging.Logger) LedgerOption {
	return func(s *LedgerService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewLedgerService constructs the ledger service.
func NewLedgerService(defs billing.DefinitionRepository, dues billing.ApartmentDueRepository, apartments ApartmentLister, residents ResidentLister, opts ...LedgerOption) (*LedgerService, error) {
	if defs == nil {
		return nil, errors.New("ledger service: nil definition repository")
	}
	if dues == nil {
		return nil, errors.New("ledger service: nil due repository")
	}
	if apartments == nil {
		return nil, errors.New("ledger service: nil apartment lister")
	}
	s := &LedgerService{
		defs:       defs,
		dues:       dues,
		apartments: apartments,
		residents:  residents,
		clock:      systemClock{},
		newID:      uuid.NewString,
		logger:     logging.NewDiscard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GenerateResult reports a generation run.
type GenerateResult struct {
	Created int                    `json:"created"`
	Dues    []billing.ApartmentDue `json:"dues"`
}

// Generate creates one unpaid due per apartment for the definition.
// Apartments that already have a due for the period are left alone.
func (s *LedgerService) Generate(ctx context.Context, tenantID, definitionID string) (GenerateResult, error) {
	def, err := s.definition(ctx, tenantID, definitionID)
	if err != nil {
		return GenerateResult{}, err
	}
	apartments, err := s.apartments.ListByTenant(ctx, tenantID)
	if err != nil {
		return GenerateResult{}, err
	}
	occupant := make(map[string]string)
	if s.residents != nil {
		residents, err := s.residents.ListActive(ctx, tenantID)
		if err != nil {
			return GenerateResult{}, err
		}
		for _, r := range residents {
			if r.ApartmentID == "" {
				continue
			}
			if _, ok := occupant[r.ApartmentID]; !ok {
				occupant[r.ApartmentID] = r.ID
			}
		}
	}

	now := s.clock.Now()
	dues := make([]billing.ApartmentDue, 0, len(apartments))
	for _, apt := range apartments {
		dues = append(dues, billing.NewApartmentDue(s.newID(), def, apt.ID, occupant[apt.ID], now))
	}
	created, err := s.dues.CreateMany(ctx, dues)
	if err != nil {
		return GenerateResult{}, err
	}
	stored, err := s.dues.ListByDefinition(ctx, tenantID, definitionID)
	if err != nil {
		return GenerateResult{}, err
	}
	s.logger.WithFields(logging.Fields{
		"tenant_id":     tenantID,
		"definition_id": definitionID,
		"created":       created,
	}).Info("apartment dues generated")
	return GenerateResult{Created: created, Dues: stored}, nil
}

// List lists the dues of a definition ordered by apartment.
func (s *LedgerService) List(ctx context.Context, tenantID, definitionID string) ([]billing.ApartmentDue, error) {
	if _, err := s.definition(ctx, tenantID, definitionID); err != nil {
		return nil, err
	}
	dues, err := s.dues.ListByDefinition(ctx, tenantID, definitionID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(dues, func(i, j int) bool { return dues[i].ApartmentID < dues[j].ApartmentID })
	return dues, nil
}

// Summary aggregates collection progress for a definition.
func (s *LedgerService) Summary(ctx context.Context, tenantID, definitionID string) (billing.CollectionSummary, error) {
	dues, err := s.List(ctx, tenantID, definitionID)
	if err != nil {
		return billing.CollectionSummary{}, err
	}
	return billing.Summarize(definitionID, dues), nil
}

// Settle marks a due as paid by the given payment order.
func (s *LedgerService) Settle(ctx context.Context, tenantID, dueID, orderID string) (*billing.ApartmentDue, error) {
	due, err := s.dues.Get(ctx, tenantID, dueID)
	if err != nil {
		return nil, err
	}
	if due == nil {
		return nil, billing.ErrNotFound
	}
	now := s.clock.Now()
	if err := due.MarkPaid(now, orderID); err != nil {
		return nil, err
	}
	if err := s.dues.Save(ctx, due); err != nil {
		return nil, err
	}
	if s.publisher != nil {
		evt := events.ApartmentDueSettled{
			DueID:          due.ID,
			TenantID:       due.TenantID,
			ApartmentID:    due.ApartmentID,
			Period:         string(due.Period),
			Amount:         due.Amount.String(),
			PaymentOrderID: orderID,
			OccurredAt:     now,
		}
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.logger.WithError(err).WithField("due_id", due.ID).Warn("publish due settled failed")
		}
	}
	return due, nil
}

// SweepOverdue moves unpaid dues past their due date to overdue.
func (s *LedgerService) SweepOverdue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	count, err := s.dues.MarkOverdue(ctx, billing.OverdueCutoff(now), now)
	if err != nil {
		return 0, err
	}
	metrics.AddOverdueMarked(count)
	return count, nil
}

func (s *LedgerService) definition(ctx context.Context, tenantID, id string) (*billing.DueDefinition, error) {
	def, err := s.defs.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, billing.ErrNotFound
	}
	return def, nil
}
