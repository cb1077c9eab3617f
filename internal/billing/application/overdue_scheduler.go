package application

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"building-cloud/internal/observability/logging"
)

// DefaultOverdueSchedule runs the sweep shortly after midnight UTC.
const DefaultOverdueSchedule = "5 0 * * *"

// OverdueScheduler runs the overdue sweep on a cron schedule.
type OverdueScheduler struct {
	ledger  *LedgerService
	cron    *cron.Cron
	timeout time.Duration
	logger  logging.Logger
}

// NewOverdueScheduler registers the sweep under the cron schedule.
func NewOverdueScheduler(ledger *LedgerService, schedule string, logger logging.Logger) (*OverdueScheduler, error) {
	if ledger == nil {
		return nil, errors.New("overdue scheduler: nil ledger")
	}
	if schedule == "" {
		schedule = DefaultOverdueSchedule
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}
	s := &OverdueScheduler{
		ledger:  ledger,
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		timeout: 4 * time.Minute,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// RunOnce performs one sweep.
func (s *OverdueScheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	count, err := s.ledger.SweepOverdue(ctx)
	if err != nil {
		s.logger.WithError(err).Error("overdue sweep failed")
		return
	}
	s.logger.WithField("marked", count).Info("overdue sweep finished")
}

// Start begins the schedule in the background.
func (s *OverdueScheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep.
func (s *OverdueScheduler) Stop() {
	<-s.cron.Stop().Done()
}
