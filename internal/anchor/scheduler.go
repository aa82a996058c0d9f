package anchor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Anchorer is the slice of the ledger service the scheduler needs.
// *ledger.Service satisfies this interface.
type Anchorer interface {
	Incidents(ctx context.Context) ([]string, error)
	Anchor(ctx context.Context, incidentID string) (*Receipt, error)
}

// Scheduler anchors every known incident timeline on a cron schedule, so
// that a third-party commitment exists even when no operator asks for one.
type Scheduler struct {
	ledger  Anchorer
	cron    *cron.Cron
	spec    string
	timeout time.Duration
	logger  *zap.Logger
}

// NewScheduler creates a Scheduler with the given cron spec
// (e.g. "@every 15m" or "0 */6 * * *").
func NewScheduler(ledger Anchorer, spec string, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		ledger:  ledger,
		cron:    cron.New(),
		spec:    spec,
		timeout: time.Minute,
		logger:  logger,
	}
}

// Start registers the cron entry and starts the scheduler's goroutine.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("anchor scheduler started", zap.String("schedule", s.spec))
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce anchors every known incident. Failures are logged per incident and
// do not stop the sweep; the next scheduled run retries naturally.
func (s *Scheduler) RunOnce(ctx context.Context) {
	incidents, err := s.ledger.Incidents(ctx)
	if err != nil {
		s.logger.Error("anchor sweep: list incidents", zap.Error(err))
		return
	}

	for _, id := range incidents {
		receipt, err := s.ledger.Anchor(ctx, id)
		if err != nil {
			s.logger.Warn("anchor sweep: incident failed",
				zap.String("incident_id", id),
				zap.Error(err),
			)
			continue
		}
		s.logger.Debug("anchor sweep: incident anchored",
			zap.String("incident_id", id),
			zap.String("tx_hash", receipt.TxHash),
		)
	}
}
