package scheduler

import (
	"context"
	"time"

	"log/slog"

	"github.com/xeltica-studio/MisskeyTools/internal/aggregate"
	"github.com/xeltica-studio/MisskeyTools/internal/models"
	"github.com/xeltica-studio/MisskeyTools/internal/queue"
)

// Enqueuer is the slice of the queue the scheduler needs.
type Enqueuer interface {
	Enqueue(name string, payload interface{}, opts queue.Options) error
}

// AggregationScheduler enqueues one aggregation job per alerting account
// once per day at the configured UTC hour.
type AggregationScheduler struct {
	accounts      models.AccountRepository
	records       models.RecordRepository
	queue         Enqueuer
	hourUTC       int
	logger        *slog.Logger
	stopChan      chan struct{}
	checkInterval time.Duration
	timeSource    func() time.Time
}

// NewAggregationScheduler creates a new aggregation scheduler
func NewAggregationScheduler(
	accounts models.AccountRepository,
	records models.RecordRepository,
	q Enqueuer,
	hourUTC int,
	logger *slog.Logger,
) *AggregationScheduler {
	return &AggregationScheduler{
		accounts:      accounts,
		records:       records,
		queue:         q,
		hourUTC:       hourUTC,
		logger:        logger,
		stopChan:      make(chan struct{}),
		checkInterval: 1 * time.Minute,
		timeSource:    time.Now,
	}
}

// Start begins the scheduler loop
func (s *AggregationScheduler) Start(ctx context.Context) {
	s.logger.Info("starting aggregation scheduler",
		"hour_utc", s.hourUTC,
		"check_interval", s.checkInterval)
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	// Run once immediately on start so a restart inside the window does
	// not lose the day.
	s.checkAndEnqueue(ctx)

	for {
		select {
		case <-ticker.C:
			s.checkAndEnqueue(ctx)
		case <-s.stopChan:
			s.logger.Info("aggregation scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("aggregation scheduler stopping due to context cancellation")
			return
		}
	}
}

// Stop stops the scheduler
func (s *AggregationScheduler) Stop() {
	close(s.stopChan)
}

// checkAndEnqueue enqueues aggregation jobs for accounts not yet
// aggregated today. An account whose latest record already carries
// today's UTC date is skipped, so restarts never double-enqueue.
func (s *AggregationScheduler) checkAndEnqueue(ctx context.Context) {
	now := s.timeSource().UTC()
	if now.Hour() != s.hourUTC {
		return
	}

	accounts, err := s.accounts.ListAlerting(ctx)
	if err != nil {
		s.logger.Error("failed to list alerting accounts", "error", err)
		return
	}

	if len(accounts) == 0 {
		s.logger.Debug("no alerting accounts to aggregate")
		return
	}

	enqueued := 0
	for _, account := range accounts {
		latest, err := s.records.Recent(ctx, account.ID, 1)
		if err != nil {
			s.logger.Error("failed to load latest record",
				"acct", account.Session.Acct(),
				"error", err)
			continue
		}

		if len(latest) > 0 && sameUTCDay(latest[0].Date, now) {
			s.logger.Debug("account already aggregated today",
				"acct", account.Session.Acct())
			continue
		}

		if err := s.queue.Enqueue(aggregate.QueueAggregate, *account, queue.Options{}); err != nil {
			s.logger.Error("failed to enqueue aggregation job",
				"acct", account.Session.Acct(),
				"error", err)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		s.logger.Info("enqueued aggregation jobs", "count", enqueued)
	}
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
