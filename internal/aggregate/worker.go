package aggregate

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/xeltica-studio/MisskeyTools/internal/misskey"
	"github.com/xeltica-studio/MisskeyTools/internal/models"
	"github.com/xeltica-studio/MisskeyTools/internal/queue"
)

// Queue names used by the aggregation pipeline.
const (
	QueueAggregate        = "aggregate"
	QueuePostNote         = "post-note"
	QueueSendNotification = "send-notification"
)

// ProfileFetcher is the slice of the Misskey client the worker needs.
type ProfileFetcher interface {
	Me(ctx context.Context, token string) (*misskey.DetailedUser, error)
}

// ClientFactory returns a profile fetcher bound to the given instance host.
type ClientFactory func(host string) ProfileFetcher

// AlertPayload is the payload of the two outbound alert queues.
type AlertPayload struct {
	Account models.Account
	Text    string
}

// Worker runs one aggregation per invocation: fetch the remote profile,
// compute the rating over recent history, append today's snapshot, and
// describe the alerts to fan out. It holds no state between runs.
type Worker struct {
	records    models.RecordRepository
	clients    ClientFactory
	alertOpts  queue.Options
	logger     *slog.Logger
	timeSource func() time.Time
}

// NewWorker creates an aggregation worker. alertOpts configures the delay
// and retry policy carried by every alert dispatch the worker returns.
func NewWorker(records models.RecordRepository, clients ClientFactory, alertOpts queue.Options, logger *slog.Logger) *Worker {
	return &Worker{
		records:    records,
		clients:    clients,
		alertOpts:  alertOpts,
		logger:     logger,
		timeSource: time.Now,
	}
}

// Run executes one aggregation for the account and returns the alert
// dispatches to enqueue. A profile response without the detailed counters
// is a permanent failure: nothing is persisted, nothing is returned, and
// the error is marked so the queue discards the job.
func (w *Worker) Run(ctx context.Context, account models.Account) ([]queue.Dispatch, error) {
	session := account.Session

	profile, err := w.clients(session.Host).Me(ctx, session.Token)
	if err != nil {
		return nil, fmt.Errorf("fetch profile for %s: %w", session.Acct(), err)
	}
	if !profile.IsDetailed() {
		return nil, queue.Permanent(fmt.Errorf("%w for %s", misskey.ErrNotDetailed, session.Acct()))
	}

	history, err := w.records.Recent(ctx, account.ID, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("load recent records for %s: %w", session.Acct(), err)
	}

	noteCounts := make([]int64, len(history))
	for i, record := range history {
		noteCounts[i] = record.NotesCount
	}
	rating := Rating(noteCounts, *profile.NotesCount)

	today := models.Record{
		AccountID:      account.ID,
		Date:           w.timeSource(),
		NotesCount:     *profile.NotesCount,
		FollowingCount: *profile.FollowingCount,
		FollowersCount: *profile.FollowersCount,
		Rating:         rating,
	}

	if err := w.records.Append(ctx, &today); err != nil {
		return nil, fmt.Errorf("append record for %s: %w", session.Acct(), err)
	}

	// The newest prior record stands in for "yesterday". With no history
	// the formatter gets an explicit all-zero snapshot, so deltas read as
	// absolute counts on the first run.
	var yesterday *models.Record
	if len(history) > 0 {
		yesterday = &history[0]
	}

	text := FormatReport(today, recordOrZero(yesterday), account)

	w.logger.Info("aggregation run complete",
		"acct", session.Acct(),
		"notes", today.NotesCount,
		"rating", today.Rating)

	var dispatches []queue.Dispatch
	if account.AlertAsNote {
		dispatches = append(dispatches, queue.Dispatch{
			Queue:   QueuePostNote,
			Payload: AlertPayload{Account: account, Text: text},
			Options: w.alertOpts,
		})
	}
	if account.AlertAsNotification {
		dispatches = append(dispatches, queue.Dispatch{
			Queue:   QueueSendNotification,
			Payload: AlertPayload{Account: account, Text: text},
			Options: w.alertOpts,
		})
	}

	return dispatches, nil
}

func recordOrZero(record *models.Record) models.Record {
	if record == nil {
		return models.Record{}
	}
	return *record
}

// DispatchAlerts enqueues every dispatch a worker run returned. Kept as a
// thin adapter so the worker itself never touches the queue.
func DispatchAlerts(q *queue.Queue, dispatches []queue.Dispatch) error {
	for _, d := range dispatches {
		if err := q.Enqueue(d.Queue, d.Payload, d.Options); err != nil {
			return fmt.Errorf("enqueue on %s: %w", d.Queue, err)
		}
	}
	return nil
}
