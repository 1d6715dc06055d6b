package alert

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"log/slog"

	"github.com/xeltica-studio/MisskeyTools/internal/aggregate"
	"github.com/xeltica-studio/MisskeyTools/internal/misskey"
	"github.com/xeltica-studio/MisskeyTools/internal/queue"
)

// notificationHeader is shown as the sender name of notification alerts.
const notificationHeader = "Misskey Tools"

// Sender is the slice of the Misskey client alert delivery needs.
type Sender interface {
	CreateNote(ctx context.Context, token, text string) error
	SendNotification(ctx context.Context, token, header, body string) error
}

// SenderFactory returns a sender bound to the given instance host.
type SenderFactory func(host string) Sender

// Deliverer consumes the two outbound alert queues and pushes the report
// text back to the account's home instance.
type Deliverer struct {
	senders SenderFactory
	logger  *slog.Logger
}

func NewDeliverer(senders SenderFactory, logger *slog.Logger) *Deliverer {
	return &Deliverer{senders: senders, logger: logger}
}

// Register binds the deliverer to the two alert queues.
func (d *Deliverer) Register(q *queue.Queue) {
	q.Handle(aggregate.QueuePostNote, d.DeliverNote)
	q.Handle(aggregate.QueueSendNotification, d.DeliverNotification)
}

// DeliverNote posts the report as a public note.
func (d *Deliverer) DeliverNote(ctx context.Context, payload interface{}) error {
	alert, ok := payload.(aggregate.AlertPayload)
	if !ok {
		return queue.Permanent(fmt.Errorf("unexpected payload type %T", payload))
	}

	session := alert.Account.Session
	if err := d.senders(session.Host).CreateNote(ctx, session.Token, alert.Text); err != nil {
		return classify(fmt.Errorf("post note for %s: %w", session.Acct(), err))
	}

	d.logger.Info("alert note posted", "acct", session.Acct())
	return nil
}

// DeliverNotification sends the report as a private notification.
func (d *Deliverer) DeliverNotification(ctx context.Context, payload interface{}) error {
	alert, ok := payload.(aggregate.AlertPayload)
	if !ok {
		return queue.Permanent(fmt.Errorf("unexpected payload type %T", payload))
	}

	session := alert.Account.Session
	if err := d.senders(session.Host).SendNotification(ctx, session.Token, notificationHeader, alert.Text); err != nil {
		return classify(fmt.Errorf("send notification for %s: %w", session.Acct(), err))
	}

	d.logger.Info("alert notification sent", "acct", session.Acct())
	return nil
}

// classify marks client errors permanent. A 429 stays retryable; so does
// anything that is not a definite rejection by the instance.
func classify(err error) error {
	var apiErr *misskey.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests {
			return queue.Permanent(err)
		}
	}
	return err
}
