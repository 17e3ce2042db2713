package survey

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/surveybot/internal/messenger"
)

// Processor decides the outcome of one event.
type Processor interface {
	Process(ctx context.Context, ev Event) (*Outcome, error)
}

// Dispatcher runs events through a Processor and delivers the outcome.
type Dispatcher struct {
	processor   Processor
	messenger   messenger.Messenger
	confirm     messenger.Confirm
	timeout     time.Duration
	concurrency int
	log         *slog.Logger
}

// NewDispatcher creates a Dispatcher. Each event gets its own timeout;
// concurrency caps how many users of one batch are handled at once.
func NewDispatcher(processor Processor, m messenger.Messenger, confirm messenger.Confirm, timeout time.Duration, concurrency int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		processor:   processor,
		messenger:   m,
		confirm:     confirm,
		timeout:     timeout,
		concurrency: concurrency,
		log:         logger.With("component", "dispatcher"),
	}
}

// Handle processes one event and sends its replies, then the confirm prompt
// when requested. Nothing is sent when processing fails. Delivery failures
// are logged only.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	log := d.log.With("user_id", ev.UserID, "message_id", ev.MessageID)

	out, err := d.processor.Process(ctx, ev)
	if err != nil {
		log.ErrorContext(ctx, "Failed to process event", "error", err)
		return err
	}

	if len(out.Replies) > 0 {
		if err := d.messenger.Reply(ctx, ev.ReplyToken, out.Replies...); err != nil {
			log.WarnContext(ctx, "Failed to deliver reply", "error", err)
		}
	}
	if out.Confirm {
		if err := d.messenger.PushConfirm(ctx, ev.UserID, d.confirm); err != nil {
			log.WarnContext(ctx, "Failed to deliver confirm prompt", "error", err)
		}
	}

	log.DebugContext(ctx, "Event handled", "replies", len(out.Replies), "confirm", out.Confirm)
	return nil
}

// HandleBatch handles a webhook batch. Users are handled in parallel; the
// events of one user keep their order. It returns the number of events
// that failed.
func (d *Dispatcher) HandleBatch(ctx context.Context, events []Event) int {
	var failed atomic.Int32

	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)

	for _, userEvents := range groupByUser(events) {
		g.Go(func() error {
			for _, ev := range userEvents {
				if err := d.Handle(ctx, ev); err != nil {
					failed.Add(1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(failed.Load())
}

// groupByUser splits events per user, keeping first-seen user order.
func groupByUser(events []Event) [][]Event {
	grouped := lo.GroupBy(events, func(ev Event) string { return ev.UserID })
	users := lo.Uniq(lo.Map(events, func(ev Event, _ int) string { return ev.UserID }))
	return lo.Map(users, func(userID string, _ int) []Event { return grouped[userID] })
}
