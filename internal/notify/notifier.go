package notify

import (
	"context"

	"eventsub-relay/internal/eventsub"
	"eventsub-relay/internal/logging"
	"eventsub-relay/internal/runctx"
)

// Notifier formats published events and hands them to a Sink.
type Notifier struct {
	formatter Formatter
	sink      Sink
	logger    *logging.Logger
}

func NewNotifier(formatter Formatter, sink Sink, logger *logging.Logger) *Notifier {
	if sink == nil {
		panic("notify.NewNotifier: sink must not be nil")
	}
	if logger == nil {
		panic("notify.NewNotifier: logger must not be nil")
	}
	return &Notifier{formatter: formatter, sink: sink, logger: logger}
}

// Run consumes events until ctx is done or the channel is closed. A failed
// post is logged and the next event is processed.
func (n *Notifier) Run(ctx context.Context, events <-chan eventsub.Event) error {
	return runctx.Drain(ctx, events, func(event eventsub.Event) error {
		msg, render := n.formatter.Format(event)
		if !render {
			n.logger.Debug("event not posted", logging.Field("type", event.Type), logging.Field("message_id", event.MessageID))
			return nil
		}
		if err := n.sink.Send(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.logger.Warn("failed to post event",
				logging.Field("type", event.Type),
				logging.Field("message_id", event.MessageID),
				logging.Field("error", err),
			)
			return nil
		}
		n.logger.Debug("event posted", logging.Field("type", event.Type), logging.Field("message_id", event.MessageID))
		return nil
	})
}
