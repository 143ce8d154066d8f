// Package notify pushes reconciliation alerts to operators. Events are
// fanned out to every configured channel and can be filtered by event type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one delivery channel. Each sender renders the event itself so
// channel formatting (markdown flavour, embeds) stays channel-local.
type Sender interface {
	Send(ctx context.Context, ev Event) error
	// Name identifies the channel in logs and combined errors.
	Name() string
}

// Notifier fans events out to its senders, dropping event types the operator
// did not subscribe to. An empty subscription means everything.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders. events lists the
// subscribed event types; empty subscribes to all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers ev to every sender unless its type is filtered out. Sender
// failures are combined into one error; one dead channel never blocks the
// others.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	if len(n.allowed) > 0 && !n.allowed[ev.Type] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", ev.Type))
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, ev); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", ev.Type),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", ev.Type),
			slog.Int64("intent_id", ev.IntentID),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
