// Package notify pushes operator alerts for trading events. Alerts go to
// every registered sender (Telegram, Discord) and are filtered by event
// type so operators receive only what they subscribed to.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caldre/arbot/internal/domain"
)

// Event types the engine emits.
const (
	EventFill      = "fill"
	EventLoss      = "loss"
	EventBreaker   = "breaker"
	EventBlacklist = "blacklist"
)

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier dispatches alerts to one or more Senders, filtered by event
// type. An empty event list allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only
// events listed in events are forwarded; an empty list allows all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyExecution reports a terminal execution outcome. Successes go out
// as fills, failures as losses.
func (n *Notifier) NotifyExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	if rec.Success {
		return n.Notify(ctx, EventFill, "Fill",
			fmt.Sprintf("%s on %s: profit %.4f, tip %.4f, size %.2f",
				rec.Kind, rec.Target.Hex(), rec.Profit, rec.TipPaid, rec.TradeSize))
	}
	return n.Notify(ctx, EventLoss, "Execution failed",
		fmt.Sprintf("%s on %s after %d attempt(s): %s",
			rec.Kind, rec.Target.Hex(), rec.Attempts, rec.Err))
}

// NotifyBreaker reports a circuit breaker refusal.
func (n *Notifier) NotifyBreaker(ctx context.Context, reason string) error {
	return n.Notify(ctx, EventBreaker, "Circuit breaker", reason)
}

// NotifyBlacklist reports that a target pool was blacklisted.
func (n *Notifier) NotifyBlacklist(ctx context.Context, target string) error {
	return n.Notify(ctx, EventBlacklist, "Pool blacklisted", target)
}

// Notify sends to all senders if the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch fans the notification out to every sender. One sender failing
// does not prevent delivery to the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
