package notifier

import "context"

// TextNotifier is the delivery channel for operator messages.
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// Alerter raises operator-visible faults: stale pending slot, persistent
// zero ATR, unreachable repository, order-state integrity problems.
type Alerter interface {
	Alert(ctx context.Context, source, title string, lines ...string)
}
