package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/levyprotocol/levyd/internal/domain"
)

// Watcher subscribes to the levy observation channels on the signal bus and
// turns each message into an operator notification.
type Watcher struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewWatcher creates a Watcher forwarding bus messages to the notifier.
func NewWatcher(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Watcher {
	return &Watcher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify-watcher")),
	}
}

// Run consumes the tax and liquidity channels until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	taxCh, err := w.bus.Subscribe(ctx, domain.ChannelTax)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.ChannelTax, err)
	}
	liqCh, err := w.bus.Subscribe(ctx, domain.ChannelLiquidity)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.ChannelLiquidity, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-taxCh:
			if !ok {
				return nil
			}
			w.forward(ctx, string(domain.EventTaxCollected), "Tax collected", payload)
		case payload, ok := <-liqCh:
			if !ok {
				return nil
			}
			w.forward(ctx, string(domain.EventLiquidityAdded), "Liquidity added", payload)
		}
	}
}

// forward renders the JSON payload into a readable message body and hands it
// to the notifier. Delivery failures are logged, not propagated; a dead
// webhook must not stall the watcher.
func (w *Watcher) forward(ctx context.Context, event, title string, payload []byte) {
	message := string(payload)

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err == nil {
		if amt, ok := fields["amount_a"].(string); ok {
			message = fmt.Sprintf("amount: %s", amt)
			if amtB, ok := fields["amount_b"].(string); ok && amtB != "" {
				message = fmt.Sprintf("token: %s, paired: %s", amt, amtB)
			}
			if from, ok := fields["from"].(string); ok && from != "" {
				message += fmt.Sprintf(", from: %s", from)
			}
		}
	}

	if err := w.notifier.Notify(ctx, event, title, message); err != nil {
		w.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
