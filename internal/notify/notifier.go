// Package notify delivers operator alerts for settlement events to chat
// channels (Telegram, Discord). Events are queued and sent by a background
// worker so that a slow channel never holds up settlement.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// Sender delivers an Alert to one chat channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// Alert is a settlement event rendered for humans. Senders choose their own
// markup for it.
type Alert struct {
	Event  string
	Title  string
	Fields []Field
}

// Field is one labelled line of an alert.
type Field struct {
	Name  string
	Value string
}

// Text renders the fields as "name: value" lines.
func (a Alert) Text() string {
	lines := make([]string, len(a.Fields))
	for i, f := range a.Fields {
		lines[i] = f.Name + ": " + f.Value
	}
	return strings.Join(lines, "\n")
}

// DefaultEvents are the event types forwarded when none are configured.
var DefaultEvents = []string{domain.EventListingBought, domain.EventFeesWithdrawn}

const queueSize = 128

// Notifier turns settlement events into alerts and dispatches them to every
// Sender. Only events whose type is in the allowed set are forwarded.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	queue   chan Alert
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders. An empty events list
// selects DefaultEvents.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if len(events) == 0 {
		events = DefaultEvents
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan Alert, queueSize),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Publish accepts an encoded domain.SettlementEvent. It never blocks; when
// the queue is full the alert is dropped.
func (n *Notifier) Publish(ctx context.Context, _ string, payload []byte) error {
	var evt domain.SettlementEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("notify: decode event: %w", err)
	}
	if !n.events[evt.Type] {
		return nil
	}
	select {
	case n.queue <- format(evt):
	default:
		n.logger.WarnContext(ctx, "notify: queue full, dropping alert",
			slog.String("event", evt.Type),
		)
	}
	return nil
}

// Relay feeds events from the bus into the notifier until ctx is cancelled.
func (n *Notifier) Relay(ctx context.Context, bus domain.SignalBus) error {
	for _, ch := range []string{domain.ChannelListings, domain.ChannelFees, domain.ChannelMarkets} {
		msgs, err := bus.Subscribe(ctx, ch)
		if err != nil {
			return fmt.Errorf("notify: subscribe %s: %w", ch, err)
		}
		go func(ch string, msgs <-chan []byte) {
			for data := range msgs {
				if err := n.Publish(ctx, ch, data); err != nil {
					n.logger.WarnContext(ctx, "notify: bad event on bus",
						slog.String("channel", ch),
						slog.String("error", err.Error()),
					)
				}
			}
		}(ch, msgs)
	}
	return nil
}

// Run sends queued alerts until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-n.queue:
			if err := n.dispatch(ctx, a); err != nil {
				n.logger.WarnContext(ctx, "notify: delivery incomplete",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func format(evt domain.SettlementEvent) Alert {
	a := Alert{Event: evt.Type, Title: strings.ReplaceAll(evt.Type, "_", " ")}
	add := func(name, value string) { a.Fields = append(a.Fields, Field{Name: name, Value: value}) }

	add("market", evt.Market.Hex())
	if evt.AssetID != nil {
		add("asset", evt.AssetID.Hex())
	}
	if evt.Seller != nil {
		add("seller", evt.Seller.Hex())
	}
	if evt.Buyer != nil {
		add("buyer", evt.Buyer.Hex())
	}

	switch evt.Type {
	case domain.EventListingBought:
		a.Title = "Listing sold"
		add("price", fmt.Sprintf("%d + fee %d", evt.Ask, evt.Fee))
	case domain.EventFeesWithdrawn:
		a.Title = "Fees withdrawn"
		add("amount", fmt.Sprintf("%d", evt.Amount))
	case domain.EventListingCreated, domain.EventListingRepriced:
		add("ask", fmt.Sprintf("%d", evt.Ask))
	}
	return a
}

// dispatch hands a to every sender. One failing channel does not stop the
// others; failures come back joined.
func (n *Notifier) dispatch(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", a.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: alert sent",
			slog.String("sender", s.Name()),
			slog.String("event", a.Event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d of %d senders failed: %w", len(errs), len(n.senders), errors.Join(errs...))
	}
	return nil
}
