// Package notify relays quarter results and resets to chat channels.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"bizsim/internal/game"
	"bizsim/internal/metrics"
)

// Sender delivers one plain-text message to a chat channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// Notifier is a game.Publisher that fans selected events out to every sender
// in the background with linear backoff.
type Notifier struct {
	senders        []Sender
	log            *slog.Logger
	maxRetries     int
	retryDelayBase time.Duration
	wg             sync.WaitGroup
}

func NewNotifier(logger *slog.Logger, maxRetries int, retryDelayBase time.Duration, senders ...Sender) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Notifier{
		senders:        senders,
		log:            logger,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

func (n *Notifier) Publish(ctx context.Context, ev game.Event) {
	if ev.Type != game.EventQuarterCompleted && ev.Type != game.EventSessionReset {
		return
	}
	text := FormatEvent(ev)
	for _, s := range n.senders {
		n.wg.Add(1)
		go func(s Sender) {
			defer n.wg.Done()
			n.deliver(ctx, s, text, ev)
		}(s)
	}
}

// Wait blocks until every in-flight delivery finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliver(ctx context.Context, s Sender, text string, ev game.Event) {
	var lastErr error
retry:
	for i := 0; i < n.maxRetries; i++ {
		err := s.Send(ctx, text)
		if err == nil {
			return
		}
		lastErr = err
		if i == n.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			break retry
		case <-time.After(n.retryDelayBase * time.Duration(i+1)):
		}
	}
	metrics.NotificationsFailed.WithLabelValues(s.Name()).Inc()
	n.log.Warn("notification failed",
		"channel", s.Name(),
		"game_id", ev.GameID,
		"event", ev.Type,
		"err", lastErr,
	)
}

// FormatEvent renders an event as a short plain-text chat message.
func FormatEvent(ev game.Event) string {
	var b strings.Builder
	switch ev.Type {
	case game.EventSessionReset:
		fmt.Fprintf(&b, "Game %s was reset to quarter %d.", ev.GameID, ev.Quarter)
		return b.String()
	case game.EventQuarterCompleted:
		fmt.Fprintf(&b, "Game %s: quarter %d closed (%d companies).", ev.GameID, ev.Quarter, len(ev.Results))
	default:
		fmt.Fprintf(&b, "Game %s: %s.", ev.GameID, ev.Type)
		return b.String()
	}

	for _, msg := range ev.Messages {
		b.WriteString("\n! ")
		b.WriteString(msg)
	}

	ids := make([]string, 0, len(ev.Results))
	for id := range ev.Results {
		ids = append(ids, id)
	}
	// Highest net profit first.
	sort.Slice(ids, func(i, j int) bool {
		a, c := ev.Results[ids[i]].Financials.NetProfit, ev.Results[ids[j]].Financials.NetProfit
		if !a.Equal(c) {
			return a.GreaterThan(c)
		}
		return ids[i] < ids[j]
	})
	for i, id := range ids {
		r := ev.Results[id]
		fmt.Fprintf(&b, "\n%d. %s  net %s  share %s  sold %d",
			i+1,
			id,
			r.Financials.NetProfit.StringFixed(2),
			r.Metrics.SharePrice.StringFixed(2),
			r.Metrics.UnitsSold,
		)
	}
	return b.String()
}
