// Package notification provides alert delivery to external channels
// (Telegram, Discord, webhooks, etc.) for trading events. §7 maps
// user-visible failures to WARN (business/validation) or CRIT
// (fatal/rollback) severity; Alert carries the stage and entity IDs a
// structured log event also carries so an operator can correlate the two.
package notification

import (
	"context"
	"errors"
	"log"

	"trading-systemv1/internal/apperr"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`

	Stage             string `json:"stage,omitempty"`
	ConfluenceStateID int64  `json:"confluence_state_id,omitempty"`
	TradeID           int64  `json:"trade_id,omitempty"`
}

// FromError builds an Alert from an apperr.Error, mapping Kind to severity:
// Fatal and ExchangeConflict (rollback-adjacent) become CRITICAL, everything
// else becomes WARNING (§7).
func FromError(title string, err *apperr.Error, tradeID int64) Alert {
	level := AlertWarning
	if err.Kind == apperr.KindFatal || err.Kind == apperr.KindExchangeConflict {
		level = AlertCritical
	}
	return Alert{
		Level:   level,
		Title:   title,
		Message: err.Error(),
		Stage:   err.Stage,
		TradeID: tradeID,
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s (stage=%s confluence_state_id=%d trade_id=%d)",
		alert.Level, alert.Title, alert.Message, alert.Stage, alert.ConfluenceStateID, alert.TradeID)
	return nil
}

// MultiNotifier fans an alert out to every configured backend. One backend's
// failure doesn't stop delivery to the rest; failures are joined and
// returned so the caller still gets one log line naming every backend that
// dropped the alert.
type MultiNotifier struct {
	backends []Notifier
}

// NewMultiNotifier builds a fan-out notifier over the given backends. A nil
// backend in the slice is skipped, so callers can conditionally include an
// optional backend without branching on its presence here.
func NewMultiNotifier(backends ...Notifier) *MultiNotifier {
	live := make([]Notifier, 0, len(backends))
	for _, b := range backends {
		if b != nil {
			live = append(live, b)
		}
	}
	return &MultiNotifier{backends: live}
}

func (n *MultiNotifier) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, b := range n.backends {
		if err := b.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
