// Package notification provides alert delivery to external channels
// (Telegram, Discord, webhooks, etc.) for trading events.
package notification

import (
	"context"
	"log"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Field is one structured detail attached to an alert, such as the
// strategy name or the exit reason. Order is preserved when rendering.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Fields  []Field    `json:"fields,omitempty"`
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
	line := ""
	for _, f := range alert.Fields {
		line += " " + f.Key + "=" + f.Value
	}
	log.Printf("[notify] [%s] %s: %s%s", alert.Level, alert.Title, alert.Message, line)
	return nil
}

// Fanout delivers each alert to all configured backends. Delivery is
// fire-and-forget: a failing backend is logged and does not block the
// caller or the other backends.
type Fanout struct {
	backends []Notifier
}

// NewFanout creates a fan-out notifier over the given backends.
func NewFanout(backends ...Notifier) *Fanout {
	return &Fanout{backends: backends}
}

func (f *Fanout) Send(ctx context.Context, alert Alert) error {
	for _, b := range f.backends {
		go func(n Notifier) {
			if err := n.Send(ctx, alert); err != nil {
				log.Printf("[notify] delivery error: %v", err)
			}
		}(b)
	}
	return nil
}
