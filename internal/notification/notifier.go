// Package notification delivers alerts (rotation quadrant changes,
// failed refresh jobs) to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"patternpilot/internal/model"
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
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Symbol  string            `json:"symbol,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts; it is the fallback when no channel is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans an alert out to every backend and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// QuadrantAlert builds the alert for a member moving between rotation
// quadrants. Moves into Leading or Lagging are warnings; the rest are info.
func QuadrantAlert(symbol string, from, to model.Quadrant, p model.RotationPoint) Alert {
	level := AlertInfo
	if to == model.Leading || to == model.Lagging {
		level = AlertWarning
	}
	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("%s rotated into %s", symbol, to),
		Message: fmt.Sprintf("%s moved from %s to %s (RS-Ratio %.2f, RS-Momentum %.2f)", symbol, from, to, p.RSRatio, p.RSMomentum),
		Symbol:  symbol,
		Fields: map[string]string{
			"from":        from.String(),
			"to":          to.String(),
			"rs_ratio":    fmt.Sprintf("%.2f", p.RSRatio),
			"rs_momentum": fmt.Sprintf("%.2f", p.RSMomentum),
			"as_of":       p.TS.Format("2006-01-02"),
		},
	}
}

// formatFields renders fields as sorted "key: value" lines.
func formatFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, fields[k])
	}
	return strings.TrimSuffix(b.String(), "\n")
}
