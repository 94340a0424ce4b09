package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"spot-hedger/internal/models"
	"spot-hedger/pkg/utils"
)

// TerminalNotifier prints deliveries as they arrive, coloured by urgency.
type TerminalNotifier struct {
	out          io.Writer
	mu           sync.Mutex
	colorEnabled bool
	bellEnabled  bool
}

// NewTerminalNotifier creates a new TerminalNotifier writing to out.
func NewTerminalNotifier(out io.Writer, colorEnabled bool) *TerminalNotifier {
	return &TerminalNotifier{
		out:          out,
		colorEnabled: colorEnabled,
		bellEnabled:  colorEnabled,
	}
}

// SetBellEnabled enables or disables the terminal bell on urgent breaches.
func (tn *TerminalNotifier) SetBellEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.bellEnabled = enabled
}

// Name returns the name of the notifier.
func (tn *TerminalNotifier) Name() string { return "terminal" }

// IsEnabled returns whether the notifier is enabled.
func (tn *TerminalNotifier) IsEnabled() bool { return tn.out != nil }

// Send prints the notification.
func (tn *TerminalNotifier) Send(ctx context.Context, n Notification) error {
	if n.Delivery == nil {
		return nil
	}

	tn.mu.Lock()
	defer tn.mu.Unlock()

	urgency := models.UrgencyForSeverity(n.Delivery.Breach.Severity)
	if tn.bellEnabled && urgency >= models.UrgencyHigh {
		fmt.Fprint(tn.out, "\a")
	}
	_, err := fmt.Fprintln(tn.out, FormatDelivery(*n.Delivery, tn.colorEnabled))
	return err
}

// urgencyColor returns the colour for an urgency.
func urgencyColor(u models.Urgency) *color.Color {
	switch u {
	case models.UrgencyCritical:
		return color.New(color.FgRed, color.Bold)
	case models.UrgencyHigh:
		return color.New(color.FgRed)
	case models.UrgencyMedium:
		return color.New(color.FgYellow)
	}
	return color.New(color.FgCyan)
}

// FormatDelivery renders a delivery for a terminal.
func FormatDelivery(d models.Delivery, colorEnabled bool) string {
	var sb strings.Builder

	b := d.Breach
	urgency := models.UrgencyForSeverity(b.Severity)

	c := urgencyColor(urgency)
	dim := color.New(color.Faint)
	if colorEnabled {
		c.EnableColor()
		dim.EnableColor()
	} else {
		c.DisableColor()
		dim.DisableColor()
	}

	timestamp := d.CreatedAt.Format("15:04:05")
	sb.WriteString(fmt.Sprintf("%s %s | %s | %s %s %s > %s (%.2fx)",
		dim.Sprintf("[%s]", timestamp),
		c.Sprintf("%-8s", urgency),
		d.AccountID,
		b.Scope(), b.Metric,
		utils.FormatGreek(b.Observed), utils.FormatGreek(b.Limit), b.Severity))

	if rec := d.Recommendation; rec != nil {
		sb.WriteString(fmt.Sprintf("\n    → %s: %s", rec.Strategy, rec.Reasoning))
		sb.WriteString(fmt.Sprintf("\n    → est. cost %s", utils.FormatCurrency(rec.EstimatedCost)))
	} else {
		sb.WriteString(fmt.Sprintf("\n    → no hedge: %s", d.Reason))
	}
	for _, w := range d.Warnings {
		sb.WriteString("\n    " + dim.Sprint("! "+w))
	}

	return sb.String()
}
