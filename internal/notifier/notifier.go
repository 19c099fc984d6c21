// Package notifier delivers finished run reports to an HTTP webhook.
package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/y0f/apiprobe/internal/report"
)

// When selects which runs are delivered.
type When string

const (
	Always    When = "always"
	OnFailure When = "failure"
)

// ParseWhen validates a configured trigger. Empty means Always.
func ParseWhen(s string) (When, error) {
	switch When(s) {
	case "", Always:
		return Always, nil
	case OnFailure:
		return OnFailure, nil
	}
	return "", fmt.Errorf("notify.on must be always or failure, got %q", s)
}

// Sender delivers a report over one channel.
type Sender interface {
	Type() string
	Send(ctx context.Context, rep *report.RunReport) error
}

// Dispatcher filters runs by trigger and hands them to a sender.
type Dispatcher struct {
	sender Sender
	when   When
	logger *slog.Logger
}

func NewDispatcher(sender Sender, when When, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, when: when, logger: logger}
}

// Notify sends rep if it matches the trigger. Delivery errors are logged
// and returned; they never change the run's outcome.
func (d *Dispatcher) Notify(ctx context.Context, rep *report.RunReport) error {
	if !d.matches(rep) {
		d.logger.Debug("notification skipped", "run_id", rep.ID, "overall", rep.Overall, "on", d.when)
		return nil
	}
	if err := d.sender.Send(ctx, rep); err != nil {
		d.logger.Error("notification send failed", "channel_type", d.sender.Type(), "run_id", rep.ID, "error", err)
		return err
	}
	d.logger.Info("notification sent", "channel_type", d.sender.Type(), "run_id", rep.ID, "overall", rep.Overall)
	return nil
}

func (d *Dispatcher) matches(rep *report.RunReport) bool {
	if d.when == OnFailure {
		return rep.Overall != report.OverallPass
	}
	return true
}
