// Package notify delivers cashier reports to the chat and to any other
// listeners.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Sink receives one report destined for a channel.
type Sink interface {
	Send(ctx context.Context, channelID, text string) error
}

// Fanout delivers every report to each sink in order. All sinks are tried;
// their errors are joined.
type Fanout []Sink

func (f Fanout) Send(ctx context.Context, channelID, text string) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, channelID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes reports to the structured logger. Used when no chat
// transport is configured.
type Log struct{}

func (Log) Send(_ context.Context, channelID, text string) error {
	slog.Info("report", "channel", channelID, "text", text)
	return nil
}
