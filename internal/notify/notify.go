// Package notify delivers tracker notifications to chat destinations and
// operator alerts to the bot owner.
package notify

import (
	"context"

	"go.uber.org/multierr"
)

// Notifier is a fire-and-forget titled text channel (webhooks, owner chat).
type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Multi sends to every notifier and returns all failures combined.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, title, text string) error {
	var err error
	for _, n := range m {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Send(ctx, title, text))
	}
	return err
}
