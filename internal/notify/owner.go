package notify

import (
	"context"

	"go.uber.org/zap"
)

// Owner is the operator alert channel. It is never used for per-target
// notifications.
type Owner struct {
	log      *zap.Logger
	notifier Notifier
}

func NewOwner(log *zap.Logger, n Notifier) *Owner {
	return &Owner{log: log, notifier: n}
}

func (o *Owner) Alert(ctx context.Context, msg string) {
	o.log.Error("owner_alert", zap.String("message", msg))
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Send(ctx, "[ALERT]", msg); err != nil {
		o.log.Warn("owner_alert_send_error", zap.Error(err))
	}
}
