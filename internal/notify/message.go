package notify

import "context"

type Kind string

const (
	KindAlert    Kind = "alert"
	KindRecovery Kind = "recovery"
	KindNotice   Kind = "notice"
)

type Message struct {
	Kind Kind
	Text string
}

// Directory resolves where notifications can be delivered. Both lookups
// return an error wrapping domain.ErrNotFound when the target is gone.
type Directory interface {
	// ResolveDestination resolves an explicit destination reference (a channel).
	ResolveDestination(ctx context.Context, ref string) (Sink, error)
	// ResolveUser resolves a direct-message sink for a user.
	ResolveUser(ctx context.Context, id string) (Sink, error)
}

type Sink interface {
	Send(ctx context.Context, msg Message) (Handle, error)
}

// Handle refers to a delivered message that can be edited in place. Edit
// fails when the message was deleted or became inaccessible.
type Handle interface {
	Edit(ctx context.Context, msg Message) (Handle, error)
}
