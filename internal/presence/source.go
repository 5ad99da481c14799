// Package presence looks up accounts and their presence on the chat platform.
package presence

import (
	"context"

	"github.com/hamed0406/presencewatch/internal/domain"
)

// Source resolves an account by ID. Implementations return an error wrapping
// domain.ErrNotFound when the account cannot be resolved at all.
type Source interface {
	FetchAccount(ctx context.Context, id string) (domain.Account, error)
}
