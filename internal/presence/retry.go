package presence

import (
	"context"
	"errors"
	"time"

	"github.com/hamed0406/presencewatch/internal/domain"
)

// Retry retries transport failures of Inner. A not-found answer is final
// and returned immediately.
type Retry struct {
	Inner    Source
	Attempts int
	Backoff  time.Duration
}

func (r *Retry) FetchAccount(ctx context.Context, id string) (domain.Account, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		a, err := r.Inner.FetchAccount(ctx, id)
		if err == nil || errors.Is(err, domain.ErrNotFound) {
			return a, err
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return domain.Account{}, ctx.Err()
		case <-time.After(r.Backoff):
		}
	}
	return domain.Account{}, lastErr
}
