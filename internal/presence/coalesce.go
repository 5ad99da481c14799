package presence

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hamed0406/presencewatch/internal/domain"
)

// Coalesce shares one in-flight lookup between concurrent callers asking for
// the same account. Results are not cached past the call.
//
// The shared lookup runs detached from any single caller, bounded by Timeout,
// so one caller giving up does not fail the others.
type Coalesce struct {
	Inner   Source
	Timeout time.Duration
	group   singleflight.Group
}

func NewCoalesce(inner Source) *Coalesce {
	return &Coalesce{Inner: inner, Timeout: 30 * time.Second}
}

func (c *Coalesce) FetchAccount(ctx context.Context, id string) (domain.Account, error) {
	ch := c.group.DoChan(id, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout())
		defer cancel()
		return c.Inner.FetchAccount(shared, id)
	})
	select {
	case <-ctx.Done():
		return domain.Account{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Account{}, res.Err
		}
		return res.Val.(domain.Account), nil
	}
}

func (c *Coalesce) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}
