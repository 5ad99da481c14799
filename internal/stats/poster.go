// Package stats periodically posts tracking counts to bot-directory services.
package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Counter reports the current number of issuers and tracked targets.
type Counter interface {
	Counts() (issuers, targets int)
}

type Payload struct {
	Targets int `json:"targets"`
	Issuers int `json:"issuers"`
}

type Poster struct {
	Logger      *zap.Logger
	Counter     Counter
	URLs        []string
	Token       string
	Interval    time.Duration
	Timeout     time.Duration
	Concurrency int
	Client      *http.Client
}

func NewPoster(
	logger *zap.Logger,
	counter Counter,
	urls []string,
	token string,
	interval time.Duration,
	timeout time.Duration,
) *Poster {
	if interval < 0 {
		interval = 0
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Poster{
		Logger:      logger,
		Counter:     counter,
		URLs:        urls,
		Token:       token,
		Interval:    interval,
		Timeout:     timeout,
		Concurrency: 4,
		Client:      &http.Client{},
	}
}

// Run posts immediately, then on every tick, until ctx is cancelled.
func (p *Poster) Run(ctx context.Context) {
	if p.Interval == 0 || len(p.URLs) == 0 {
		p.Logger.Info("stats_poster_disabled")
		return
	}
	t := time.NewTicker(p.Interval)
	defer t.Stop()

	p.logOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.Logger.Info("stats_poster_stopped")
			return
		case <-t.C:
			p.logOnce(ctx)
		}
	}
}

func (p *Poster) logOnce(ctx context.Context) {
	if err := p.PostOnce(ctx); err != nil {
		p.Logger.Warn("stats_post_error", zap.Error(err))
	}
}

// PostOnce sends the current counts to every URL and returns the combined
// failures.
func (p *Poster) PostOnce(ctx context.Context) error {
	issuers, targets := p.Counter.Counts()
	body, err := json.Marshal(Payload{Targets: targets, Issuers: issuers})
	if err != nil {
		return err
	}

	conc := p.Concurrency
	if conc < 1 {
		conc = 1
	}
	sem := make(chan struct{}, conc)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   error
		posted int
	)
	for _, u := range p.URLs {
		sem <- struct{}{}
		wg.Add(1)
		go func(url string) {
			defer func() { <-sem }()
			defer wg.Done()

			err := p.post(ctx, url, body)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, err)
				return
			}
			posted++
		}(u)
	}
	wg.Wait()

	p.Logger.Info("stats_posted",
		zap.Int("services", posted),
		zap.Int("issuers", issuers),
		zap.Int("targets", targets),
	)
	return errs
}

func (p *Poster) post(ctx context.Context, url string, body []byte) error {
	cctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Token != "" {
		req.Header.Set("Authorization", p.Token)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("post %s: status %d", url, resp.StatusCode)
	}
	return nil
}
