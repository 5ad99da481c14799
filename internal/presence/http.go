package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hamed0406/presencewatch/internal/domain"
)

// HTTPSource reads accounts from the platform gateway:
// GET {BaseURL}/accounts/{id} -> {"id","username","discriminator","status"}.
type HTTPSource struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPSource(baseURL, token string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: timeout},
	}
}

// StatusError is returned for non-2xx answers other than 404.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("presence gateway returned %d", e.Code)
}

func (h *HTTPSource) FetchAccount(ctx context.Context, id string) (domain.Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/accounts/"+url.PathEscape(id), nil)
	if err != nil {
		return domain.Account{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return domain.Account{}, fmt.Errorf("fetch account %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.Account{}, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	if resp.StatusCode/100 != 2 {
		return domain.Account{}, &StatusError{Code: resp.StatusCode}
	}

	var a domain.Account
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return domain.Account{}, fmt.Errorf("decode account %s: %w", id, err)
	}
	if a.ID == "" {
		a.ID = id
	}
	// accounts without a presence entry are offline on the platform
	if a.Status == "" {
		a.Status = domain.StatusOffline
	}
	return a, nil
}
