package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by lookups when an account, user or destination
// can no longer be resolved on the platform.
var ErrNotFound = errors.New("not found")

// TargetSpec is the durable description of one tracked account for one
// issuer. It is what gets persisted; runtime state lives in tracker.Target.
type TargetSpec struct {
	Name           string `json:"name"`
	TrackedID      string `json:"tracked_id"`
	TimeoutMinutes int    `json:"timeout_minutes"`
	IssuerID       string `json:"issuer_id"`
	Destination    string `json:"destination,omitempty"` // empty: notify the issuer directly
}

func (s TargetSpec) Validate() error {
	if strings.TrimSpace(s.TrackedID) == "" {
		return errors.New("tracked_id is required")
	}
	if strings.TrimSpace(s.IssuerID) == "" {
		return errors.New("issuer_id is required")
	}
	if s.TimeoutMinutes < 0 {
		return fmt.Errorf("timeout_minutes must be >= 0, got %d", s.TimeoutMinutes)
	}
	return nil
}

// Timeout is the minimum offline duration before a notification fires.
func (s TargetSpec) Timeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// Matches reports whether s refers to the same tracked account and
// destination. Names are labels and never take part in identity.
func (s TargetSpec) Matches(trackedID, destination string) bool {
	return s.TrackedID == trackedID && s.Destination == destination
}

// TargetList is the persisted form of the registry: issuer ID to that
// issuer's specs in add order.
type TargetList map[string][]TargetSpec

// Count returns the number of issuers and the total number of specs.
func (l TargetList) Count() (issuers, targets int) {
	for _, specs := range l {
		if len(specs) == 0 {
			continue
		}
		issuers++
		targets += len(specs)
	}
	return issuers, targets
}
