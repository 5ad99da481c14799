package domain

import "fmt"

// Status is the presence reported by the platform for an account.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusDND     Status = "dnd"
	StatusOffline Status = "offline"
)

// Account is the richer identity returned by a presence lookup.
type Account struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	Status        Status `json:"status"`
}

// Online treats every status other than offline (idle, dnd, unknown) as online.
func (a Account) Online() bool {
	return a.Status != StatusOffline
}

func (a Account) Tag() string {
	if a.Discriminator == "" || a.Discriminator == "0" {
		return a.Username
	}
	return a.Username + "#" + a.Discriminator
}

// LongName renders the account for user-facing messages, e.g. "bot#0001 (1234)".
func (a Account) LongName() string {
	tag := a.Tag()
	if tag == "" {
		return a.ID
	}
	return fmt.Sprintf("%s (%s)", tag, a.ID)
}
