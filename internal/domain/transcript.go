package domain

import (
	"errors"
	"time"
)

var (
	// ErrSessionBusy is returned when a session's newest entry is still pending.
	ErrSessionBusy = errors.New("transcript: session has a submission in flight")
	// ErrEntryNotFound is returned when resolving an unknown entry.
	ErrEntryNotFound = errors.New("transcript: entry not found")
)

// Entry is a single line of a session transcript. Status idle marks the
// user's own echoed prompt; pending entries resolve to success or error once.
type Entry struct {
	SessionID       string        `json:"-"`
	ID              int64         `json:"id"`
	Status          OutcomeStatus `json:"status"`
	Message         string        `json:"message"`
	Prompt          string        `json:"prompt,omitempty"`
	Email           string        `json:"email,omitempty"`
	WebhookResponse string        `json:"webhookResponse,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	TTL             int64         `json:"-"`
}

// Apply returns e resolved with the terminal outcome o.
func (e Entry) Apply(o Outcome) Entry {
	e.Status = o.Status
	e.Message = o.Message
	if o.Data != nil {
		e.Email = o.Data.Email
		e.WebhookResponse = o.Data.WebhookResponse
	}
	return e
}
