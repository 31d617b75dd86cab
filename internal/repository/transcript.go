package repository

import (
	"time"

	"mail-pilot/internal/domain"
)

const pendingMessage = "Sending..."

var (
	ErrSessionBusy   = domain.ErrSessionBusy
	ErrEntryNotFound = domain.ErrEntryNotFound
)

// newEntryPair builds the user echo entry and the pending delivery entry that
// Begin appends after lastID.
func newEntryPair(sessionID, prompt string, lastID int64, now time.Time, ttl time.Duration) (domain.Entry, domain.Entry) {
	now = now.UTC()
	expires := now.Add(ttl).Unix()
	user := domain.Entry{
		SessionID: sessionID,
		ID:        lastID + 1,
		Status:    domain.StatusIdle,
		Message:   prompt,
		Prompt:    prompt,
		CreatedAt: now,
		TTL:       expires,
	}
	pending := domain.Entry{
		SessionID: sessionID,
		ID:        lastID + 2,
		Status:    domain.StatusPending,
		Message:   pendingMessage,
		Prompt:    prompt,
		CreatedAt: now,
		TTL:       expires,
	}
	return user, pending
}
