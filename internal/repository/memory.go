package repository

import (
	"context"
	"sync"
	"time"

	"mail-pilot/internal/domain"
)

type memorySession struct {
	entries  []domain.Entry
	lastID   int64
	lastSeen time.Time
}

// MemoryStore keeps transcripts in process memory. Sessions idle for longer
// than the TTL are dropped on the next access.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]*memorySession
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

func NewMemoryStore(maxEntries int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]*memorySession),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (m *MemoryStore) Begin(_ context.Context, sessionID, prompt string) (domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessionLocked(sessionID, true)
	if n := len(s.entries); n > 0 && s.entries[n-1].Status == domain.StatusPending {
		return domain.Entry{}, ErrSessionBusy
	}
	user, pending := newEntryPair(sessionID, prompt, s.lastID, m.now(), m.ttl)
	s.entries = append(s.entries, user, pending)
	s.lastID = pending.ID
	m.trimLocked(s)
	return pending, nil
}

func (m *MemoryStore) Resolve(_ context.Context, sessionID string, entryID int64, o domain.Outcome) (domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessionLocked(sessionID, false)
	if s == nil {
		return domain.Entry{}, ErrEntryNotFound
	}
	for i := range s.entries {
		if s.entries[i].ID != entryID {
			continue
		}
		if s.entries[i].Status != domain.StatusPending {
			return s.entries[i], nil
		}
		s.entries[i] = s.entries[i].Apply(o)
		return s.entries[i], nil
	}
	return domain.Entry{}, ErrEntryNotFound
}

func (m *MemoryStore) List(_ context.Context, sessionID string) ([]domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessionLocked(sessionID, false)
	if s == nil {
		return []domain.Entry{}, nil
	}
	out := make([]domain.Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (m *MemoryStore) sessionLocked(sessionID string, create bool) *memorySession {
	now := m.now()
	s, ok := m.sessions[sessionID]
	if ok && m.ttl > 0 && now.Sub(s.lastSeen) > m.ttl {
		delete(m.sessions, sessionID)
		ok = false
	}
	if !ok {
		if !create {
			return nil
		}
		s = &memorySession{}
		m.sessions[sessionID] = s
	}
	s.lastSeen = now
	return s
}

func (m *MemoryStore) trimLocked(s *memorySession) {
	if m.maxEntries <= 0 || len(s.entries) <= m.maxEntries {
		return
	}
	s.entries = append([]domain.Entry(nil), s.entries[len(s.entries)-m.maxEntries:]...)
}
