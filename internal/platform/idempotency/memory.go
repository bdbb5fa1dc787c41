package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. It backs the memory storage driver and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	now = now.UTC()
	id := entryID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[id]; ok && !entry.expired(now) {
		if entry.Fingerprint != fingerprint {
			return Claim{}, ErrFingerprintMismatch
		}
		return Claim{Outcome: entry.outcome(), Entry: entry}, nil
	}

	entry := Entry{
		Key:         key,
		Fingerprint: fingerprint,
		Phase:       PhaseInFlight,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(normalizeTTL(ttl)),
	}
	s.entries[id] = entry
	return Claim{Outcome: OutcomeAcquired, Entry: entry}, nil
}

func (s *MemoryStore) Settle(_ context.Context, key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	id := entryID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	switch {
	case !ok:
		entry = Entry{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	case entry.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	}

	entry.Phase = PhaseSettled
	entry.Reply = Reply{
		Status: reply.Status,
		Header: replayableHeader(reply.Header),
	}
	if len(reply.Body) > 0 {
		entry.Reply.Body = append([]byte(nil), reply.Body...)
	}
	entry.UpdatedAt = now
	entry.ExpiresAt = now.Add(normalizeTTL(ttl))
	s.entries[id] = entry
	return nil
}

func (s *MemoryStore) Abandon(_ context.Context, key, fingerprint string) error {
	id := entryID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[id]; ok && entry.Fingerprint == fingerprint {
		delete(s.entries, id)
	}
	return nil
}

func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if entry.expired(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many entries are held, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
