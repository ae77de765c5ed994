package messaging

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory repository useful for tests and the memory
// store driver. It is not intended for production use.

type MemoryRepo struct {
	mu       sync.Mutex
	threads  map[string]Thread    // pair key -> thread
	messages map[string][]Message // thread id -> lines in append order
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		threads:  make(map[string]Thread),
		messages: make(map[string][]Message),
	}
}

func pairKey(userA, userB string) string { return userA + "\x00" + userB }

func (r *MemoryRepo) EnsureThread(_ context.Context, cand Thread) (Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey(cand.UserA, cand.UserB)
	if t, ok := r.threads[key]; ok {
		return t, nil
	}
	r.threads[key] = cand
	return cand, nil
}

func (r *MemoryRepo) ThreadBetween(_ context.Context, userA, userB string) (Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.threads[pairKey(userA, userB)]; ok {
		return t, nil
	}
	return Thread{}, ErrThreadNotFound
}

func (r *MemoryRepo) AppendMessage(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[m.ThreadID] = append(r.messages[m.ThreadID], m)
	for key, t := range r.threads {
		if t.ID == m.ThreadID {
			if m.CreatedAt.After(t.LastMessageAt) {
				t.LastMessageAt = m.CreatedAt
				r.threads[key] = t
			}
			break
		}
	}
	return nil
}

func (r *MemoryRepo) ListMessages(_ context.Context, threadID string, limit int) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := r.messages[threadID]
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	out := make([]Message, len(lines))
	copy(out, lines)
	return out, nil
}

var _ Repository = (*MemoryRepo)(nil)
