package push

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory device registry useful for tests and local
// development. It is not intended for production use.

type MemoryRepo struct {
	mu      sync.Mutex
	devices []Device
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Register(_ context.Context, cand Device) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.UserID == cand.UserID && d.Token == cand.Token {
			return d, nil
		}
	}
	r.devices = append(r.devices, cand)
	return cand, nil
}

func (r *MemoryRepo) Remove(_ context.Context, userID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.devices {
		if d.UserID == userID && d.Token == token {
			r.devices = append(r.devices[:i], r.devices[i+1:]...)
			return nil
		}
	}
	return ErrNotRegistered
}

func (r *MemoryRepo) ListByUser(_ context.Context, userID string) ([]Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Device
	for _, d := range r.devices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

var _ DeviceRepository = (*MemoryRepo)(nil)
