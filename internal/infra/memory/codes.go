package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// CodeAllocator is the in-memory room code reservation for single-node runs.
type CodeAllocator struct {
	mu    sync.Mutex
	codes map[string]uuid.UUID
}

func NewCodeAllocator() *CodeAllocator {
	return &CodeAllocator{codes: make(map[string]uuid.UUID)}
}

func (a *CodeAllocator) Reserve(_ context.Context, code string, roomID uuid.UUID) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, taken := a.codes[code]; taken {
		return false, nil
	}
	a.codes[code] = roomID
	return true, nil
}

func (a *CodeAllocator) Release(_ context.Context, code string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.codes, code)
	return nil
}
