package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const defaultReservationTTL = 30 * time.Minute

// CodeAllocator reserves room codes in Redis so several coordinator instances
// can hand out codes without collisions. Reservations carry a TTL and are
// refreshed while this node holds them, so codes owned by a dead node free
// themselves.
type CodeAllocator struct {
	client *redis.Client
	ttl    time.Duration

	mu    sync.Mutex
	owned map[string]struct{}
}

func NewCodeAllocator(client *redis.Client, ttl time.Duration) *CodeAllocator {
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}
	return &CodeAllocator{
		client: client,
		ttl:    ttl,
		owned:  make(map[string]struct{}),
	}
}

func (a *CodeAllocator) Reserve(ctx context.Context, code string, roomID uuid.UUID) (bool, error) {
	ok, err := a.client.SetNX(ctx, a.key(code), roomID.String(), a.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve code %s: %w", code, err)
	}
	if !ok {
		return false, nil
	}

	a.mu.Lock()
	a.owned[code] = struct{}{}
	a.mu.Unlock()
	return true, nil
}

func (a *CodeAllocator) Release(ctx context.Context, code string) error {
	a.mu.Lock()
	delete(a.owned, code)
	a.mu.Unlock()

	if err := a.client.Del(ctx, a.key(code)).Err(); err != nil {
		return fmt.Errorf("release code %s: %w", code, err)
	}
	return nil
}

// Run extends this node's reservations until ctx is cancelled.
func (a *CodeAllocator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refresh(ctx)
		}
	}
}

func (a *CodeAllocator) refresh(ctx context.Context) {
	a.mu.Lock()
	codes := make([]string, 0, len(a.owned))
	for code := range a.owned {
		codes = append(codes, code)
	}
	a.mu.Unlock()

	for _, code := range codes {
		if err := a.client.Expire(ctx, a.key(code), a.ttl).Err(); err != nil {
			log.Warn().
				Err(err).
				Str("room_code", code).
				Msg("failed to refresh code reservation")
		}
	}
}

func (a *CodeAllocator) key(code string) string {
	return "quiz:code:" + code
}
