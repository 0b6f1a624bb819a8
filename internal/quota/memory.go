package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryKey struct {
	userID uuid.UUID
	day    string
}

// MemoryCounter is an in-process Counter for single-instance deployments and tests.
type MemoryCounter struct {
	mu      sync.Mutex
	counts  map[memoryKey]int
	lastDay string
}

var _ Counter = (*MemoryCounter)(nil)

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[memoryKey]int)}
}

func (c *MemoryCounter) Reserve(_ context.Context, userID uuid.UUID, day time.Time, limit, seed int) (Reservation, error) {
	day = DayStart(day)
	key := memoryKey{userID: userID, day: DayKey(day)}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(key.day)

	cur := c.counts[key]
	if seed > cur {
		cur = seed
	}

	res := Reservation{UserID: userID, Day: day, Limit: limit, Used: cur}
	if cur >= limit {
		return res, ErrExhausted
	}
	c.counts[key] = cur + 1
	return res, nil
}

func (c *MemoryCounter) Release(_ context.Context, res Reservation) error {
	key := memoryKey{userID: res.UserID, day: DayKey(res.Day)}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counts[key] > 0 {
		c.counts[key]--
	}
	return nil
}

func (c *MemoryCounter) Current(_ context.Context, userID uuid.UUID, day time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[memoryKey{userID: userID, day: DayKey(day)}], nil
}

// pruneLocked drops counters of earlier days once a new day is seen.
func (c *MemoryCounter) pruneLocked(day string) {
	if day == c.lastDay {
		return
	}
	for k := range c.counts {
		if k.day < day {
			delete(c.counts, k)
		}
	}
	if day > c.lastDay {
		c.lastDay = day
	}
}
