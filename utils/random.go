package utils

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Random is a goroutine-safe source for the simulator and the emergency
// generator. Tests construct it with a fixed seed.
type Random struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewRandom(seed uint64) *Random {
	return &Random{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func NewTimeSeededRandom() *Random {
	return NewRandom(uint64(time.Now().UnixNano()))
}

func (r *Random) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Float64()
}

// Between returns a uniform value in [lo, hi).
func (r *Random) Between(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + r.Float64()*(hi-lo)
}

func (r *Random) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.IntN(n)
}

// DurationBetween returns a uniform duration in [lo, hi].
func (r *Random) DurationBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + time.Duration(r.r.Int64N(int64(hi-lo)+1))
}

// TokenGenerator issues queue tokens: "T", the last four characters of the
// site id, the last six digits of the millisecond clock and a three digit
// process-wide counter so two bookings in the same millisecond differ.
type TokenGenerator struct {
	now     func() time.Time
	counter atomic.Uint64
}

func NewTokenGenerator(now func() time.Time) *TokenGenerator {
	if now == nil {
		now = time.Now
	}
	return &TokenGenerator{now: now}
}

func (g *TokenGenerator) Next(siteID string) string {
	fragment := strings.ToUpper(siteID)
	if len(fragment) > 4 {
		fragment = fragment[len(fragment)-4:]
	}
	if len(fragment) < 4 {
		fragment = strings.Repeat("0", 4-len(fragment)) + fragment
	}

	ms := g.now().UnixMilli() % 1_000_000
	n := g.counter.Add(1) % 1000
	return fmt.Sprintf("T%s%06d%03d", fragment, ms, n)
}
