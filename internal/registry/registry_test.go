package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRegistry(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var tests = []struct {
		name string
		run  func(t *testing.T, r *Registry, clock *fakeClock)
	}{
		{
			name: "upsert creates unknown peers and refreshes known ones",
			run: func(t *testing.T, r *Registry, clock *fakeClock) {
				r.Upsert("192.168.1.20", 55510, "desk")
				clock.Advance(2 * time.Second)
				r.Upsert("192.168.1.20", 6000, "desk-renamed")

				p, ok := r.Get("192.168.1.20")
				require.True(t, ok)
				assert.Equal(t, 6000, p.Port)
				assert.Equal(t, "desk-renamed", p.Name)
				assert.Equal(t, start.Add(2*time.Second), p.LastSeen)
				assert.Equal(t, 1, r.Len())
			},
		},
		{
			name: "empty name falls back to the address",
			run: func(t *testing.T, r *Registry, clock *fakeClock) {
				r.Upsert("10.0.0.7", 55510, "")
				p, _ := r.Get("10.0.0.7")
				assert.Equal(t, "10.0.0.7", p.Name)
			},
		},
		{
			name: "prune drops only peers older than the timeout",
			run: func(t *testing.T, r *Registry, clock *fakeClock) {
				r.Upsert("192.168.1.20", 55510, "old")
				clock.Advance(8 * time.Second)
				r.Upsert("192.168.1.21", 55510, "fresh")
				clock.Advance(3 * time.Second)

				removed := r.Prune(clock.Now(), 10*time.Second)
				assert.Equal(t, 1, removed)
				_, ok := r.Get("192.168.1.20")
				assert.False(t, ok)
				_, ok = r.Get("192.168.1.21")
				assert.True(t, ok)
			},
		},
		{
			name: "snapshot is ordered and detached from the registry",
			run: func(t *testing.T, r *Registry, clock *fakeClock) {
				r.Upsert("192.168.1.30", 1, "zeta")
				r.Upsert("192.168.1.10", 1, "alpha")
				r.Upsert("192.168.1.20", 1, "alpha")

				snap := r.Snapshot()
				require.Len(t, snap, 3)
				assert.Equal(t, "192.168.1.10", snap[0].Address)
				assert.Equal(t, "192.168.1.20", snap[1].Address)
				assert.Equal(t, "zeta", snap[2].Name)

				snap[0].Name = "mutated"
				p, _ := r.Get("192.168.1.10")
				assert.Equal(t, "alpha", p.Name)
			},
		},
		{
			name: "concurrent upserts and snapshots",
			run: func(t *testing.T, r *Registry, clock *fakeClock) {
				var wg sync.WaitGroup
				for i := 0; i < 16; i++ {
					i := i
					wg.Add(2)
					go func() {
						defer wg.Done()
						r.Upsert(fmt.Sprintf("10.0.0.%d", i), 55510, "")
					}()
					go func() {
						defer wg.Done()
						_ = r.Snapshot()
					}()
				}
				wg.Wait()
				assert.Equal(t, 16, r.Len())
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{now: start}
			tt.run(t, New(WithClock(clock.Now)), clock)
		})
	}
}
