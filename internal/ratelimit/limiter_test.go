package ratelimit_test

import (
	"sync"
	"testing"
	"time"

	"github.com/glyphgate/voicegate/internal/config"
	"github.com/glyphgate/voicegate/internal/ratelimit"
	"github.com/glyphgate/voicegate/pkg/ids"
)

func newStore(t *testing.T, limit int) *config.Store {
	t.Helper()
	return config.NewStore(config.GatewayConfig{
		AgentGatewayURL: "ws://localhost",
		AgentSessionKey: ids.SessionKey("s"),
		STTProvider:     ids.ProviderWhisperX,
		Server:          config.ServerConfig{RateLimitPerMinute: limit},
	})
}

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

func TestCheck_AllowsExactlyLimitCallsThenRejects(t *testing.T) {
	store := newStore(t, 2)
	clock := &fakeClock{now: time.Now()}
	l := ratelimit.New(store, ratelimit.WithClock(clock))
	defer l.Close()

	if !l.Check("addr-1") {
		t.Fatal("1st call should be allowed")
	}
	if !l.Check("addr-1") {
		t.Fatal("2nd call should be allowed")
	}
	if l.Check("addr-1") {
		t.Fatal("3rd call should be rejected")
	}
}

func TestCheck_ResetsAfterWindowExpires(t *testing.T) {
	store := newStore(t, 1)
	clock := &fakeClock{now: time.Now()}
	l := ratelimit.New(store, ratelimit.WithClock(clock))
	defer l.Close()

	if !l.Check("addr-1") {
		t.Fatal("1st call should be allowed")
	}
	if l.Check("addr-1") {
		t.Fatal("2nd call within window should be rejected")
	}
	clock.Advance(61 * time.Second)
	if !l.Check("addr-1") {
		t.Fatal("call after window reset should be allowed")
	}
}

func TestCheck_IsReactiveToConfigUpdates(t *testing.T) {
	store := newStore(t, 2)
	clock := &fakeClock{now: time.Now()}
	l := ratelimit.New(store, ratelimit.WithClock(clock))
	defer l.Close()

	l.Check("addr-1")
	l.Check("addr-1")
	if l.Check("addr-1") {
		t.Fatal("3rd call should be rejected under limit 2")
	}

	if _, err := store.Update(map[string]any{"server": map[string]any{"rateLimitPerMinute": 100}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	clock.Advance(61 * time.Second)

	for i := 0; i < 10; i++ {
		if !l.Check("addr-1") {
			t.Fatalf("call %d should be allowed after limit raised to 100", i)
		}
	}
}

func TestPrune_RemovesOnlyExpiredEntries(t *testing.T) {
	store := newStore(t, 5)
	clock := &fakeClock{now: time.Now()}
	l := ratelimit.New(store, ratelimit.WithClock(clock))
	defer l.Close()

	l.Check("expired")
	clock.Advance(61 * time.Second)
	l.Check("fresh")

	l.Prune()

	if !l.Check("fresh") {
		t.Error("fresh key's window should still be tracked (count now 2, under limit 5)")
	}
	if !l.Check("expired") {
		t.Error("expired key should have been pruned and treated as a new window")
	}
}

func TestCheck_IndependentKeys(t *testing.T) {
	store := newStore(t, 1)
	clock := &fakeClock{now: time.Now()}
	l := ratelimit.New(store, ratelimit.WithClock(clock))
	defer l.Close()

	if !l.Check("a") {
		t.Fatal("first call for key a should be allowed")
	}
	if !l.Check("b") {
		t.Fatal("first call for key b should be allowed independently of a")
	}
}
