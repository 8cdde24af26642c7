package queue

import (
	"slices"
	"sync"
	"testing"
	"time"
)

func TestReserve_UnconfiguredQueuesAlwaysReady(t *testing.T) {
	m := NewManager()
	for range 10 {
		if got := m.Reserve([]string{"default", "ai"}); !slices.Equal(got, []string{"default", "ai"}) {
			t.Fatalf("Reserve = %v", got)
		}
	}
	if m.ActiveCount("default") != 0 {
		t.Fatal("unconfigured queues are not tracked")
	}
}

func TestReserve_ConcurrencyCap(t *testing.T) {
	m := NewManager(Config{Name: "ai", MaxConcurrency: 2})

	if got := m.Reserve([]string{"ai"}); len(got) != 1 {
		t.Fatalf("first reserve = %v", got)
	}
	if got := m.Reserve([]string{"ai"}); len(got) != 1 {
		t.Fatalf("second reserve = %v", got)
	}
	if got := m.Reserve([]string{"default", "ai"}); !slices.Equal(got, []string{"default"}) {
		t.Fatalf("ai is full, Reserve = %v", got)
	}
	if got := m.ActiveCount("ai"); got != 2 {
		t.Fatalf("ActiveCount = %d, want 2", got)
	}

	m.Release("ai")
	if got := m.Reserve([]string{"ai"}); len(got) != 1 {
		t.Fatalf("slot released, Reserve = %v", got)
	}
}

func TestCommit_RateLimit(t *testing.T) {
	m := NewManager(Config{Name: "bulk", RateLimit: 5, RateBurst: 1})

	if len(m.Reserve([]string{"bulk"})) != 1 {
		t.Fatal("burst token should be available")
	}
	m.Commit("bulk")
	m.Release("bulk")
	if len(m.Reserve([]string{"bulk"})) != 0 {
		t.Fatal("bucket should be empty right after the burst")
	}

	time.Sleep(300 * time.Millisecond)
	if len(m.Reserve([]string{"bulk"})) != 1 {
		t.Fatal("token should refill at 5/s")
	}
}

func TestReserve_WithoutCommitKeepsTokens(t *testing.T) {
	m := NewManager(Config{Name: "bulk", RateLimit: 0.1, RateBurst: 1})

	for range 3 {
		if len(m.Reserve([]string{"bulk"})) != 1 {
			t.Fatal("an empty consume must not spend the token")
		}
		m.Release("bulk")
	}
}

func TestCommit_Burst(t *testing.T) {
	m := NewManager(Config{Name: "bulk", RateLimit: 0.1, RateBurst: 3})

	for i := range 3 {
		if len(m.Reserve([]string{"bulk"})) != 1 {
			t.Fatalf("take %d should be within burst", i)
		}
		m.Commit("bulk")
		m.Release("bulk")
	}
	if len(m.Reserve([]string{"bulk"})) != 0 {
		t.Fatal("burst exhausted")
	}
}

func TestSetQueueConfig_KeepsActive(t *testing.T) {
	m := NewManager(Config{Name: "ai", MaxConcurrency: 1})
	m.Reserve([]string{"ai"})
	if len(m.Reserve([]string{"ai"})) != 0 {
		t.Fatal("should be full at concurrency 1")
	}

	m.SetQueueConfig(Config{Name: "ai", MaxConcurrency: 3})
	if got := m.ActiveCount("ai"); got != 1 {
		t.Fatalf("ActiveCount = %d, want 1", got)
	}
	if len(m.Reserve([]string{"ai"})) != 1 {
		t.Fatal("should have room after raising the cap")
	}
}

func TestRelease_NoUnderflow(t *testing.T) {
	m := NewManager(Config{Name: "q", MaxConcurrency: 5})
	m.Release("q")
	if m.ActiveCount("q") != 0 {
		t.Fatal("active count went below zero")
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager(Config{Name: "q", MaxConcurrency: 3})

	var mu sync.Mutex
	peak := 0
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if len(m.Reserve([]string{"q"})) == 0 {
				return
			}
			mu.Lock()
			peak = max(peak, m.ActiveCount("q"))
			mu.Unlock()
			time.Sleep(time.Millisecond)
			m.Release("q")
		}()
	}
	wg.Wait()

	if peak > 3 {
		t.Fatalf("peak active %d exceeds cap", peak)
	}
	if got := m.ActiveCount("q"); got != 0 {
		t.Fatalf("ActiveCount = %d after all releases", got)
	}
}
