package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testCorrelationID = "corr_abc123def456"

// --- MemoryGuard ---

func TestMemoryGuard_admitThenReject(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()

	ok, err := g.Admit(ctx, testCorrelationID, time.Minute)
	if err != nil {
		t.Fatalf("Admit error: %v", err)
	}
	if !ok {
		t.Fatal("first Admit = false, want true")
	}

	ok, err = g.Admit(ctx, testCorrelationID, time.Minute)
	if err != nil {
		t.Fatalf("Admit error: %v", err)
	}
	if ok {
		t.Error("second Admit = true, want false")
	}
}

func TestMemoryGuard_expiredEntryReadmits(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()

	now := time.Now()
	g.now = func() time.Time { return now }

	if ok, _ := g.Admit(ctx, testCorrelationID, time.Minute); !ok {
		t.Fatal("first Admit = false")
	}

	// Past the TTL the same ID is admitted again.
	g.now = func() time.Time { return now.Add(2 * time.Minute) }
	if ok, _ := g.Admit(ctx, testCorrelationID, time.Minute); !ok {
		t.Error("Admit after expiry = false, want true")
	}
}

func TestMemoryGuard_releaseFreesKey(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()

	g.Admit(ctx, testCorrelationID, time.Minute)
	if err := g.Release(ctx, testCorrelationID); err != nil {
		t.Fatalf("Release error: %v", err)
	}

	if ok, _ := g.Admit(ctx, testCorrelationID, time.Minute); !ok {
		t.Error("Admit after Release = false, want true")
	}
}

func TestMemoryGuard_concurrentAdmitsExactlyOne(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()

	const goroutines = 50
	var wg sync.WaitGroup
	admitted := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.Admit(ctx, testCorrelationID, time.Minute)
			if err != nil {
				t.Errorf("Admit error: %v", err)
				return
			}
			admitted <- ok
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for ok := range admitted {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Errorf("admitted = %d goroutines, want exactly 1", count)
	}
}

// --- RedisGuard ---

func newRedisGuard(t *testing.T) (*RedisGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisGuard(client), mr
}

func TestRedisGuard_admitThenReject(t *testing.T) {
	g, _ := newRedisGuard(t)
	ctx := context.Background()

	ok, err := g.Admit(ctx, testCorrelationID, time.Minute)
	if err != nil {
		t.Fatalf("Admit error: %v", err)
	}
	if !ok {
		t.Fatal("first Admit = false, want true")
	}

	ok, err = g.Admit(ctx, testCorrelationID, time.Minute)
	if err != nil {
		t.Fatalf("Admit error: %v", err)
	}
	if ok {
		t.Error("second Admit = true, want false")
	}
}

func TestRedisGuard_ttlExpiryReadmits(t *testing.T) {
	g, mr := newRedisGuard(t)
	ctx := context.Background()

	if ok, _ := g.Admit(ctx, testCorrelationID, time.Minute); !ok {
		t.Fatal("first Admit = false")
	}

	mr.FastForward(2 * time.Minute)

	if ok, _ := g.Admit(ctx, testCorrelationID, time.Minute); !ok {
		t.Error("Admit after TTL expiry = false, want true")
	}
}

func TestRedisGuard_releaseFreesKey(t *testing.T) {
	g, _ := newRedisGuard(t)
	ctx := context.Background()

	g.Admit(ctx, testCorrelationID, time.Minute)
	if err := g.Release(ctx, testCorrelationID); err != nil {
		t.Fatalf("Release error: %v", err)
	}

	if ok, _ := g.Admit(ctx, testCorrelationID, time.Minute); !ok {
		t.Error("Admit after Release = false, want true")
	}
}

func TestFormatKey(t *testing.T) {
	if got := FormatKey(testCorrelationID); got != "dedup:"+testCorrelationID {
		t.Errorf("FormatKey = %q", got)
	}
}
