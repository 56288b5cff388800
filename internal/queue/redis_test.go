package queue

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore connects to the Redis named by REDIS_ADDR, skipping the
// test when none is available.
func redisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 9})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis at %s unavailable: %v", addr, err)
	}
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("FlushDB: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRedisClaimExclusivity(t *testing.T) {
	store := redisStore(t)
	ctx := context.Background()

	if err := store.Enqueue(ctx, testEntry("e1", "alice", time.Minute)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.Claim(ctx, "alice", "e1")
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			wins <- claimed
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for claimed := range wins {
		if claimed {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", winners)
	}
}

func TestRedisExpiryEnforced(t *testing.T) {
	store := redisStore(t)
	ctx := context.Background()

	if err := store.Enqueue(ctx, testEntry("e1", "alice", 150*time.Millisecond)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if _, found, _ := store.FindCandidate(ctx, "bob", ""); !found {
		t.Fatal("fresh entry not found")
	}

	time.Sleep(300 * time.Millisecond)

	if _, found, err := store.FindCandidate(ctx, "bob", ""); err != nil || found {
		t.Fatalf("expired entry still visible: found=%v err=%v", found, err)
	}
	if claimed, _ := store.Claim(ctx, "alice", "e1"); claimed {
		t.Fatal("expired entry was claimable")
	}
}
