package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLockSerializesSameAccount(t *testing.T) {
	registry := NewRegistry(nil, zerolog.New(io.Discard))

	var counter, max int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := registry.Lock("acct-1")
			defer unlock()

			mu.Lock()
			counter++
			if counter > max {
				max = counter
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			counter--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if max != 1 {
		t.Fatalf("lock admitted %d concurrent holders", max)
	}
	registry.mu.Lock()
	remaining := len(registry.locks)
	registry.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("lock table leaked %d entries", remaining)
	}
}

func TestTryLockGivesUpOnBusyAccount(t *testing.T) {
	registry := NewRegistry(nil, zerolog.New(io.Discard))

	unlock := registry.Lock("acct-1")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	if _, err := registry.TryLock(ctx, "acct-1"); err != ErrAccountBusy {
		t.Fatalf("expected ErrAccountBusy, got %v", err)
	}
}

func TestTryLockSucceedsWhenFree(t *testing.T) {
	registry := NewRegistry(nil, zerolog.New(io.Discard))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	release, err := registry.TryLock(ctx, "acct-2")
	if err != nil {
		t.Fatalf("try lock: %v", err)
	}
	release()
}
