package notify

import (
	"sync"
	"testing"

	"github.com/example/profile-sync-engine/internal/types"
)

func TestSendDeliversToHealthyConnections(t *testing.T) {
	hub := NewHub()
	account := types.AccountID("acct-healthy")

	healthy := &hubConn{send: make(chan []byte, 4)}
	stalled := &hubConn{send: make(chan []byte)}
	hub.register(account, healthy)
	hub.register(account, stalled)

	hub.Send(account, []byte(`{"type":"levelUp"}`))

	select {
	case payload := <-healthy.send:
		if string(payload) != `{"type":"levelUp"}` {
			t.Fatalf("unexpected payload %q", payload)
		}
	default:
		t.Fatal("healthy connection did not receive the payload")
	}

	select {
	case _, ok := <-stalled.send:
		if ok {
			t.Fatal("stalled connection unexpectedly received a payload")
		}
	default:
		t.Fatal("stalled connection was not torn down")
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if _, present := hub.conns[account][stalled]; present {
		t.Fatal("stalled connection still registered")
	}
	if _, present := hub.conns[account][healthy]; !present {
		t.Fatal("healthy connection was dropped")
	}
}

func TestSendDropsSlowConsumersUnderConcurrency(t *testing.T) {
	hub := NewHub()
	account := types.AccountID("acct-flood")

	// Every connection stalls immediately, so each Send competes with the
	// others over which one tears the connection down.
	for i := 0; i < 64; i++ {
		hub.register(account, &hubConn{send: make(chan []byte)})
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				hub.Send(account, []byte(`{"type":"giftReceived"}`))
			}
		}()
	}
	wg.Wait()

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if set, ok := hub.conns[account]; ok {
		t.Fatalf("expected all stalled connections dropped, %d remain", len(set))
	}
}
