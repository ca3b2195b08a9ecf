package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/jaakkos/conductor/internal/domain"
)

// waitFor polls until check passes or the deadline expires.
func waitFor(t *testing.T, d time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublish_PerSubscriberOrdering(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var got []string
	unsub := b.Subscribe("*", func(ev domain.EventEnvelope) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})
	defer unsub()

	want := []string{"a", "b", "c", "d", "e"}
	for _, typ := range want {
		b.Publish(domain.EventEnvelope{Type: typ})
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	})
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %q, want %q (order violated)", i, got[i], want[i])
		}
	}
}

func TestSubscribe_PatternMatching(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	counts := make(map[string]int)
	record := func(key string) Handler {
		return func(domain.EventEnvelope) {
			mu.Lock()
			counts[key]++
			mu.Unlock()
		}
	}
	defer b.Subscribe("*", record("all"))()
	defer b.Subscribe("mail:*", record("mail"))()
	defer b.Subscribe(domain.EventSessionUpdated, record("exact"))()

	b.Publish(domain.EventEnvelope{Type: domain.EventMailReceived})
	b.Publish(domain.EventEnvelope{Type: domain.EventSessionUpdated})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts["all"] == 2 && counts["mail"] == 1 && counts["exact"] == 1
	})
}

func TestPublish_DoesNotBlockOnSlowSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	release := make(chan struct{})
	unsub := b.Subscribe("*", func(domain.EventEnvelope) {
		<-release
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.Publish(domain.EventEnvelope{Type: "tick"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stalled subscriber")
	}
	close(release)
	unsub()
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	n := 0
	unsub := b.Subscribe("*", func(domain.EventEnvelope) {
		mu.Lock()
		n++
		mu.Unlock()
	})
	unsub()
	unsub() // second call must be a no-op

	b.Publish(domain.EventEnvelope{Type: "x"})
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if n != 0 {
		t.Errorf("handler ran %d times after unsubscribe", n)
	}
}

func TestSubscribersIndependent(t *testing.T) {
	b := New()
	defer b.Close()

	stall := make(chan struct{})
	defer close(stall)
	defer b.Subscribe("*", func(domain.EventEnvelope) { <-stall })()

	var mu sync.Mutex
	n := 0
	defer b.Subscribe("*", func(domain.EventEnvelope) {
		mu.Lock()
		n++
		mu.Unlock()
	})()

	for i := 0; i < 5; i++ {
		b.Publish(domain.EventEnvelope{Type: "x"})
	}
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return n == 5
	})
}

func TestClose_StopsDelivery(t *testing.T) {
	b := New()
	b.Subscribe("*", func(domain.EventEnvelope) {})
	b.Close()
	b.Close() // idempotent

	// Subscribing after close is a no-op.
	unsub := b.Subscribe("*", func(domain.EventEnvelope) {
		t.Error("handler ran after bus close")
	})
	b.Publish(domain.EventEnvelope{Type: "x"})
	time.Sleep(20 * time.Millisecond)
	unsub()
}
