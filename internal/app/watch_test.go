package app

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaakkos/conductor/internal/bus"
	"github.com/jaakkos/conductor/internal/domain"
)

func TestStoreWatcher_PokesOnRevisionChange(t *testing.T) {
	b := bus.New()
	defer b.Close()
	signal := filepath.Join(t.TempDir(), "notify.signal")

	var pokes atomic.Int64
	unsub := b.Subscribe(domain.EventMailSync, func(domain.EventEnvelope) {
		pokes.Add(1)
	})
	defer unsub()

	w := NewStoreWatcher(signal, b, testLogger())

	// No signal file yet: nothing to report.
	w.CheckOnce()
	time.Sleep(20 * time.Millisecond)
	if pokes.Load() != 0 {
		t.Fatal("poked without a signal file")
	}

	if err := TouchNotifySignal(signal); err != nil {
		t.Fatal(err)
	}
	w.CheckOnce()
	waitFor(t, time.Second, func() bool { return pokes.Load() == 1 })

	// Same revision again: deduplicated.
	w.CheckOnce()
	time.Sleep(20 * time.Millisecond)
	if pokes.Load() != 1 {
		t.Fatalf("unchanged revision re-poked, count %d", pokes.Load())
	}

	if err := TouchNotifySignal(signal); err != nil {
		t.Fatal(err)
	}
	w.CheckOnce()
	waitFor(t, time.Second, func() bool { return pokes.Load() == 2 })
}

func TestStoreWatcher_DetectsExternalWrites(t *testing.T) {
	b := bus.New()
	defer b.Close()
	signal := filepath.Join(t.TempDir(), "notify.signal")
	if err := TouchNotifySignal(signal); err != nil {
		t.Fatal(err)
	}

	var pokes atomic.Int64
	unsub := b.Subscribe(domain.EventMailSync, func(domain.EventEnvelope) {
		pokes.Add(1)
	})
	defer unsub()

	w := NewStoreWatcher(signal, b, testLogger(), WithWatchPollInterval(20*time.Millisecond))
	go w.Start(t.Context())
	defer w.Stop()

	// The first poll observes the pre-existing revision.
	waitFor(t, 2*time.Second, func() bool { return pokes.Load() >= 1 })

	// A write from "another process" must surface as a new poke.
	if err := TouchNotifySignal(signal); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return pokes.Load() >= 2 })
}

func TestTouchNotifySignal_RevisionChangesPerWrite(t *testing.T) {
	signal := filepath.Join(t.TempDir(), "notify.signal")
	if err := TouchNotifySignal(signal); err != nil {
		t.Fatal(err)
	}
	first, err := os.ReadFile(signal)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(2 * time.Millisecond)
	if err := TouchNotifySignal(signal); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(signal)
	if err != nil {
		t.Fatal(err)
	}

	// The watcher dedups on file content, so every touch must change it.
	if string(first) == string(second) {
		t.Fatalf("revision did not change between touches: %q", first)
	}
}
