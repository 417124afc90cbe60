package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestTriggerCoalesces(t *testing.T) {
	d := New(50 * time.Millisecond)
	defer d.Stop()

	var calls atomic.Int32
	var last atomic.Int32
	for i := 1; i <= 5; i++ {
		v := int32(i)
		d.Trigger("k", func() {
			calls.Add(1)
			last.Store(v)
		})
		time.Sleep(5 * time.Millisecond)
	}

	eventually(t, time.Second, 10*time.Millisecond, func() bool { return calls.Load() == 1 }, "expected exactly one call")
	time.Sleep(100 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if last.Load() != 5 {
		t.Errorf("last = %d, want 5 (latest trigger wins)", last.Load())
	}
}

func TestKeysAreIndependent(t *testing.T) {
	d := New(20 * time.Millisecond)
	defer d.Stop()

	var a, b atomic.Int32
	d.Trigger("a", func() { a.Add(1) })
	d.Trigger("b", func() { b.Add(1) })

	eventually(t, time.Second, 10*time.Millisecond, func() bool {
		return a.Load() == 1 && b.Load() == 1
	}, "both keys should fire")
}

func TestCancel(t *testing.T) {
	d := New(20 * time.Millisecond)
	defer d.Stop()

	var calls atomic.Int32
	d.Trigger("k", func() { calls.Add(1) })
	if !d.Cancel("k") {
		t.Fatal("Cancel should report a pending call")
	}
	if d.Cancel("k") {
		t.Error("second Cancel should report nothing pending")
	}
	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("cancelled call ran %d times", calls.Load())
	}
}

func TestFlushRunsPendingNow(t *testing.T) {
	d := New(time.Hour)
	defer d.Stop()

	var calls atomic.Int32
	d.Trigger("a", func() { calls.Add(1) })
	d.Trigger("b", func() { calls.Add(1) })
	d.Flush()
	if calls.Load() != 2 {
		t.Errorf("calls after Flush = %d, want 2", calls.Load())
	}
	if d.Pending("a") || d.Pending("b") {
		t.Error("nothing should be pending after Flush")
	}
}

func TestRekey(t *testing.T) {
	d := New(20 * time.Millisecond)
	defer d.Stop()

	var calls atomic.Int32
	d.Trigger("old", func() { calls.Add(1) })
	d.Rekey("old", "new")
	if d.Pending("old") || !d.Pending("new") {
		t.Fatal("pending call should move to the new key")
	}
	eventually(t, time.Second, 10*time.Millisecond, func() bool { return calls.Load() == 1 }, "rekeyed call should fire once")
}

func TestStopIgnoresLaterTriggers(t *testing.T) {
	d := New(10 * time.Millisecond)
	var calls atomic.Int32
	d.Trigger("k", func() { calls.Add(1) })
	d.Stop()
	d.Trigger("k", func() { calls.Add(1) })
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("calls after Stop = %d, want 0", calls.Load())
	}
}
