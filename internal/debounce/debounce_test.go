package debounce

import (
	"testing"
	"time"
)

func TestTriggerKeepsOnlyLatest(t *testing.T) {
	clock := NewManual()
	d := New(300*time.Millisecond, clock.AfterFunc)

	var got []int
	for i := 1; i <= 5; i++ {
		d.Trigger(func() { got = append(got, i) })
		clock.Advance(50 * time.Millisecond)
	}
	if len(got) != 0 {
		t.Fatalf("fired before the quiet period: %v", got)
	}
	clock.Advance(300 * time.Millisecond)
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("expected only the last call, got %v", got)
	}
	if d.Pending() {
		t.Fatalf("nothing should be pending after firing")
	}
}

func TestCancelAbandonsPendingCall(t *testing.T) {
	clock := NewManual()
	d := New(time.Second, clock.AfterFunc)

	fired := false
	d.Trigger(func() { fired = true })
	if !d.Cancel() {
		t.Fatalf("cancel should report a pending call")
	}
	clock.Advance(2 * time.Second)
	if fired {
		t.Fatalf("cancelled call ran")
	}
	if d.Cancel() {
		t.Fatalf("second cancel has nothing to cancel")
	}
}

func TestStaleTimerIgnoredAfterRetrigger(t *testing.T) {
	var pending []func()
	after := func(_ time.Duration, f func()) Timer {
		pending = append(pending, f)
		return stopNoop{}
	}
	d := New(time.Second, after)

	var got []string
	d.Trigger(func() { got = append(got, "old") })
	d.Trigger(func() { got = append(got, "new") })

	// A runtime timer can fire even though Stop was called; the old callback
	// must still be dropped.
	for _, f := range pending {
		f()
	}
	if len(got) != 1 || got[0] != "new" {
		t.Fatalf("expected only the newest call, got %v", got)
	}
}

type stopNoop struct{}

func (stopNoop) Stop() bool { return false }

func TestManualFiresInDeadlineOrder(t *testing.T) {
	clock := NewManual()
	var order []string
	clock.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	clock.AfterFunc(time.Second, func() {
		order = append(order, "a")
		clock.AfterFunc(500*time.Millisecond, func() { order = append(order, "a2") })
	})
	clock.Advance(3 * time.Second)

	want := []string{"a", "a2", "b"}
	if len(order) != len(want) {
		t.Fatalf("got %v want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v want %v", order, want)
		}
	}
	if clock.Elapsed() != 3*time.Second || clock.Pending() != 0 {
		t.Fatalf("unexpected clock state: elapsed=%v pending=%d", clock.Elapsed(), clock.Pending())
	}
}
