package jitter

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDrawMapsIntoRange(t *testing.T) {
	tests := []struct {
		name  string
		bytes []byte
		want  time.Duration
	}{
		{"zero", []byte{0, 0, 0, 0}, 0},
		{"max uint32", []byte{0xff, 0xff, 0xff, 0xff}, 11504 * time.Millisecond},
		{"exact bound", []byte{0x00, 0x01, 0xd4, 0xc0}, MaxDelay}, // 120000
		{"wraps past bound", []byte{0x00, 0x01, 0xd4, 0xc1}, 0},   // 120001
		{"small", []byte{0x00, 0x00, 0x03, 0xe8}, time.Second},   // 1000
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Draw(bytes.NewReader(tt.bytes))
			if err != nil {
				t.Fatalf("Draw: %v", err)
			}
			if got != tt.want {
				t.Errorf("Draw() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDrawShortRead(t *testing.T) {
	if _, err := Draw(bytes.NewReader([]byte{1, 2})); err == nil {
		t.Fatal("expected error on short read")
	}
}

func TestNextAlwaysInRange(t *testing.T) {
	s := New(DefaultTick)
	for i := 0; i < 1000; i++ {
		d, err := s.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if d < 0 || d > MaxDelay {
			t.Fatalf("Next() = %v, out of [0, %v]", d, MaxDelay)
		}
		if d%time.Millisecond != 0 {
			t.Fatalf("Next() = %v, not whole milliseconds", d)
		}
	}
}

func TestWaitCountsDownToZero(t *testing.T) {
	s := New(5 * time.Millisecond)
	var ticks []time.Duration

	err := s.Wait(context.Background(), 40*time.Millisecond, func(r time.Duration) {
		ticks = append(ticks, r)
	})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ticks) < 2 {
		t.Fatalf("got %d ticks, want at least 2", len(ticks))
	}
	if ticks[0] != 40*time.Millisecond {
		t.Errorf("first tick = %v, want 40ms", ticks[0])
	}
	if last := ticks[len(ticks)-1]; last != 0 {
		t.Errorf("last tick = %v, want 0", last)
	}
	for i := 1; i < len(ticks); i++ {
		if ticks[i] > ticks[i-1] {
			t.Fatalf("remaining increased: %v -> %v", ticks[i-1], ticks[i])
		}
	}
}

func TestWaitZeroDelay(t *testing.T) {
	var ticks []time.Duration
	if err := New(time.Millisecond).Wait(context.Background(), 0, func(r time.Duration) {
		ticks = append(ticks, r)
	}); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ticks) != 1 || ticks[0] != 0 {
		t.Errorf("ticks = %v, want [0]", ticks)
	}
}

func TestWaitCancelStopsTicks(t *testing.T) {
	s := New(2 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	count := 0
	done := make(chan error, 1)
	go func() {
		done <- s.Wait(ctx, time.Minute, func(time.Duration) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Wait err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}

	mu.Lock()
	after := count
	mu.Unlock()
	time.Sleep(15 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != after {
		t.Errorf("ticks continued after cancel: %d -> %d", after, count)
	}
}

func TestWaitAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := New(time.Millisecond).Wait(ctx, time.Second, func(time.Duration) { called = true })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("onTick called for a cancelled context")
	}
}

func TestWaitUsesWallClock(t *testing.T) {
	// The wall clock jumps past the delay after the first reading, as it
	// does when the host resumes from suspend.
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	calls := 0
	s := &Scheduler{
		Tick: 5 * time.Millisecond,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return base
			}
			return base.Add(time.Hour)
		},
	}

	var ticks []time.Duration
	start := time.Now()
	err := s.Wait(context.Background(), time.Minute, func(r time.Duration) {
		ticks = append(ticks, r)
	})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Wait took %v, want it to end on the first tick", elapsed)
	}
	if len(ticks) != 2 || ticks[0] != time.Minute || ticks[1] != 0 {
		t.Errorf("ticks = %v, want [1m0s 0s]", ticks)
	}
}
