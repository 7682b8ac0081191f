// Package jitter draws a random delay and runs a cancellable countdown for
// it. The delay decouples the swap from the shield on chain so the two
// transactions cannot be matched by timing.
package jitter

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// MaxDelay is the upper bound (inclusive) of a drawn delay.
const MaxDelay = 120 * time.Second

// DefaultTick is how often Wait reports the remaining delay.
const DefaultTick = time.Second

const maxDelayMs = uint32(MaxDelay / time.Millisecond)

// Draw reads one 32-bit value from r and maps it onto [0, MaxDelay] in
// whole milliseconds.
func Draw(r io.Reader) (time.Duration, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("read random bytes: %w", err)
	}
	ms := binary.BigEndian.Uint32(buf[:]) % (maxDelayMs + 1)
	return time.Duration(ms) * time.Millisecond, nil
}

// Scheduler draws delays and waits them out.
type Scheduler struct {
	// Tick is the reporting interval. Defaults to DefaultTick.
	Tick time.Duration
	// Rand is the entropy source. Defaults to crypto/rand.
	Rand io.Reader
	// Now is the wall clock. Defaults to time.Now.
	Now func() time.Time
}

// New returns a Scheduler using crypto/rand and the given tick interval.
func New(tick time.Duration) *Scheduler {
	return &Scheduler{Tick: tick}
}

// Next draws the next delay.
func (s *Scheduler) Next() (time.Duration, error) {
	r := s.Rand
	if r == nil {
		r = rand.Reader
	}
	return Draw(r)
}

// Wait blocks for d, calling onTick with the remaining time on start, on
// every tick, and with exactly 0 before it returns nil. Remaining time is
// recomputed from elapsed wall-clock time on each tick, so it never
// increases, never drifts, and time the host spends suspended counts
// toward the delay.
//
// If ctx is cancelled Wait returns ctx.Err() without calling onTick again.
func (s *Scheduler) Wait(ctx context.Context, d time.Duration, onTick func(remaining time.Duration)) error {
	if onTick == nil {
		onTick = func(time.Duration) {}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		onTick(0)
		return nil
	}

	tick := s.Tick
	if tick <= 0 {
		tick = DefaultTick
	}

	now := s.Now
	if now == nil {
		now = time.Now
	}
	// Round(0) strips the monotonic reading, which stops during suspend.
	start := now().Round(0)
	onTick(d)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	deadline := time.NewTimer(d)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			onTick(0)
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			remaining := d - now().Round(0).Sub(start)
			if remaining <= 0 {
				onTick(0)
				return nil
			}
			onTick(remaining)
		}
	}
}
