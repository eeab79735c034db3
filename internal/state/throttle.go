package state

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Command is a control write destined for the bridge.
type Command func(ctx context.Context) error

// Throttle rate-limits control commands per resource id. Within the window
// the latest command wins: intermediate submissions are discarded and the
// survivor executes on the trailing edge, so a slider drag ends on its final
// value. Ids are independent of each other.
type Throttle struct {
	interval time.Duration

	mu    sync.Mutex
	slots map[string]*throttleSlot
}

type throttleSlot struct {
	limiter *rate.Limiter
	pending Command
	ctx     context.Context
	timer   *time.Timer
}

// NewThrottle creates a throttle with one command per interval per id.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		slots:    make(map[string]*throttleSlot),
	}
}

// Submit schedules a command for an id. When the id has budget the command
// runs immediately; otherwise it replaces any pending command and runs when
// the window reopens.
func (t *Throttle) Submit(ctx context.Context, id string, cmd Command) {
	t.mu.Lock()

	slot, ok := t.slots[id]
	if !ok {
		slot = &throttleSlot{limiter: rate.NewLimiter(rate.Every(t.interval), 1)}
		t.slots[id] = slot
	}

	if slot.pending == nil && slot.limiter.Allow() {
		t.mu.Unlock()
		t.execute(ctx, id, cmd)
		return
	}

	// Last write wins: replace whatever was waiting.
	slot.pending = cmd
	slot.ctx = ctx
	if slot.timer == nil {
		reservation := slot.limiter.Reserve()
		slot.timer = time.AfterFunc(reservation.Delay(), func() {
			t.flush(id)
		})
	}
	t.mu.Unlock()
}

func (t *Throttle) flush(id string) {
	t.mu.Lock()
	slot, ok := t.slots[id]
	if !ok || slot.pending == nil {
		if ok {
			slot.timer = nil
		}
		t.mu.Unlock()
		return
	}
	cmd := slot.pending
	ctx := slot.ctx
	slot.pending = nil
	slot.ctx = nil
	slot.timer = nil
	t.mu.Unlock()

	t.execute(ctx, id, cmd)
}

func (t *Throttle) execute(ctx context.Context, id string, cmd Command) {
	if ctx.Err() != nil {
		return
	}
	go func() {
		if err := cmd(ctx); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("Throttled command failed")
		}
	}()
}

// Close drops all pending commands and stops their timers.
func (t *Throttle) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, slot := range t.slots {
		if slot.timer != nil {
			slot.timer.Stop()
		}
		slot.pending = nil
	}
	t.slots = make(map[string]*throttleSlot)
}
