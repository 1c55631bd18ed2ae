// Package access implements the chapter unlock state machine: the unlocked
// set, the single active wait-timer, countdown ticking, and persistence.
package access

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/inkleaf/inkleaf/internal/model"
)

// FreeChapters is the number of leading chapters that are always readable.
const FreeChapters = 7

const tickPeriod = time.Second

// ConflictError reports an attempt to start a wait-timer while another
// chapter's timer is running.
type ConflictError struct {
	ActiveChapterID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("a wait-timer is already running for chapter %s", e.ActiveChapterID)
}

// TickResult reports the outcome of one countdown step.
type TickResult struct {
	Promoted  []string
	Remaining map[string]Display
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the wall-clock source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithOnPromotion registers a callback invoked after chapters are promoted
// from an active timer to the unlocked set. The callback runs outside the
// controller's lock.
func WithOnPromotion(fn func(chapterIDs []string)) Option {
	return func(c *Controller) {
		c.onPromotion = fn
	}
}

// Controller owns the unlock state for the installed app instance. All
// mutation funnels through its API; it persists every state change and runs
// its own 1-second ticker while a wait-timer is active.
type Controller struct {
	repo        Repository
	now         func() time.Time
	onPromotion func(chapterIDs []string)

	mu       sync.Mutex
	unlocked map[string]struct{}
	timers   map[string]time.Time
	dirty    bool
	tickStop chan struct{}
	closed   bool
}

// New builds a controller, rehydrating state from the repository. Absent or
// unreadable stored state yields empty collections rather than an error. If
// the rehydrated state contains a live timer, ticking resumes immediately.
func New(repo Repository, opts ...Option) *Controller {
	c := &Controller{
		repo: repo,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	st, err := repo.Load(context.Background())
	if err != nil {
		logErrf("failed to load unlock state: %v\n", err)
		st = NewState()
	}
	if st.Unlocked == nil {
		st.Unlocked = map[string]struct{}{}
	}
	if st.Timers == nil {
		st.Timers = map[string]time.Time{}
	}
	c.unlocked = st.Unlocked
	c.timers = st.Timers

	c.mu.Lock()
	if len(c.timers) > 0 {
		c.startTickerLocked()
	}
	c.mu.Unlock()
	return c
}

// Unlocked reports whether a chapter is readable. The first FreeChapters
// ordinals are always readable; a chapter with no valid ordinal defaults to
// locked unless its ID is in the unlocked set. No side effects.
func (c *Controller) Unlocked(ch model.Chapter) bool {
	if ch.Number > 0 && ch.Number <= FreeChapters {
		return true
	}
	if ch.Number <= 0 {
		logErrf("chapter %q has no valid ordinal; treating as locked\n", ch.ID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.unlocked[ch.ID]
	return ok
}

// HasTimer reports whether a wait-timer is running for the chapter.
func (c *Controller) HasTimer(chapterID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.timers[chapterID]
	return ok
}

// ActiveChapter returns the chapter currently being waited on, if any.
func (c *Controller) ActiveChapter() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.timers {
		return id, true
	}
	return "", false
}

// StartTimer begins the wait for a locked chapter. Only one timer may run at
// a time: when a different chapter's timer is active the call fails with a
// *ConflictError naming it. Starting a timer for an already-unlocked chapter,
// or for the chapter already holding the timer, is a no-op success.
func (c *Controller) StartTimer(chapterID string, waitHours int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.unlocked[chapterID]; ok {
		return nil
	}
	if _, ok := c.timers[chapterID]; ok {
		return nil
	}
	for activeID := range c.timers {
		return &ConflictError{ActiveChapterID: activeID}
	}

	c.timers[chapterID] = c.now().Add(time.Duration(waitHours) * time.Hour)
	c.saveLocked()
	c.startTickerLocked()
	return nil
}

// UnlockNow permanently unlocks a chapter, dropping any wait-timer for it.
// Idempotent.
func (c *Controller) UnlockNow(chapterID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unlocked[chapterID] = struct{}{}
	delete(c.timers, chapterID)
	c.saveLocked()
	if len(c.timers) == 0 {
		c.stopTickerLocked()
	}
}

// Tick advances the countdown to now: expired timers are promoted into the
// unlocked set and surviving timers get fresh display strings. State is
// persisted only when a promotion occurred. The promotion callback, if any,
// runs after the internal lock is released.
func (c *Controller) Tick(now time.Time) TickResult {
	c.mu.Lock()

	var promoted []string
	for id, expiry := range c.timers {
		if !expiry.After(now) {
			delete(c.timers, id)
			c.unlocked[id] = struct{}{}
			promoted = append(promoted, id)
		}
	}
	sort.Strings(promoted)

	remaining := make(map[string]Display, len(c.timers))
	for id, expiry := range c.timers {
		remaining[id] = FormatRemaining(expiry.Sub(now))
	}

	if len(promoted) > 0 || c.dirty {
		c.saveLocked()
	}
	if len(c.timers) == 0 {
		c.stopTickerLocked()
	}
	c.mu.Unlock()

	if len(promoted) > 0 && c.onPromotion != nil {
		c.onPromotion(promoted)
	}
	return TickResult{Promoted: promoted, Remaining: remaining}
}

// Remaining returns the display strings for the chapter's wait-timer, or
// false when no timer is running for it.
func (c *Controller) Remaining(chapterID string) (Display, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, ok := c.timers[chapterID]
	if !ok {
		return Display{}, false
	}
	return FormatRemaining(expiry.Sub(c.now())), true
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := NewState()
	for id := range c.unlocked {
		st.Unlocked[id] = struct{}{}
	}
	for id, expiry := range c.timers {
		st.Timers[id] = expiry
	}
	return st
}

// Reset clears all unlock state, in memory and in storage.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unlocked = map[string]struct{}{}
	c.timers = map[string]time.Time{}
	c.stopTickerLocked()
	if err := c.repo.Clear(context.Background()); err != nil {
		logErrf("failed to clear unlock state: %v\n", err)
	}
	c.dirty = false
}

// Close stops the ticker. Further operations mutate in-memory state only as
// far as persistence allows; no ticking occurs after Close.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTickerLocked()
}

// saveLocked persists the current state. Failures are logged and swallowed;
// the dirty flag forces a retry on the next mutating operation.
func (c *Controller) saveLocked() {
	st := State{Unlocked: c.unlocked, Timers: c.timers}
	if err := c.repo.Save(context.Background(), st); err != nil {
		logErrf("failed to save unlock state: %v\n", err)
		c.dirty = true
		return
	}
	c.dirty = false
}

func (c *Controller) startTickerLocked() {
	if c.tickStop != nil || c.closed {
		return
	}
	stop := make(chan struct{})
	c.tickStop = stop
	go c.runTicker(stop)
}

func (c *Controller) stopTickerLocked() {
	if c.tickStop == nil {
		return
	}
	close(c.tickStop)
	c.tickStop = nil
}

func (c *Controller) runTicker(stop chan struct{}) {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Tick(c.now())
		}
	}
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
