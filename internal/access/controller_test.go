package access

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/inkleaf/inkleaf/internal/model"
)

type memRepo struct {
	state   State
	saves   int
	clears  int
	saveErr error
	loadErr error
}

func newMemRepo() *memRepo {
	return &memRepo{state: NewState()}
}

func (r *memRepo) Load(_ context.Context) (State, error) {
	if r.loadErr != nil {
		return NewState(), r.loadErr
	}
	return copyState(r.state), nil
}

func (r *memRepo) Save(_ context.Context, st State) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.state = copyState(st)
	r.saves++
	return nil
}

func (r *memRepo) Clear(_ context.Context) error {
	r.state = NewState()
	r.clears++
	return nil
}

func copyState(st State) State {
	out := NewState()
	for id := range st.Unlocked {
		out.Unlocked[id] = struct{}{}
	}
	for id, expiry := range st.Timers {
		out.Timers[id] = expiry
	}
	return out
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestController(t *testing.T, repo Repository, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock(baseTime))}, opts...)
	c := New(repo, opts...)
	t.Cleanup(c.Close)
	return c
}

func chapter(id string, number int) model.Chapter {
	return model.Chapter{ID: id, NovelID: "novel", Number: number, WaitHours: 3}
}

func TestFreeChaptersAlwaysUnlocked(t *testing.T) {
	c := newTestController(t, newMemRepo())
	for n := 1; n <= FreeChapters; n++ {
		if !c.Unlocked(chapter(fmt.Sprintf("ch%d", n), n)) {
			t.Fatalf("chapter %d should be free", n)
		}
	}
	if c.Unlocked(chapter("ch8", FreeChapters+1)) {
		t.Fatalf("chapter %d should be locked", FreeChapters+1)
	}
}

func TestMalformedOrdinalDefaultsToLocked(t *testing.T) {
	c := newTestController(t, newMemRepo())
	if c.Unlocked(model.Chapter{ID: "broken"}) {
		t.Fatalf("chapter without ordinal should default to locked")
	}
	c.UnlockNow("broken")
	if !c.Unlocked(model.Chapter{ID: "broken"}) {
		t.Fatalf("explicitly unlocked chapter should be readable despite missing ordinal")
	}
}

func TestStartTimerConflictNamesActiveChapter(t *testing.T) {
	c := newTestController(t, newMemRepo())
	if err := c.StartTimer("ch8", 3); err != nil {
		t.Fatalf("first StartTimer failed: %v", err)
	}
	err := c.StartTimer("ch10", 3)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ActiveChapterID != "ch8" {
		t.Fatalf("conflict names %q, want ch8", conflict.ActiveChapterID)
	}
	if c.HasTimer("ch10") {
		t.Fatalf("rejected start must not create a timer")
	}
}

func TestStartTimerNoOpCases(t *testing.T) {
	c := newTestController(t, newMemRepo())
	c.UnlockNow("ch9")
	if err := c.StartTimer("ch9", 3); err != nil {
		t.Fatalf("start for unlocked chapter should be a no-op success, got %v", err)
	}
	if c.HasTimer("ch9") {
		t.Fatalf("no-op start must not create a timer")
	}

	if err := c.StartTimer("ch8", 3); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	before := c.Snapshot().Timers["ch8"]
	if err := c.StartTimer("ch8", 5); err != nil {
		t.Fatalf("repeated start for same chapter should succeed, got %v", err)
	}
	if after := c.Snapshot().Timers["ch8"]; !after.Equal(before) {
		t.Fatalf("repeated start must not move the expiry: %v != %v", after, before)
	}
}

func TestUnlockNowIdempotent(t *testing.T) {
	repo := newMemRepo()
	c := newTestController(t, repo)
	if err := c.StartTimer("ch9", 2); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	c.UnlockNow("ch9")
	first := c.Snapshot()
	c.UnlockNow("ch9")
	second := c.Snapshot()

	if !c.Unlocked(chapter("ch9", 9)) {
		t.Fatalf("ch9 should be unlocked")
	}
	if c.HasTimer("ch9") {
		t.Fatalf("UnlockNow must drop the chapter's timer")
	}
	if len(first.Unlocked) != len(second.Unlocked) || len(first.Timers) != len(second.Timers) {
		t.Fatalf("UnlockNow is not idempotent: %v vs %v", first, second)
	}
	if _, ok := repo.state.Timers["ch9"]; ok {
		t.Fatalf("persisted timers must not contain ch9")
	}
}

func TestTickPromotesExpired(t *testing.T) {
	c := newTestController(t, newMemRepo())
	if err := c.StartTimer("ch8", 3); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}

	res := c.Tick(baseTime.Add(2 * time.Hour))
	if len(res.Promoted) != 0 {
		t.Fatalf("nothing should promote before expiry, got %v", res.Promoted)
	}
	rem, ok := res.Remaining["ch8"]
	if !ok {
		t.Fatalf("expected remaining display for ch8")
	}
	if rem.Full != "01:00:00" || rem.Short != "1h 0m" {
		t.Fatalf("unexpected remaining display: %+v", rem)
	}

	res = c.Tick(baseTime.Add(3 * time.Hour))
	if len(res.Promoted) != 1 || res.Promoted[0] != "ch8" {
		t.Fatalf("expected ch8 promoted, got %v", res.Promoted)
	}
	if !c.Unlocked(chapter("ch8", 8)) {
		t.Fatalf("promoted chapter should be unlocked")
	}
	if c.HasTimer("ch8") {
		t.Fatalf("promoted chapter must not keep a timer")
	}
}

func TestTickWritesOnlyOnPromotion(t *testing.T) {
	repo := newMemRepo()
	c := newTestController(t, repo)
	if err := c.StartTimer("ch8", 3); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	saves := repo.saves
	c.Tick(baseTime.Add(time.Second))
	if repo.saves != saves {
		t.Fatalf("tick without promotion must not write, saves %d -> %d", saves, repo.saves)
	}
	c.Tick(baseTime.Add(4 * time.Hour))
	if repo.saves != saves+1 {
		t.Fatalf("tick with promotion must write once, saves %d -> %d", saves, repo.saves)
	}
}

func TestPromotionCallback(t *testing.T) {
	var seen [][]string
	c := newTestController(t, newMemRepo(), WithOnPromotion(func(ids []string) {
		seen = append(seen, ids)
	}))
	if err := c.StartTimer("ch8", 1); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	c.Tick(baseTime.Add(time.Hour))
	if len(seen) != 1 || len(seen[0]) != 1 || seen[0][0] != "ch8" {
		t.Fatalf("expected one callback with ch8, got %v", seen)
	}
	c.Tick(baseTime.Add(2 * time.Hour))
	if len(seen) != 1 {
		t.Fatalf("tick without promotion must not fire the callback")
	}
}

func TestSaveFailureKeepsMemoryStateAndRetries(t *testing.T) {
	repo := newMemRepo()
	repo.saveErr = fmt.Errorf("disk full")
	c := newTestController(t, repo)

	c.UnlockNow("ch9")
	if !c.Unlocked(chapter("ch9", 9)) {
		t.Fatalf("in-memory state must stay authoritative on save failure")
	}
	if _, ok := repo.state.Unlocked["ch9"]; ok {
		t.Fatalf("failed save must not reach storage")
	}

	repo.saveErr = nil
	c.UnlockNow("ch10")
	if _, ok := repo.state.Unlocked["ch9"]; !ok {
		t.Fatalf("next successful write should reconcile earlier unlock")
	}
	if _, ok := repo.state.Unlocked["ch10"]; !ok {
		t.Fatalf("ch10 should be persisted")
	}
}

func TestLoadFailureFallsBackToEmpty(t *testing.T) {
	repo := newMemRepo()
	repo.loadErr = fmt.Errorf("storage unavailable")
	c := newTestController(t, repo)
	if c.Unlocked(chapter("ch8", 8)) {
		t.Fatalf("load failure must yield empty state")
	}
	if _, ok := c.ActiveChapter(); ok {
		t.Fatalf("load failure must yield no timers")
	}
}

func TestRemainingDisplay(t *testing.T) {
	c := newTestController(t, newMemRepo())
	if err := c.StartTimer("ch8", 3); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	rem, ok := c.Remaining("ch8")
	if !ok {
		t.Fatalf("expected remaining display for active timer")
	}
	if rem.Full != "03:00:00" {
		t.Fatalf("unexpected full display: %q", rem.Full)
	}
	if _, ok := c.Remaining("ch10"); ok {
		t.Fatalf("no display expected for chapter without timer")
	}
}

func TestReset(t *testing.T) {
	repo := newMemRepo()
	c := newTestController(t, repo)
	c.UnlockNow("ch9")
	if err := c.StartTimer("ch8", 3); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	c.Reset()
	if c.Unlocked(chapter("ch9", 9)) || c.HasTimer("ch8") {
		t.Fatalf("reset must clear all state")
	}
	if repo.clears != 1 {
		t.Fatalf("reset must clear storage, clears=%d", repo.clears)
	}
}

func TestWaitScenario(t *testing.T) {
	c := newTestController(t, newMemRepo())
	ch8 := chapter("ch8", 8)

	if c.Unlocked(ch8) {
		t.Fatalf("chapter 8 should start locked")
	}
	if err := c.StartTimer("ch8", 3); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	if !c.HasTimer("ch8") {
		t.Fatalf("timer should be active for ch8")
	}

	err := c.StartTimer("ch10", 3)
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.ActiveChapterID != "ch8" {
		t.Fatalf("expected conflict naming ch8, got %v", err)
	}

	c.Tick(baseTime.Add(3 * time.Hour))
	if !c.Unlocked(ch8) {
		t.Fatalf("chapter 8 should be unlocked after the wait elapses")
	}
	if c.HasTimer("ch8") {
		t.Fatalf("no timer should remain after promotion")
	}
}
