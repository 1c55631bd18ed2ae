package access

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/inkleaf/inkleaf/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "inkleaf.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func TestRepositoryRoundTrip(t *testing.T) {
	st := openTestStore(t)
	repo := NewKVRepository(st)
	ctx := context.Background()

	state := NewState()
	state.Unlocked["ch8"] = struct{}{}
	state.Unlocked["ch9"] = struct{}{}
	expiry := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	state.Timers["ch12"] = expiry

	if err := repo.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(loaded.Unlocked) != 2 {
		t.Fatalf("expected 2 unlocked IDs, got %d", len(loaded.Unlocked))
	}
	for _, id := range []string{"ch8", "ch9"} {
		if _, ok := loaded.Unlocked[id]; !ok {
			t.Fatalf("missing unlocked ID %s", id)
		}
	}
	got, ok := loaded.Timers["ch12"]
	if !ok {
		t.Fatalf("missing timer for ch12")
	}
	if !got.Equal(expiry) {
		t.Fatalf("timer expiry mismatch: %v != %v", got, expiry)
	}
}

func TestControllerRehydratesFromStorage(t *testing.T) {
	st := openTestStore(t)
	repo := NewKVRepository(st)

	first := New(repo, WithClock(fixedClock(baseTime)))
	t.Cleanup(first.Close)
	first.UnlockNow("ch9")
	if err := first.StartTimer("ch8", 3); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	want := first.Snapshot()
	first.Close()

	second := New(repo, WithClock(fixedClock(baseTime)))
	t.Cleanup(second.Close)
	got := second.Snapshot()

	if len(got.Unlocked) != len(want.Unlocked) {
		t.Fatalf("unlocked set mismatch: %v != %v", got.Unlocked, want.Unlocked)
	}
	for id := range want.Unlocked {
		if _, ok := got.Unlocked[id]; !ok {
			t.Fatalf("missing unlocked ID %s after rehydrate", id)
		}
	}
	if len(got.Timers) != len(want.Timers) {
		t.Fatalf("timer map mismatch: %v != %v", got.Timers, want.Timers)
	}
	for id, expiry := range want.Timers {
		if !got.Timers[id].Equal(expiry) {
			t.Fatalf("timer %s mismatch: %v != %v", id, got.Timers[id], expiry)
		}
	}
}

func TestExpiredTimerPromotesAfterRestart(t *testing.T) {
	st := openTestStore(t)
	repo := NewKVRepository(st)

	first := New(repo, WithClock(fixedClock(baseTime)))
	if err := first.StartTimer("ch8", 3); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	first.Close()

	// Wall clock advanced past expiry while the process was down.
	later := baseTime.Add(5 * time.Hour)
	second := New(repo, WithClock(fixedClock(later)))
	t.Cleanup(second.Close)
	res := second.Tick(later)
	if len(res.Promoted) != 1 || res.Promoted[0] != "ch8" {
		t.Fatalf("expected ch8 promoted on first tick after restart, got %v", res.Promoted)
	}
}

func TestLoadAcceptsLegacyFormats(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.KVSet(ctx, keyUnlocked, `["a","b"]`); err != nil {
		t.Fatalf("seed unlocked: %v", err)
	}
	if err := st.KVSet(ctx, keyTimers, `{"c":1741617000000}`); err != nil {
		t.Fatalf("seed timers: %v", err)
	}

	state, err := NewKVRepository(st).Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(state.Unlocked) != 2 {
		t.Fatalf("expected 2 legacy unlocked IDs, got %d", len(state.Unlocked))
	}
	expiry, ok := state.Timers["c"]
	if !ok {
		t.Fatalf("missing legacy timer")
	}
	if expiry.UnixMilli() != 1741617000000 {
		t.Fatalf("unexpected legacy expiry: %d", expiry.UnixMilli())
	}
}

func TestLoadTreatsMalformedJSONAsEmpty(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.KVSet(ctx, keyUnlocked, `{not json`); err != nil {
		t.Fatalf("seed unlocked: %v", err)
	}
	if err := st.KVSet(ctx, keyTimers, `{"v":1,"timers":{"c":1741617000000}}`); err != nil {
		t.Fatalf("seed timers: %v", err)
	}

	state, err := NewKVRepository(st).Load(ctx)
	if err != nil {
		t.Fatalf("load must not fail on malformed JSON: %v", err)
	}
	if len(state.Unlocked) != 0 {
		t.Fatalf("malformed unlocked key must load as empty, got %v", state.Unlocked)
	}
	if len(state.Timers) != 1 {
		t.Fatalf("intact timers key must still load, got %v", state.Timers)
	}
}

func TestClearRemovesBothKeys(t *testing.T) {
	st := openTestStore(t)
	repo := NewKVRepository(st)
	ctx := context.Background()

	state := NewState()
	state.Unlocked["ch8"] = struct{}{}
	state.Timers["ch9"] = baseTime
	if err := repo.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	loaded, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Unlocked) != 0 || len(loaded.Timers) != 0 {
		t.Fatalf("clear must empty both collections, got %v", loaded)
	}
}
