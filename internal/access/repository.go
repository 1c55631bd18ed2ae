package access

import (
	"context"
	"encoding/json"
	"sort"
	"time"
)

// Storage keys in the durable key-value store.
const (
	keyUnlocked = "unlock.chapters"
	keyTimers   = "unlock.timers"
)

// State is the durable unlock state: permanently unlocked chapter IDs and
// active wait-timers keyed by chapter ID.
type State struct {
	Unlocked map[string]struct{}
	Timers   map[string]time.Time
}

// NewState returns an empty state with initialized collections.
func NewState() State {
	return State{
		Unlocked: map[string]struct{}{},
		Timers:   map[string]time.Time{},
	}
}

// KV is the durable string-keyed store unlock state persists into.
type KV interface {
	KVGet(ctx context.Context, key string) (string, bool, error)
	KVSet(ctx context.Context, key, value string) error
	KVDelete(ctx context.Context, key string) error
}

// Repository loads and saves unlock state.
type Repository interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, st State) error
	Clear(ctx context.Context) error
}

// unlockedEnvelope is the versioned on-disk form of the unlocked set. The
// loader also accepts the legacy bare JSON array of IDs.
type unlockedEnvelope struct {
	V   int      `json:"v"`
	IDs []string `json:"ids"`
}

// timersEnvelope is the versioned on-disk form of the timer map, expiry as
// milliseconds since epoch. The loader also accepts the legacy bare object.
type timersEnvelope struct {
	V      int              `json:"v"`
	Timers map[string]int64 `json:"timers"`
}

type kvRepository struct {
	kv KV
}

// NewKVRepository builds a Repository over a key-value store.
func NewKVRepository(kv KV) Repository {
	return &kvRepository{kv: kv}
}

// Load reads unlock state. Malformed JSON under either key degrades to an
// empty collection for that key only; a storage read error is returned.
func (r *kvRepository) Load(ctx context.Context) (State, error) {
	st := NewState()

	raw, ok, err := r.kv.KVGet(ctx, keyUnlocked)
	if err != nil {
		return NewState(), err
	}
	if ok {
		for _, id := range decodeUnlocked([]byte(raw)) {
			st.Unlocked[id] = struct{}{}
		}
	}

	raw, ok, err = r.kv.KVGet(ctx, keyTimers)
	if err != nil {
		return NewState(), err
	}
	if ok {
		for id, millis := range decodeTimers([]byte(raw)) {
			st.Timers[id] = time.UnixMilli(millis)
		}
	}
	return st, nil
}

func decodeUnlocked(raw []byte) []string {
	var env unlockedEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.V >= 1 {
		return env.IDs
	}
	var legacy []string
	if err := json.Unmarshal(raw, &legacy); err == nil {
		return legacy
	}
	return nil
}

func decodeTimers(raw []byte) map[string]int64 {
	var env timersEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.V >= 1 {
		return env.Timers
	}
	var legacy map[string]int64
	if err := json.Unmarshal(raw, &legacy); err == nil {
		return legacy
	}
	return nil
}

// Save writes both collections under their keys. The two writes are not
// transactional; a failure between them leaves recoverable state.
func (r *kvRepository) Save(ctx context.Context, st State) error {
	ids := make([]string, 0, len(st.Unlocked))
	for id := range st.Unlocked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	unlockedRaw, err := json.Marshal(unlockedEnvelope{V: 1, IDs: ids})
	if err != nil {
		return err
	}

	timers := make(map[string]int64, len(st.Timers))
	for id, expiry := range st.Timers {
		timers[id] = expiry.UnixMilli()
	}
	timersRaw, err := json.Marshal(timersEnvelope{V: 1, Timers: timers})
	if err != nil {
		return err
	}

	if err := r.kv.KVSet(ctx, keyUnlocked, string(unlockedRaw)); err != nil {
		return err
	}
	return r.kv.KVSet(ctx, keyTimers, string(timersRaw))
}

// Clear removes both keys.
func (r *kvRepository) Clear(ctx context.Context) error {
	if err := r.kv.KVDelete(ctx, keyUnlocked); err != nil {
		return err
	}
	return r.kv.KVDelete(ctx, keyTimers)
}
