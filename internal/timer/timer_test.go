package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock is a manually advanced clock for deterministic elapsed time.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestStartStopAccumulates(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	engine := NewEngineWithClock(store, clock.Now)
	key := Key{UserID: "67890", TaskID: "12345"}

	engine.Start(key)
	clock.Advance(90 * time.Second)

	status, elapsed, stopped := engine.Stop(key)
	assert.True(t, stopped)
	assert.Equal(t, "Total Time: 1m30s", status)
	assert.Equal(t, 90*time.Second, elapsed)

	rec, ok := store.Get(key)
	assert.True(t, ok)
	assert.False(t, rec.Running())
	assert.Equal(t, 90*time.Second, rec.Accumulated)
}

func TestStartIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	engine := NewEngineWithClock(store, clock.Now)
	key := Key{UserID: "u", TaskID: "t"}

	engine.Start(key)
	first, _ := store.Get(key)

	clock.Advance(5 * time.Minute)
	engine.Start(key) // duplicate start must not reset the clock

	second, _ := store.Get(key)
	assert.Equal(t, *first.StartedAt, *second.StartedAt)
	assert.Equal(t, time.Duration(0), second.Accumulated)
}

func TestStopWithoutTimer(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngineWithClock(store, newFakeClock().Now)
	key := Key{UserID: "u", TaskID: "t"}

	status, _, stopped := engine.Stop(key)
	assert.False(t, stopped)
	assert.Equal(t, "No timer running for this task.", status)

	_, ok := store.Get(key)
	assert.False(t, ok, "stop must not create a record")
}

func TestRestartRetainsAccumulated(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	engine := NewEngineWithClock(store, clock.Now)
	key := Key{UserID: "u", TaskID: "t"}

	engine.Start(key)
	clock.Advance(40 * time.Second)
	engine.Stop(key)

	engine.Start(key)
	clock.Advance(50 * time.Second)
	status, elapsed, stopped := engine.Stop(key)

	assert.True(t, stopped)
	assert.Equal(t, "Total Time: 1m30s", status)
	assert.Equal(t, 50*time.Second, elapsed)
}

func TestRunningStatusFloorsMinutes(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	engine := NewEngineWithClock(store, clock.Now)
	key := Key{UserID: "u", TaskID: "t"}

	engine.Start(key)
	clock.Advance(125 * time.Second)

	assert.Equal(t, "Timer Running: 2 minutes", engine.RunningStatus(key))
}

func TestRunningStatusIncludesAccumulated(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	engine := NewEngineWithClock(store, clock.Now)
	key := Key{UserID: "u", TaskID: "t"}

	engine.Start(key)
	clock.Advance(3 * time.Minute)
	engine.Stop(key)

	engine.Start(key)
	clock.Advance(90 * time.Second)

	assert.Equal(t, "Timer Running: 4 minutes", engine.RunningStatus(key))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{name: "hour minute second", d: 3661 * time.Second, want: "1h1m1s"},
		{name: "minute second", d: 90 * time.Second, want: "1m30s"},
		{name: "zero", d: 0, want: "0s"},
		{name: "truncates sub-second", d: 90*time.Second + 700*time.Millisecond, want: "1m30s"},
		{name: "negative clamps to zero", d: -5 * time.Second, want: "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.d))
		})
	}
}

func TestRunningKeysSortedAndFiltered(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	engine := NewEngineWithClock(store, clock.Now)

	engine.Start(Key{UserID: "b", TaskID: "2"})
	engine.Start(Key{UserID: "a", TaskID: "9"})
	engine.Start(Key{UserID: "a", TaskID: "1"})
	engine.Start(Key{UserID: "c", TaskID: "3"})
	engine.Stop(Key{UserID: "c", TaskID: "3"})

	keys := RunningKeys(store.Snapshot())
	assert.Equal(t, []Key{
		{UserID: "a", TaskID: "1"},
		{UserID: "a", TaskID: "9"},
		{UserID: "b", TaskID: "2"},
	}, keys)
}
