// Package timer implements the per-task time tracking state machine.
//
// A timer is identified by a Key (user + task). Its Record carries the start
// of the current session, if any, and the total duration accumulated across
// completed sessions. Records live in a Store for the process lifetime; a
// stopped timer keeps its accumulated total so a later start resumes the
// count.
package timer

import (
	"fmt"
	"time"
)

// Key uniquely identifies one trackable timer.
type Key struct {
	UserID string
	TaskID string
}

// String renders the key in "user:task" form for logs and de-dupe keys.
func (k Key) String() string {
	return k.UserID + ":" + k.TaskID
}

// Record is the state of a single timer.
type Record struct {
	// StartedAt is set only while the timer is running.
	StartedAt *time.Time
	// Accumulated is the total time recorded across prior start/stop
	// cycles, excluding the current session.
	Accumulated time.Duration
}

// Running reports whether the record has an active session.
func (r Record) Running() bool {
	return r.StartedAt != nil
}

// Zero reports whether the record is indistinguishable from "no timer".
func (r Record) Zero() bool {
	return r.StartedAt == nil && r.Accumulated == 0
}

// Engine owns all mutations of timer records. The clock is injectable so
// tests can control elapsed time.
type Engine struct {
	store Store
	now   func() time.Time
}

// NewEngine creates an Engine over the given store using the wall clock.
func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// NewEngineWithClock creates an Engine with a custom clock.
func NewEngineWithClock(store Store, now func() time.Time) *Engine {
	return &Engine{store: store, now: now}
}

// Start begins a session for key. Starting an already running timer is a
// no-op: the clock is not reset, so an accidental duplicate comment cannot
// discard elapsed time. Returns the running status string.
func (e *Engine) Start(key Key) string {
	rec, ok := e.store.Get(key)
	if !ok {
		now := e.now()
		rec = Record{StartedAt: &now}
		e.store.Put(key, rec)
	} else if !rec.Running() {
		now := e.now()
		rec.StartedAt = &now
		e.store.Put(key, rec)
	}
	return e.RunningStatus(key)
}

// Stop ends the current session for key, folding the elapsed time into the
// accumulated total. Stopping a timer that is not running is informational:
// no record is created or mutated. elapsed is the length of the session just
// ended.
func (e *Engine) Stop(key Key) (status string, elapsed time.Duration, stopped bool) {
	rec, ok := e.store.Get(key)
	if !ok || !rec.Running() {
		return "No timer running for this task.", 0, false
	}

	elapsed = e.now().Sub(*rec.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	rec.Accumulated += elapsed
	rec.StartedAt = nil
	e.store.Put(key, rec)

	return e.StoppedStatus(key), elapsed, true
}

// RunningStatus renders the live display string for a running timer. The
// displayed minutes include time accumulated in prior sessions.
func (e *Engine) RunningStatus(key Key) string {
	rec, ok := e.store.Get(key)
	if !ok || !rec.Running() {
		return "No timer running for this task."
	}
	total := rec.Accumulated + e.now().Sub(*rec.StartedAt)
	if total < 0 {
		total = 0
	}
	minutes := int(total.Minutes())
	return fmt.Sprintf("Timer Running: %d minutes", minutes)
}

// StoppedStatus renders the accumulated total as "Total Time: XhYmZs",
// truncated to whole seconds.
func (e *Engine) StoppedStatus(key Key) string {
	rec, _ := e.store.Get(key)
	return "Total Time: " + FormatDuration(rec.Accumulated)
}

// FormatDuration renders a duration truncated to whole seconds, e.g.
// 3661s -> "1h1m1s", 90s -> "1m30s", 0 -> "0s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Second).String()
}
