package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/punchkit/punchclock/internal/beeminder"
	"github.com/punchkit/punchclock/internal/events"
	"github.com/punchkit/punchclock/internal/links"
	"github.com/punchkit/punchclock/internal/timer"
	"github.com/punchkit/punchclock/internal/todoist"
)

// mockTasks is an in-memory TaskClient recording all outbound calls.
type mockTasks struct {
	tasks        map[string]*todoist.Task
	comments     []string
	descriptions map[string]string
	getErr       error
	updateErr    error
}

func newMockTasks() *mockTasks {
	return &mockTasks{
		tasks:        make(map[string]*todoist.Task),
		descriptions: make(map[string]string),
	}
}

func (m *mockTasks) GetTask(ctx context.Context, taskID string) (*todoist.Task, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if task, ok := m.tasks[taskID]; ok {
		return task, nil
	}
	return &todoist.Task{ID: taskID}, nil
}

func (m *mockTasks) UpdateDescription(ctx context.Context, taskID, description string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.descriptions[taskID] = description
	return nil
}

func (m *mockTasks) PostComment(ctx context.Context, taskID, content string) error {
	m.comments = append(m.comments, taskID+"|"+content)
	return nil
}

func (m *mockTasks) calls() int {
	return len(m.comments) + len(m.descriptions)
}

// mockLinks is an in-memory LinkStore.
type mockLinks struct {
	byTask map[string]string
}

func newMockLinks() *mockLinks {
	return &mockLinks{byTask: make(map[string]string)}
}

func (m *mockLinks) Set(ctx context.Context, taskID, goalSlug string) error {
	m.byTask[taskID] = goalSlug
	return nil
}

func (m *mockLinks) Get(ctx context.Context, taskID string) (string, error) {
	if slug, ok := m.byTask[taskID]; ok {
		return slug, nil
	}
	return "", links.ErrNotFound
}

func (m *mockLinks) Delete(ctx context.Context, taskID string) error {
	delete(m.byTask, taskID)
	return nil
}

// mockBeeminder records posted datapoints.
type mockBeeminder struct {
	datapoints []beeminder.Datapoint
	err        error
}

func (m *mockBeeminder) Enabled() bool { return true }

func (m *mockBeeminder) CreateDatapoint(ctx context.Context, dp beeminder.Datapoint) error {
	if m.err != nil {
		return m.err
	}
	m.datapoints = append(m.datapoints, dp)
	return nil
}

// mockResolver returns the raw label list as lowercase names.
type mockResolver struct{}

func (mockResolver) Resolve(ctx context.Context, raw []any) ([]string, []int64) {
	var names []string
	var ids []int64
	for _, v := range raw {
		switch x := v.(type) {
		case string:
			names = append(names, strings.ToLower(x))
		case int64:
			ids = append(ids, x)
		}
	}
	return names, ids
}

type fixture struct {
	dispatcher *Dispatcher
	store      *timer.MemoryStore
	tasks      *mockTasks
	links      *mockLinks
	bm         *mockBeeminder
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: timer.NewMemoryStore(),
		tasks: newMockTasks(),
		links: newMockLinks(),
		bm:    &mockBeeminder{},
		clock: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	engine := timer.NewEngineWithClock(f.store, func() time.Time { return f.clock })
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	f.dispatcher = NewDispatcher(engine, f.tasks, mockResolver{}, f.bm, f.links, events.NewHub(16), logger, DispatcherOptions{
		TriggerLabel: "beeminder",
		DefaultGoal:  "dailyprayers",
	})
	return f
}

func notePayloadJSON(noteID int, content, taskID, userID string) []byte {
	return []byte(fmt.Sprintf(`{
		"event_name": "note:added",
		"triggered_at": "2024-03-01T09:00:00Z",
		"event_data": {
			"id": %d,
			"content": %q,
			"posted_at": "2024-03-01T09:00:00Z",
			"item": {"id": %s, "user_id": %s}
		}
	}`, noteID, content, taskID, userID))
}

func TestDispatchStartTimer(t *testing.T) {
	f := newFixture(t)

	err := f.dispatcher.Dispatch(context.Background(), "d-1", notePayloadJSON(555001, "Start Timer", "12345", "67890"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	rec, ok := f.store.Get(timer.Key{UserID: "67890", TaskID: "12345"})
	if !ok || !rec.Running() {
		t.Fatalf("expected running timer, got %+v ok=%v", rec, ok)
	}
	if got := f.tasks.descriptions["12345"]; got != "(Timer Running: 0 minutes)" {
		t.Errorf("description = %q", got)
	}
}

func TestDispatchStartTimerPreservesDescription(t *testing.T) {
	f := newFixture(t)
	f.tasks.tasks["12345"] = &todoist.Task{ID: "12345", Description: "Quarterly report notes"}

	f.dispatcher.Dispatch(context.Background(), "d-1", notePayloadJSON(555101, "start timer", "12345", "67890"))

	want := "Quarterly report notes (Timer Running: 0 minutes)"
	if got := f.tasks.descriptions["12345"]; got != want {
		t.Errorf("description = %q, want %q", got, want)
	}
}

func TestDispatchStopTimer(t *testing.T) {
	f := newFixture(t)

	f.dispatcher.Dispatch(context.Background(), "d-1", notePayloadJSON(555102, "start timer", "12345", "67890"))
	f.clock = f.clock.Add(90 * time.Second)
	f.dispatcher.Dispatch(context.Background(), "d-2", notePayloadJSON(555103, "stop timer", "12345", "67890"))

	rec, _ := f.store.Get(timer.Key{UserID: "67890", TaskID: "12345"})
	if rec.Running() {
		t.Error("timer should be stopped")
	}
	if rec.Accumulated != 90*time.Second {
		t.Errorf("Accumulated = %v, want 90s", rec.Accumulated)
	}

	if got := f.tasks.descriptions["12345"]; got != "(Total Time: 1m30s)" {
		t.Errorf("description = %q", got)
	}

	foundElapsed := false
	for _, c := range f.tasks.comments {
		if c == "12345|Elapsed time: 1m30s" {
			foundElapsed = true
		}
	}
	if !foundElapsed {
		t.Errorf("missing elapsed comment, got %v", f.tasks.comments)
	}
}

func TestDispatchStopAccumulatesAcrossSessions(t *testing.T) {
	f := newFixture(t)

	// First session: 49m41s.
	f.dispatcher.Dispatch(context.Background(), "d-1", notePayloadJSON(555104, "start timer", "12345", "67890"))
	f.clock = f.clock.Add(49*time.Minute + 41*time.Second)
	f.dispatcher.Dispatch(context.Background(), "d-2", notePayloadJSON(555105, "stop timer", "12345", "67890"))

	// Second session: 51m28s. Totals merge to 1h41m9s.
	f.dispatcher.Dispatch(context.Background(), "d-3", notePayloadJSON(555106, "start timer", "12345", "67890"))
	f.clock = f.clock.Add(51*time.Minute + 28*time.Second)
	f.dispatcher.Dispatch(context.Background(), "d-4", notePayloadJSON(555107, "stop timer", "12345", "67890"))

	if got := f.tasks.descriptions["12345"]; got != "(Total Time: 1h41m9s)" {
		t.Errorf("description = %q, want (Total Time: 1h41m9s)", got)
	}
}

func TestDispatchStopWithoutTimer(t *testing.T) {
	f := newFixture(t)

	f.dispatcher.Dispatch(context.Background(), "d-1", notePayloadJSON(555001, "Stop Timer", "12345", "67890"))

	if _, ok := f.store.Get(timer.Key{UserID: "67890", TaskID: "12345"}); ok {
		t.Error("stop must not create a record")
	}
	if len(f.tasks.comments) != 1 || f.tasks.comments[0] != "12345|No timer running for this task." {
		t.Errorf("comments = %v", f.tasks.comments)
	}
}

func TestDispatchUnmatchedText(t *testing.T) {
	f := newFixture(t)

	f.dispatcher.Dispatch(context.Background(), "d-1", notePayloadJSON(555001, "hello world", "12345", "67890"))

	if len(f.store.Snapshot()) != 0 {
		t.Error("unmatched text must not mutate the store")
	}
	if f.tasks.calls() != 0 {
		t.Errorf("unmatched text must not call the provider, comments=%v descriptions=%v",
			f.tasks.comments, f.tasks.descriptions)
	}
}

func TestDispatchUnhandledEvent(t *testing.T) {
	f := newFixture(t)

	body := []byte(`{"event_name": "item:added", "event_data": {"id": 1}}`)
	if err := f.dispatcher.Dispatch(context.Background(), "d-1", body); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if f.tasks.calls() != 0 {
		t.Error("unhandled event must not call the provider")
	}
}

func TestDispatchMalformedPayload(t *testing.T) {
	f := newFixture(t)

	for i, body := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"invalid_key": "invalid_value"}`),
		notePayloadJSON(555001, "start timer", `null`, `null`),
	} {
		deliveryID := fmt.Sprintf("d-%d", i)
		if err := f.dispatcher.Dispatch(context.Background(), deliveryID, body); err != nil {
			t.Errorf("Dispatch(%s) error = %v, want nil", body, err)
		}
	}
	if len(f.store.Snapshot()) != 0 || f.tasks.calls() != 0 {
		t.Error("malformed payloads must have no effect")
	}
}

func TestDispatchDuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	body := notePayloadJSON(555108, "start timer", "12345", "67890")

	f.dispatcher.Dispatch(context.Background(), "dup", body)
	f.clock = f.clock.Add(time.Minute)

	// Same delivery redelivered: no second processing.
	f.dispatcher.Dispatch(context.Background(), "dup", body)

	if len(f.tasks.descriptions) != 1 {
		t.Errorf("descriptions = %v", f.tasks.descriptions)
	}
}

func TestDispatchSyntheticIDsStayOutOfDedupeWindow(t *testing.T) {
	f := newFixture(t)

	id := SyntheticIDPrefix + "aaaa-1111"
	if err := f.dispatcher.Dispatch(context.Background(), id, notePayloadJSON(555120, "start timer", "12345", "67890")); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	// The event is still processed normally.
	if _, ok := f.tasks.descriptions["12345"]; !ok {
		t.Fatal("synthetic-id delivery was not processed")
	}
	// But minted IDs never occupy a dedupe slot, so they cannot evict
	// real delivery IDs.
	if got := f.dispatcher.deliveries.Len(); got != 0 {
		t.Errorf("deliveries set size = %d, want 0", got)
	}

	// A colliding synthetic ID is not treated as a duplicate either.
	f.clock = f.clock.Add(time.Minute)
	f.dispatcher.Dispatch(context.Background(), id, notePayloadJSON(555121, "stop timer", "12345", "67890"))
	rec, _ := f.store.Get(timer.Key{UserID: "67890", TaskID: "12345"})
	if rec.Running() {
		t.Error("second synthetic-id delivery was skipped as a duplicate")
	}
}

func TestDispatchDuplicateNote(t *testing.T) {
	f := newFixture(t)
	body := notePayloadJSON(555001, "bm", "12345", "67890")

	f.dispatcher.Dispatch(context.Background(), "d-1", body)
	f.dispatcher.Dispatch(context.Background(), "d-2", body) // same note id, new delivery

	if len(f.bm.datapoints) != 1 {
		t.Errorf("datapoints = %d, want 1", len(f.bm.datapoints))
	}
}

func TestDispatchCommentCount(t *testing.T) {
	f := newFixture(t)
	f.tasks.tasks["12345"] = &todoist.Task{ID: "12345", Content: "Fajr"}

	f.dispatcher.Dispatch(context.Background(), "d-1", notePayloadJSON(555001, "bm", "12345", "67890"))

	if len(f.bm.datapoints) != 1 {
		t.Fatalf("datapoints = %d, want 1", len(f.bm.datapoints))
	}
	dp := f.bm.datapoints[0]
	if dp.Goal != "dailyprayers" || dp.Value != 1 {
		t.Errorf("datapoint = %+v", dp)
	}
	if dp.Comment != "Todoist (comment): Fajr" {
		t.Errorf("comment = %q", dp.Comment)
	}
	if dp.RequestID != "note:555001" {
		t.Errorf("requestid = %q", dp.RequestID)
	}

	confirmed := false
	for _, c := range f.tasks.comments {
		if c == "12345|Counted ✅" {
			confirmed = true
		}
	}
	if !confirmed {
		t.Errorf("missing confirmation comment, got %v", f.tasks.comments)
	}
}

func TestDispatchAddAndRemoveLink(t *testing.T) {
	f := newFixture(t)

	f.dispatcher.Dispatch(context.Background(), "d-1", notePayloadJSON(555010, "add to beeminder salah", "123", "u1"))
	if f.links.byTask["123"] != "salah" {
		t.Errorf("link = %q, want salah", f.links.byTask["123"])
	}

	f.dispatcher.Dispatch(context.Background(), "d-2", notePayloadJSON(555011, "remove from beeminder", "123", "u1"))
	if _, ok := f.links.byTask["123"]; ok {
		t.Error("link should be removed")
	}
}

func completionPayloadJSON(eventName, eventID, taskID string, labels string) []byte {
	return []byte(fmt.Sprintf(`{
		"event_name": %q,
		"event_id": %q,
		"triggered_at": "2024-03-01T11:00:00Z",
		"event_data": {
			"id": %s,
			"content": "Fajr",
			"labels": %s,
			"completed_at": "2024-03-01T11:00:00Z"
		}
	}`, eventName, eventID, taskID, labels))
}

func TestDispatchCompletionWithTriggerLabel(t *testing.T) {
	f := newFixture(t)

	body := completionPayloadJSON("item:completed", "abc123", "123", `["beeminder"]`)
	f.dispatcher.Dispatch(context.Background(), "d-1", body)

	if len(f.bm.datapoints) != 1 {
		t.Fatalf("datapoints = %d, want 1", len(f.bm.datapoints))
	}
	dp := f.bm.datapoints[0]
	if dp.Goal != "dailyprayers" {
		t.Errorf("goal = %q", dp.Goal)
	}
	if dp.RequestID != "abc123" {
		t.Errorf("requestid = %q, want event id", dp.RequestID)
	}
	if dp.Timestamp == nil || *dp.Timestamp != time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC).Unix() {
		t.Errorf("timestamp = %v", dp.Timestamp)
	}

	completed := false
	for _, c := range f.tasks.comments {
		if c == "123|Task completed ✅ — Fajr" {
			completed = true
		}
	}
	if !completed {
		t.Errorf("missing completion comment, got %v", f.tasks.comments)
	}
}

func TestDispatchCompletionOfLinkedTask(t *testing.T) {
	f := newFixture(t)
	f.links.byTask["123"] = "salah"

	body := completionPayloadJSON("item:completed", "abc123", "123", `[]`)
	f.dispatcher.Dispatch(context.Background(), "d-1", body)

	if len(f.bm.datapoints) != 1 {
		t.Fatalf("datapoints = %d, want 1", len(f.bm.datapoints))
	}
	if f.bm.datapoints[0].Goal != "salah" {
		t.Errorf("goal = %q, want salah", f.bm.datapoints[0].Goal)
	}
}

func TestDispatchCompletionWithoutTriggerDoesNotCount(t *testing.T) {
	f := newFixture(t)

	body := completionPayloadJSON("item:completed", "abc123", "123", `["work"]`)
	f.dispatcher.Dispatch(context.Background(), "d-1", body)

	if len(f.bm.datapoints) != 0 {
		t.Errorf("datapoints = %d, want 0", len(f.bm.datapoints))
	}
	// The completion comment is still posted.
	if len(f.tasks.comments) != 1 {
		t.Errorf("comments = %v", f.tasks.comments)
	}
}

func TestDispatchCompletionDeduped(t *testing.T) {
	f := newFixture(t)

	body := completionPayloadJSON("item:completed", "abc123", "123", `["beeminder"]`)
	f.dispatcher.Dispatch(context.Background(), "d-1", body)
	f.dispatcher.Dispatch(context.Background(), "d-2", body)

	if len(f.bm.datapoints) != 1 {
		t.Errorf("datapoints = %d, want 1", len(f.bm.datapoints))
	}
}

func TestDispatchItemUpdatedCompletion(t *testing.T) {
	f := newFixture(t)

	body := []byte(`{
		"event_name": "item:updated",
		"event_id": "upd-1",
		"triggered_at": "2024-03-01T11:00:00Z",
		"event_data": {
			"id": 123,
			"content": "Fajr",
			"labels": ["beeminder"],
			"checked": true,
			"completed_at": "2024-03-01T11:00:00Z"
		}
	}`)
	f.dispatcher.Dispatch(context.Background(), "d-1", body)

	if len(f.bm.datapoints) != 1 {
		t.Errorf("datapoints = %d, want 1", len(f.bm.datapoints))
	}
}

func TestDispatchItemUpdatedNotCompleted(t *testing.T) {
	f := newFixture(t)

	body := []byte(`{
		"event_name": "item:updated",
		"triggered_at": "2024-03-01T11:00:00Z",
		"event_data": {"id": 123, "content": "Fajr", "checked": false}
	}`)
	f.dispatcher.Dispatch(context.Background(), "d-1", body)

	if f.tasks.calls() != 0 || len(f.bm.datapoints) != 0 {
		t.Error("unchecked update must be ignored")
	}
}

func TestDispatchProviderFailureKeepsTimerState(t *testing.T) {
	f := newFixture(t)
	f.tasks.getErr = todoist.ErrUnavailable

	err := f.dispatcher.Dispatch(context.Background(), "d-1", notePayloadJSON(555109, "start timer", "12345", "67890"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil (best-effort write-back)", err)
	}

	rec, ok := f.store.Get(timer.Key{UserID: "67890", TaskID: "12345"})
	if !ok || !rec.Running() {
		t.Error("timer state must survive provider failures")
	}
}
