package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/punchkit/punchclock/internal/beeminder"
	"github.com/punchkit/punchclock/internal/dedupe"
	"github.com/punchkit/punchclock/internal/events"
	"github.com/punchkit/punchclock/internal/links"
	"github.com/punchkit/punchclock/internal/snippet"
	"github.com/punchkit/punchclock/internal/timer"
)

// Trigger phrases recognized in comments. Matching is case-insensitive on
// trimmed text.
const (
	phraseStartTimer = "start timer"
	phraseStopTimer  = "stop timer"
	phraseAddLink    = "add to beeminder"
	phraseRemoveLink = "remove from beeminder"
)

// DispatcherOptions carries the policy knobs for event routing.
type DispatcherOptions struct {
	// TriggerLabel counts a completion on Beeminder when present on the
	// task. Name or numeric ID.
	TriggerLabel string
	// TriggerLabelID is the numeric form of TriggerLabel, when it has one.
	TriggerLabelID    int64
	HasTriggerLabelID bool
	// DefaultGoal receives datapoints for tasks without an explicit link.
	DefaultGoal string
}

// Dispatcher interprets verified webhook payloads: comment trigger phrases
// drive the timer engine, completion events drive Beeminder counting.
type Dispatcher struct {
	engine *timer.Engine
	tasks  TaskClient
	labels LabelResolver
	bm     DatapointPoster
	links  LinkStore
	hub    *events.Hub
	logger *slog.Logger
	opts   DispatcherOptions

	deliveries  *dedupe.Set
	completions *dedupe.Set
	notes       *dedupe.Set
}

// NewDispatcher wires a Dispatcher from its collaborators.
func NewDispatcher(engine *timer.Engine, tasks TaskClient, resolver LabelResolver, bm DatapointPoster, linkStore LinkStore, hub *events.Hub, logger *slog.Logger, opts DispatcherOptions) *Dispatcher {
	return &Dispatcher{
		engine:      engine,
		tasks:       tasks,
		labels:      resolver,
		bm:          bm,
		links:       linkStore,
		hub:         hub,
		logger:      logger.With("component", "dispatcher"),
		opts:        opts,
		deliveries:  dedupe.NewSet(dedupe.MaxDeliveries),
		completions: dedupe.NewSet(dedupe.MaxCompletions),
		notes:       dedupe.NewSet(dedupe.MaxNotes),
	}
}

// Dispatch routes one verified webhook delivery. Expected no-op outcomes
// (duplicate deliveries, unrecognized events, unmatched phrases, malformed
// payloads) return nil so the HTTP layer answers 200 and the provider does
// not retry. Provider write failures are logged and swallowed the same way;
// timer state already mutated is not rolled back.
func (d *Dispatcher) Dispatch(ctx context.Context, deliveryID string, body []byte) error {
	// Synthesized IDs are unique per request. Recording them would only
	// evict real delivery IDs from the dedupe window.
	if !strings.HasPrefix(deliveryID, SyntheticIDPrefix) && d.deliveries.Seen(deliveryID) {
		d.logger.Info("duplicate delivery, skipping", "delivery_id", deliveryID)
		return nil
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		d.logger.Warn("malformed payload, ignoring", "delivery_id", deliveryID, "error", err)
		return nil
	}
	if payload.EventName == "" {
		d.logger.Warn("payload missing event_name, ignoring", "delivery_id", deliveryID)
		return nil
	}

	d.hub.Publish(events.TypeWebhookReceived, map[string]any{
		"event_name":  payload.EventName,
		"delivery_id": deliveryID,
	})
	d.logger.Info("event received", "event_name", payload.EventName, "delivery_id", deliveryID)

	if c := normalizeCompletion(&payload); c != nil {
		return d.handleCompletion(ctx, &payload, c)
	}

	if payload.EventName == "note:added" {
		return d.handleNote(ctx, &payload)
	}

	d.logger.Info("unhandled event", "event_name", payload.EventName)
	return nil
}

// normalizeCompletion reduces the completion signal variants to one shape.
// Returns nil when the payload is not a completion.
func normalizeCompletion(payload *Payload) *completion {
	var task taskPayload
	if err := json.Unmarshal(payload.EventData, &task); err != nil {
		return nil
	}

	switch payload.EventName {
	case "item:completed", "task:completed":
		return &completion{
			TaskID:      firstNonEmpty(task.ID.String(), task.TaskID.String()),
			Content:     strings.TrimSpace(task.Content),
			LabelsRaw:   task.Labels,
			CompletedAt: firstNonEmpty(task.CompletedAt, payload.TriggeredAt),
		}
	case "item:updated":
		intent := strings.ToLower(task.UpdateIntent)
		completedAt := firstNonEmpty(task.CompletedAt, payload.TriggeredAt)
		if intent == "item_completed" || (asBool(task.Checked) && completedAt != "") {
			return &completion{
				TaskID:      task.ID.String(),
				Content:     strings.TrimSpace(task.Content),
				LabelsRaw:   task.Labels,
				CompletedAt: completedAt,
			}
		}
	}
	return nil
}

func (d *Dispatcher) handleCompletion(ctx context.Context, payload *Payload, c *completion) error {
	if c.TaskID == "" {
		d.logger.Warn("completion missing task id, ignoring", "event_name", payload.EventName)
		return nil
	}

	key := completionKey(c.TaskID, c.CompletedAt)
	if d.completions.Seen(key) {
		d.logger.Info("duplicate completion, skipping", "completion_key", key)
		return nil
	}

	d.hub.Publish(events.TypeTaskCompleted, map[string]any{
		"task_id": c.TaskID,
		"content": c.Content,
	})

	// Comment on every completion; keep the text free of trigger words to
	// avoid webhook loops.
	comment := "Task completed ✅"
	if c.Content != "" {
		comment = fmt.Sprintf("Task completed ✅ — %s", c.Content)
	}
	if err := d.tasks.PostComment(ctx, c.TaskID, comment); err != nil {
		d.logger.Error("completion comment failed", "task_id", c.TaskID, "error", err)
	}

	goal, counted := d.goalForCompletion(ctx, c)
	if !counted {
		return nil
	}

	requestID := payload.EventID
	if requestID == "" {
		requestID = "complete:" + key
	}

	dp := beeminder.Datapoint{
		Goal:      goal,
		Value:     1,
		Comment:   fmt.Sprintf("Todoist: %s", c.Content),
		Timestamp: isoToUnix(c.CompletedAt),
		RequestID: requestID,
	}
	d.postDatapoint(ctx, c.TaskID, dp)
	return nil
}

// goalForCompletion decides whether a completion counts, and toward which
// goal. An explicit task link wins; otherwise the trigger label selects the
// default goal.
func (d *Dispatcher) goalForCompletion(ctx context.Context, c *completion) (string, bool) {
	if goal, err := d.links.Get(ctx, c.TaskID); err == nil {
		return goal, true
	} else if !errors.Is(err, links.ErrNotFound) {
		d.logger.Error("task link lookup failed", "task_id", c.TaskID, "error", err)
	}

	names, ids := d.labels.Resolve(ctx, c.LabelsRaw)
	for _, name := range names {
		if name == strings.ToLower(d.opts.TriggerLabel) {
			return d.opts.DefaultGoal, true
		}
	}
	if d.opts.HasTriggerLabelID {
		for _, id := range ids {
			if id == d.opts.TriggerLabelID {
				return d.opts.DefaultGoal, true
			}
		}
	}
	return "", false
}

func (d *Dispatcher) handleNote(ctx context.Context, payload *Payload) error {
	var note notePayload
	if err := json.Unmarshal(payload.EventData, &note); err != nil {
		d.logger.Warn("malformed note payload, ignoring", "error", err)
		return nil
	}

	taskID := note.Item.ID.String()
	userID := note.Item.UserID.String()
	if taskID == "" || userID == "" {
		d.logger.Warn("note missing task_id or user_id, ignoring")
		return nil
	}

	if d.notes.Seen(note.ID.String()) {
		d.logger.Info("duplicate note, skipping", "note_id", note.ID.String())
		return nil
	}

	text := strings.ToLower(strings.TrimSpace(note.Content))
	noteTime := firstNonEmpty(note.PostedAt, note.Posted, payload.TriggeredAt)

	switch {
	case text == "beeminder" || text == "bm":
		return d.countFromNote(ctx, taskID, note.ID.String(), noteTime)
	case strings.HasPrefix(text, phraseAddLink):
		return d.addLink(ctx, taskID, text)
	case text == phraseRemoveLink:
		return d.removeLink(ctx, taskID)
	case strings.Contains(text, phraseStartTimer):
		return d.startTimer(ctx, timer.Key{UserID: userID, TaskID: taskID})
	case strings.Contains(text, phraseStopTimer):
		return d.stopTimer(ctx, timer.Key{UserID: userID, TaskID: taskID})
	}

	// Unmatched comment text: no store mutation, no provider call.
	return nil
}

// countFromNote posts a +1 datapoint triggered by an explicit comment.
func (d *Dispatcher) countFromNote(ctx context.Context, taskID, noteID, noteTime string) error {
	goal := d.opts.DefaultGoal
	if linked, err := d.links.Get(ctx, taskID); err == nil {
		goal = linked
	}

	title := "(untitled task)"
	if task, err := d.tasks.GetTask(ctx, taskID); err == nil && task.Content != "" {
		title = task.Content
	}

	requestID := "note:" + noteID
	if noteID == "" {
		requestID = fmt.Sprintf("note:%s:%s", taskID, noteTime)
	}

	dp := beeminder.Datapoint{
		Goal:      goal,
		Value:     1,
		Comment:   fmt.Sprintf("Todoist (comment): %s", title),
		Timestamp: isoToUnix(noteTime),
		RequestID: requestID,
	}
	d.postDatapoint(ctx, taskID, dp)
	return nil
}

func (d *Dispatcher) addLink(ctx context.Context, taskID, text string) error {
	slug := strings.TrimSpace(strings.TrimPrefix(text, phraseAddLink))
	if slug == "" {
		d.comment(ctx, taskID, "Usage: add to beeminder <goal-slug>")
		return nil
	}

	if err := d.links.Set(ctx, taskID, slug); err != nil {
		d.logger.Error("set task link failed", "task_id", taskID, "error", err)
		d.comment(ctx, taskID, "Failed to link goal ❌")
		return nil
	}
	d.comment(ctx, taskID, fmt.Sprintf("Linked to goal %q ✅", slug))
	return nil
}

func (d *Dispatcher) removeLink(ctx context.Context, taskID string) error {
	if err := d.links.Delete(ctx, taskID); err != nil {
		d.logger.Error("delete task link failed", "task_id", taskID, "error", err)
		d.comment(ctx, taskID, "Failed to unlink goal ❌")
		return nil
	}
	d.comment(ctx, taskID, "Unlinked from Beeminder ✅")
	return nil
}

func (d *Dispatcher) startTimer(ctx context.Context, key timer.Key) error {
	status := d.engine.Start(key)
	d.hub.Publish(events.TypeTimerStarted, map[string]any{
		"task_id": key.TaskID,
		"user_id": key.UserID,
	})
	d.logger.Info("timer started", "task_id", key.TaskID, "user_id", key.UserID)

	d.upsertSnippet(ctx, key.TaskID, snippet.Marker(status))
	return nil
}

func (d *Dispatcher) stopTimer(ctx context.Context, key timer.Key) error {
	status, elapsed, stopped := d.engine.Stop(key)
	if !stopped {
		d.comment(ctx, key.TaskID, status)
		return nil
	}

	d.hub.Publish(events.TypeTimerStopped, map[string]any{
		"task_id": key.TaskID,
		"user_id": key.UserID,
		"elapsed": elapsed.String(),
	})
	d.logger.Info("timer stopped", "task_id", key.TaskID, "user_id", key.UserID, "elapsed", elapsed.String())

	d.comment(ctx, key.TaskID, "Elapsed time: "+timer.FormatDuration(elapsed))
	d.upsertSnippet(ctx, key.TaskID, snippet.Marker(status))
	return nil
}

// upsertSnippet rewrites the timer marker in the task description,
// best-effort: the timer state is authoritative and a failed description
// update is retried by the next refresh tick or stop.
func (d *Dispatcher) upsertSnippet(ctx context.Context, taskID, marker string) {
	task, err := d.tasks.GetTask(ctx, taskID)
	if err != nil {
		d.logger.Error("fetch description failed", "task_id", taskID, "error", err)
		return
	}
	updated := snippet.Upsert(task.Description, marker)
	if err := d.tasks.UpdateDescription(ctx, taskID, updated); err != nil {
		d.logger.Error("update description failed", "task_id", taskID, "error", err)
	}
}

// postDatapoint sends dp and confirms the outcome with a task comment.
func (d *Dispatcher) postDatapoint(ctx context.Context, taskID string, dp beeminder.Datapoint) {
	err := d.bm.CreateDatapoint(ctx, dp)
	if err != nil {
		d.logger.Error("beeminder datapoint failed", "task_id", taskID, "goal", dp.Goal, "error", err)
		d.comment(ctx, taskID, "Failed to count ❌")
		return
	}

	d.hub.Publish(events.TypeBeeminderDatapoint, map[string]any{
		"task_id": taskID,
		"goal":    dp.Goal,
		"value":   dp.Value,
	})
	d.logger.Info("beeminder datapoint posted", "task_id", taskID, "goal", dp.Goal)
	d.comment(ctx, taskID, "Counted ✅")
}

func (d *Dispatcher) comment(ctx context.Context, taskID, content string) {
	if err := d.tasks.PostComment(ctx, taskID, content); err != nil {
		d.logger.Error("post comment failed", "task_id", taskID, "error", err)
	}
}
