package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/punchkit/punchclock/internal/beeminder"
	"github.com/punchkit/punchclock/internal/todoist"
)

// EventDispatcher routes a verified webhook payload.
type EventDispatcher interface {
	Dispatch(ctx context.Context, deliveryID string, body []byte) error
}

// TaskClient is the slice of the Todoist client the dispatcher and server
// need.
type TaskClient interface {
	GetTask(ctx context.Context, taskID string) (*todoist.Task, error)
	UpdateDescription(ctx context.Context, taskID, description string) error
	PostComment(ctx context.Context, taskID, content string) error
}

// LabelResolver normalizes raw webhook label lists to names and IDs.
type LabelResolver interface {
	Resolve(ctx context.Context, raw []any) (names []string, ids []int64)
}

// DatapointPoster posts Beeminder datapoints.
type DatapointPoster interface {
	Enabled() bool
	CreateDatapoint(ctx context.Context, dp beeminder.Datapoint) error
}

// LinkStore maps tasks to Beeminder goals.
type LinkStore interface {
	Set(ctx context.Context, taskID, goalSlug string) error
	Get(ctx context.Context, taskID string) (string, error)
	Delete(ctx context.Context, taskID string) error
}

// Config holds webhook server configuration.
type Config struct {
	Listen          string
	Path            string
	Secret          string
	SignatureHeader string
	DeliveryHeader  string
	MaxBodySize     int64
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultSignatureHeader = "X-Todoist-Hmac-SHA256"
	DefaultDeliveryHeader  = "X-Todoist-Delivery-ID"
)

// SyntheticIDPrefix marks delivery IDs minted locally when the provider sent
// no delivery header. They are unique per request and exempt from dedupe.
const SyntheticIDPrefix = "synthetic:"

// Payload is the envelope of every Todoist webhook event.
type Payload struct {
	EventName   string          `json:"event_name"`
	EventID     string          `json:"event_id"`
	TriggeredAt string          `json:"triggered_at"`
	EventData   json.RawMessage `json:"event_data"`
}

// notePayload is the event_data of a note:added event.
type notePayload struct {
	ID       json.Number `json:"id"`
	Content  string      `json:"content"`
	PostedAt string      `json:"posted_at"`
	Posted   string      `json:"posted"`
	Item     struct {
		ID     json.Number `json:"id"`
		UserID json.Number `json:"user_id"`
	} `json:"item"`
}

// taskPayload is the event_data of completion-shaped events. Fields cover
// the variants seen across item:completed, task:completed and item:updated
// deliveries.
type taskPayload struct {
	ID           json.Number `json:"id"`
	TaskID       json.Number `json:"task_id"`
	Content      string      `json:"content"`
	Labels       []any       `json:"labels"`
	CompletedAt  string      `json:"completed_at"`
	Checked      any         `json:"checked"`
	UpdateIntent string      `json:"update_intent"`
}

// completion is the normalized shape all completion variants reduce to.
type completion struct {
	TaskID      string
	Content     string
	LabelsRaw   []any
	CompletedAt string
}

// asBool interprets the loose truthiness Todoist uses for the checked flag.
func asBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		s := strings.ToLower(x)
		return s != "" && s != "false" && s != "0" && s != "none" && s != "null"
	default:
		return false
	}
}

// isoToUnix parses an ISO-8601 timestamp to unix seconds. Returns nil when
// the value is empty or unparseable.
func isoToUnix(ts string) *int64 {
	if ts == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil
	}
	u := t.Unix()
	return &u
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// completionKey builds the de-dupe key for one completion signal.
func completionKey(taskID, completedAt string) string {
	return fmt.Sprintf("%s:%s", taskID, completedAt)
}
