// Package labels resolves Todoist label IDs to names through a TTL cache.
// Webhook payloads carry labels either as names or as numeric IDs depending
// on how the task was created; completion matching needs names.
package labels

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/punchkit/punchclock/internal/todoist"
)

// DefaultTTL is how long a fetched label listing stays fresh.
const DefaultTTL = 10 * time.Minute

// Lister is the slice of the Todoist client the cache needs.
type Lister interface {
	ListLabels(ctx context.Context) ([]todoist.Label, error)
}

// Cache maps label IDs to lowercase names, refreshed opportunistically.
type Cache struct {
	lister Lister
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	byID      map[int64]string
	refreshed time.Time
}

// NewCache creates a Cache over lister with the given TTL (DefaultTTL if
// zero).
func NewCache(lister Lister, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		lister: lister,
		ttl:    ttl,
		logger: logger.With("component", "labels"),
		now:    time.Now,
		byID:   make(map[int64]string),
	}
}

// Resolve normalizes a raw label list from a webhook payload to lowercase
// names plus any numeric IDs it carried. A list that is entirely numeric is
// treated as IDs and resolved through the cache; anything else is treated as
// names.
func (c *Cache) Resolve(ctx context.Context, raw []any) (names []string, ids []int64) {
	if len(raw) == 0 {
		return nil, nil
	}

	numeric := make([]int64, 0, len(raw))
	allNumbers := true
	for _, v := range raw {
		id, ok := asInt64(v)
		if !ok {
			allNumbers = false
			break
		}
		numeric = append(numeric, id)
	}

	if !allNumbers {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				names = append(names, strings.ToLower(strings.TrimSpace(s)))
			}
		}
		return names, nil
	}

	c.refreshIfStale(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range numeric {
		if name, ok := c.byID[id]; ok {
			names = append(names, name)
		}
	}
	return names, numeric
}

// refreshIfStale re-fetches the label listing when the TTL has lapsed.
// Failures keep the previous (possibly empty) mapping.
func (c *Cache) refreshIfStale(ctx context.Context) {
	c.mu.Lock()
	stale := c.now().Sub(c.refreshed) >= c.ttl
	c.mu.Unlock()
	if !stale {
		return
	}

	listing, err := c.lister.ListLabels(ctx)
	if err != nil {
		c.logger.Error("label cache refresh failed", "error", err)
		return
	}

	byID := make(map[int64]string, len(listing))
	for _, lbl := range listing {
		id, err := strconv.ParseInt(lbl.ID, 10, 64)
		if err != nil {
			continue
		}
		byID[id] = strings.ToLower(strings.TrimSpace(lbl.Name))
	}

	c.mu.Lock()
	c.byID = byID
	c.refreshed = c.now()
	c.mu.Unlock()

	c.logger.Info("refreshed label cache", "labels", len(byID))
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		// JSON numbers decode as float64.
		if x == float64(int64(x)) {
			return int64(x), true
		}
		return 0, false
	case string:
		id, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	default:
		return 0, false
	}
}
