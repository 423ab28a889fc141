package signin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	KeyHistory      = "sign_history"
	KeyLastSignDate = "last_sign_date"
	KeyStats        = "last_signin_stats"

	// MaxHistory caps the stored list regardless of the retention window.
	MaxHistory = 500

	dateLayout = "2006-01-02"
)

// KV is the slice of the host store history needs.
type KV interface {
	Get(ctx context.Context, ns, key string) ([]byte, bool, error)
	Put(ctx context.Context, ns, key string, val []byte) error
	Delete(ctx context.Context, ns, key string) error
}

// History is the per-plugin record list. Every Append prunes entries
// older than the retention window.
type History struct {
	kv  KV
	ns  string
	now func() time.Time

	mu sync.Mutex
}

func NewHistory(kv KV, ns string) *History {
	return &History{kv: kv, ns: ns, now: time.Now}
}

func (h *History) Namespace() string { return h.ns }

// Append adds rec and drops entries older than days. days <= 0 keeps all.
func (h *History) Append(ctx context.Context, rec Record, days int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	list, err := h.load(ctx)
	if err != nil {
		return err
	}
	list = append(list, rec)
	list = Prune(list, days, h.now())
	return h.save(ctx, list)
}

// Prune keeps records inside the retention window, capped at MaxHistory.
func Prune(list []Record, days int, now time.Time) []Record {
	out := list[:0:0]
	cutoff := now.AddDate(0, 0, -days)
	for _, r := range list {
		if days > 0 && r.Time.Before(cutoff) {
			continue
		}
		out = append(out, r)
	}
	if len(out) > MaxHistory {
		out = out[len(out)-MaxHistory:]
	}
	return out
}

// List returns the last n records, oldest first. n <= 0 returns all.
func (h *History) List(ctx context.Context, n int) ([]Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list, err := h.load(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(list) > n {
		list = list[len(list)-n:]
	}
	return list, nil
}

func (h *History) Last(ctx context.Context) (*Record, error) {
	list, err := h.List(ctx, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (h *History) Clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.kv.Delete(ctx, h.ns, KeyHistory); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (h *History) LastSignDate(ctx context.Context) (string, error) {
	b, ok, err := h.kv.Get(ctx, h.ns, KeyLastSignDate)
	if err != nil || !ok {
		return "", err
	}
	return string(b), nil
}

func (h *History) SetLastSignDate(ctx context.Context, t time.Time) error {
	return h.kv.Put(ctx, h.ns, KeyLastSignDate, []byte(t.Format(dateLayout)))
}

// SaveJSON stores v under key in the plugin namespace.
func (h *History) SaveJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return h.kv.Put(ctx, h.ns, key, b)
}

// LoadJSON decodes key into v and reports whether it existed.
func (h *History) LoadJSON(ctx context.Context, key string, v any) (bool, error) {
	b, ok, err := h.kv.Get(ctx, h.ns, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (h *History) load(ctx context.Context) ([]Record, error) {
	b, ok, err := h.kv.Get(ctx, h.ns, KeyHistory)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if !ok || len(b) == 0 {
		return nil, nil
	}
	var list []Record
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return list, nil
}

func (h *History) save(ctx context.Context, list []Record) error {
	b, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := h.kv.Put(ctx, h.ns, KeyHistory, b); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}
