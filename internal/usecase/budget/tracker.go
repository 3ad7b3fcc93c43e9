// Package budget meters provider token consumption and enforces daily and
// monthly limits for embedding and generation calls.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/domain"
)

// Action defines behavior when a window's limit is spent.
type Action string

const (
	// ActionWarn logs a warning but allows the request.
	ActionWarn Action = "warn"
	// ActionReject fails the request with domain.ErrQuotaExceeded.
	ActionReject Action = "reject"
)

// Call is the kind of provider call that consumed tokens.
type Call string

// Metered call kinds.
const (
	CallEmbedding  Call = "embedding"
	CallGeneration Call = "generation"
)

var calls = []Call{CallEmbedding, CallGeneration}

// Period selects a metering window.
type Period string

// Metering windows.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// ParsePeriod validates a report period. Empty defaults to the day window.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodDay:
		return PeriodDay, nil
	case PeriodMonth:
		return PeriodMonth, nil
	default:
		return "", fmt.Errorf("%w: period must be day or month, got %q", domain.ErrInvalidInput, s)
	}
}

// Limits caps tokens per window. Zero means unlimited.
type Limits struct {
	Daily   int64
	Monthly int64
	Action  Action
}

// Store persists window counters between restarts.
type Store interface {
	IncrBy(ctx context.Context, key string, val int64) error
	Get(ctx context.Context, key string) (int64, error)
}

// window meters one period, split by call kind.
type window struct {
	period Period
	limit  int64
	start  time.Time
	used   map[Call]int64
}

func newWindow(p Period, limit int64, now time.Time) *window {
	return &window{period: p, limit: limit, start: windowStart(p, now), used: make(map[Call]int64, len(calls))}
}

// roll starts a new window once now leaves the current one.
func (w *window) roll(now time.Time) {
	if start := windowStart(w.period, now); start.After(w.start) {
		w.start = start
		clear(w.used)
	}
}

func (w *window) total() int64 {
	var n int64
	for _, v := range w.used {
		n += v
	}
	return n
}

func (w *window) spent() bool { return w.limit > 0 && w.total() >= w.limit }

// remaining is -1 when the window is unlimited and never negative otherwise.
func (w *window) remaining() int64 {
	if w.limit == 0 {
		return -1
	}
	return max(w.limit-w.total(), 0)
}

func (w *window) resetsAt() time.Time {
	if w.period == PeriodMonth {
		return w.start.AddDate(0, 1, 0)
	}
	return w.start.AddDate(0, 0, 1)
}

// key pattern: cceval:budget:{provider}:{call}:{daily|monthly}:{stamp}
func (w *window) key(provider string, c Call) string {
	if w.period == PeriodMonth {
		return fmt.Sprintf("%sbudget:%s:%s:monthly:%s", domain.KeyPrefix, provider, c, w.start.Format("2006-01"))
	}
	return fmt.Sprintf("%sbudget:%s:%s:daily:%s", domain.KeyPrefix, provider, c, w.start.Format("2006-01-02"))
}

func windowStart(p Period, t time.Time) time.Time {
	t = t.UTC()
	if p == PeriodMonth {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Tracker meters one provider. The embedder and the generator of that
// provider share it, so both draw from the same allowance. Check never
// leaves memory; Record writes behind to the store when one is attached.
type Tracker struct {
	mu       sync.Mutex
	provider string
	action   Action
	day      *window
	month    *window
	store    Store
	now      func() time.Time
	logger   *zap.Logger
}

// NewTracker creates a tracker for provider.
func NewTracker(provider string, limits Limits, logger *zap.Logger) *Tracker {
	now := time.Now()
	action := limits.Action
	if action != ActionReject {
		action = ActionWarn
	}
	return &Tracker{
		provider: provider,
		action:   action,
		day:      newWindow(PeriodDay, limits.Daily, now),
		month:    newWindow(PeriodMonth, limits.Monthly, now),
		now:      time.Now,
		logger:   logger,
	}
}

// WithStore attaches persistence and restores the current windows from it.
// Counters that fail to load start at zero.
func (t *Tracker) WithStore(ctx context.Context, store Store) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.store = store
	t.rollLocked()
	for _, w := range t.windows() {
		for _, c := range calls {
			key := w.key(t.provider, c)
			v, err := store.Get(ctx, key)
			if err != nil {
				t.logger.Warn("Budget counter load failed", zap.String("key", key), zap.Error(err))
				continue
			}
			w.used[c] = v
		}
	}
	t.logger.Info("Budget restored",
		zap.String("provider", t.provider),
		zap.Int64("day_used", t.day.total()),
		zap.Int64("month_used", t.month.total()),
	)
	return t
}

// Check fails with domain.ErrQuotaExceeded when a window is spent and the
// action is reject.
func (t *Tracker) Check(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollLocked()
	for _, w := range t.windows() {
		if !w.spent() {
			continue
		}
		if t.action == ActionReject {
			return fmt.Errorf("%s %s budget of %d tokens spent: %w", t.provider, w.period, w.limit, domain.ErrQuotaExceeded)
		}
		t.logger.Warn("Token budget exceeded",
			zap.String("provider", t.provider),
			zap.String("period", string(w.period)),
			zap.Int64("used", w.total()),
			zap.Int64("limit", w.limit),
		)
		return nil
	}
	return nil
}

// Record charges tokens consumed by call to every window.
func (t *Tracker) Record(call Call, tokens int64) {
	if tokens <= 0 {
		return
	}
	t.mu.Lock()
	t.rollLocked()
	keys := make([]string, 0, 2)
	for _, w := range t.windows() {
		w.used[call] += tokens
		keys = append(keys, w.key(t.provider, call))
	}
	store := t.store
	t.mu.Unlock()

	if store == nil {
		return
	}
	// Write-behind on a detached context so a slow store never stalls the caller.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := store.IncrBy(ctx, key, tokens); err != nil {
			t.logger.Warn("Budget counter persist failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// Remaining returns tokens left in period, -1 when unlimited.
func (t *Tracker) Remaining(p Period) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	return t.window(p).remaining()
}

// Usage is a point-in-time budget snapshot for one provider.
type Usage struct {
	Provider  string         `json:"provider"`
	Period    Period         `json:"period"`
	Limit     int64          `json:"limit"` // 0 = unlimited
	Used      int64          `json:"used"`
	ByCall    map[Call]int64 `json:"by_call,omitempty"`
	Remaining int64          `json:"remaining"` // -1 = unlimited
	Exhausted bool           `json:"exhausted"`
	ResetsAt  int64          `json:"resets_at"` // unix millis
}

// Report returns the usage snapshot of period.
func (t *Tracker) Report(p Period) Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()

	w := t.window(p)
	byCall := make(map[Call]int64, len(calls))
	for _, c := range calls {
		byCall[c] = w.used[c]
	}
	return Usage{
		Provider:  t.provider,
		Period:    w.period,
		Limit:     w.limit,
		Used:      w.total(),
		ByCall:    byCall,
		Remaining: w.remaining(),
		Exhausted: w.spent(),
		ResetsAt:  w.resetsAt().UnixMilli(),
	}
}

func (t *Tracker) window(p Period) *window {
	if p == PeriodMonth {
		return t.month
	}
	return t.day
}

func (t *Tracker) windows() [2]*window { return [2]*window{t.day, t.month} }

func (t *Tracker) rollLocked() {
	now := t.now()
	t.day.roll(now)
	t.month.roll(now)
}
