package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/domain/result"
	"github.com/kailas-cloud/cceval/internal/logger"
	"github.com/kailas-cloud/cceval/internal/metrics"
)

// Default pool settings.
const (
	DefaultWorkers       = 4
	DefaultRecordTimeout = 2 * time.Minute
)

// Pool evaluates family records concurrently with a bounded number of
// workers. Results keep input order whatever the completion order.
type Pool struct {
	workers int
	timeout time.Duration
}

// NewPool creates a pool. Non-positive values take the defaults.
func NewPool(workers int, timeout time.Duration) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if timeout <= 0 {
		timeout = DefaultRecordTimeout
	}
	return &Pool{workers: workers, timeout: timeout}
}

// recordFunc produces the text for one record.
type recordFunc func(ctx context.Context, rec family.Record) (string, error)

// Run evaluates every record with fn. A failing record becomes an
// error-marked result in its slot; siblings are unaffected. Once a record
// fails on quota or rate limit, records not yet started fail with the same
// cause instead of calling the provider. Run itself fails with ErrBatchAbort
// only when ctx ends before the batch completes.
func (p *Pool) Run(
	ctx context.Context, records []family.Record, body result.BodyKind, fn recordFunc,
) ([]result.QueryResult, error) {
	kind := subjectKindFor(body)
	out := make([]result.QueryResult, len(records))
	if len(records) == 0 {
		return out, nil
	}
	if fn == nil {
		return nil, fmt.Errorf("no evaluator for %s batch: %w", body, domain.ErrBatchAbort)
	}

	log := logger.FromContext(ctx)
	start := time.Now()
	var cascade atomic.Pointer[error]

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, rec := range records {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if errp := cascade.Load(); errp != nil {
				out[i] = failed(kind, rec, body, *errp)
				return nil
			}

			text, err := p.runOne(ctx, rec, fn)
			if err != nil {
				if errors.Is(err, domain.ErrQuotaExceeded) || errors.Is(err, domain.ErrRateLimited) {
					cascade.CompareAndSwap(nil, &err)
				}
				log.Warn("Record evaluation failed",
					zap.String("identifier", rec.Identifier()),
					zap.String("body", string(body)),
					zap.Error(err),
				)
				out[i] = failed(kind, rec, body, err)
				return nil
			}
			out[i] = succeeded(body, rec, text)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	metrics.BatchDuration.WithLabelValues(string(body)).Observe(time.Since(start).Seconds())

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s batch of %d: %w", body, len(records), errors.Join(domain.ErrBatchAbort, err))
	}

	failures := 0
	for _, r := range out {
		status := "ok"
		if r.Failed() {
			status = "error"
			failures++
		}
		metrics.BatchRecordsTotal.WithLabelValues(string(body), status).Inc()
	}
	log.Info("Batch evaluated",
		zap.String("body", string(body)),
		zap.Int("records", len(records)),
		zap.Int("failures", failures),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

type outcome struct {
	text string
	err  error
}

// runOne bounds fn by the record timeout even when fn ignores its context.
// A blank answer counts as a failure.
func (p *Pool) runOne(ctx context.Context, rec family.Record, fn recordFunc) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		text, err := fn(rctx, rec)
		done <- outcome{text: text, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil && strings.TrimSpace(o.text) == "" {
			return "", fmt.Errorf("blank generation: %w", domain.ErrGenerationProviderError)
		}
		return o.text, o.err
	case <-rctx.Done():
		return "", fmt.Errorf("record timed out after %s: %w", p.timeout, rctx.Err())
	}
}

func subjectKindFor(body result.BodyKind) result.SubjectKind {
	if body == result.BodyGuidance {
		return result.SubjectDeveloperAction
	}
	return result.SubjectWorkUnit
}

func succeeded(body result.BodyKind, rec family.Record, text string) result.QueryResult {
	if body == result.BodyGuidance {
		return result.NewGuidance(rec.Identifier(), text)
	}
	return result.NewEvaluation(rec.Identifier(), text)
}

func failed(kind result.SubjectKind, rec family.Record, body result.BodyKind, err error) result.QueryResult {
	return result.NewError(kind, rec.Identifier(), body,
		fmt.Errorf("%s: %w", rec.Identifier(), errors.Join(domain.ErrRecordEvaluation, err)))
}
