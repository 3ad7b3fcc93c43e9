// Package pipeline runs the report workflow: retrieve a family's records,
// batch-evaluate them, aggregate the results and persist one artifact.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/domain/result"
	"github.com/kailas-cloud/cceval/internal/domain/role"
	"github.com/kailas-cloud/cceval/internal/logger"
	"github.com/kailas-cloud/cceval/internal/metrics"
	"github.com/kailas-cloud/cceval/internal/usecase/report"
)

// Pipeline states.
const (
	Idle        domain.Stage = "idle"
	Retrieving  domain.Stage = "retrieving"
	Evaluating  domain.Stage = "evaluating"
	Aggregating domain.Stage = "aggregating"
	Persisted   domain.Stage = "persisted"
)

// Outcome is the result of a completed run.
type Outcome struct {
	Family   string
	Artifact report.Artifact
	Results  []result.QueryResult
	Warnings []string
}

// Pipeline runs one report at a time and returns to Idle after every run.
type Pipeline struct {
	dbs    Databases
	writer report.Writer

	mu    sync.Mutex
	state domain.Stage
}

// New creates an idle pipeline.
func New(dbs Databases, writer report.Writer) *Pipeline {
	return &Pipeline{dbs: dbs, writer: writer, state: Idle}
}

// State returns the current state.
func (p *Pipeline) State() domain.Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) enter(ctx context.Context, s domain.Stage) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	logger.FromContext(ctx).Debug("Pipeline state", zap.String("state", string(s)))
}

// Run produces a report for familyCode. The role selects the database
// (work units or developer actions), the batch call and the report naming.
// An abort before aggregation returns a *domain.StageError and writes nothing.
func (p *Pipeline) Run(ctx context.Context, r role.Role, agent Batcher, familyCode string) (Outcome, error) {
	prefix := family.NormalizePrefix(familyCode)
	if prefix == "" {
		return Outcome{}, fmt.Errorf("family is required: %w", domain.ErrInvalidInput)
	}
	if !r.Valid() {
		return Outcome{}, fmt.Errorf("pipeline for %s: %w", r, domain.ErrInvalidRole)
	}

	p.mu.Lock()
	if p.state != Idle {
		p.mu.Unlock()
		return Outcome{}, fmt.Errorf("report already running: %w", domain.ErrInvalidInput)
	}
	p.state = Retrieving
	p.mu.Unlock()
	defer p.enter(ctx, Idle)

	ctx = logger.WithFields(ctx, zap.String("family", prefix), zap.String("role", r.String()))
	log := logger.FromContext(ctx)

	out, stage, err := p.run(ctx, r, agent, prefix)
	metrics.PipelineRunsTotal.WithLabelValues(r.String(), string(stage)).Inc()
	if err != nil {
		log.Error("Report pipeline aborted", zap.String("stage", string(stage)), zap.Error(err))
		return Outcome{}, err
	}
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, r role.Role, agent Batcher, prefix string) (Outcome, domain.Stage, error) {
	out := Outcome{Family: prefix}

	kind := family.KindWorkUnit
	if r == role.Developer {
		kind = family.KindDeveloperAction
	}
	if p.dbs == nil {
		return out, Retrieving, domain.NewStageError(Retrieving, fmt.Errorf("no family databases"))
	}
	db, err := p.dbs.Database(ctx, kind)
	if err != nil {
		return out, Retrieving, domain.NewStageError(Retrieving, err)
	}
	records := db.RetrieveFamily(prefix)
	if len(records) == 0 {
		w := fmt.Sprintf("%s: %s", domain.ErrLookupMiss, prefix)
		out.Warnings = append(out.Warnings, w)
		logger.FromContext(ctx).Warn("Family has no records", zap.String("kind", string(kind)))
	}

	p.enter(ctx, Evaluating)
	if agent == nil {
		return out, Evaluating, domain.NewStageError(Evaluating, fmt.Errorf("no agent"))
	}
	var results []result.QueryResult
	if r == role.Developer {
		results, err = agent.GuideDevelopment(ctx, "", records)
	} else {
		results, err = agent.EvaluateCem(ctx, records)
	}
	if err != nil {
		return out, Evaluating, domain.NewStageError(Evaluating, err)
	}
	out.Results = results

	p.enter(ctx, Aggregating)
	gen := report.NewGenerator(r.ReportPrefix(), p.writer)
	gen.AddResults(results, r.ResultType())

	art, err := gen.Save(ctx)
	if err != nil {
		return out, Aggregating, err
	}
	p.enter(ctx, Persisted)
	out.Artifact = art
	return out, Persisted, nil
}
