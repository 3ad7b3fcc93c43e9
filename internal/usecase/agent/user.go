package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/domain/result"
	"github.com/kailas-cloud/cceval/internal/domain/role"
	"github.com/kailas-cloud/cceval/internal/domain/route"
	"github.com/kailas-cloud/cceval/internal/logger"
	"github.com/kailas-cloud/cceval/internal/metrics"
)

// Deps are the collaborators of one agent graph.
type Deps struct {
	Parts      []Searcher
	Historical Searcher
	Evidence   Searcher // nil until evidence is uploaded
	Generator  Generator
	Counter    TokenCounter
	Options    RetrievalOptions
	Pool       *Pool
	WorkUnits  FamilySource
	DevActions FamilySource
}

// UserAgent is the single entry point for free-text questions. It owns its
// agent graph; no agent refers back to it.
type UserAgent struct {
	role       role.Role
	agents     map[route.Decision]Answerer
	evaluation *EvaluationAgent
	developer  *DeveloperAgent
	workUnits  FamilySource
	devActions FamilySource
}

// NewUserAgent builds the agent graph for one session.
func NewUserAgent(r role.Role, d Deps) (*UserAgent, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("user agent for %s: %w", r, domain.ErrInvalidRole)
	}
	if d.Generator == nil {
		return nil, fmt.Errorf("user agent: generator is required: %w", domain.ErrInvalidInput)
	}
	if len(d.Parts) != 5 {
		return nil, fmt.Errorf("user agent: expected 5 standard parts, got %d: %w", len(d.Parts), domain.ErrInvalidInput)
	}
	if d.Pool == nil {
		d.Pool = NewPool(0, 0)
	}

	parts := NewPartAgent(d.Parts, d.Generator, d.Counter, d.Options)
	evaluation := NewEvaluationAgent(parts, d.Historical, d.Evidence, d.Generator, d.Counter, d.Options, d.Pool)
	developer := NewDeveloperAgent(parts, d.Historical, d.Evidence, d.Generator, d.Counter, d.Options, d.Pool)

	all := append(parts.Sources(), Source{Name: SourceHistorical, Index: d.Historical}, Source{Name: SourceEvidence, Index: d.Evidence})
	general := NewRetriever(all, d.Generator, d.Counter, d.Options, generalInstruction)

	return &UserAgent{
		role: r,
		agents: map[route.Decision]Answerer{
			route.Evidence:   NewEvidenceAgent(d.Evidence, d.Generator, d.Counter, d.Options),
			route.Part:       parts,
			route.Evaluation: evaluation,
			route.Developer:  developer,
			route.General:    general,
		},
		evaluation: evaluation,
		developer:  developer,
		workUnits:  d.WorkUnits,
		devActions: d.DevActions,
	}, nil
}

// Role returns the role the graph was built for.
func (u *UserAgent) Role() role.Role { return u.role }

// Evaluation returns the work unit evaluator.
func (u *UserAgent) Evaluation() *EvaluationAgent { return u.evaluation }

// Developer returns the developer action guide.
func (u *UserAgent) Developer() *DeveloperAgent { return u.developer }

// EvaluateCem delegates to the evaluation agent.
func (u *UserAgent) EvaluateCem(ctx context.Context, workUnits []family.Record) ([]result.QueryResult, error) {
	return u.evaluation.EvaluateCem(ctx, workUnits)
}

// GuideDevelopment delegates to the developer agent.
func (u *UserAgent) GuideDevelopment(
	ctx context.Context, query string, actions []family.Record,
) ([]result.QueryResult, error) {
	return u.developer.GuideDevelopment(ctx, query, actions)
}

// ProcessQuery answers a question. Questions naming work unit or developer
// action identifiers are batch-evaluated over those records; anything else
// is routed by the navigator. The result is never nil.
func (u *UserAgent) ProcessQuery(ctx context.Context, question string) ([]result.QueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return []result.QueryResult{}, nil
	}
	log := logger.FromContext(ctx)

	// Identifiers are canonical upper case; users often type them lower.
	upper := strings.ToUpper(question)
	units := lookupIDs(u.workUnits, family.WorkUnitID.FindAllString(upper, -1))
	actions := lookupIDs(u.devActions, family.DeveloperActionID.FindAllString(upper, -1))
	if len(units)+len(actions) > 0 {
		log.Info("Query names family records",
			zap.Int("workunits", len(units)),
			zap.Int("developer_actions", len(actions)),
		)
		return u.evaluateReferenced(ctx, question, units, actions)
	}

	decision := Route(u.role, question)
	metrics.RoutesTotal.WithLabelValues(u.role.String(), string(decision)).Inc()
	log.Info("Query routed",
		zap.String("role", u.role.String()),
		zap.String("decision", string(decision)),
	)

	text, err := u.agents[decision].Answer(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("answer query: %w", err)
	}
	return []result.QueryResult{result.NewResponse(text)}, nil
}

func (u *UserAgent) evaluateReferenced(
	ctx context.Context, question string, units, actions []family.Record,
) ([]result.QueryResult, error) {
	out := make([]result.QueryResult, 0, len(units)+len(actions))
	if len(units) > 0 {
		res, err := u.evaluation.EvaluateCem(ctx, units)
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}
	if len(actions) > 0 {
		res, err := u.developer.GuideDevelopment(ctx, question, actions)
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}
	return out, nil
}

// lookupIDs resolves identifiers to records, keeping first-mention order and
// dropping unknown or repeated identifiers.
func lookupIDs(src FamilySource, ids []string) []family.Record {
	if src == nil || len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	var out []family.Record
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, rec := range src.RetrieveFamily(family.PrefixOf(id)) {
			if rec.Identifier() == id {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}
