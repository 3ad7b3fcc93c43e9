package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/domain/result"
)

// Instructions given to the generator per agent.
const (
	evidenceInstruction = "You answer questions about the uploaded Security Target. " +
		"Use only the provided excerpts of that document and cite page references in brackets."
	partInstruction = "You are an expert on the Common Criteria standard (CC Parts 1 to 5). " +
		"Answer from the provided excerpts of the standard and cite page references in brackets."
	evaluationInstruction = "You are a Common Criteria evaluator. Assess the Security Target against the " +
		"requirement using the standard, previously certified Security Targets and the uploaded evidence. " +
		"State a verdict (pass, fail or inconclusive) followed by the justification."
	developerInstruction = "You are a Common Criteria consultant guiding a product developer. " +
		"Explain what the developer must produce to satisfy the requirement, using the standard, " +
		"previously certified Security Targets and the uploaded evidence."
	generalInstruction = "You are an assistant for Common Criteria certification. " +
		"Answer helpfully using any relevant provided excerpts."
)

// Source names.
const (
	SourceEvidence   = "evidence"
	SourceHistorical = "historical"
)

// PartSourceName names the standard part source n (1-based).
func PartSourceName(n int) string { return fmt.Sprintf("part%d", n) }

// EvidenceAgent answers from the session's uploaded Security Target only.
type EvidenceAgent struct {
	ret *Retriever
}

// NewEvidenceAgent creates the agent. evidence may be nil before any upload.
func NewEvidenceAgent(evidence Searcher, gen Generator, counter TokenCounter, opts RetrievalOptions) *EvidenceAgent {
	if evidence == nil {
		return &EvidenceAgent{}
	}
	return &EvidenceAgent{
		ret: NewRetriever([]Source{{Name: SourceEvidence, Index: evidence}}, gen, counter, opts, evidenceInstruction),
	}
}

// Answer implements Answerer.
func (a *EvidenceAgent) Answer(ctx context.Context, question string) (string, error) {
	if a.ret == nil {
		return "", domain.ErrNoEvidence
	}
	return a.ret.Answer(ctx, question)
}

// PartAgent answers from the five standard part indexes.
type PartAgent struct {
	sources []Source
	ret     *Retriever
}

// NewPartAgent creates the agent over parts in order (part1..part5).
func NewPartAgent(parts []Searcher, gen Generator, counter TokenCounter, opts RetrievalOptions) *PartAgent {
	sources := make([]Source, len(parts))
	for i, p := range parts {
		sources[i] = Source{Name: PartSourceName(i + 1), Index: p}
	}
	return &PartAgent{
		sources: sources,
		ret:     NewRetriever(sources, gen, counter, opts, partInstruction),
	}
}

// Answer implements Answerer.
func (a *PartAgent) Answer(ctx context.Context, question string) (string, error) {
	return a.ret.Answer(ctx, question)
}

// Sources returns the part sources for composition.
func (a *PartAgent) Sources() []Source {
	return append([]Source(nil), a.sources...)
}

// composite builds the sources of the evaluation and developer agents:
// standard parts, then historical Security Targets, then the evidence.
func composite(parts *PartAgent, historical, evidence Searcher) []Source {
	sources := parts.Sources()
	sources = append(sources,
		Source{Name: SourceHistorical, Index: historical},
		Source{Name: SourceEvidence, Index: evidence},
	)
	return sources
}

// EvaluationAgent evaluates work units against the evidence.
type EvaluationAgent struct {
	ret  *Retriever
	pool *Pool
}

// NewEvaluationAgent composes the part sources, the historical index and the
// evidence index.
func NewEvaluationAgent(
	parts *PartAgent, historical, evidence Searcher,
	gen Generator, counter TokenCounter, opts RetrievalOptions, pool *Pool,
) *EvaluationAgent {
	return &EvaluationAgent{
		ret:  NewRetriever(composite(parts, historical, evidence), gen, counter, opts, evaluationInstruction),
		pool: pool,
	}
}

// Answer implements Answerer.
func (a *EvaluationAgent) Answer(ctx context.Context, question string) (string, error) {
	return a.ret.Answer(ctx, question)
}

// EvaluateCem evaluates each work unit independently. The output has one
// result per input record, in input order.
func (a *EvaluationAgent) EvaluateCem(ctx context.Context, workUnits []family.Record) ([]result.QueryResult, error) {
	return a.pool.Run(ctx, workUnits, result.BodyEvaluation, func(ctx context.Context, rec family.Record) (string, error) {
		return a.ret.Answer(ctx, workUnitQuestion(rec))
	})
}

// DeveloperAgent guides developers through developer actions.
type DeveloperAgent struct {
	ret  *Retriever
	pool *Pool
}

// NewDeveloperAgent mirrors NewEvaluationAgent.
func NewDeveloperAgent(
	parts *PartAgent, historical, evidence Searcher,
	gen Generator, counter TokenCounter, opts RetrievalOptions, pool *Pool,
) *DeveloperAgent {
	return &DeveloperAgent{
		ret:  NewRetriever(composite(parts, historical, evidence), gen, counter, opts, developerInstruction),
		pool: pool,
	}
}

// Answer implements Answerer.
func (a *DeveloperAgent) Answer(ctx context.Context, question string) (string, error) {
	return a.ret.Answer(ctx, question)
}

// GuideDevelopment produces guidance for each developer action, optionally
// focused by query. Same ordering and isolation as EvaluateCem.
func (a *DeveloperAgent) GuideDevelopment(
	ctx context.Context, query string, actions []family.Record,
) ([]result.QueryResult, error) {
	return a.pool.Run(ctx, actions, result.BodyGuidance, func(ctx context.Context, rec family.Record) (string, error) {
		return a.ret.Answer(ctx, developerActionQuestion(query, rec))
	})
}

func workUnitQuestion(rec family.Record) string {
	return fmt.Sprintf("Work unit %s: %s\nEvaluate the Security Target against this work unit.",
		rec.Identifier(), rec.Description())
}

func developerActionQuestion(query string, rec family.Record) string {
	q := fmt.Sprintf("Developer action %s: %s\nWhat must the developer provide to satisfy it?",
		rec.Identifier(), rec.Description())
	if query = strings.TrimSpace(query); query != "" {
		q += "\nFocus: " + query
	}
	return q
}
