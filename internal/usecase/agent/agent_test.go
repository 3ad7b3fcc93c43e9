package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/chunk"
	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/domain/result"
	"github.com/kailas-cloud/cceval/internal/domain/role"
	"github.com/kailas-cloud/cceval/internal/domain/route"
	"github.com/kailas-cloud/cceval/internal/usecase/index"
)

// --- Mocks ---

type stubSearcher struct {
	hits []index.Hit
	err  error
}

func (s *stubSearcher) Search(_ context.Context, _ string, topK int) ([]index.Hit, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.hits) > topK {
		return s.hits[:topK], nil
	}
	return s.hits, nil
}

type stubGenerator struct {
	mu       sync.Mutex
	requests []domain.GenerationRequest
	calls    atomic.Int32
	failOn   string        // questions containing it fail
	failErr  error         // defaults to ErrGenerationProviderError
	delay    func(q string) time.Duration
	block    chan struct{} // when set, Generate ignores ctx and waits for it
}

func (g *stubGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (domain.Generation, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.block != nil {
		<-g.block
	}
	if g.delay != nil {
		select {
		case <-time.After(g.delay(req.Question)):
		case <-ctx.Done():
			return domain.Generation{}, ctx.Err()
		}
	}
	if g.failOn != "" && strings.Contains(req.Question, g.failOn) {
		if g.failErr != nil {
			return domain.Generation{}, g.failErr
		}
		return domain.Generation{}, domain.ErrGenerationProviderError
	}
	first, _, _ := strings.Cut(req.Question, "\n")
	return domain.Generation{Text: "answer: " + first}, nil
}

type stubFamily []family.Record

func (s stubFamily) RetrieveFamily(prefix string) []family.Record {
	out := []family.Record{}
	for _, r := range s {
		if r.FamilyPrefix() == family.NormalizePrefix(prefix) {
			out = append(out, r)
		}
	}
	return out
}

func hit(t *testing.T, id, text, ref string, score float64) index.Hit {
	t.Helper()
	c, err := chunk.New(id, text, ref, nil)
	if err != nil {
		t.Fatal(err)
	}
	return index.Hit{Chunk: c, Score: score}
}

func records(t *testing.T, kind family.Kind, ids ...string) []family.Record {
	t.Helper()
	out := make([]family.Record, len(ids))
	for i, id := range ids {
		r, err := family.NewRecord(kind, id, "requirement "+id, "doc#p1")
		if err != nil {
			t.Fatal(err)
		}
		out[i] = r
	}
	return out
}

func parts(t *testing.T) []Searcher {
	t.Helper()
	out := make([]Searcher, 5)
	for i := range out {
		out[i] = &stubSearcher{hits: []index.Hit{hit(t, PartSourceName(i+1)+"-c", "part text", PartSourceName(i+1)+"#p1", 0.5)}}
	}
	return out
}

func newUserAgent(t *testing.T, r role.Role, gen *stubGenerator, evidence Searcher) *UserAgent {
	t.Helper()
	u, err := NewUserAgent(r, Deps{
		Parts:      parts(t),
		Historical: &stubSearcher{},
		Evidence:   evidence,
		Generator:  gen,
		Pool:       NewPool(3, time.Second),
		WorkUnits:  stubFamily(records(t, family.KindWorkUnit, "ASE_INT.1-1", "ASE_INT.1-2", "ASE_CCL.1-1")),
		DevActions: stubFamily(records(t, family.KindDeveloperAction, "ASE_INT.1.1D")),
	})
	if err != nil {
		t.Fatalf("NewUserAgent: %v", err)
	}
	return u
}

// --- Navigator ---

func TestRoute(t *testing.T) {
	tests := []struct {
		role     role.Role
		question string
		want     route.Decision
	}{
		{role.Evaluator, "Does the security target satisfy ASE_OBJ?", route.Evaluation},
		{role.Evaluator, "What does our security target say about the TOE boundary?", route.Evidence},
		{role.Evaluator, "What is an SFR in CC Part 2?", route.Part},
		{role.Evaluator, "How do I write the TOE summary specification?", route.Evaluation},
		{role.Evaluator, "hello there", route.General},
		{role.Developer, "How do I write the TOE summary specification?", route.Developer},
		{role.Developer, "Is my ST compliant?", route.Developer},
		{role.Developer, "Define EAL", route.Part},
		{role.Developer, "Summarize the uploaded file", route.Evidence},
		{role.Developer, "", route.General},
		{role.Role(0), "evaluate this", route.General},
	}
	for _, tc := range tests {
		t.Run(tc.role.String()+"/"+tc.question, func(t *testing.T) {
			if got := Route(tc.role, tc.question); got != tc.want {
				t.Errorf("Route(%s, %q) = %s, want %s", tc.role, tc.question, got, tc.want)
			}
		})
	}
}

func TestRoute_Deterministic(t *testing.T) {
	questions := []string{"evaluate ASE_INT", "what is the CEM", "random words", "our uploaded evidence"}
	for _, r := range []role.Role{role.Evaluator, role.Developer} {
		for _, q := range questions {
			first := Route(r, q)
			for range 50 {
				if got := Route(r, q); got != first {
					t.Fatalf("Route(%s, %q) changed from %s to %s", r, q, first, got)
				}
			}
		}
	}
}

// --- Batch ---

func TestEvaluateCem_OrderAndIsolation(t *testing.T) {
	gen := &stubGenerator{failOn: "ASE_INT.1-2"}
	u := newUserAgent(t, role.Evaluator, gen, &stubSearcher{})
	units := records(t, family.KindWorkUnit, "ASE_INT.1-1", "ASE_INT.1-2", "ASE_INT.1-3")

	got, err := u.Evaluation().EvaluateCem(context.Background(), units)
	if err != nil {
		t.Fatalf("EvaluateCem: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	for i, r := range got {
		if r.Subject() != units[i].Identifier() {
			t.Errorf("result %d: subject %q, want %q", i, r.Subject(), units[i].Identifier())
		}
		if r.SubjectKind() != result.SubjectWorkUnit || r.BodyKind() != result.BodyEvaluation {
			t.Errorf("result %d: unexpected labels %s/%s", i, r.SubjectKind(), r.BodyKind())
		}
	}
	if got[0].Failed() || got[0].Text() == "" || got[2].Failed() || got[2].Text() == "" {
		t.Error("siblings of the failing record must succeed")
	}
	if !got[1].Failed() || !errors.Is(got[1].Err(), domain.ErrRecordEvaluation) {
		t.Errorf("expected error-marked result, got %v", got[1].Err())
	}
}

func TestPool_BlankAnswerIsFailure(t *testing.T) {
	units := records(t, family.KindWorkUnit, "ASE_INT.1-1", "ASE_INT.1-2", "ASE_INT.1-3")
	answers := map[string]string{"ASE_INT.1-1": "", "ASE_INT.1-2": " \n\t", "ASE_INT.1-3": "verdict: pass"}

	got, err := NewPool(2, time.Second).Run(context.Background(), units, result.BodyEvaluation,
		func(_ context.Context, rec family.Record) (string, error) {
			return answers[rec.Identifier()], nil
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 0; i < 2; i++ {
		if !got[i].Failed() || !errors.Is(got[i].Err(), domain.ErrGenerationProviderError) {
			t.Errorf("result %d: expected blank-answer failure, got failed=%v err=%v", i, got[i].Failed(), got[i].Err())
		}
		if !errors.Is(got[i].Err(), domain.ErrRecordEvaluation) {
			t.Errorf("result %d: expected record evaluation marker, got %v", i, got[i].Err())
		}
	}
	if got[2].Failed() || got[2].Text() != "verdict: pass" {
		t.Errorf("non-blank answer must succeed, got %+v", got[2])
	}
}

func TestEvaluateCem_OrderIndependentOfCompletion(t *testing.T) {
	// earlier records finish last
	gen := &stubGenerator{delay: func(q string) time.Duration {
		switch {
		case strings.Contains(q, "-1:"):
			return 30 * time.Millisecond
		case strings.Contains(q, "-2:"):
			return 15 * time.Millisecond
		default:
			return 0
		}
	}}
	u := newUserAgent(t, role.Evaluator, gen, nil)
	units := records(t, family.KindWorkUnit, "ASE_REQ.2-1", "ASE_REQ.2-2", "ASE_REQ.2-3")

	got, err := u.Evaluation().EvaluateCem(context.Background(), units)
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range got {
		if r.Subject() != units[i].Identifier() || r.Failed() {
			t.Errorf("result %d out of order or failed: %s %v", i, r.Subject(), r.Err())
		}
		if !strings.Contains(r.Text(), units[i].Identifier()) {
			t.Errorf("result %d carries text of another record: %q", i, r.Text())
		}
	}
}

func TestGuideDevelopment_Labels(t *testing.T) {
	gen := &stubGenerator{}
	u := newUserAgent(t, role.Developer, gen, nil)
	actions := records(t, family.KindDeveloperAction, "ASE_INT.1.1D", "ASE_INT.1.2D")

	got, err := u.Developer().GuideDevelopment(context.Background(), "", actions)
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range got {
		if r.SubjectKind() != result.SubjectDeveloperAction || r.BodyKind() != result.BodyGuidance {
			t.Errorf("result %d: unexpected labels %s/%s", i, r.SubjectKind(), r.BodyKind())
		}
		if r.Subject() != actions[i].Identifier() {
			t.Errorf("result %d: subject %q", i, r.Subject())
		}
	}
	for _, req := range gen.requests {
		if strings.Contains(req.Question, "Focus:") {
			t.Error("empty query must not add a focus line")
		}
	}
}

func TestPool_TimeoutBecomesRecordFailure(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	gen := &stubGenerator{block: block}
	ret := NewRetriever(nil, gen, nil, RetrievalOptions{}, "")
	pool := NewPool(2, 20*time.Millisecond)

	start := time.Now()
	got, err := pool.Run(context.Background(), records(t, family.KindWorkUnit, "ASE_SPD.1-1", "ASE_SPD.1-2"),
		result.BodyEvaluation, func(ctx context.Context, rec family.Record) (string, error) {
			return ret.Answer(ctx, rec.Identifier())
		})
	if err != nil {
		t.Fatalf("timeouts must not abort the batch: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("batch stalled on a blocked record")
	}
	for i, r := range got {
		if !r.Failed() || !errors.Is(r.Err(), context.DeadlineExceeded) {
			t.Errorf("result %d: expected timeout failure, got %v", i, r.Err())
		}
	}
}

func TestPool_QuotaCascade(t *testing.T) {
	var calls atomic.Int32
	pool := NewPool(1, time.Second)
	recs := records(t, family.KindWorkUnit, "ASE_TSS.1-1", "ASE_TSS.1-2", "ASE_TSS.1-3")

	got, err := pool.Run(context.Background(), recs, result.BodyEvaluation,
		func(_ context.Context, _ family.Record) (string, error) {
			calls.Add(1)
			return "", domain.ErrQuotaExceeded
		})
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected provider to be called once, got %d", calls.Load())
	}
	for i, r := range got {
		if !errors.Is(r.Err(), domain.ErrQuotaExceeded) {
			t.Errorf("result %d: expected quota error, got %v", i, r.Err())
		}
	}
}

func TestPool_ParentCancelAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(1, time.Second)
	recs := records(t, family.KindWorkUnit, "ASE_ECD.1-1", "ASE_ECD.1-2")

	got, err := pool.Run(ctx, recs, result.BodyEvaluation, func(_ context.Context, _ family.Record) (string, error) {
		cancel()
		return "ok", nil
	})
	if !errors.Is(err, domain.ErrBatchAbort) {
		t.Fatalf("expected ErrBatchAbort, got %v", err)
	}
	if got != nil {
		t.Error("aborted batch must not return partial results")
	}
}

func TestPool_EmptyAndNil(t *testing.T) {
	pool := NewPool(0, 0)
	got, err := pool.Run(context.Background(), nil, result.BodyEvaluation, nil)
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil result, got %v, %v", got, err)
	}
	_, err = pool.Run(context.Background(), records(t, family.KindWorkUnit, "ASE_INT.1-1"), result.BodyEvaluation, nil)
	if !errors.Is(err, domain.ErrBatchAbort) {
		t.Errorf("expected ErrBatchAbort, got %v", err)
	}
}

// --- UserAgent ---

func TestProcessQuery_EmptyQuestion(t *testing.T) {
	u := newUserAgent(t, role.Evaluator, &stubGenerator{}, nil)
	got, err := u.ProcessQuery(context.Background(), "   ")
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil result, got %v, %v", got, err)
	}
}

func TestProcessQuery_RoutedResponse(t *testing.T) {
	gen := &stubGenerator{}
	u := newUserAgent(t, role.Evaluator, gen, nil)

	got, err := u.ProcessQuery(context.Background(), "What is an SFR in CC Part 2?")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].BodyKind() != result.BodyResponse || got[0].SubjectKind() != result.SubjectNone {
		t.Fatalf("unexpected results %+v", got)
	}
	if len(gen.requests) != 1 || len(gen.requests[0].Context) != 5 {
		t.Fatalf("expected one passage per standard part, got %+v", gen.requests)
	}
}

func TestProcessQuery_EvidenceWithoutUpload(t *testing.T) {
	u := newUserAgent(t, role.Evaluator, &stubGenerator{}, nil)
	_, err := u.ProcessQuery(context.Background(), "Summarize the uploaded file")
	if !errors.Is(err, domain.ErrNoEvidence) {
		t.Fatalf("expected ErrNoEvidence, got %v", err)
	}
}

func TestProcessQuery_ReferencedRecords(t *testing.T) {
	gen := &stubGenerator{}
	u := newUserAgent(t, role.Evaluator, gen, &stubSearcher{})

	got, err := u.ProcessQuery(context.Background(),
		"Check ASE_CCL.1-1 and ASE_INT.1-1, then ASE_CCL.1-1 again, plus ASE_INT.1.1D and ASE_FOO.9-9")
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		subject string
		body    result.BodyKind
	}{
		{"ASE_CCL.1-1", result.BodyEvaluation},
		{"ASE_INT.1-1", result.BodyEvaluation},
		{"ASE_INT.1.1D", result.BodyGuidance},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Subject() != w.subject || got[i].BodyKind() != w.body {
			t.Errorf("result %d: got %s/%s, want %s/%s", i, got[i].Subject(), got[i].BodyKind(), w.subject, w.body)
		}
	}
}

func TestProcessQuery_ReferencedRecordsAnyCase(t *testing.T) {
	tests := []struct {
		question string
		subject  string
		body     result.BodyKind
	}{
		{"Evaluate ASE_INT.1-1", "ASE_INT.1-1", result.BodyEvaluation},
		{"evaluate ase_int.1-1", "ASE_INT.1-1", result.BodyEvaluation},
		{"how do I meet ase_int.1.1d?", "ASE_INT.1.1D", result.BodyGuidance},
	}
	for _, tc := range tests {
		t.Run(tc.question, func(t *testing.T) {
			u := newUserAgent(t, role.Evaluator, &stubGenerator{}, &stubSearcher{})
			got, err := u.ProcessQuery(context.Background(), tc.question)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 1 || got[0].Subject() != tc.subject || got[0].BodyKind() != tc.body {
				t.Fatalf("unexpected results %+v", got)
			}
		})
	}
}

func TestProcessQuery_GenerationError(t *testing.T) {
	gen := &stubGenerator{failOn: "hello"}
	u := newUserAgent(t, role.Developer, gen, nil)
	got, err := u.ProcessQuery(context.Background(), "hello")
	if !errors.Is(err, domain.ErrGenerationProviderError) || got != nil {
		t.Fatalf("expected one consolidated error, got %v, %v", got, err)
	}
}

func TestNewUserAgent_Validation(t *testing.T) {
	tests := []struct {
		name string
		role role.Role
		deps Deps
		want error
	}{
		{"invalid role", role.Role(7), Deps{Generator: &stubGenerator{}, Parts: make([]Searcher, 5)}, domain.ErrInvalidRole},
		{"no generator", role.Evaluator, Deps{Parts: make([]Searcher, 5)}, domain.ErrInvalidInput},
		{"missing parts", role.Evaluator, Deps{Generator: &stubGenerator{}, Parts: make([]Searcher, 2)}, domain.ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewUserAgent(tc.role, tc.deps); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

// --- Retriever ---

func TestRetriever_MergesByScoreWithinBudget(t *testing.T) {
	a := &stubSearcher{hits: []index.Hit{
		hit(t, "a1", strings.Repeat("x", 40), "A#p1", 0.9),
		hit(t, "a2", strings.Repeat("y", 400), "A#p2", 0.8),
	}}
	b := &stubSearcher{hits: []index.Hit{hit(t, "b1", "short", "B#p7", 0.9)}}
	r := NewRetriever([]Source{{Name: "a", Index: a}, {Name: "nil"}, {Name: "b", Index: b}},
		&stubGenerator{}, approxCounter{}, RetrievalOptions{TopK: 5, ContextTokens: 30}, "")

	got, err := r.Passages(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Sources()) != 2 {
		t.Errorf("nil source must be skipped, got %d", len(r.Sources()))
	}
	// a1 and b1 tie on score; source order decides. a2 exceeds the budget.
	if len(got) != 2 || !strings.HasPrefix(got[0], "[A#p1]") || got[1] != "[B#p7] short" {
		t.Errorf("unexpected passages %q", got)
	}
}

func TestRetriever_SearchError(t *testing.T) {
	r := NewRetriever([]Source{{Name: "broken", Index: &stubSearcher{err: domain.ErrEmbeddingProviderError}}},
		&stubGenerator{}, nil, RetrievalOptions{}, "")
	if _, err := r.Answer(context.Background(), "q"); !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestApproxCounter(t *testing.T) {
	c := approxCounter{}
	if c.Count("") != 0 || c.Count("abcd") != 1 || c.Count("abcde") != 2 || c.Count("ééé") != 1 {
		t.Error("unexpected estimate")
	}
}
