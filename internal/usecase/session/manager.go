package session

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/result"
	"github.com/kailas-cloud/cceval/internal/domain/role"
	"github.com/kailas-cloud/cceval/internal/ingest"
	"github.com/kailas-cloud/cceval/internal/logger"
	"github.com/kailas-cloud/cceval/internal/usecase/pipeline"
	"github.com/kailas-cloud/cceval/internal/usecase/report"
)

// Deps are the shared collaborators of all sessions.
type Deps struct {
	Cache      IndexCache
	Loader     DocumentLoader
	NewAgent   AgentFactory
	Databases  pipeline.Databases
	Writer     report.Writer
	UploadsDir string
	MaxActive  int
}

// EvidenceInfo describes the evidence index after an upload.
type EvidenceInfo struct {
	Name     string
	IndexKey string
	Reused   bool
	Chunks   int
}

// Manager creates and tracks sessions. The least recently used session is
// dropped beyond MaxActive and its evidence index evicted.
type Manager struct {
	deps     Deps
	sessions *lru.Cache[string, *Session]
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager creates a session manager.
func NewManager(deps Deps, logger *zap.Logger) (*Manager, error) {
	if deps.NewAgent == nil || deps.Cache == nil || deps.Loader == nil {
		return nil, fmt.Errorf("session manager: agent factory, index cache and loader are required: %w",
			domain.ErrInvalidInput)
	}
	if deps.MaxActive <= 0 {
		deps.MaxActive = 256
	}
	m := &Manager{deps: deps, logger: logger, now: time.Now}
	sessions, err := lru.NewWithEvict[string, *Session](deps.MaxActive, m.onEvict)
	if err != nil {
		return nil, fmt.Errorf("session cache: %w", err)
	}
	m.sessions = sessions
	return m, nil
}

func (m *Manager) onEvict(id string, s *Session) {
	s.mu.Lock()
	key := s.evidenceKey()
	s.mu.Unlock()
	if key != "" {
		m.deps.Cache.Evict(key)
	}
	m.logger.Info("Session closed", zap.String("session_id", id), zap.String("evidence_key", key))
}

// Open starts a session for r with an agent graph that has no evidence yet.
func (m *Manager) Open(r role.Role) (*Session, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("open session: %w", domain.ErrInvalidRole)
	}
	ua, err := m.deps.NewAgent(r, nil)
	if err != nil {
		return nil, fmt.Errorf("build agents: %w", err)
	}
	s := &Session{
		id:        uuid.NewString(),
		role:      r,
		createdAt: m.now(),
		latency:   NewLatencyWindow(LatencyCapacity),
		pipeline:  pipeline.New(m.deps.Databases, m.deps.Writer),
		agent:     ua,
	}
	m.sessions.Add(s.id, s)
	m.logger.Info("Session opened", zap.String("session_id", s.id), zap.String("role", r.String()))
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	s, ok := m.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	return s, nil
}

// Close ends a session.
func (m *Manager) Close(id string) error {
	if !m.sessions.Remove(id) {
		return fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int { return m.sessions.Len() }

func (m *Manager) scoped(ctx context.Context, s *Session) context.Context {
	return logger.WithFields(ctx, zap.String("session_id", s.id), zap.String("role", s.role.String()))
}

// AttachEvidence stores an uploaded Security Target and makes it the
// session's evidence. Uploading the current file name again keeps the
// existing index and agents; another name replaces both and evicts the
// previous index.
func (m *Manager) AttachEvidence(ctx context.Context, s *Session, filename string, body io.Reader) (EvidenceInfo, error) {
	name, err := ingest.SanitizeName(filename)
	if err != nil {
		return EvidenceInfo{}, err
	}
	ctx = m.scoped(ctx, s)
	log := logger.FromContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.evidence != nil && s.evidenceName == name {
		log.Info("Evidence reused", zap.String("name", name), zap.String("index_key", s.evidence.Key()))
		return EvidenceInfo{Name: name, IndexKey: s.evidence.Key(), Reused: true, Chunks: s.evidence.Len()}, nil
	}

	path, err := ingest.SaveUpload(m.deps.UploadsDir, filename, body)
	if err != nil {
		return EvidenceInfo{}, err
	}
	chunks, err := m.deps.Loader.LoadFile(ctx, path)
	if err != nil {
		return EvidenceInfo{}, fmt.Errorf("ingest evidence: %w", err)
	}
	key, err := ingest.EvidenceKey()
	if err != nil {
		return EvidenceInfo{}, err
	}
	ix, err := m.deps.Cache.LoadOrCreate(ctx, chunks, key)
	if err != nil {
		return EvidenceInfo{}, fmt.Errorf("index evidence: %w", err)
	}
	ua, err := m.deps.NewAgent(s.role, ix)
	if err != nil {
		m.deps.Cache.Evict(key)
		return EvidenceInfo{}, fmt.Errorf("build agents: %w", err)
	}

	if old := s.evidenceKey(); old != "" {
		m.deps.Cache.Evict(old)
	}
	s.evidence, s.evidenceName, s.agent = ix, name, ua

	log.Info("Evidence attached",
		zap.String("name", name),
		zap.String("path", path),
		zap.String("index_key", key),
		zap.Int("chunks", ix.Len()),
	)
	return EvidenceInfo{Name: name, IndexKey: key, Chunks: ix.Len()}, nil
}

// Query answers a free-text question and records its latency.
func (m *Manager) Query(ctx context.Context, s *Session, question string) ([]result.QueryResult, time.Duration, error) {
	ctx = m.scoped(ctx, s)
	s.mu.Lock()
	defer s.mu.Unlock()

	start := m.now()
	results, err := s.agent.ProcessQuery(ctx, question)
	elapsed := m.now().Sub(start)
	if err != nil {
		return nil, elapsed, err
	}
	s.latency.Add(elapsed)
	return results, elapsed, nil
}

// Report runs the report pipeline for a family code and records its latency.
// Reports need uploaded evidence.
func (m *Manager) Report(ctx context.Context, s *Session, familyCode string) (pipeline.Outcome, time.Duration, error) {
	ctx = m.scoped(ctx, s)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.evidence == nil {
		return pipeline.Outcome{}, 0, domain.ErrNoEvidence
	}

	start := m.now()
	out, err := s.pipeline.Run(ctx, s.role, s.agent, familyCode)
	elapsed := m.now().Sub(start)
	if err != nil {
		return pipeline.Outcome{}, elapsed, err
	}
	s.latency.Add(elapsed)
	return out, elapsed, nil
}

// Estimate returns the expected duration of the next report.
func (m *Manager) Estimate(s *Session) (time.Duration, string) {
	d := s.latency.Estimate()
	return d, FormatDuration(d)
}
