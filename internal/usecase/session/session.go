// Package session holds the per-user state of interactive use: role,
// uploaded evidence, agent graph, report pipeline and latency history.
package session

import (
	"sync"
	"time"

	"github.com/kailas-cloud/cceval/internal/domain/role"
	"github.com/kailas-cloud/cceval/internal/usecase/agent"
	"github.com/kailas-cloud/cceval/internal/usecase/index"
	"github.com/kailas-cloud/cceval/internal/usecase/pipeline"
)

// Session is owned by one user. Operations on it are serialized.
type Session struct {
	id        string
	role      role.Role
	createdAt time.Time
	latency   *LatencyWindow
	pipeline  *pipeline.Pipeline

	mu           sync.Mutex
	agent        *agent.UserAgent
	evidence     *index.Index
	evidenceName string
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Role returns the role the session logged in with.
func (s *Session) Role() role.Role { return s.role }

// CreatedAt returns the session start time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Latency returns the session latency window.
func (s *Session) Latency() *LatencyWindow { return s.latency }

// Evidence returns the current evidence file name and index key, if any.
func (s *Session) Evidence() (name, key string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evidence == nil {
		return "", "", false
	}
	return s.evidenceName, s.evidence.Key(), true
}

func (s *Session) evidenceKey() string {
	if s.evidence == nil {
		return ""
	}
	return s.evidence.Key()
}
