package session

import (
	"context"

	"github.com/kailas-cloud/cceval/internal/domain/chunk"
	"github.com/kailas-cloud/cceval/internal/domain/role"
	"github.com/kailas-cloud/cceval/internal/usecase/agent"
	"github.com/kailas-cloud/cceval/internal/usecase/index"
)

// IndexCache builds and drops evidence indexes.
type IndexCache interface {
	LoadOrCreate(ctx context.Context, chunks []chunk.Chunk, key string) (*index.Index, error)
	Evict(key string)
}

// DocumentLoader parses an uploaded document into chunks.
type DocumentLoader interface {
	LoadFile(ctx context.Context, path string) ([]chunk.Chunk, error)
}

// AgentFactory builds the agent graph of a session. evidence is nil until
// a Security Target is uploaded.
type AgentFactory func(r role.Role, evidence agent.Searcher) (*agent.UserAgent, error)
