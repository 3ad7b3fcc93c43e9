package chi

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/domain/result"
	"github.com/kailas-cloud/cceval/internal/domain/role"
	"github.com/kailas-cloud/cceval/internal/usecase/budget"
	"github.com/kailas-cloud/cceval/internal/usecase/familydb"
	"github.com/kailas-cloud/cceval/internal/usecase/health"
	"github.com/kailas-cloud/cceval/internal/usecase/pipeline"
	"github.com/kailas-cloud/cceval/internal/usecase/session"
)

// Authenticator resolves a Bearer token to a role.
type Authenticator interface {
	Authenticate(token string) (role.Role, error)
}

// Sessions manages interactive sessions.
type Sessions interface {
	Open(r role.Role) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Close(id string) error
	AttachEvidence(ctx context.Context, s *session.Session, filename string, body io.Reader) (session.EvidenceInfo, error)
	Query(ctx context.Context, s *session.Session, question string) ([]result.QueryResult, time.Duration, error)
	Report(ctx context.Context, s *session.Session, familyCode string) (pipeline.Outcome, time.Duration, error)
	Estimate(s *session.Session) (time.Duration, string)
}

// Families resolves family databases by kind.
type Families interface {
	Database(ctx context.Context, kind family.Kind) (*familydb.Database, error)
}

// Artifacts serves stored reports.
type Artifacts interface {
	Open(name string) (*os.File, string, error)
}

// UsageReporter reports the token budget.
type UsageReporter interface {
	Report(period budget.Period) budget.Usage
}

// HealthChecker aggregates dependency health.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}
