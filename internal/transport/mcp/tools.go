package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/logger"
)

// OpenSessionTool handles the open_session MCP tool.
type OpenSessionTool struct {
	auth     Authenticator
	sessions Sessions
}

// NewOpenSessionTool creates an OpenSessionTool.
func NewOpenSessionTool(auth Authenticator, sessions Sessions) *OpenSessionTool {
	return &OpenSessionTool{auth: auth, sessions: sessions}
}

// Definition returns the MCP tool definition for open_session.
func (t *OpenSessionTool) Definition() mcp.Tool {
	return mcp.NewTool("open_session",
		mcp.WithDescription(
			"Log in with a token and open an evaluation session. Tokens starting with the "+
				"developer prefix open a Developer session, any other token an Evaluator session.",
		),
		mcp.WithString("token",
			mcp.Required(),
			mcp.Description("Login token"),
		),
	)
}

// Handle processes the open_session tool call.
func (t *OpenSessionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, bad := requiredArg(req, "token")
	if bad != nil {
		return bad, nil
	}
	r, err := t.auth.Authenticate(token)
	if err != nil {
		return toolError("login failed", err), nil
	}
	s, err := t.sessions.Open(r)
	if err != nil {
		logger.FromContext(ctx).Error("Open session failed", zap.Error(err))
		return toolError("open session", err), nil
	}
	return jsonResult(map[string]string{"session_id": s.ID(), "role": s.Role().String()})
}

// AttachEvidenceTool handles the attach_evidence MCP tool.
type AttachEvidenceTool struct {
	sessions Sessions
}

// NewAttachEvidenceTool creates an AttachEvidenceTool.
func NewAttachEvidenceTool(sessions Sessions) *AttachEvidenceTool {
	return &AttachEvidenceTool{sessions: sessions}
}

// Definition returns the MCP tool definition for attach_evidence.
func (t *AttachEvidenceTool) Definition() mcp.Tool {
	return mcp.NewTool("attach_evidence",
		mcp.WithDescription(
			"Upload a Security Target PDF into a session. Attaching a file with the same "+
				"name again reuses the existing index.",
		),
		mcp.WithString("session",
			mcp.Required(),
			mcp.Description("Session identifier returned by open_session"),
		),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Local path of the Security Target PDF"),
		),
	)
}

// Handle processes the attach_evidence tool call.
func (t *AttachEvidenceTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredArg(req, "session")
	if bad != nil {
		return bad, nil
	}
	path, bad := requiredArg(req, "path")
	if bad != nil {
		return bad, nil
	}
	s, err := t.sessions.Get(id)
	if err != nil {
		return toolError("attach evidence", err), nil
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot read %s", filepath.Base(path))), nil
	}
	defer func() { _ = f.Close() }()

	info, err := t.sessions.AttachEvidence(ctx, s, filepath.Base(path), f)
	if err != nil {
		logger.FromContext(ctx).Error("Attach evidence failed", zap.String("session_id", id), zap.Error(err))
		return toolError("attach evidence", err), nil
	}
	return jsonResult(map[string]any{
		"name":      info.Name,
		"index_key": info.IndexKey,
		"reused":    info.Reused,
		"chunks":    info.Chunks,
	})
}

// AskTool handles the ask MCP tool.
type AskTool struct {
	sessions Sessions
}

// NewAskTool creates an AskTool.
func NewAskTool(sessions Sessions) *AskTool {
	return &AskTool{sessions: sessions}
}

// Definition returns the MCP tool definition for ask.
func (t *AskTool) Definition() mcp.Tool {
	return mcp.NewTool("ask",
		mcp.WithDescription(
			"Ask a Common Criteria question. Questions naming work units (ASE_INT.1-1) or "+
				"developer actions (ASE_INT.1.1D) evaluate those records.",
		),
		mcp.WithString("session",
			mcp.Required(),
			mcp.Description("Session identifier returned by open_session"),
		),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Free-text question"),
		),
	)
}

// Handle processes the ask tool call.
func (t *AskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredArg(req, "session")
	if bad != nil {
		return bad, nil
	}
	question, bad := requiredArg(req, "question")
	if bad != nil {
		return bad, nil
	}
	s, err := t.sessions.Get(id)
	if err != nil {
		return toolError("ask", err), nil
	}

	results, elapsed, err := t.sessions.Query(ctx, s, question)
	if err != nil {
		logger.FromContext(ctx).Error("Query failed", zap.String("session_id", id), zap.Error(err))
		return toolError("ask", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s\n\n_Answered in %s._", renderResults(results), elapsed.Round(time.Millisecond))), nil
}

// RetrieveFamilyTool handles the retrieve_family MCP tool.
type RetrieveFamilyTool struct {
	families Families
}

// NewRetrieveFamilyTool creates a RetrieveFamilyTool.
func NewRetrieveFamilyTool(families Families) *RetrieveFamilyTool {
	return &RetrieveFamilyTool{families: families}
}

// Definition returns the MCP tool definition for retrieve_family.
func (t *RetrieveFamilyTool) Definition() mcp.Tool {
	return mcp.NewTool("retrieve_family",
		mcp.WithDescription("List the work units or developer actions of an assurance family."),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Record kind"),
			mcp.Enum(string(family.KindWorkUnit), string(family.KindDeveloperAction)),
		),
		mcp.WithString("prefix",
			mcp.Required(),
			mcp.Description("Family code, e.g. ASE_INT or ASE_INT.1"),
		),
	)
}

type recordView struct {
	Identifier  string `json:"identifier"`
	Description string `json:"description"`
	SourceRef   string `json:"source_ref"`
}

// Handle processes the retrieve_family tool call.
func (t *RetrieveFamilyTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawKind, bad := requiredArg(req, "kind")
	if bad != nil {
		return bad, nil
	}
	prefix, bad := requiredArg(req, "prefix")
	if bad != nil {
		return bad, nil
	}
	kind, err := family.ParseKind(rawKind)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("'kind' must be %s or %s",
			family.KindWorkUnit, family.KindDeveloperAction)), nil
	}
	db, err := t.families.Database(ctx, kind)
	if err != nil {
		logger.FromContext(ctx).Error("Family database unavailable", zap.String("kind", string(kind)), zap.Error(err))
		return toolError("retrieve family", err), nil
	}

	recs := db.RetrieveFamily(prefix)
	out := make([]recordView, len(recs))
	for i, r := range recs {
		out[i] = recordView{Identifier: r.Identifier(), Description: r.Description(), SourceRef: r.SourceRef()}
	}
	return jsonResult(map[string]any{
		"kind":   kind,
		"prefix": family.NormalizePrefix(prefix),
		"items":  out,
	})
}

// GenerateReportTool handles the generate_report MCP tool.
type GenerateReportTool struct {
	sessions Sessions
}

// NewGenerateReportTool creates a GenerateReportTool.
func NewGenerateReportTool(sessions Sessions) *GenerateReportTool {
	return &GenerateReportTool{sessions: sessions}
}

// Definition returns the MCP tool definition for generate_report.
func (t *GenerateReportTool) Definition() mcp.Tool {
	return mcp.NewTool("generate_report",
		mcp.WithDescription(
			"Evaluate every work unit (Evaluator) or developer action (Developer) of a family "+
				"against the attached Security Target and save a report.",
		),
		mcp.WithString("session",
			mcp.Required(),
			mcp.Description("Session identifier returned by open_session"),
		),
		mcp.WithString("family",
			mcp.Required(),
			mcp.Description("Family code, e.g. ASE_INT.1"),
		),
	)
}

// Handle processes the generate_report tool call.
func (t *GenerateReportTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredArg(req, "session")
	if bad != nil {
		return bad, nil
	}
	code, bad := requiredArg(req, "family")
	if bad != nil {
		return bad, nil
	}
	s, err := t.sessions.Get(id)
	if err != nil {
		return toolError("generate report", err), nil
	}

	_, estimate := t.sessions.Estimate(s)
	out, elapsed, err := t.sessions.Report(ctx, s, code)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error("Report failed", zap.String("session_id", id), zap.String("family", code), zap.Error(err))
		var se *domain.StageError
		if errors.As(err, &se) {
			return mcp.NewToolResultError(fmt.Sprintf("generate report: aborted during %s: %s",
				se.Stage, safeMessage(se.Err))), nil
		}
		return toolError("generate report", err), nil
	}

	failed := 0
	for _, r := range out.Results {
		if r.Failed() {
			failed++
		}
	}
	return jsonResult(map[string]any{
		"name":       out.Artifact.Name,
		"path":       out.Artifact.Path,
		"family":     out.Family,
		"entries":    out.Artifact.Entries,
		"failed":     failed,
		"warnings":   out.Warnings,
		"estimated":  estimate,
		"elapsed_ms": elapsed.Milliseconds(),
	})
}
