// Package mcp exposes sessions, family lookups and report generation as
// MCP tools over stdio.
//
// Each tool follows the same shape:
// - a struct with its dependencies injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() validates arguments, calls the use case and renders the result
package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/result"
)

// publicErrors are the sentinels whose text may reach the client.
var publicErrors = []error{
	domain.ErrUnauthorized,
	domain.ErrSessionNotFound,
	domain.ErrNoEvidence,
	domain.ErrInvalidRole,
	domain.ErrInvalidInput,
	domain.ErrNotFound,
	domain.ErrLookupMiss,
	domain.ErrIngestion,
	domain.ErrRateLimited,
	domain.ErrQuotaExceeded,
	domain.ErrEmbeddingProviderError,
	domain.ErrGenerationProviderError,
	domain.ErrReportPersist,
	domain.ErrBatchAbort,
}

func safeMessage(err error) string {
	for _, s := range publicErrors {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

func toolError(action string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", action, safeMessage(err)))
}

func requiredArg(req mcp.CallToolRequest, key string) (string, *mcp.CallToolResult) {
	v := strings.TrimSpace(req.GetString(key, ""))
	if v == "" {
		return "", mcp.NewToolResultError(fmt.Sprintf("'%s' is required", key))
	}
	return v, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// renderResults formats answers as markdown sections, one per result.
func renderResults(rs []result.QueryResult) string {
	if len(rs) == 0 {
		return "No results."
	}
	var b strings.Builder
	for i, r := range rs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("### ")
		b.WriteString(r.Heading())
		b.WriteString("\n\n")
		if r.Failed() {
			b.WriteString("Error: ")
			b.WriteString(safeMessage(r.Err()))
			continue
		}
		b.WriteString(r.Text())
	}
	return b.String()
}
