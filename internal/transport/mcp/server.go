package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/kailas-cloud/cceval/internal/version"
)

const instructions = `cceval answers Common Criteria questions and drafts evaluation reports.
Start with open_session, attach the Security Target with attach_evidence, then use ask
for questions and generate_report for a full family (for example ASE_INT.1).
retrieve_family lists the work units or developer actions of a family without a session.`

// NewServer creates the MCP server with every tool registered.
func NewServer(auth Authenticator, sessions Sessions, families Families) *server.MCPServer {
	s := server.NewMCPServer(
		"cceval",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	openTool := NewOpenSessionTool(auth, sessions)
	s.AddTool(openTool.Definition(), openTool.Handle)

	attachTool := NewAttachEvidenceTool(sessions)
	s.AddTool(attachTool.Definition(), attachTool.Handle)

	askTool := NewAskTool(sessions)
	s.AddTool(askTool.Definition(), askTool.Handle)

	familyTool := NewRetrieveFamilyTool(families)
	s.AddTool(familyTool.Definition(), familyTool.Handle)

	reportTool := NewGenerateReportTool(sessions)
	s.AddTool(reportTool.Definition(), reportTool.Handle)

	return s
}
