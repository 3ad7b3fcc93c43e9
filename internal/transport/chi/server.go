// Package chi exposes sessions, reports and family lookups over HTTP.
package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/logger"
	"github.com/kailas-cloud/cceval/internal/usecase/budget"
	healthuc "github.com/kailas-cloud/cceval/internal/usecase/health"
	"github.com/kailas-cloud/cceval/internal/usecase/session"
)

// DefaultMaxUploadBytes caps evidence uploads when no limit is configured.
const DefaultMaxUploadBytes = 64 << 20

// Server implements ServerInterface.
type Server struct {
	sessions       Sessions
	families       Families
	artifacts      Artifacts
	usage          UsageReporter
	health         HealthChecker
	maxUploadBytes int64
	errorHandlers  []errorHandler
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates an HTTP API server. usage can be nil when no token
// budget is configured.
func NewServer(
	sessions Sessions,
	families Families,
	artifacts Artifacts,
	usage UsageReporter,
	health HealthChecker,
) *Server {
	return &Server{
		sessions:       sessions,
		families:       families,
		artifacts:      artifacts,
		usage:          usage,
		health:         health,
		maxUploadBytes: DefaultMaxUploadBytes,
		errorHandlers:  defaultErrorHandlers(),
	}
}

// WithMaxUploadBytes overrides the evidence upload limit.
func (s *Server) WithMaxUploadBytes(n int64) *Server {
	if n > 0 {
		s.maxUploadBytes = n
	}
	return s
}

// CreateSession handles POST /sessions.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	rl, ok := RoleFromContext(r.Context())
	if !ok {
		s.handleDomainError(w, r, domain.ErrUnauthorized)
		return
	}
	sess, err := s.sessions.Open(rl)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{
		SessionID: sess.ID(),
		Role:      sess.Role().String(),
		CreatedAt: sess.CreatedAt().UTC(),
	})
}

// DeleteSession handles DELETE /sessions/{session}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, err := s.session(r, sessionID); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if err := s.sessions.Close(sessionID); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadEvidence handles PUT /sessions/{session}/evidence.
func (s *Server) UploadEvidence(
	w http.ResponseWriter,
	r *http.Request,
	sessionID string,
	params UploadEvidenceParams,
) {
	sess, err := s.session(r, sessionID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	info, err := s.sessions.AttachEvidence(r.Context(), sess, params.Filename, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrorResponseCodePayloadTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, EvidenceResponse{
		Name:     info.Name,
		IndexKey: info.IndexKey,
		Reused:   info.Reused,
		Chunks:   info.Chunks,
	})
}

// QuerySession handles POST /sessions/{session}/query.
func (s *Server) QuerySession(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	sess, err := s.session(r, sessionID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	results, elapsed, err := s.sessions.Query(r.Context(), sess, req.Question)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		Results:   resultsToAPI(results),
		ElapsedMS: elapsed.Milliseconds(),
	})
}

// GetEstimate handles GET /sessions/{session}/estimate.
func (s *Server) GetEstimate(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.session(r, sessionID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	d, display := s.sessions.Estimate(sess)
	writeJSON(w, http.StatusOK, EstimateResponse{Seconds: d.Seconds(), Display: display})
}

// CreateReport handles POST /sessions/{session}/reports.
func (s *Server) CreateReport(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	sess, err := s.session(r, sessionID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	out, elapsed, err := s.sessions.Report(r.Context(), sess, req.Family)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	file := filepath.Base(out.Artifact.Path)
	warnings := out.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusCreated, ReportResponse{
		Name:      out.Artifact.Name,
		Path:      out.Artifact.Path,
		Download:  "/reports/" + file,
		Family:    out.Family,
		Entries:   out.Artifact.Entries,
		Results:   resultsToAPI(out.Results),
		Warnings:  warnings,
		ElapsedMS: elapsed.Milliseconds(),
	})
}

// GetReport handles GET /reports/{name}.
func (s *Server) GetReport(w http.ResponseWriter, r *http.Request, name string) {
	f, contentType, err := s.artifacts.Open(name)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(name))
	if fi, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		logger.FromContext(r.Context()).Warn("Report download interrupted",
			zap.String("name", name), zap.Error(err))
	}
}

// ListFamilies handles GET /families.
func (s *Server) ListFamilies(w http.ResponseWriter, r *http.Request, params ListFamiliesParams) {
	kind, err := family.ParseKind(params.Kind)
	if err != nil {
		s.handleDomainError(w, r, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err))
		return
	}
	db, err := s.families.Database(r.Context(), kind)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := FamilyListResponse{Kind: string(kind)}
	recs := db.Records()
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		resp.Prefix = family.NormalizePrefix(*params.Prefix)
		recs = db.RetrieveFamily(*params.Prefix)
	}
	resp.Items = recordsToAPI(recs)
	resp.Total = len(resp.Items)
	writeJSON(w, http.StatusOK, resp)
}

// ListFamilyChoices handles GET /families/choices.
func (s *Server) ListFamilyChoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, FamilyChoicesResponse{Choices: append([]string(nil), family.ASEChoices...)})
}

// GetUsage handles GET /usage.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request, params GetUsageParams) {
	raw := ""
	if params.Period != nil {
		raw = *params.Period
	}
	period, err := budget.ParsePeriod(raw)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if s.usage == nil {
		writeJSON(w, http.StatusOK, budget.Usage{Period: period, Remaining: -1})
		return
	}
	writeJSON(w, http.StatusOK, s.usage.Report(period))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, report)
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// session resolves a session visible to the caller. Sessions of the other
// role are reported as missing.
func (s *Server) session(r *http.Request, id string) (*session.Session, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	if rl, ok := RoleFromContext(r.Context()); !ok || rl != sess.Role() {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	return sess, nil
}
