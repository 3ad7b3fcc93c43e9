package chi

import (
	"time"

	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/domain/result"
)

// ErrorResponseCode is the machine-readable code of an error response.
type ErrorResponseCode string

// Error codes.
const (
	ErrorResponseCodeBadRequest       ErrorResponseCode = "bad_request"
	ErrorResponseCodeValidationFailed ErrorResponseCode = "validation_failed"
	ErrorResponseCodeUnauthorized     ErrorResponseCode = "unauthorized"
	ErrorResponseCodeSessionNotFound  ErrorResponseCode = "session_not_found"
	ErrorResponseCodeNotFound         ErrorResponseCode = "not_found"
	ErrorResponseCodeFamilyNotFound   ErrorResponseCode = "family_not_found"
	ErrorResponseCodeEvidenceRequired ErrorResponseCode = "evidence_required"
	ErrorResponseCodeIngestionFailed  ErrorResponseCode = "ingestion_failed"
	ErrorResponseCodeRateLimited      ErrorResponseCode = "rate_limited"
	ErrorResponseCodeQuotaExceeded    ErrorResponseCode = "quota_exceeded"
	ErrorResponseCodeProviderError    ErrorResponseCode = "provider_error"
	ErrorResponseCodeBatchAborted     ErrorResponseCode = "batch_aborted"
	ErrorResponseCodeReportPersist    ErrorResponseCode = "report_persist_failed"
	ErrorResponseCodePayloadTooLarge  ErrorResponseCode = "payload_too_large"
	ErrorResponseCodeInternalError    ErrorResponseCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Code    ErrorResponseCode `json:"code"`
	Message string            `json:"message"`
	Stage   string            `json:"stage,omitempty"`
}

// SessionResponse describes an opened session.
type SessionResponse struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// EvidenceResponse describes the evidence index after an upload.
type EvidenceResponse struct {
	Name     string `json:"name"`
	IndexKey string `json:"index_key"`
	Reused   bool   `json:"reused"`
	Chunks   int    `json:"chunks"`
}

// QueryRequest is the body of POST /sessions/{session}/query.
type QueryRequest struct {
	Question string `json:"question"`
}

// QueryResponse carries the answers to one question.
type QueryResponse struct {
	Results   []QueryResult `json:"results"`
	ElapsedMS int64         `json:"elapsed_ms"`
}

// QueryResult is the wire form of result.QueryResult.
type QueryResult struct {
	SubjectKind string `json:"subject_kind"`
	Subject     string `json:"subject,omitempty"`
	Kind        string `json:"kind"`
	Heading     string `json:"heading"`
	Text        string `json:"text,omitempty"`
	Error       string `json:"error,omitempty"`
}

// EstimateResponse is the expected duration of the next report.
type EstimateResponse struct {
	Seconds float64 `json:"seconds"`
	Display string  `json:"display"`
}

// ReportRequest is the body of POST /sessions/{session}/reports.
type ReportRequest struct {
	Family string `json:"family"`
}

// ReportResponse describes a generated report.
type ReportResponse struct {
	Name      string        `json:"name"`
	Path      string        `json:"path"`
	Download  string        `json:"download"`
	Family    string        `json:"family"`
	Entries   int           `json:"entries"`
	Results   []QueryResult `json:"results"`
	Warnings  []string      `json:"warnings"`
	ElapsedMS int64         `json:"elapsed_ms"`
}

// FamilyRecord is the wire form of family.Record.
type FamilyRecord struct {
	Identifier  string `json:"identifier"`
	Family      string `json:"family"`
	Description string `json:"description"`
	SourceRef   string `json:"source_ref"`
}

// FamilyListResponse lists records of one kind.
type FamilyListResponse struct {
	Kind   string         `json:"kind"`
	Prefix string         `json:"prefix,omitempty"`
	Items  []FamilyRecord `json:"items"`
	Total  int            `json:"total"`
}

// FamilyChoicesResponse lists the families offered for reports.
type FamilyChoicesResponse struct {
	Choices []string `json:"choices"`
}

// ListFamiliesParams are the query parameters of GET /families.
type ListFamiliesParams struct {
	Kind   string  `form:"kind" json:"kind"`
	Prefix *string `form:"prefix,omitempty" json:"prefix,omitempty"`
}

// UploadEvidenceParams are the query parameters of PUT /sessions/{session}/evidence.
type UploadEvidenceParams struct {
	Filename string `form:"filename" json:"filename"`
}

// GetUsageParams are the query parameters of GET /usage.
type GetUsageParams struct {
	Period *string `form:"period,omitempty" json:"period,omitempty"`
}

func resultsToAPI(rs []result.QueryResult) []QueryResult {
	out := make([]QueryResult, len(rs))
	for i, r := range rs {
		out[i] = QueryResult{
			SubjectKind: string(r.SubjectKind()),
			Subject:     r.Subject(),
			Kind:        string(r.BodyKind()),
			Heading:     r.Heading(),
			Text:        r.Text(),
		}
		if r.Failed() {
			out[i].Error = safeDomainMessage(r.Err())
		}
	}
	return out
}

func recordsToAPI(recs []family.Record) []FamilyRecord {
	out := make([]FamilyRecord, len(recs))
	for i, r := range recs {
		out[i] = FamilyRecord{
			Identifier:  r.Identifier(),
			Family:      r.FamilyPrefix(),
			Description: r.Description(),
			SourceRef:   r.SourceRef(),
		}
	}
	return out
}
