package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/logger"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

type sentinelMapping struct {
	err    error
	status int
	code   ErrorResponseCode
}

// sentinels is ordered: causes before the wrappers that may carry them.
var sentinels = []sentinelMapping{
	{domain.ErrUnauthorized, http.StatusUnauthorized, ErrorResponseCodeUnauthorized},
	{domain.ErrSessionNotFound, http.StatusNotFound, ErrorResponseCodeSessionNotFound},
	{domain.ErrLookupMiss, http.StatusNotFound, ErrorResponseCodeFamilyNotFound},
	{domain.ErrNotFound, http.StatusNotFound, ErrorResponseCodeNotFound},
	{domain.ErrInvalidRole, http.StatusBadRequest, ErrorResponseCodeValidationFailed},
	{domain.ErrInvalidInput, http.StatusBadRequest, ErrorResponseCodeValidationFailed},
	{domain.ErrNoEvidence, http.StatusConflict, ErrorResponseCodeEvidenceRequired},
	{domain.ErrIngestion, http.StatusUnprocessableEntity, ErrorResponseCodeIngestionFailed},
	{domain.ErrRateLimited, http.StatusTooManyRequests, ErrorResponseCodeRateLimited},
	{domain.ErrQuotaExceeded, http.StatusPaymentRequired, ErrorResponseCodeQuotaExceeded},
	{domain.ErrEmbeddingProviderError, http.StatusBadGateway, ErrorResponseCodeProviderError},
	{domain.ErrGenerationProviderError, http.StatusBadGateway, ErrorResponseCodeProviderError},
	{domain.ErrReportPersist, http.StatusInternalServerError, ErrorResponseCodeReportPersist},
	{domain.ErrRecordEvaluation, http.StatusBadGateway, ErrorResponseCodeProviderError},
	{domain.ErrBatchAbort, http.StatusInternalServerError, ErrorResponseCodeBatchAborted},
}

func lookupSentinel(err error) (sentinelMapping, bool) {
	for _, m := range sentinels {
		if errors.Is(err, m.err) {
			return m, true
		}
	}
	return sentinelMapping{}, false
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	if m, ok := lookupSentinel(err); ok {
		return m.err.Error()
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(m sentinelMapping) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, m.err) {
			return false
		}
		writeError(w, m.status, m.code, msg)
		return true
	}
}

// stageErrorHandler reports pipeline aborts with the stage they happened in.
// The status follows the cause.
func stageErrorHandler(w http.ResponseWriter, err error, _ string) bool {
	var se *domain.StageError
	if !errors.As(err, &se) {
		return false
	}
	status, msg := http.StatusInternalServerError, domain.ErrBatchAbort.Error()
	if m, ok := lookupSentinel(se.Err); ok {
		status, msg = m.status, domain.ErrBatchAbort.Error()+": "+m.err.Error()
	}
	writeJSON(w, status, ErrorResponse{
		Code:    ErrorResponseCodeBatchAborted,
		Message: msg,
		Stage:   string(se.Stage),
	})
	return true
}

func defaultErrorHandlers() []errorHandler {
	handlers := []errorHandler{stageErrorHandler}
	for _, m := range sentinels {
		handlers = append(handlers, sentinelHandler(m))
	}
	return handlers
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorResponseCodeInternalError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorResponseCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
