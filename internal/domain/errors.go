package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrIngestion signals a chunk parsing or index build failure.
	ErrIngestion = errors.New("ingestion failed")
	// ErrLookupMiss signals a family lookup that matched no records.
	ErrLookupMiss = errors.New("no records for family")
	// ErrRecordEvaluation signals a failure isolated to one record of a batch.
	ErrRecordEvaluation = errors.New("record evaluation failed")
	// ErrBatchAbort signals a failure of the batch mechanism itself.
	ErrBatchAbort = errors.New("batch aborted")
	// ErrReportPersist signals a failure while writing a report artifact.
	ErrReportPersist = errors.New("report persist failed")

	// ErrSessionNotFound signals an unknown session identifier.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoEvidence signals an operation that needs an uploaded Security Target.
	ErrNoEvidence = errors.New("no evidence uploaded")
	// ErrInvalidRole signals an unknown role value.
	ErrInvalidRole = errors.New("invalid role")
	// ErrUnauthorized signals a missing or rejected login token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidInput signals malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound signals a missing resource (report artifact, family kind).
	ErrNotFound = errors.New("not found")

	// ErrRateLimited signals a provider rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrQuotaExceeded signals an exhausted provider token budget.
	ErrQuotaExceeded = errors.New("token quota exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrGenerationProviderError signals a text-generation provider failure.
	ErrGenerationProviderError = errors.New("generation provider error")
)

// Stage names a batch pipeline state at which an abort happened.
type Stage string

// StageError wraps a pipeline abort with the stage it happened in.
// It unwraps to both ErrBatchAbort and the cause.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s during %s: %v", ErrBatchAbort.Error(), e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error { return []error{ErrBatchAbort, e.Err} }

// NewStageError creates a pipeline abort error for the given stage.
func NewStageError(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}
