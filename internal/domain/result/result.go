// Package result defines QueryResult, the single answer type every agent and
// batch evaluator produces.
package result

// SubjectKind discriminates what a result is about.
type SubjectKind string

// Subject kinds.
const (
	SubjectNone            SubjectKind = "none"
	SubjectWorkUnit        SubjectKind = "workunit"
	SubjectDeveloperAction SubjectKind = "developer_action"
)

// BodyKind discriminates what a result's text is.
type BodyKind string

// Body kinds.
const (
	BodyEvaluation BodyKind = "evaluation"
	BodyGuidance   BodyKind = "guidance"
	BodyResponse   BodyKind = "response"
)

// QueryResult is one answer: an optional subject (work unit or developer
// action identifier), a body kind and its text. A failed record keeps its
// subject and carries the error instead of text.
type QueryResult struct {
	subjectKind SubjectKind
	subject     string
	bodyKind    BodyKind
	text        string
	err         error
}

// NewResponse creates a free-text answer without subject.
func NewResponse(text string) QueryResult {
	return QueryResult{subjectKind: SubjectNone, bodyKind: BodyResponse, text: text}
}

// NewEvaluation creates a successful work unit evaluation.
func NewEvaluation(workUnitID, text string) QueryResult {
	return QueryResult{subjectKind: SubjectWorkUnit, subject: workUnitID, bodyKind: BodyEvaluation, text: text}
}

// NewGuidance creates a successful developer action guidance.
func NewGuidance(actionID, text string) QueryResult {
	return QueryResult{
		subjectKind: SubjectDeveloperAction, subject: actionID, bodyKind: BodyGuidance, text: text,
	}
}

// NewError creates an error-marked result that keeps the subject and body kind
// of the record it stands in for.
func NewError(subjectKind SubjectKind, subject string, bodyKind BodyKind, err error) QueryResult {
	return QueryResult{subjectKind: subjectKind, subject: subject, bodyKind: bodyKind, err: err}
}

// SubjectKind returns the subject discriminant.
func (r QueryResult) SubjectKind() SubjectKind { return r.subjectKind }

// Subject returns the work unit / developer action identifier, "" for none.
func (r QueryResult) Subject() string { return r.subject }

// BodyKind returns the body discriminant.
func (r QueryResult) BodyKind() BodyKind { return r.bodyKind }

// Text returns the generated text ("" for failed results).
func (r QueryResult) Text() string { return r.text }

// Err returns the per-record failure, if any.
func (r QueryResult) Err() error { return r.err }

// Failed reports whether the result is error-marked.
func (r QueryResult) Failed() bool { return r.err != nil }

// Heading returns the display heading: the subject or a generic label.
func (r QueryResult) Heading() string {
	if r.subject != "" {
		return r.subject
	}
	if r.bodyKind == BodyResponse {
		return "Response"
	}
	return "Result"
}
