package result

import (
	"errors"
	"testing"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name        string
		r           QueryResult
		subjectKind SubjectKind
		bodyKind    BodyKind
		heading     string
	}{
		{"response", NewResponse("hi"), SubjectNone, BodyResponse, "Response"},
		{"evaluation", NewEvaluation("ASE_INT.1-1", "pass"), SubjectWorkUnit, BodyEvaluation, "ASE_INT.1-1"},
		{"guidance", NewGuidance("ASE_INT.1.1D", "do x"), SubjectDeveloperAction, BodyGuidance, "ASE_INT.1.1D"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.r.SubjectKind() != tc.subjectKind {
				t.Errorf("subject kind = %q, want %q", tc.r.SubjectKind(), tc.subjectKind)
			}
			if tc.r.BodyKind() != tc.bodyKind {
				t.Errorf("body kind = %q, want %q", tc.r.BodyKind(), tc.bodyKind)
			}
			if tc.r.Heading() != tc.heading {
				t.Errorf("heading = %q, want %q", tc.r.Heading(), tc.heading)
			}
			if tc.r.Failed() {
				t.Error("expected success")
			}
		})
	}
}

func TestNewError(t *testing.T) {
	cause := errors.New("timeout")
	r := NewError(SubjectWorkUnit, "ASE_INT.1-2", BodyEvaluation, cause)

	if !r.Failed() || !errors.Is(r.Err(), cause) {
		t.Errorf("expected failed result wrapping cause, got %v", r.Err())
	}
	if r.Subject() != "ASE_INT.1-2" || r.Text() != "" {
		t.Errorf("unexpected result: %+v", r)
	}
}

func TestHeading_NoSubject(t *testing.T) {
	r := NewError(SubjectNone, "", BodyEvaluation, errors.New("x"))
	if r.Heading() != "Result" {
		t.Errorf("heading = %q", r.Heading())
	}
}
