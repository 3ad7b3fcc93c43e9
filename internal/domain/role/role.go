// Package role defines the two user roles that drive routing and reporting.
package role

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/cceval/internal/domain"
)

// Role is a closed enumeration: Evaluator or Developer.
type Role int

// Roles. The zero value is not a valid role.
const (
	Evaluator Role = iota + 1
	Developer
)

// DefaultDeveloperPrefix is the token prefix that logs a user in as Developer.
const DefaultDeveloperPrefix = "dev"

// FromToken derives the role from a login token: a token starting with
// devPrefix (case-insensitive) is a Developer, anything else an Evaluator.
func FromToken(token, devPrefix string) (Role, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, fmt.Errorf("empty token: %w", domain.ErrUnauthorized)
	}
	if devPrefix == "" {
		devPrefix = DefaultDeveloperPrefix
	}
	if strings.HasPrefix(strings.ToLower(token), strings.ToLower(devPrefix)) {
		return Developer, nil
	}
	return Evaluator, nil
}

// Parse reads a role name ("Evaluator", "developer").
func Parse(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "evaluator":
		return Evaluator, nil
	case "developer":
		return Developer, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, domain.ErrInvalidRole)
	}
}

// Valid reports whether r is one of the two roles.
func (r Role) Valid() bool { return r == Evaluator || r == Developer }

func (r Role) String() string {
	switch r {
	case Evaluator:
		return "Evaluator"
	case Developer:
		return "Developer"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ReportPrefix returns the artifact name prefix, e.g. "evaluator_report".
func (r Role) ReportPrefix() string {
	return strings.ToLower(r.String()) + "_report"
}

// ResultType returns the report section type for the role's batch results.
func (r Role) ResultType() string {
	if r == Developer {
		return "Developer"
	}
	return "Evaluation"
}
