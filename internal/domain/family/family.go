// Package family defines CEM work units and CC Part 3 developer actions,
// the records grouped under an assurance family prefix such as ASE_INT.
package family

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind selects which family database a record belongs to.
type Kind string

// Record kinds.
const (
	KindWorkUnit        Kind = "workunit"
	KindDeveloperAction Kind = "developer_action"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindWorkUnit, KindDeveloperAction:
		return k, nil
	default:
		return "", fmt.Errorf("unknown record kind %q", s)
	}
}

var (
	// WorkUnitID matches CEM work unit identifiers: ASE_INT.1-1.
	WorkUnitID = regexp.MustCompile(`\b([A-Z]{3}_[A-Z]{3})\.(\d+)-(\d+)\b`)
	// DeveloperActionID matches CC Part 3 developer action elements: ASE_INT.1.1D.
	DeveloperActionID = regexp.MustCompile(`\b([A-Z]{3}_[A-Z]{3})\.(\d+)\.(\d+)D\b`)

	prefixRegex = regexp.MustCompile(`^[A-Z]{3}_[A-Z]{3}$`)
)

// Record is one work unit or developer action (immutable value object).
type Record struct {
	kind        Kind
	prefix      string
	identifier  string
	description string
	sourceRef   string
}

// NewRecord validates and creates a Record. The family prefix is derived from
// the identifier.
func NewRecord(kind Kind, identifier, description, sourceRef string) (Record, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return Record{}, err
	}
	prefix := PrefixOf(identifier)
	if prefix == "" {
		return Record{}, fmt.Errorf("identifier %q has no family prefix", identifier)
	}
	if strings.TrimSpace(description) == "" {
		return Record{}, fmt.Errorf("record %s: description is required", identifier)
	}
	return Record{
		kind:        kind,
		prefix:      prefix,
		identifier:  identifier,
		description: strings.TrimSpace(description),
		sourceRef:   sourceRef,
	}, nil
}

// Kind returns the record kind.
func (r Record) Kind() Kind { return r.kind }

// FamilyPrefix returns the normalized family code, e.g. ASE_INT.
func (r Record) FamilyPrefix() string { return r.prefix }

// Identifier returns the work unit or developer action identifier.
func (r Record) Identifier() string { return r.identifier }

// Description returns the requirement text.
func (r Record) Description() string { return r.description }

// SourceRef returns the location in the source document.
func (r Record) SourceRef() string { return r.sourceRef }

// NormalizePrefix reduces a caller-supplied family selection to its family
// code: "ase-int.1 " becomes "ASE_INT". Returns "" for unusable input.
func NormalizePrefix(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	return s
}

// PrefixOf extracts the family code from an identifier or code.
func PrefixOf(identifier string) string {
	p := NormalizePrefix(identifier)
	if !prefixRegex.MatchString(p) {
		return ""
	}
	return p
}

// ASEChoices is the set of ASE components offered for report generation.
var ASEChoices = []string{
	"ASE_INT.1", "ASE_CCL.1", "ASE_SPD.1", "ASE_OBJ.1", "ASE_OBJ.2",
	"ASE_ECD.1", "ASE_REQ.1", "ASE_REQ.2", "ASE_TSS.1", "ASE_TSS.2",
}
