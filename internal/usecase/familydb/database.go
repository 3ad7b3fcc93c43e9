// Package familydb extracts work units and developer actions from the
// standard documents and serves them grouped by family prefix.
package familydb

import (
	"sort"
	"time"

	"github.com/kailas-cloud/cceval/internal/domain/family"
)

// Database is an ordered, read-only set of records of one kind.
// Safe for concurrent reads.
type Database struct {
	kind     family.Kind
	records  []family.Record
	byPrefix map[string][]int
}

// New creates a database over records in source order.
func New(kind family.Kind, records []family.Record) *Database {
	d := &Database{
		kind:     kind,
		records:  append([]family.Record(nil), records...),
		byPrefix: make(map[string][]int),
	}
	for i, r := range d.records {
		d.byPrefix[r.FamilyPrefix()] = append(d.byPrefix[r.FamilyPrefix()], i)
	}
	return d
}

// Kind returns the record kind held by the database.
func (d *Database) Kind() family.Kind { return d.kind }

// Len returns the number of records.
func (d *Database) Len() int { return len(d.records) }

// Records returns a copy of all records in source order.
func (d *Database) Records() []family.Record {
	return append([]family.Record(nil), d.records...)
}

// RetrieveFamily returns every record whose family matches prefix after
// normalization, in source order. No match yields an empty, non-nil slice.
func (d *Database) RetrieveFamily(prefix string) []family.Record {
	idx := d.byPrefix[family.NormalizePrefix(prefix)]
	out := make([]family.Record, len(idx))
	for i, j := range idx {
		out[i] = d.records[j]
	}
	return out
}

// Families returns the distinct family prefixes, sorted.
func (d *Database) Families() []string {
	out := make([]string, 0, len(d.byPrefix))
	for p := range d.byPrefix {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Snapshot is the persisted form of a database.
type Snapshot struct {
	Kind    family.Kind
	Source  string
	ModTime time.Time
	Records []family.Record
	BuiltAt time.Time
}
