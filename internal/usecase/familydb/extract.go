package familydb

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/ingest"
)

// maxDescriptionRunes bounds the text captured after the last identifier of a document.
const maxDescriptionRunes = 4000

var (
	workUnitLine        = lineAnchored(family.WorkUnitID)
	developerActionLine = lineAnchored(family.DeveloperActionID)
	spaceRun            = regexp.MustCompile(`\s+`)
)

func lineAnchored(id *regexp.Regexp) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^[ \t]*(` + id.String() + `)`)
}

func patternFor(kind family.Kind) (*regexp.Regexp, error) {
	switch kind {
	case family.KindWorkUnit:
		return workUnitLine, nil
	case family.KindDeveloperAction:
		return developerActionLine, nil
	default:
		return nil, fmt.Errorf("no extraction pattern for kind %q", kind)
	}
}

// Extract finds records of kind in pages. An identifier counts only at the
// start of a line; its description runs until the next identifier. When an
// identifier repeats (tables of contents, cross references) the longest
// description wins and the record keeps its first position.
func Extract(kind family.Kind, doc string, pages []ingest.Page) ([]family.Record, error) {
	re, err := patternFor(kind)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	starts := make([]int, len(pages))
	for i, p := range pages {
		starts[i] = sb.Len()
		sb.WriteString(p.Text)
		sb.WriteByte('\n')
	}
	text := sb.String()

	matches := re.FindAllStringSubmatchIndex(text, -1)

	type found struct {
		id, desc, ref string
	}
	var order []string
	seen := make(map[string]found)

	for i, m := range matches {
		idStart, idEnd := m[2], m[3]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		id := text[idStart:idEnd]
		desc := cleanDescription(text[idEnd:end])
		if desc == "" {
			continue
		}
		ref := fmt.Sprintf("%s#p%d", doc, pages[pageAt(starts, idStart)].Number)

		prev, ok := seen[id]
		if !ok {
			order = append(order, id)
			seen[id] = found{id: id, desc: desc, ref: ref}
			continue
		}
		if len(desc) > len(prev.desc) {
			seen[id] = found{id: id, desc: desc, ref: ref}
		}
	}

	records := make([]family.Record, 0, len(order))
	for _, id := range order {
		f := seen[id]
		r, err := family.NewRecord(kind, f.id, f.desc, f.ref)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", doc, err)
		}
		records = append(records, r)
	}
	return records, nil
}

func cleanDescription(s string) string {
	s = strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
	if utf8.RuneCountInString(s) > maxDescriptionRunes {
		s = string([]rune(s)[:maxDescriptionRunes])
	}
	return s
}

// pageAt returns the index of the page containing byte offset off.
func pageAt(starts []int, off int) int {
	i := 0
	for i+1 < len(starts) && starts[i+1] <= off {
		i++
	}
	return i
}
