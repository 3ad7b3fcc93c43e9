package agent

import (
	"strings"
	"unicode"

	"github.com/kailas-cloud/cceval/internal/domain/role"
	"github.com/kailas-cloud/cceval/internal/domain/route"
)

// topic is a coarse classification of a question.
type topic int

const (
	topicNone topic = iota
	topicEvidence
	topicStandard
	topicAssessment
	topicDevelopment
)

// Phrases per topic, lowercase. Multi-word phrases match on word boundaries.
var topicPhrases = []struct {
	topic   topic
	phrases []string
}{
	{topicEvidence, []string{
		"security target", "our st", "my st", "this st", "the st", "uploaded", "upload",
		"evidence", "our document", "my document", "our product", "our toe", "this toe",
	}},
	{topicAssessment, []string{
		"evaluate", "evaluation", "assess", "assessment", "work unit", "workunit", "verdict",
		"compliant", "compliance", "conform", "satisfy", "satisfies", "pass", "fail",
	}},
	{topicDevelopment, []string{
		"how do i", "how should i", "how can i", "develop", "developer", "implement",
		"write", "prepare", "deliverable", "guidance", "provide", "document the",
	}},
	{topicStandard, []string{
		"cc part", "part 1", "part 2", "part 3", "part 4", "part 5", "common criteria",
		"cem", "standard", "define", "definition", "what is", "what are", "meaning",
		"sfr", "sar", "eal", "assurance", "functional requirement",
	}},
}

// Per-role dispatch. Topics missing from a table fall back to General.
var dispatch = map[role.Role]map[topic]route.Decision{
	role.Evaluator: {
		topicEvidence:    route.Evidence,
		topicAssessment:  route.Evaluation,
		topicDevelopment: route.Evaluation,
		topicStandard:    route.Part,
	},
	role.Developer: {
		topicEvidence:    route.Evidence,
		topicAssessment:  route.Developer,
		topicDevelopment: route.Developer,
		topicStandard:    route.Part,
	},
}

// Route picks the agent for a question. It is a pure function of its inputs.
// Assessment and development outrank evidence, since the composite agents
// search the evidence as well; evidence outranks the standard.
func Route(r role.Role, question string) route.Decision {
	table, ok := dispatch[r]
	if !ok {
		return route.General
	}
	t := classify(question)
	if d, ok := table[t]; ok {
		return d
	}
	return route.General
}

func classify(question string) topic {
	text := " " + normalize(question) + " "
	hits := make(map[topic]bool, len(topicPhrases))
	for _, tp := range topicPhrases {
		for _, p := range tp.phrases {
			if strings.Contains(text, " "+p+" ") {
				hits[tp.topic] = true
				break
			}
		}
	}
	switch {
	case hits[topicAssessment]:
		return topicAssessment
	case hits[topicDevelopment]:
		return topicDevelopment
	case hits[topicEvidence]:
		return topicEvidence
	case hits[topicStandard]:
		return topicStandard
	default:
		return topicNone
	}
}

// normalize lowercases and turns punctuation into single spaces.
func normalize(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	return strings.Join(fields, " ")
}
