// Package route defines where the navigator sends a free-text query.
package route

// Decision selects the agent that answers a query.
type Decision string

// Routing decisions.
const (
	Evidence   Decision = "evidence"
	Part       Decision = "part"
	Evaluation Decision = "evaluation"
	Developer  Decision = "developer"
	General    Decision = "general"
)

// All lists every decision, for metrics pre-registration and tests.
var All = []Decision{Evidence, Part, Evaluation, Developer, General}
