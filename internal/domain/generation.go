package domain

import "context"

// Generator is the text-generation contract: context in, structured text out.
// How the text is produced (model, prompting) is the provider's concern.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (Generation, error)
}

// GenerationRequest carries the instruction, retrieved context and question.
type GenerationRequest struct {
	Instruction string
	Context     []string
	Question    string
}

// Generation is the provider answer with token usage.
type Generation struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
