package agent

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultEncoding is used when no encoding is configured.
const DefaultEncoding = "cl100k_base"

// TokenCounter measures text in model tokens.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	tke *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.tke.Encode(text, nil, nil))
}

// approxCounter estimates four characters per token.
type approxCounter struct{}

func (approxCounter) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// NewTokenCounter returns a tiktoken counter for the encoding or model name.
// When the encoding cannot be loaded (offline hosts fetch BPE ranks lazily)
// it falls back to a character estimate.
func NewTokenCounter(encoding string, logger *zap.Logger) TokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		tke, err = tiktoken.EncodingForModel(encoding)
	}
	if err != nil {
		logger.Warn("Tokenizer unavailable, estimating tokens by length",
			zap.String("encoding", encoding),
			zap.Error(err),
		)
		return approxCounter{}
	}
	return tiktokenCounter{tke: tke}
}
