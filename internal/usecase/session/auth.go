package session

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/role"
)

// Authenticator turns login tokens into roles.
type Authenticator struct {
	tokens    map[string]struct{}
	devPrefix string
}

// NewAuthenticator creates an authenticator. An empty allow-list accepts
// any non-empty token.
func NewAuthenticator(tokens []string, devPrefix string) *Authenticator {
	valid := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			valid[t] = struct{}{}
		}
	}
	return &Authenticator{tokens: valid, devPrefix: devPrefix}
}

// Authenticate validates token and derives its role.
func (a *Authenticator) Authenticate(token string) (role.Role, error) {
	token = strings.TrimSpace(token)
	if len(a.tokens) > 0 {
		if _, ok := a.tokens[token]; !ok {
			return 0, fmt.Errorf("token rejected: %w", domain.ErrUnauthorized)
		}
	}
	return role.FromToken(token, a.devPrefix)
}
