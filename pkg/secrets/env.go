package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider reads secrets from environment variables. The variable name
// is the prefix followed by the upper-cased secret name with hyphens and
// dots replaced by underscores.
type EnvProvider struct {
	prefix string
	getenv func(string) string
}

// NewEnvProvider creates a provider reading prefixed variables.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix, getenv: os.Getenv}
}

func (p *EnvProvider) Lookup(ctx context.Context, name string) (string, error) {
	v := p.getenv(p.Variable(name))
	if v == "" {
		return "", fmt.Errorf("%w: %s not set", ErrNotFound, p.Variable(name))
	}
	return v, nil
}

func (p *EnvProvider) Name() string {
	return "env"
}

// Variable returns the environment variable holding name.
func (p *EnvProvider) Variable(name string) string {
	return p.prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}
