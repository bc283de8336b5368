package hostinfo

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// CredentialKind tags which variant a Credential holds.
type CredentialKind int

const (
	CredentialNone CredentialKind = iota
	CredentialLiteral
	CredentialProvider
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialLiteral:
		return "literal"
	case CredentialProvider:
		return "provider"
	default:
		return "none"
	}
}

// Provider produces a secret on demand, typically by asking a user.
type Provider func(ctx context.Context) (string, error)

// Credential is either a literal secret, a provider, or nothing.
type Credential struct {
	kind     CredentialKind
	literal  string
	provider Provider
}

var ErrNoCredential = errors.New("no credential configured")

func Literal(s string) Credential { return Credential{kind: CredentialLiteral, literal: s} }

func FromProvider(p Provider) Credential {
	if p == nil {
		return Credential{}
	}
	return Credential{kind: CredentialProvider, provider: p}
}

func (c Credential) Kind() CredentialKind { return c.kind }

// Literal returns the literal value; ok is false for other variants.
func (c Credential) Literal() (string, bool) {
	return c.literal, c.kind == CredentialLiteral
}

// Provider returns the provider; ok is false for other variants.
func (c Credential) Provider() (Provider, bool) {
	return c.provider, c.kind == CredentialProvider
}

// Resolve returns the secret, invoking the provider when needed.
func (c Credential) Resolve(ctx context.Context) (string, error) {
	switch c.kind {
	case CredentialLiteral:
		return c.literal, nil
	case CredentialProvider:
		return c.provider(ctx)
	default:
		return "", ErrNoCredential
	}
}

// UnmarshalYAML accepts a scalar string as a literal; null or absent means none.
func (c *Credential) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: credential must be a string", n.Line)
	}
	if n.Tag == "!!null" {
		*c = Credential{}
		return nil
	}
	*c = Literal(n.Value)
	return nil
}

// MarshalYAML never writes secrets back out.
func (c Credential) MarshalYAML() (interface{}, error) {
	return nil, nil
}
