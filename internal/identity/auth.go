package identity

import (
	"strings"

	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/pkg/models"
)

// Requirement is the outcome of the guest auth gate.
type Requirement struct {
	RequireGithub bool `json:"require_github_auth"`
	RequireGoogle bool `json:"require_google_auth"`
	HasGithub     bool `json:"has_github_auth"`
	HasGoogle     bool `json:"has_google_auth"`
}

// Providers lists the logins that would satisfy the gate, empty when none is needed.
// An identity carries one external login, so when both are required either satisfies.
func (r Requirement) Providers() []string {
	if (r.RequireGithub && r.HasGithub) || (r.RequireGoogle && r.HasGoogle) {
		return nil
	}
	var out []string
	if r.RequireGithub {
		out = append(out, ProviderGithub)
	}
	if r.RequireGoogle {
		out = append(out, ProviderGoogle)
	}
	return out
}

func (r Requirement) AuthRequired() bool {
	return len(r.Providers()) > 0
}

// Err returns an AuthRequired error naming the missing providers, or nil.
func (r Requirement) Err() error {
	providers := r.Providers()
	if len(providers) == 0 {
		return nil
	}
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = providerName(p)
	}
	return errs.AuthRequired(strings.Join(names, " or ")+" authentication required.", providers)
}

func providerName(p string) string {
	switch p {
	case ProviderGithub:
		return "GitHub"
	case ProviderGoogle:
		return "Google"
	}
	return p
}

// CheckAuth evaluates the login requirements for identity.
func CheckAuth(identity *models.Identity, requireGithub, requireGoogle bool) Requirement {
	r := Requirement{RequireGithub: requireGithub, RequireGoogle: requireGoogle}
	if identity != nil && identity.LinkedProvider != nil {
		r.HasGithub = *identity.LinkedProvider == ProviderGithub
		r.HasGoogle = *identity.LinkedProvider == ProviderGoogle
	}
	return r
}
