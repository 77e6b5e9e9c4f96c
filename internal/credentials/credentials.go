// Package credentials supplies per-user model API credentials to the engine.
package credentials

import (
	"context"
	"strings"
)

// DefaultProvider is the provider name used when an agent does not name one.
const DefaultProvider = "openai"

// Credentials is an active API key and the model selected for it.
type Credentials struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model,omitempty"`
}

// Usable reports whether the credentials carry a non-blank API key.
func (c *Credentials) Usable() bool {
	return c != nil && strings.TrimSpace(c.APIKey) != ""
}

// Provider returns the active credentials for a user. A nil result with a nil
// error means the user has none configured.
type Provider interface {
	ActiveCredentials(ctx context.Context, userID, provider string) (*Credentials, error)
}

// Static serves the same credentials to every user, typically from config or env.
type Static struct {
	Creds Credentials
}

func (s Static) ActiveCredentials(_ context.Context, _, _ string) (*Credentials, error) {
	if !s.Creds.Usable() {
		return nil, nil
	}
	c := s.Creds
	return &c, nil
}

// Chain consults providers in order and returns the first usable credentials.
// A provider error stops the chain.
type Chain []Provider

func (c Chain) ActiveCredentials(ctx context.Context, userID, provider string) (*Credentials, error) {
	var model string
	for _, p := range c {
		creds, err := p.ActiveCredentials(ctx, userID, provider)
		if err != nil {
			return nil, err
		}
		if creds == nil {
			continue
		}
		if creds.Usable() {
			if creds.Model == "" {
				creds.Model = model
			}
			return creds, nil
		}
		if model == "" {
			model = creds.Model
		}
	}
	return nil, nil
}
