package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Plugin describes an extension that can be invoked by action name.
// Builtin plugins are compiled in; the rest are registered at runtime and
// reached over HTTP at Endpoint.
type Plugin struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Version      string    `json:"version,omitempty"`
	Description  string    `json:"description,omitempty"`
	Endpoint     string    `json:"endpoint,omitempty"`
	Enabled      bool      `json:"enabled"`
	Builtin      bool      `json:"builtin"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Validate checks a plugin registration.
func (p Plugin) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: plugin id is required", ErrValidation)
	}
	if strings.ContainsAny(p.ID, " /\t\n") {
		return fmt.Errorf("%w: plugin id %q must not contain spaces or slashes", ErrValidation, p.ID)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: plugin name is required", ErrValidation)
	}
	u, err := url.Parse(p.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: plugin endpoint must be an http(s) URL", ErrValidation)
	}
	return nil
}
