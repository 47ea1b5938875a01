package upstream

import (
	"os"
	"strings"
)

// Resolver finds the upstream base URL each time it is asked.
type Resolver struct {
	// EnvVar names the environment variable consulted first.
	EnvVar string
	// Fallback is used when the variable is unset or empty.
	Fallback string

	lookup func(string) string
}

// NewResolver returns a Resolver reading the process environment.
func NewResolver(envVar, fallback string) Resolver {
	return Resolver{EnvVar: envVar, Fallback: fallback, lookup: os.Getenv}
}

// BaseURL returns the resolved base URL without a trailing slash.
func (r Resolver) BaseURL() (string, error) {
	lookup := r.lookup
	if lookup == nil {
		lookup = os.Getenv
	}
	url := ""
	if r.EnvVar != "" {
		url = strings.TrimSpace(lookup(r.EnvVar))
	}
	if url == "" {
		url = strings.TrimSpace(r.Fallback)
	}
	if url == "" {
		return "", ErrNotConfigured
	}
	return strings.TrimRight(url, "/"), nil
}
