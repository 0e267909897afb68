// Package config provides credential handling utilities.
package config

import (
	"errors"
	"strings"
)

// ErrNoCredentials is returned when no worker credentials are configured.
var ErrNoCredentials = errors.New("no worker credentials configured")

// ValidateCredentials performs basic validation on the credential pool.
// It checks shape only; credentials are never verified against the worker
// backend here.
func ValidateCredentials(creds []string) error {
	if len(creds) == 0 {
		return ErrNoCredentials
	}
	seen := make(map[string]bool, len(creds))
	for _, cred := range creds {
		if strings.TrimSpace(cred) == "" {
			return errors.New("credential entries must not be blank")
		}
		if seen[cred] {
			return errors.New("credential entries must be unique")
		}
		seen[cred] = true
	}
	return nil
}

// MaskCredential returns a masked version of a credential for display.
// Shows the first 4 and last 4 characters.
func MaskCredential(cred string) string {
	if cred == "" {
		return "(not set)"
	}
	if len(cred) <= 10 {
		return "****"
	}
	return cred[:4] + "..." + cred[len(cred)-4:]
}
