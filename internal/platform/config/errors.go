package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var errNoResolver = errors.New("no secret resolver configured")

// ValidationError lists the config fields that are missing or out of range, in
// the order they were checked.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config: invalid or missing " + strings.Join(e.fields, ", ")
}

func (e *ValidationError) Fields() []string { return slices.Clone(e.fields) }

// SecretError wraps a resolver failure with the reference that failed.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve %s: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError is returned when a field registered through WithRequiredSecrets
// resolved to an empty value. Error() only prints hashed names.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return "config: required secrets unresolved: " + strings.Join(e.RedactedNames(), ", ")
}

// Names returns the sorted field names. Do not log them.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	return slices.Clone(e.names)
}

// RedactedNames returns the names hashed, sorted by hash.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.names))
	for i, name := range e.names {
		out[i] = redactSecretName(name)
	}
	slices.Sort(out)
	return out
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// missingSecrets reports the required fields whose resolved value is blank.
func missingSecrets(required []string, resolved map[string]string) error {
	var names []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(names, name) || resolved[name] != "" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	slices.Sort(names)
	return &MissingSecretsError{names: names}
}
