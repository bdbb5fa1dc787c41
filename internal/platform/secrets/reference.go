package secrets

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	scheme      = "secret://"
	aliasScheme = "sm://"
	latest      = "latest"
)

// reference is a parsed secret://name[?version=N&project=P] URI; sm:// is accepted
// as an alias. Version defaults to "latest", Project to the fetcher's project.
type reference struct {
	Name    string
	Version string
	Project string
}

func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(raw, aliasScheme); ok {
		raw = scheme + rest
	}
	if !strings.HasPrefix(raw, scheme) {
		return reference{}, fmt.Errorf("secrets: %s is not a secret:// reference", mask(raw))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: parse %s: %w", mask(raw), err)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, errors.New("secrets: reference has no secret name")
	}
	query := u.Query()
	return reference{
		Name:    name,
		Version: cmp.Or(strings.TrimSpace(query.Get("version")), latest),
		Project: strings.TrimSpace(query.Get("project")),
	}, nil
}

// String is the canonical form without query parameters.
func (r reference) String() string { return scheme + r.Name }

// resource is the Secret Manager version name, using project when the reference
// carries none.
func (r reference) resource(project string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", cmp.Or(r.Project, project), r.Name, r.Version)
}

// mask hashes a reference so it can be logged or used as a metric attribute.
func mask(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}
