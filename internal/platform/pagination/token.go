package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Keyset is the position after which the next page starts, for listings ordered by
// (timestamp DESC, id DESC).
type Keyset struct {
	After time.Time `json:"after"`
	ID    string    `json:"id"`
}

// IsZero reports whether the keyset points at the first page.
func (k Keyset) IsZero() bool {
	return k.After.IsZero() && k.ID == ""
}

// Before reports whether a row at (ts, id) sorts after the keyset, i.e. belongs to the next page.
func (k Keyset) Before(ts time.Time, id string) bool {
	if k.IsZero() {
		return true
	}
	if ts.Equal(k.After) {
		return id < k.ID
	}
	return ts.Before(k.After)
}

// EncodeToken serialises the keyset into a base64 URL-safe page token.
func EncodeToken(keyset Keyset) (string, error) {
	if keyset.IsZero() {
		return "", nil
	}
	keyset.After = keyset.After.UTC()
	data, err := json.Marshal(keyset)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses the page token produced by EncodeToken back into a keyset.
func DecodeToken(token string) (Keyset, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Keyset{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Keyset{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var keyset Keyset
	if err := json.Unmarshal(decoded, &keyset); err != nil {
		return Keyset{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if keyset.ID == "" || keyset.After.IsZero() {
		return Keyset{}, fmt.Errorf("%w: incomplete cursor", ErrInvalidPageToken)
	}
	return keyset, nil
}
