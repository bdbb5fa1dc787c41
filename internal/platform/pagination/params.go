package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 20
	DefaultMaxPageSize = 100
)

// Query parameter names read by FromQuery.
const (
	ParamPageSize  = "page_size"
	ParamPageToken = "page_token"
	ParamFilter    = "status"
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Request is a list request as the client sent it. PageToken stays opaque here;
// the store that issued it decodes it.
type Request struct {
	PageSize  int
	PageToken string
	Filters   []string
}

// Limits bound what FromQuery accepts. Filters lists the allowed filter values in
// canonical upper case; when empty any filter is rejected.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
	Filters         []string
}

func (l Limits) sizes() (defSize, maxSize int) {
	maxSize = l.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	defSize = l.DefaultPageSize
	if defSize <= 0 {
		defSize = DefaultPageSize
	}
	return min(defSize, maxSize), maxSize
}

// FromQuery reads page_size, page_token and repeated or comma separated status values.
// A missing or non-positive page_size means the default; oversized values are clamped.
func FromQuery(values url.Values, limits Limits) (Request, error) {
	defSize, maxSize := limits.sizes()
	req := Request{
		PageSize:  defSize,
		PageToken: strings.TrimSpace(values.Get(ParamPageToken)),
	}

	if raw := strings.TrimSpace(values.Get(ParamPageSize)); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return Request{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if size > 0 {
			req.PageSize = min(size, maxSize)
		}
	}

	for _, raw := range values[ParamFilter] {
		for _, part := range strings.Split(raw, ",") {
			value := strings.ToUpper(strings.TrimSpace(part))
			switch {
			case value == "" || slices.Contains(req.Filters, value):
				continue
			case !slices.Contains(limits.Filters, value):
				if len(limits.Filters) == 0 {
					return Request{}, fmt.Errorf("%w: filtering not supported", ErrInvalidFilter)
				}
				return Request{}, fmt.Errorf("%w: status must be one of %s", ErrInvalidFilter, strings.Join(limits.Filters, ", "))
			}
			req.Filters = append(req.Filters, value)
		}
	}
	return req, nil
}
