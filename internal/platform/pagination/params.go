package pagination

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultLimit defines the fallback number of items returned when the client omits limit.
	DefaultLimit = 12
	// DefaultMaxLimit caps the supported limit to prevent unbounded queries.
	DefaultMaxLimit = 100
)

// Params bundles the page/limit values extracted from a request.
type Params struct {
	Page  int
	Limit int
}

// Options control defaults and caps for a given handler layer.
type Options struct {
	DefaultLimit int
	MaxLimit     int
}

// Offset returns the number of documents to skip for the requested page.
func (p Params) Offset() int {
	if p.Page <= 1 || p.Limit <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// FromRequest parses the page and limit query parameters from the supplied
// request. Malformed or out-of-range values are coerced to defaults rather
// than rejected.
func FromRequest(r *http.Request, opts Options) Params {
	if r == nil {
		return Must(Params{}, opts)
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes the provided query values and returns normalised Params.
func Parse(values url.Values, opts Options) Params {
	if values == nil {
		values = url.Values{}
	}
	params := Params{
		Page:  coerceInt(values.Get("page"), 1),
		Limit: coerceInt(values.Get("limit"), 0),
	}
	return Must(params, opts)
}

// Must clamps the params into the configured bounds, applying defaults where
// values are missing or out of range.
func Must(params Params, opts Options) Params {
	maxLimit := opts.MaxLimit
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	defaultLimit := opts.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}

	if params.Page <= 0 {
		params.Page = 1
	}
	if params.Limit <= 0 {
		params.Limit = defaultLimit
	}
	if params.Limit > maxLimit {
		params.Limit = maxLimit
	}
	return params
}

// PageCount derives the number of pages needed to cover total items.
func PageCount(total int64, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	pages := total / int64(limit)
	if total%int64(limit) != 0 {
		pages++
	}
	return int(pages)
}

func coerceInt(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
