package feeder

import (
	"fmt"
	"strings"
)

// Record is one raw row returned by the feeder web service. Values are
// decoded as loosely-typed JSON; Str normalizes the common case.
type Record map[string]any

// Str returns the value of key rendered as a trimmed string, or "" when the
// key is absent or null.
func (r Record) Str(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		// JSON numbers decode as float64; feeder identifiers are integral.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

// Has reports whether key is present with a non-empty value.
func (r Record) Has(key string) bool {
	return r.Str(key) != ""
}

// PageRequest describes one page fetch against a feeder resource.
type PageRequest struct {
	// Resource is the feeder action name, e.g. "GetListDosen"
	Resource string

	// Filter is a resource-specific predicate fragment, e.g. "id_periode = '20241'"
	Filter string

	// Order is a resource-specific ordering fragment
	Order string

	Limit  int
	Offset int
}

// PageResult is the outcome of one successful page fetch.
type PageResult struct {
	Records []Record

	// HasMore is true when the source may hold further pages
	HasMore bool
}

// APIError is a non-zero error envelope returned by the feeder web service.
type APIError struct {
	Code int
	Desc string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feeder error %d: %s", e.Code, e.Desc)
}

// SanitizeFilter validates a caller-supplied filter fragment before it is
// passed upstream. Control characters are rejected outright; the feeder
// service interprets filters as predicate text and must never receive them.
func SanitizeFilter(filter string) (string, error) {
	for _, r := range filter {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("filter contains control character %q", r)
		}
	}
	return strings.TrimSpace(filter), nil
}
