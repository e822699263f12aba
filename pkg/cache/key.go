package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every key this package writes to Redis.
const KeyPrefix = "hn"

// Key identifies a cached API response.
type Key struct {
	// Endpoint is the request path, e.g. "/v0/item/8863.json"
	Endpoint string

	// Query holds the query parameters, if any
	Query url.Values
}

// String generates a deterministic Redis key.
// Format: hn:<endpoint>[:param=value...] with parameters sorted by name.
//
// Example:
//
//	hn:v0/item/8863.json
//	hn:v0/topstories.json:print=pretty
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(KeyPrefix)

	if endpoint := strings.Trim(k.Endpoint, "/"); endpoint != "" {
		b.WriteByte(':')
		b.WriteString(endpoint)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			b.WriteByte(':')
			b.WriteString(name)
			b.WriteByte('=')
			b.WriteString(strings.Join(k.Query[name], ","))
		}
	}

	return b.String()
}
