package item

import (
	"fmt"
	"strings"
)

// Category selects one of the fixed top-level story listings.
type Category string

const (
	CategoryTop  Category = "top"
	CategoryNew  Category = "new"
	CategoryBest Category = "best"
	CategoryAsk  Category = "ask"
	CategoryShow Category = "show"
	CategoryJob  Category = "job"
)

// Categories lists every listing in display order.
var Categories = []Category{
	CategoryTop,
	CategoryNew,
	CategoryBest,
	CategoryAsk,
	CategoryShow,
	CategoryJob,
}

// Endpoint returns the listing resource name, e.g. "topstories".
func (c Category) Endpoint() string {
	return string(c) + "stories"
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory validates a category name (case-insensitive).
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}
