// Package domain contains core domain types for the CypherGuy pipeline.
package domain

import (
	"fmt"
	"strings"
)

// Category selects which rule table and compute heuristic applies to a request.
type Category string

const (
	CategoryCredit     Category = "credit"
	CategoryRWA        Category = "rwa"
	CategoryTrade      Category = "trade"
	CategoryAutomation Category = "automation"
)

// Categories lists every supported category in pipeline order.
var Categories = []Category{CategoryCredit, CategoryRWA, CategoryTrade, CategoryAutomation}

// ParseCategory normalizes s and returns the matching category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Valid reports whether c is one of the supported categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryCredit, CategoryRWA, CategoryTrade, CategoryAutomation:
		return true
	}
	return false
}

// MatchesOutcome reports whether responses for c use "matched" instead of "approved".
func (c Category) MatchesOutcome() bool {
	return c == CategoryTrade
}
