package domain

import (
	"regexp"
	"strings"
)

// ActionCategory is the canonical kind of trading action
type ActionCategory string

const (
	CategoryEntry ActionCategory = "entry"
	CategoryAdd   ActionCategory = "add"
	CategoryTrim  ActionCategory = "trim"
	CategoryExit  ActionCategory = "exit"
)

// Categories lists the four canonical categories
func Categories() []ActionCategory {
	return []ActionCategory{CategoryEntry, CategoryAdd, CategoryTrim, CategoryExit}
}

// ParseActionCategory validates a category string
func ParseActionCategory(s string) (ActionCategory, error) {
	c := ActionCategory(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryEntry, CategoryAdd, CategoryTrim, CategoryExit:
		return c, nil
	}
	return "", NewValidationError("action_category", "%q is not one of entry|add|trim|exit", s)
}

// IsCapital reports whether capital levers apply to this category
func (c ActionCategory) IsCapital() bool {
	return c == CategoryEntry || c == CategoryAdd
}

// DefaultBook is the partition used when a caller does not name one
const DefaultBook = "default"

// NormalizeBook maps an empty book to DefaultBook
func NormalizeBook(book string) string {
	book = strings.TrimSpace(book)
	if book == "" {
		return DefaultBook
	}
	return book
}

var patternSegment = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// PatternKey is <namespace>.<family>.<state>.<motif>, e.g. "pm.uptrend.S1.buy_flag"
type PatternKey string

// ParsePatternKey validates the four-segment pattern key format
func ParsePatternKey(s string) (PatternKey, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return "", NewValidationError("pattern_key", "%q must have 4 dot-separated segments", s)
	}
	for _, p := range parts {
		if !patternSegment.MatchString(p) {
			return "", NewValidationError("pattern_key", "%q has an invalid segment %q", s, p)
		}
	}
	return PatternKey(s), nil
}

// Namespace returns the first segment
func (k PatternKey) Namespace() string {
	return k.segment(0)
}

// Family returns the second segment
func (k PatternKey) Family() string {
	return k.segment(1)
}

// State returns the third segment
func (k PatternKey) State() string {
	return k.segment(2)
}

// Motif returns the fourth segment
func (k PatternKey) Motif() string {
	return k.segment(3)
}

func (k PatternKey) segment(i int) string {
	parts := strings.Split(string(k), ".")
	if i >= len(parts) {
		return ""
	}
	return parts[i]
}
