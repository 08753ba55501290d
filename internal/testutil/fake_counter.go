// Package testutil provides configurable test fakes for rolecast interfaces.
package testutil

import "unicode/utf8"

// RuneCounter counts one token per rune. It makes token budgets in tests
// easy to reason about.
type RuneCounter struct{}

// Count returns the number of runes in text.
func (RuneCounter) Count(text string) int { return utf8.RuneCountInString(text) }

// FuncCounter adapts a function to rolecast.TokenCounter.
type FuncCounter func(text string) int

// Count calls f.
func (f FuncCounter) Count(text string) int { return f(text) }
