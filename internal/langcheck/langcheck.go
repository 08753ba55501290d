// Package langcheck verifies that generated text is in the expected language.
package langcheck

import (
	"fmt"
	"strings"

	"github.com/abadojack/whatlanggo"

	rolecast "github.com/eugener/rolecast/internal"
)

// English is the language name that requires English output.
const English = "English"

// IsEnglish reports whether text is detected as English.
func IsEnglish(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return whatlanggo.Detect(text).Lang == whatlanggo.Eng
}

// Detect returns the English name of the detected language, or "" when
// nothing could be detected.
func Detect(text string) string {
	info := whatlanggo.Detect(text)
	if info.Lang < 0 {
		return ""
	}
	return info.Lang.String()
}

// Check fails with rolecast.ErrLanguageMismatch when text was expected in
// language but was generated otherwise. Only English versus non-English is
// distinguished.
func Check(language, text string) error {
	english := IsEnglish(text)
	if language == English && !english {
		return fmt.Errorf("%w: want %s, got %q", rolecast.ErrLanguageMismatch, language, Detect(text))
	}
	if language != English && english {
		return fmt.Errorf("%w: want %s, got English", rolecast.ErrLanguageMismatch, language)
	}
	return nil
}
