package completion

import rolecast "github.com/eugener/rolecast/internal"

// Ellipsis marks text shortened by TruncateText.
const Ellipsis = "..."

// TruncateText shortens text from the tail until it, with Ellipsis appended,
// counts at most maxTokens. Each pass chops as many runes as the remaining
// token overage and recounts, so it converges for any tokenizer. Text that
// already fits is returned unchanged. If even the ellipsis does not fit it
// is left off.
func TruncateText(tc rolecast.TokenCounter, text string, maxTokens int) string {
	if tc.Count(text) <= maxTokens {
		return text
	}
	if maxTokens <= 0 {
		return ""
	}

	suffix := Ellipsis
	if tc.Count(suffix) > maxTokens {
		suffix = ""
	}

	runes := []rune(text)
	for len(runes) > 0 {
		over := tc.Count(string(runes)+suffix) - maxTokens
		if over <= 0 {
			break
		}
		runes = runes[:len(runes)-min(over, len(runes))]
	}
	return string(runes) + suffix
}
