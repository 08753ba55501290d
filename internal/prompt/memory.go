package prompt

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Memory is one entry of a character's memory bank as extracted from a plot.
type Memory struct {
	Date               string   `json:"Date"`
	Location           string   `json:"Location"`
	EventSummary       string   `json:"EventSummary"`
	Action             string   `json:"Action"`
	Dialogue           string   `json:"Dialogue"`
	Observations       string   `json:"Observations"`
	EmotionalResponse  string   `json:"EmotionalResponse"`
	CharactersInvolved []string `json:"CharactersInvolved"`
	Impact             string   `json:"Impact"`
}

// EmbeddingText flattens the memory into one line for indexing.
func (m Memory) EmbeddingText() string {
	parts := []string{
		m.Date, m.Location, m.EventSummary,
		m.Action, m.Dialogue, m.Observations,
		m.EmotionalResponse, strings.Join(m.CharactersInvolved, ", "), m.Impact,
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// ParseMemories extracts memory entries from model output. Valid JSON is
// read directly; otherwise the single-quoted pseudo-JSON models tend to emit
// is scanned field by field, starting a new entry at every Date key.
func ParseMemories(out string) []Memory {
	if trimmed := strings.TrimSpace(out); gjson.Valid(trimmed) {
		if res := gjson.Parse(trimmed); res.IsArray() {
			return parseJSONMemories(res)
		}
	}
	return parseLooseMemories(out)
}

func parseJSONMemories(arr gjson.Result) []Memory {
	var out []Memory
	arr.ForEach(func(_, v gjson.Result) bool {
		m := Memory{
			Date:              v.Get("Date").String(),
			Location:          v.Get("Location").String(),
			EventSummary:      v.Get("EventSummary").String(),
			Action:            v.Get("Details.Action").String(),
			Dialogue:          v.Get("Details.Dialogue").String(),
			Observations:      v.Get("Details.Observations").String(),
			EmotionalResponse: v.Get("EmotionalResponse").String(),
			Impact:            v.Get("Impact").String(),
		}
		for _, c := range v.Get("CharactersInvolved").Array() {
			m.CharactersInvolved = append(m.CharactersInvolved, c.String())
		}
		out = append(out, m)
		return true
	})
	return out
}

var (
	lineComment = regexp.MustCompile(`\n\s*//[^\n]*`)
	fieldRe     = regexp.MustCompile(`(?s)'(.*?)': ('.*?'|\[.*?\]|\{.*?\}|\d+|true|false|null)`)
	quotedRe    = regexp.MustCompile(`(?s)'(.*?)'`)
)

func parseLooseMemories(out string) []Memory {
	out = lineComment.ReplaceAllString(out, "")

	var (
		memories []Memory
		cur      Memory
		started  bool
	)
	for _, f := range fieldRe.FindAllStringSubmatch(out, -1) {
		key, raw := f[1], f[2]
		if key == "Date" && started {
			memories = append(memories, cur)
			cur = Memory{}
		}
		started = true

		switch key {
		case "Date":
			cur.Date = unquote(raw)
		case "Location":
			cur.Location = unquote(raw)
		case "EventSummary":
			cur.EventSummary = unquote(raw)
		case "EmotionalResponse":
			cur.EmotionalResponse = unquote(raw)
		case "Impact":
			cur.Impact = unquote(raw)
		case "CharactersInvolved":
			cur.CharactersInvolved = quotedList(raw)
		case "Details":
			for _, d := range fieldRe.FindAllStringSubmatch(raw, -1) {
				v := unquote(d[2])
				if strings.HasPrefix(d[2], "[") {
					v = strings.Join(quotedList(d[2]), "\n")
				}
				switch d[1] {
				case "Action":
					cur.Action = v
				case "Dialogue":
					cur.Dialogue = v
				case "Observations":
					cur.Observations = v
				}
			}
		}
	}
	if started {
		memories = append(memories, cur)
	}
	return memories
}

func unquote(v string) string {
	v = strings.TrimPrefix(v, "'")
	return strings.TrimSuffix(v, "'")
}

func quotedList(v string) []string {
	var out []string
	for _, m := range quotedRe.FindAllStringSubmatch(v, -1) {
		out = append(out, m[1])
	}
	return out
}
