package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/eugener/rolecast/internal/testutil"
)

func TestChunk_WithinBudget(t *testing.T) {
	t.Parallel()
	c := New(testutil.RuneCounter{})

	got := c.Chunk("short text.", 100)
	if len(got) != 1 || got[0] != "short text." {
		t.Fatalf("Chunk() = %q, want unchanged single chunk", got)
	}
	if got := c.Chunk("", 100); got != nil {
		t.Errorf("Chunk(\"\") = %q, want nil", got)
	}
}

func TestChunk_SentenceBoundaries(t *testing.T) {
	t.Parallel()
	c := New(testutil.RuneCounter{})

	tests := []struct {
		name      string
		text      string
		wantFirst string
	}{
		{
			name:      "cjk full stop",
			text:      strings.Repeat("a", 150) + "。" + strings.Repeat("b", 150),
			wantFirst: strings.Repeat("a", 150) + "。",
		},
		{
			name:      "period followed by space",
			text:      strings.Repeat("x", 150) + ". " + strings.Repeat("y", 150),
			wantFirst: strings.Repeat("x", 150) + ".",
		},
		{
			name:      "question mark",
			text:      strings.Repeat("q", 120) + "?" + strings.Repeat("r", 200),
			wantFirst: strings.Repeat("q", 120) + "?",
		},
		{
			name:      "decimal number is not a boundary",
			text:      strings.Repeat("x", 148) + "3.14" + strings.Repeat("y", 150),
			wantFirst: strings.Repeat("x", 148) + "3.14" + strings.Repeat("y", 48),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := c.Chunk(tt.text, 200)
			if len(got) < 2 {
				t.Fatalf("got %d chunks, want >= 2", len(got))
			}
			if got[0] != tt.wantFirst {
				t.Errorf("first chunk = %q, want %q", got[0], tt.wantFirst)
			}
			if strings.Join(got, "") != tt.text {
				t.Error("chunks do not reconstruct the input")
			}
		})
	}
}

func TestChunk_Reconstruction(t *testing.T) {
	t.Parallel()
	c := New(testutil.RuneCounter{})

	sentences := []string{
		"Ye Wenjie looked up at the sky. ",
		"红岸基地的天线缓缓转动。",
		"Was it a signal? ",
		"没有人回答！",
		"The count read 1.5 million… ",
		"plain words without an end ",
	}
	var b strings.Builder
	for i := range 200 {
		b.WriteString(sentences[i%len(sentences)])
	}
	text := b.String()

	for _, maxTokens := range []int{1, 7, 50, 128, 512} {
		chunks := c.Chunk(text, maxTokens)
		if strings.Join(chunks, "") != text {
			t.Fatalf("max=%d: chunks do not reconstruct the input", maxTokens)
		}
		for i, ch := range chunks {
			if ch == "" {
				t.Fatalf("max=%d: chunk %d is empty", maxTokens, i)
			}
			n := utf8.RuneCountInString(ch)
			if n > maxTokens && n > 100 {
				t.Errorf("max=%d: chunk %d has %d tokens", maxTokens, i, n)
			}
		}
	}
}

func TestChunk_TerminatesOnDenseText(t *testing.T) {
	t.Parallel()

	// Every snowman costs 50 tokens, so not even the smallest step fits.
	dense := testutil.FuncCounter(func(s string) int {
		return 50 * strings.Count(s, "☃")
	})
	c := New(dense)

	text := strings.Repeat("☃", 1000)
	chunks := c.Chunk(text, 10)
	if len(chunks) != 10 {
		t.Fatalf("got %d chunks, want 10", len(chunks))
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reconstruct the input")
	}
}

func TestChunkParagraphs(t *testing.T) {
	t.Parallel()
	c := New(testutil.RuneCounter{})

	paragraphs := []string{
		strings.Repeat("a", 40),
		strings.Repeat("b", 40),
		strings.Repeat("c", 40),
		strings.Repeat("d", 250), // alone over budget
		strings.Repeat("e", 10),
	}
	got := c.ChunkParagraphs(paragraphs, 100)

	want := []string{
		strings.Repeat("a", 40) + "\n" + strings.Repeat("b", 40),
		strings.Repeat("c", 40),
		strings.Repeat("d", 100),
		strings.Repeat("d", 100),
		strings.Repeat("d", 50),
		strings.Repeat("e", 10),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d groups %q, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("group %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLastSentenceEnd(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
	}{
		{in: "abc", want: 0},
		{in: "ab。cd", want: 3},
		{in: "a. b. c", want: 5},
		{in: "v1.2 x", want: 0},
		{in: "end.", want: 0},
		{in: "4! x", want: 0},
		{in: "wait… ok", want: 5},
	}
	for _, tt := range tests {
		if got := lastSentenceEnd([]rune(tt.in)); got != tt.want {
			t.Errorf("lastSentenceEnd(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
