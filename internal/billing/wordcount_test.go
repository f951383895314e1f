package billing

import (
	"strings"
	"testing"
)

func TestCountWords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "whitespace only", text: " \t\n  ", want: 0},
		{name: "plain words", text: "hello there how are you", want: 5},
		{name: "collapses runs of whitespace", text: "  one\t\ttwo \n three  ", want: 3},
		{name: "strips scheme urls", text: "look at https://example.com/a?b=c now", want: 3},
		{name: "strips www urls", text: "visit www.example.org today", want: 2},
		{name: "strips bare domain with path", text: "see example.com/profile please", want: 2},
		{name: "strips standalone emoji", text: "hi 😀 there 🎉🎉", want: 2},
		{name: "emoji glued to word keeps word", text: "great👍 job", want: 2},
		{name: "zwj family sequence", text: "👨‍👩‍👧 family", want: 1},
		{name: "flags", text: "🇺🇸 🇫🇷 travel", want: 1},
		{name: "punctuation only tokens", text: "wait ... what ?!", want: 2},
		{name: "digits count", text: "call me at 5 pm", want: 5},
		{name: "non latin", text: "привет как дела", want: 3},
		{name: "decomposed accents", text: "café olé", want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := CountWords(tt.text); got != tt.want {
				t.Fatalf("CountWords(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestCountWordsInvalidUTF8(t *testing.T) {
	t.Parallel()

	got := CountWords("ok \xff\xfe bytes")
	if got != 2 {
		t.Fatalf("expected 2 words around invalid bytes, got %d", got)
	}
}

func TestCountWordsLongText(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("word ", 10000)
	if got := CountWords(text); got != 10000 {
		t.Fatalf("expected 10000 words, got %d", got)
	}
}
