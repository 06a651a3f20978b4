package mistake_test

import (
	"testing"

	"github.com/fluentloop/fluentloop/internal/mistake"
)

func TestHighlight_QuotedWord(t *testing.T) {
	t.Parallel()

	spans := mistake.Highlight(
		"Yesterday I goed to the park",
		[]string{"said 'goed' instead of 'went'"},
	)

	if len(spans) != 1 {
		t.Fatalf("spans: want 1, got %d (%+v)", len(spans), spans)
	}
	if spans[0].Word != "goed" || spans[0].Index != 2 {
		t.Errorf("span: want goed@2, got %q@%d", spans[0].Word, spans[0].Index)
	}
}

func TestHighlight_CorrectionNotInTranscriptIsSkipped(t *testing.T) {
	t.Parallel()

	// 'went' is the correction, not something the learner said; only the
	// error itself should be highlighted.
	spans := mistake.Highlight(
		"I goed home early",
		[]string{"said 'goed' instead of 'went'"},
	)

	for _, s := range spans {
		if s.Word == "went" {
			t.Errorf("correction word leaked into spans: %+v", spans)
		}
	}
}

func TestHighlight_PhoneticMatch(t *testing.T) {
	t.Parallel()

	// Recogniser heard "there", scorer quotes the homophone "their".
	spans := mistake.Highlight(
		"I put it over there",
		[]string{"'their' used incorrectly"},
	)

	if len(spans) != 1 {
		t.Fatalf("spans: want 1, got %d (%+v)", len(spans), spans)
	}
	if spans[0].Word != "there" {
		t.Errorf("span word: want there, got %q", spans[0].Word)
	}
}

func TestHighlight_UnquotedHintMatchesExactWordsOnly(t *testing.T) {
	t.Parallel()

	spans := mistake.Highlight(
		"She don't like coffee",
		[]string{"don't should be doesn't"},
	)

	if len(spans) != 1 {
		t.Fatalf("spans: want 1, got %d (%+v)", len(spans), spans)
	}
	if spans[0].Word != "don't" || spans[0].Index != 1 {
		t.Errorf("span: want don't@1, got %q@%d", spans[0].Word, spans[0].Index)
	}
}

func TestHighlight_EachPositionReportedOnce(t *testing.T) {
	t.Parallel()

	spans := mistake.Highlight(
		"I goed there",
		[]string{"said 'goed'", "'goed' is not a word"},
	)

	if len(spans) != 1 {
		t.Errorf("spans: want 1 despite two hints, got %d (%+v)", len(spans), spans)
	}
}

func TestHighlight_Empty(t *testing.T) {
	t.Parallel()

	if spans := mistake.Highlight("", []string{"said 'goed'"}); spans != nil {
		t.Errorf("empty transcript: want nil, got %+v", spans)
	}
	if spans := mistake.Highlight("hello world", nil); spans != nil {
		t.Errorf("no mistakes: want nil, got %+v", spans)
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"punctuation stripped", "Hello, world!", []string{"hello", "world"}},
		{"apostrophes kept", "I can't stop", []string{"i", "can't", "stop"}},
		{"empty", "  ", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := mistake.Tokenize(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("Tokenize(%q): want %v, got %v", tc.in, tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("Tokenize(%q)[%d]: want %q, got %q", tc.in, i, tc.want[i], got[i])
				}
			}
		})
	}
}
