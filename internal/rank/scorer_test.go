package rank

import "testing"

func TestLexicalScore(t *testing.T) {
	l := DefaultLexical()
	tests := []struct {
		name     string
		query    string
		text     string
		min, max float64
	}{
		{"identical", "cosrx snail mucin", "COSRX Snail Mucin", 1, 1},
		{"word order", "mucin snail cosrx", "COSRX Snail Mucin", 1, 1},
		{"diacritics", "crème hydratante", "Creme Hydratante", 1, 1},
		{"subset of a longer name", "anua peach serum", "ANUA Peach 70 Niacinamide Serum 30ml", 0.8, 1},
		{"unrelated", "anua peach serum", "Round Lab Dokdo Toner", 0, 0.5},
		{"empty query", "", "anything", 0, 0},
		{"punctuation only", "---", "anything", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.Score(tt.query, tt.text)
			if got < tt.min || got > tt.max {
				t.Errorf("Score(%q, %q) = %v, want in [%v, %v]", tt.query, tt.text, got, tt.min, tt.max)
			}
		})
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	l := DefaultLexical()
	a := l.Score("peach serum", "Serum Peach Anua Glow")
	for i := 0; i < 50; i++ {
		if b := l.Score("peach serum", "Serum Peach Anua Glow"); b != a {
			t.Fatalf("score changed between calls: %v then %v", a, b)
		}
	}
}

func TestRatio(t *testing.T) {
	if r := ratio("abc", "abc"); r != 1 {
		t.Errorf("ratio equal = %v", r)
	}
	if r := ratio("abcd", "abxy"); r != 0.5 {
		t.Errorf("ratio half = %v", r)
	}
	if r := ratio("", ""); r != 1 {
		t.Errorf("ratio empty = %v", r)
	}
}

func TestText(t *testing.T) {
	if got := Text("ANUA", "Anua Peach Serum"); got != "Anua Peach Serum" {
		t.Errorf("Text with brand prefix = %q", got)
	}
	if got := Text("COSRX", "Snail Mucin"); got != "COSRX Snail Mucin" {
		t.Errorf("Text without brand prefix = %q", got)
	}
}
