package keyword

import (
	"strings"
	"testing"
)

func TestExtract_EmptyInput(t *testing.T) {
	result := Extract("", DefaultOptions())
	if len(result) != 0 {
		t.Errorf("expected no keywords, got %v", result)
	}
}

func TestExtract_SkipsStopwords(t *testing.T) {
	result := Extract("the quick fox and the lazy dog", DefaultOptions())
	for _, kw := range result {
		if stopwords[kw] {
			t.Errorf("stopword %q leaked into keywords", kw)
		}
	}
	if len(result) == 0 {
		t.Fatal("expected some keywords")
	}
	if result[0] != "quick" {
		t.Errorf("expected first keyword 'quick', got %q", result[0])
	}
}

func TestExtract_RanksByFrequency(t *testing.T) {
	result := Extract("rust panic rust debugging rust", DefaultOptions())
	if len(result) == 0 {
		t.Fatal("expected keywords")
	}
	if result[0] != "rust" {
		t.Errorf("expected 'rust' ranked first, got %q", result[0])
	}
}

func TestExtract_RespectsMaxKeywords(t *testing.T) {
	text := "alpha bravo charlie delta echo foxtrot golf hotel india"
	result := Extract(text, Options{MaxKeywords: 3, MinLength: 3})
	if len(result) != 3 {
		t.Fatalf("expected 3 keywords, got %d", len(result))
	}
}

func TestExtract_SkipsShortAndNumericTokens(t *testing.T) {
	result := Extract("go 42 2024 kubernetes", DefaultOptions())
	for _, kw := range result {
		if kw == "go" || kw == "42" || kw == "2024" {
			t.Errorf("unexpected keyword %q", kw)
		}
	}
	if len(result) != 1 || result[0] != "kubernetes" {
		t.Errorf("expected only 'kubernetes', got %v", result)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	text := "embedding vectors measure semantic similarity between memory records"
	a := Extract(text, DefaultOptions())
	b := Extract(text, DefaultOptions())
	if strings.Join(a, ",") != strings.Join(b, ",") {
		t.Errorf("extraction not deterministic: %v vs %v", a, b)
	}
}

func TestTokenize_SplitsOnPunctuation(t *testing.T) {
	tokens := Tokenize("Hello, World! (again)")
	want := []string{"hello", "world", "again"}
	if len(tokens) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %v", len(want), len(tokens), tokens)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("token %d: expected %q, got %q", i, want[i], tokens[i])
		}
	}
}
