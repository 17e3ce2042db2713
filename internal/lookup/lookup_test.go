package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"

	"google.golang.org/genai"
)

const testKnowledgeBase = `
entries:
  - id: 1
    title: 乳がんの症状
    question: 乳がんにはどのような症状がありますか？
    keywords: [症状, しこり]
    answers:
      - 乳房のしこりが代表的な症状です。
      - 気になる変化があれば受診してください。
  - id: 2
    title: 乳がんの治療法
    question: 乳がんの治療にはどのような方法がありますか？
    keywords: [治療, 手術]
    answers:
      - 手術、薬物療法、放射線治療があります。
  - id: 3
    title: 薬物療法の副作用について知りたいとき
    question: 薬物療法の副作用にはどのようなものがありますか？
    keywords: [副作用, 治療]
    answers:
      - 吐き気や脱毛などがあります。
`

func newTestKB(t *testing.T) *KnowledgeBase {
	t.Helper()
	kb, err := ParseKnowledgeBase([]byte(testKnowledgeBase))
	if err != nil {
		t.Fatalf("ParseKnowledgeBase() error = %v", err)
	}
	return kb
}

func TestLoadKnowledgeBase(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "kb.yaml")
	if err := os.WriteFile(path, []byte(testKnowledgeBase), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	kb, err := LoadKnowledgeBase(path)
	if err != nil {
		t.Fatalf("LoadKnowledgeBase() error = %v", err)
	}
	if len(kb.Entries) != 3 || kb.Entries[0].Answers[1] != "気になる変化があれば受診してください。" {
		t.Errorf("unexpected knowledge base: %+v", kb.Entries)
	}

	if _, err := LoadKnowledgeBase(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}
}

func TestParseKnowledgeBaseRejectsInvalid(t *testing.T) {
	t.Parallel()

	testCases := map[string]string{
		"duplicate id": "entries:\n  - {id: 1, question: a, answers: [x]}\n  - {id: 1, question: b, answers: [y]}\n",
		"no answers":   "entries:\n  - {id: 1, question: a}\n",
		"no question":  "entries:\n  - {id: 1, answers: [x]}\n",
		"bad yaml":     "entries: [",
	}
	for name, content := range testCases {
		if _, err := ParseKnowledgeBase([]byte(content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestKeywordFinder(t *testing.T) {
	t.Parallel()

	finder := NewKeywordFinder(newTestKB(t), 13, slog.Default())
	ctx := context.Background()

	t.Run("exact question resolves", func(t *testing.T) {
		res, err := finder.FindOption(ctx, "薬物療法の副作用にはどのようなものがありますか？")
		if err != nil {
			t.Fatalf("FindOption() error = %v", err)
		}
		if res.Disambiguate || res.Index != 3 || len(res.Answers) != 1 {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("single best keyword resolves", func(t *testing.T) {
		res, err := finder.FindOption(ctx, "胸にしこりがある症状")
		if err != nil {
			t.Fatalf("FindOption() error = %v", err)
		}
		if res.Disambiguate || res.Index != 1 || len(res.Answers) != 2 {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("tie offers choices", func(t *testing.T) {
		res, err := finder.FindOption(ctx, "治療について")
		if err != nil {
			t.Fatalf("FindOption() error = %v", err)
		}
		if !res.Disambiguate || res.Index != NoMatch {
			t.Fatalf("expected disambiguation, got %+v", res)
		}
		if len(res.Options) != 2 || len(res.Choices) != 2 {
			t.Fatalf("expected 2 candidates, got %+v", res)
		}
		for _, label := range res.Options {
			if utf8.RuneCountInString(label) > maxLabelRunes {
				t.Errorf("label %q exceeds %d runes", label, maxLabelRunes)
			}
		}
		picked, err := finder.FindOption(ctx, res.Choices[1])
		if err != nil {
			t.Fatalf("FindOption() error = %v", err)
		}
		if picked.Disambiguate || picked.Index == NoMatch {
			t.Errorf("picking a choice should resolve, got %+v", picked)
		}
	})

	t.Run("no match", func(t *testing.T) {
		res, err := finder.FindOption(ctx, "天気")
		if err != nil {
			t.Fatalf("FindOption() error = %v", err)
		}
		if res.Index != NoMatch || res.Disambiguate || len(res.Answers) != 0 {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := finder.FindOption(cctx, "治療"); err == nil {
			t.Errorf("expected context error")
		}
	})
}

func TestDisambiguationCapsChoices(t *testing.T) {
	t.Parallel()

	entries := make([]Entry, 20)
	for i := range entries {
		entries[i] = Entry{ID: i, Title: "title", Question: "q"}
	}
	res := disambiguation(entries, 13)
	if len(res.Options) != 13 || len(res.Choices) != 13 {
		t.Errorf("expected 13 choices, got %d/%d", len(res.Options), len(res.Choices))
	}
}

func TestGeminiResultFromMatch(t *testing.T) {
	t.Parallel()

	g := &GeminiFinder{kb: newTestKB(t), log: slog.Default(), maxChoices: 13}
	ctx := context.Background()

	testCases := []struct {
		name             string
		match            matchResponse
		wantIndex        int
		wantDisambiguate bool
		wantOptions      int
	}{
		{name: "empty", match: matchResponse{}, wantIndex: NoMatch},
		{name: "unknown ids only", match: matchResponse{IDs: []int{99}}, wantIndex: NoMatch},
		{name: "single id", match: matchResponse{IDs: []int{2}}, wantIndex: 2},
		{name: "confident first", match: matchResponse{IDs: []int{3, 2}, Confident: true}, wantIndex: 3},
		{name: "several ids", match: matchResponse{IDs: []int{3, 2, 3, 42}}, wantIndex: NoMatch, wantDisambiguate: true, wantOptions: 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := g.resultFromMatch(ctx, tc.match)
			if res.Index != tc.wantIndex || res.Disambiguate != tc.wantDisambiguate || len(res.Options) != tc.wantOptions {
				t.Errorf("unexpected result: %+v", res)
			}
		})
	}
}

func TestRetriableAPIError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		err      error
		wantCode int
		wantOK   bool
	}{
		{"unavailable", genai.APIError{Code: 503}, 503, true},
		{"wrapped internal", fmt.Errorf("generate: %w", genai.APIError{Code: 500, Message: "internal"}), 500, true},
		{"bad request", fmt.Errorf("generate: %w", genai.APIError{Code: 400}), 400, false},
		{"other error", errors.New("dial tcp: timeout"), 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			code, ok := retriableAPIError(tc.err)
			if code != tc.wantCode || ok != tc.wantOK {
				t.Errorf("retriableAPIError() = (%d, %v), want (%d, %v)", code, ok, tc.wantCode, tc.wantOK)
			}
		})
	}
}
