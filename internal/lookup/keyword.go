package lookup

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// KeywordFinder matches questions against entry keywords, tolerating
// typos in the question text.
type KeywordFinder struct {
	kb         *KnowledgeBase
	maxChoices int
	log        *slog.Logger
}

// NewKeywordFinder creates a keyword-matching Finder over kb.
func NewKeywordFinder(kb *KnowledgeBase, maxChoices int, logger *slog.Logger) *KeywordFinder {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeywordFinder{kb: kb, maxChoices: maxChoices, log: logger.With("component", "keyword_finder")}
}

type scored struct {
	entry Entry
	score int
}

// FindOption resolves an exact question match directly. Otherwise entries
// are ranked by keyword hits; a single best entry resolves and a tie at the
// top asks the user to choose.
func (f *KeywordFinder) FindOption(ctx context.Context, text string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if e, ok := f.kb.byQuestion(text); ok {
		f.log.DebugContext(ctx, "Exact question match", "entry_id", e.ID)
		return resolved(e), nil
	}

	query := strings.ToLower(strings.TrimSpace(text))
	if query == "" {
		return noMatch(), nil
	}

	var ranked []scored
	for _, e := range f.kb.Entries {
		if s := score(query, e); s > 0 {
			ranked = append(ranked, scored{entry: e, score: s})
		}
	}
	if len(ranked) == 0 {
		f.log.DebugContext(ctx, "No knowledge base entry matched", "query_len", len([]rune(query)))
		return noMatch(), nil
	}

	slices.SortStableFunc(ranked, func(a, b scored) int { return cmp.Compare(b.score, a.score) })

	if len(ranked) == 1 || ranked[0].score > ranked[1].score {
		f.log.DebugContext(ctx, "Resolved by keyword score", "entry_id", ranked[0].entry.ID, "score", ranked[0].score)
		return resolved(ranked[0].entry), nil
	}

	top := ranked[0].score
	var candidates []Entry
	for _, r := range ranked {
		if r.score < top {
			break
		}
		candidates = append(candidates, r.entry)
	}
	f.log.DebugContext(ctx, "Ambiguous question, offering choices", "candidates", len(candidates))
	return disambiguation(candidates, f.maxChoices), nil
}

// score counts keyword hits. A keyword contained in the query scores two;
// a keyword whose characters appear in order in the query scores one.
func score(query string, e Entry) int {
	total := 0
	for _, kw := range e.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		switch {
		case strings.Contains(query, kw):
			total += 2
		case len([]rune(kw)) > 2 && fuzzy.MatchNormalizedFold(kw, query):
			total++
		}
	}
	if fuzzy.MatchNormalizedFold(query, e.Question) {
		total++
	}
	return total
}
