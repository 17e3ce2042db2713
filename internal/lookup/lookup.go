// Package lookup answers participant questions from a knowledge base.
package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/edgard/surveybot/internal/config"
)

// maxLabelRunes is the longest quick-reply label accepted by LINE.
const maxLabelRunes = 20

// NoMatch is the Index reported when no entry answered the question.
const NoMatch = -1

// Result is the outcome of one lookup.
//
// A resolved result carries the answer lines in Answers and the matched
// entry id in Index. A disambiguation result sets Disambiguate and lists the
// candidates: Options holds the short labels shown to the user and Choices
// the texts sent back when one is picked.
type Result struct {
	Answers      []string
	Options      []string
	Choices      []string
	Index        int
	Disambiguate bool
}

// Finder looks up the answer to a free-text question.
type Finder interface {
	FindOption(ctx context.Context, text string) (*Result, error)
}

// Entry is one knowledge base article.
type Entry struct {
	ID       int      `yaml:"id"`
	Title    string   `yaml:"title"`
	Question string   `yaml:"question"`
	Keywords []string `yaml:"keywords"`
	Answers  []string `yaml:"answers"`
}

// KnowledgeBase is the set of articles a Finder answers from.
type KnowledgeBase struct {
	Entries []Entry `yaml:"entries"`
}

// LoadKnowledgeBase reads and validates a YAML knowledge base file.
func LoadKnowledgeBase(path string) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge base %s: %w", path, err)
	}
	return ParseKnowledgeBase(data)
}

// ParseKnowledgeBase decodes and validates YAML knowledge base content.
func ParseKnowledgeBase(data []byte) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	if err := yaml.Unmarshal(data, &kb); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge base: %w", err)
	}

	seen := make(map[int]bool, len(kb.Entries))
	for i, e := range kb.Entries {
		if e.ID < 0 {
			return nil, fmt.Errorf("knowledge base entry %d has negative id %d", i, e.ID)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("knowledge base entry %d reuses id %d", i, e.ID)
		}
		seen[e.ID] = true
		if strings.TrimSpace(e.Question) == "" {
			return nil, fmt.Errorf("knowledge base entry %d has no question", e.ID)
		}
		if len(e.Answers) == 0 {
			return nil, fmt.Errorf("knowledge base entry %d has no answers", e.ID)
		}
	}
	return &kb, nil
}

// byID returns the entry with the given id.
func (kb *KnowledgeBase) byID(id int) (Entry, bool) {
	return lo.Find(kb.Entries, func(e Entry) bool { return e.ID == id })
}

// byQuestion returns the entry whose question is exactly text.
func (kb *KnowledgeBase) byQuestion(text string) (Entry, bool) {
	text = strings.TrimSpace(text)
	return lo.Find(kb.Entries, func(e Entry) bool { return strings.TrimSpace(e.Question) == text })
}

// NewFinder builds the Finder selected by cfg.Backend.
func NewFinder(ctx context.Context, cfg config.LookupConfig, kb *KnowledgeBase, logger *slog.Logger) (Finder, error) {
	switch cfg.Backend {
	case "gemini":
		return NewGeminiFinder(ctx, cfg.Gemini, kb, cfg.MaxChoices, logger)
	case "keyword", "":
		return NewKeywordFinder(kb, cfg.MaxChoices, logger), nil
	default:
		return nil, fmt.Errorf("unknown lookup backend %q", cfg.Backend)
	}
}

func resolved(e Entry) *Result {
	return &Result{Answers: append([]string(nil), e.Answers...), Index: e.ID}
}

func noMatch() *Result {
	return &Result{Index: NoMatch}
}

// disambiguation lists candidates, capped at maxChoices.
func disambiguation(candidates []Entry, maxChoices int) *Result {
	if maxChoices > 0 && len(candidates) > maxChoices {
		candidates = candidates[:maxChoices]
	}
	return &Result{
		Options: lo.Map(candidates, func(e Entry, _ int) string {
			label := e.Title
			if label == "" {
				label = e.Question
			}
			return truncateRunes(label, maxLabelRunes)
		}),
		Choices:      lo.Map(candidates, func(e Entry, _ int) string { return e.Question }),
		Index:        NoMatch,
		Disambiguate: true,
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
