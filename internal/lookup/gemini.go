package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/edgard/surveybot/internal/config"
)

const defaultMatchInstruction = `You match a participant's question to articles of a medical information knowledge base.
Return the ids of the articles that answer the question, best match first.
Return an empty list when no article is relevant. Never invent ids.`

var matchSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"ids": {
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeInteger},
			Description: "Ids of matching articles, best match first.",
		},
		"confident": {
			Type:        genai.TypeBoolean,
			Description: "True when the first id clearly answers the question on its own.",
		},
	},
	Required: []string{"ids", "confident"},
}

type matchResponse struct {
	IDs       []int `json:"ids"`
	Confident bool  `json:"confident"`
}

// GeminiFinder asks a Gemini model which knowledge base entries answer a
// question. Answer texts always come from the knowledge base.
type GeminiFinder struct {
	genaiClient   *genai.Client
	log           *slog.Logger
	kb            *KnowledgeBase
	contentConfig *genai.GenerateContentConfig
	modelName     string
	maxRetries    int
	retryDelay    time.Duration
	maxChoices    int
}

// NewGeminiFinder creates a Gemini-backed Finder over kb.
func NewGeminiFinder(ctx context.Context, cfg config.GeminiConfig, kb *KnowledgeBase, maxChoices int, logger *slog.Logger) (*GeminiFinder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	instruction := cfg.SystemInstruction
	if instruction == "" {
		instruction = defaultMatchInstruction
	}

	log := logger.With("component", "gemini_finder")
	log.Info("Gemini finder initialized successfully", "model", cfg.ModelName, "entries", len(kb.Entries))
	return &GeminiFinder{
		genaiClient: gi,
		log:         log,
		kb:          kb,
		contentConfig: &genai.GenerateContentConfig{
			Temperature:       &cfg.Temperature,
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: instruction}}},
			ResponseMIMEType:  "application/json",
			ResponseSchema:    matchSchema,
		},
		modelName:  cfg.ModelName,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Duration(cfg.RetryDelaySeconds) * time.Second,
		maxChoices: maxChoices,
	}, nil
}

func (g *GeminiFinder) FindOption(ctx context.Context, text string) (*Result, error) {
	if e, ok := g.kb.byQuestion(text); ok {
		return resolved(e), nil
	}
	if strings.TrimSpace(text) == "" {
		return noMatch(), nil
	}

	contents := []*genai.Content{genai.NewContentFromText(g.buildPrompt(text), genai.RoleUser)}
	resp, err := g.generateContentWithRetries(ctx, contents)
	if err != nil {
		return nil, err
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		g.log.WarnContext(ctx, "Gemini request blocked", "reason", resp.PromptFeedback.BlockReason)
		return noMatch(), nil
	}

	jsonText := resp.Text()
	if jsonText == "" {
		return nil, fmt.Errorf("gemini returned empty content")
	}

	var match matchResponse
	if err := json.Unmarshal([]byte(jsonText), &match); err != nil {
		g.log.ErrorContext(ctx, "Failed to parse match JSON from Gemini response", "error", err, "response_text", jsonText)
		return nil, fmt.Errorf("invalid match JSON received: %w", err)
	}

	return g.resultFromMatch(ctx, match), nil
}

// resultFromMatch maps returned ids back to entries, dropping unknown ids.
func (g *GeminiFinder) resultFromMatch(ctx context.Context, match matchResponse) *Result {
	var candidates []Entry
	seen := make(map[int]bool)
	for _, id := range match.IDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		e, ok := g.kb.byID(id)
		if !ok {
			g.log.WarnContext(ctx, "Gemini returned unknown entry id, skipping", "entry_id", id)
			continue
		}
		candidates = append(candidates, e)
	}

	switch {
	case len(candidates) == 0:
		return noMatch()
	case len(candidates) == 1 || match.Confident:
		return resolved(candidates[0])
	default:
		return disambiguation(candidates, g.maxChoices)
	}
}

func (g *GeminiFinder) buildPrompt(question string) string {
	var sb strings.Builder
	sb.WriteString("Articles:\n")
	for _, e := range g.kb.Entries {
		fmt.Fprintf(&sb, "- id %d: %s / %s", e.ID, e.Title, e.Question)
		if len(e.Keywords) > 0 {
			fmt.Fprintf(&sb, " (%s)", strings.Join(e.Keywords, ", "))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nQuestion:\n")
	sb.WriteString(question)
	return sb.String()
}

func (g *GeminiFinder) generateContentWithRetries(ctx context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	var lastErr error
	for i := 0; i <= g.maxRetries; i++ {
		resp, err := g.genaiClient.Models.GenerateContent(ctx, g.modelName, contents, g.contentConfig)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if code, ok := retriableAPIError(err); ok && i < g.maxRetries {
			g.log.InfoContext(ctx, "Retrying Gemini API call due to retriable APIError",
				"attempt", i+1, "delay", g.retryDelay, "code", code)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.retryDelay):
			}
			continue
		}

		g.log.ErrorContext(ctx, "Gemini API call failed", "attempt", i+1, "error", err)
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	return nil, fmt.Errorf("gemini API call failed after %d retries: %w", g.maxRetries, lastErr)
}

// retriableAPIError reports whether err wraps a server-side genai.APIError
// worth retrying. The client returns APIError by value.
func retriableAPIError(err error) (int, bool) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	return apiErr.Code, apiErr.Code == 500 || apiErr.Code == 503
}
