package tagging

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/logger"
)

// DefaultModelName is the Gemini model used for tag suggestions.
const DefaultModelName = "gemini-2.5-flash"

// maxBatch bounds how many candidates go into one prompt.
const maxBatch = 200

// contentGenerator is the slice of the genai client the tagger uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiTagger asks a Gemini model to pick tags from the user's existing
// tag names. Names the model invents are dropped.
type GeminiTagger struct {
	models contentGenerator
	model  string
	tags   TagLister
}

// NewGeminiTagger creates a GenAI client from the environment
// (GOOGLE_API_KEY or Vertex AI settings).
func NewGeminiTagger(ctx context.Context, model string, tags TagLister) (*GeminiTagger, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiTagger: create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiTagger{models: client.Models, model: model, tags: tags}, nil
}

type promptRow struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	Direction   string `json:"direction"`
	Amount      string `json:"amount"`
}

type modelSuggestion struct {
	Index int      `json:"index"`
	Tags  []string `json:"tags"`
}

// SuggestTags implements Suggester.
func (g *GeminiTagger) SuggestTags(ctx context.Context, userID string, candidates []*domain.TransactionCandidate) error {
	idx, err := loadTagIndex(ctx, g.tags, userID)
	if err != nil {
		return fmt.Errorf("GeminiTagger.SuggestTags: %w", err)
	}
	if len(idx) == 0 {
		return nil
	}

	for start := 0; start < len(candidates); start += maxBatch {
		end := min(start+maxBatch, len(candidates))
		if err := g.suggestBatch(ctx, idx, candidates[start:end]); err != nil {
			return fmt.Errorf("GeminiTagger.SuggestTags: %w", err)
		}
	}
	return nil
}

func (g *GeminiTagger) suggestBatch(ctx context.Context, idx tagIndex, batch []*domain.TransactionCandidate) error {
	prompt, err := buildTagPrompt(idx, batch)
	if err != nil {
		return err
	}

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return fmt.Errorf("generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return fmt.Errorf("empty response from model")
	}

	var suggestions []modelSuggestion
	if err := json.Unmarshal([]byte(cleanModelJSON(rawText)), &suggestions); err != nil {
		return fmt.Errorf("unmarshal JSON: %w\nraw response: %s", err, rawText)
	}

	unknown := 0
	for _, s := range suggestions {
		if s.Index < 0 || s.Index >= len(batch) {
			continue
		}
		for _, name := range s.Tags {
			id, ok := idx[normalizeName(name)]
			if !ok {
				unknown++
				continue
			}
			addTag(batch[s.Index], id)
		}
	}
	if unknown > 0 {
		log := logger.FromContext(ctx)
		log.Debug().Int("unknown", unknown).Msg("Model suggested tags outside the user's list")
	}
	return nil
}

func buildTagPrompt(idx tagIndex, batch []*domain.TransactionCandidate) (string, error) {
	names := make([]string, 0, len(idx))
	for name := range idx {
		names = append(names, name)
	}
	slices.Sort(names)

	rows := make([]promptRow, len(batch))
	for i, c := range batch {
		row := promptRow{Index: i, Description: c.Description}
		switch {
		case c.PaidOut != nil && *c.PaidOut != 0:
			row.Direction, row.Amount = "out", formatMinorUnits(*c.PaidOut)
		case c.PaidIn != nil:
			row.Direction, row.Amount = "in", formatMinorUnits(*c.PaidIn)
		}
		rows[i] = row
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("marshal rows: %w", err)
	}

	var b strings.Builder
	b.WriteString("You label personal bank transactions.\n\n")
	b.WriteString("Use ONLY the following tags:\n")
	for _, n := range names {
		b.WriteString("- " + n + "\n")
	}
	b.WriteString("\nTransactions:\n")
	b.Write(payload)
	b.WriteString("\n\nRules:\n" +
		"- Give each transaction zero or more tags from the list.\n" +
		"- Skip transactions no tag fits.\n\n" +
		"Return ONLY a raw JSON array of objects {\"index\": number, \"tags\": [string]}.\n" +
		"Do NOT wrap the response in code fences.\n")
	return b.String(), nil
}

func formatMinorUnits(v int64) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// cleanModelJSON strips Markdown fences and any text around the JSON array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = strings.TrimSpace(s[idx+1:])
		} else {
			return s
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
