package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-ledger/internal/domain"
	"github.com/dvloznov/statement-ledger/internal/logger"
	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash-lite"

// TextGenerator is the slice of the genai Models service the resolver uses.
// *genai.Models satisfies it.
type TextGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini asks a Gemini model to pick a category.
type Gemini struct {
	models TextGenerator
	model  string
}

// NewGemini wraps an existing generator.
func NewGemini(models TextGenerator, model string) *Gemini {
	if model == "" {
		model = DefaultModelName
	}
	return &Gemini{models: models, model: model}
}

// NewGeminiClient creates a genai client from the environment
// (GEMINI_API_KEY / GOOGLE_API_KEY) unless apiKey is given.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClient: create genai client: %w", err)
	}
	return NewGemini(client.Models, model), nil
}

// Models returns the underlying generator so other components can share the client.
func (g *Gemini) Models() TextGenerator { return g.models }

// Model returns the model name in use.
func (g *Gemini) Model() string { return g.model }

// Resolve implements Resolver. Errors and answers outside set are logged and
// mapped to the fallback category.
func (g *Gemini) Resolve(ctx context.Context, description string, set domain.CategorySet) string {
	log := logger.FromContext(ctx)

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: categoryPrompt(description, set)}},
		},
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		log.Warn().Err(err).Str("description", description).Msg("category resolution failed")
		return domain.FallbackCategory
	}
	if resp == nil {
		log.Warn().Str("description", description).Msg("category resolution returned no response")
		return domain.FallbackCategory
	}

	answer := strings.TrimSpace(resp.Text())
	cat := Constrain(answer, set)
	if cat == domain.FallbackCategory && answer != domain.FallbackCategory {
		log.Debug().
			Str("description", description).
			Str("answer", answer).
			Msg("model answer outside category set")
	}
	return cat
}

func categoryPrompt(description string, set domain.CategorySet) string {
	var b strings.Builder
	b.WriteString("Given the following transaction description: \"")
	b.WriteString(description)
	b.WriteString("\"\n\n")
	b.WriteString("Classify it into one of the following categories:\n")
	b.WriteString(strings.Join(set.Strings(), ", "))
	b.WriteString("\n\n")
	b.WriteString("Respond with only the single best-matching category name from that list, and nothing else.\n")
	return b.String()
}
