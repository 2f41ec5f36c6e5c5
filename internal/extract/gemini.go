package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-ledger/internal/ledger"
	"github.com/dvloznov/statement-ledger/internal/resolver"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

const statementPrompt = "You are a bank statement parser.\n\n" +
	"Task:\n" +
	"- Parse ALL transactions in the attached PDF statement.\n" +
	"- Output a JSON array of objects, one per transaction, in statement order.\n\n" +
	"Each object must have these fields:\n" +
	"- \"date\": string, ISO format \"YYYY-MM-DD\"\n" +
	"- \"description\": string\n" +
	"- \"amount\": number (positive for money IN, negative for money OUT)\n\n" +
	"Rules:\n" +
	"- If the statement has separate \"paid out\" / \"paid in\" columns, convert to a single signed \"amount\".\n" +
	"- Skip opening and closing balance lines.\n\n" +
	"Return ONLY valid raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n" +
	"Output must begin with \"[\" and end with \"]\".\n"

// Gemini extracts rows by sending the PDF to a Gemini model.
type Gemini struct {
	models resolver.TextGenerator
	model  string
}

// NewGemini wraps a generator; an empty model uses resolver.DefaultModelName.
func NewGemini(models resolver.TextGenerator, model string) *Gemini {
	if model == "" {
		model = resolver.DefaultModelName
	}
	return &Gemini{models: models, model: model}
}

// Extract implements Extractor.
func (g *Gemini) Extract(ctx context.Context, st Statement) ([]ledger.Row, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: statementPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: "application/pdf",
						Data:     st.Data,
					},
				},
			},
		},
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("Gemini.Extract: generate content: %w", err)
	}
	if resp == nil {
		return nil, ErrNoOutput
	}

	rawText := resp.Text()
	if strings.TrimSpace(rawText) == "" {
		return nil, ErrNoOutput
	}

	var parsed []interface{}
	if err := json.Unmarshal([]byte(cleanModelJSON(rawText)), &parsed); err != nil {
		return nil, fmt.Errorf("Gemini.Extract: unmarshal JSON: %w\nraw response: %s", err, rawText)
	}

	rows, err := rowsFromModelOutput(parsed)
	if err != nil {
		return nil, fmt.Errorf("Gemini.Extract: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoOutput
	}
	return rows, nil
}

// rowsFromModelOutput projects the model's objects onto rows. Field values are
// kept as text; coercion happens at merge.
func rowsFromModelOutput(items []interface{}) ([]ledger.Row, error) {
	rows := make([]ledger.Row, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("element %d is %T, want object", i, item)
		}

		date, err := getStringField(obj, "date", true)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		desc, err := getStringField(obj, "description", true)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		amount, err := getAmountField(obj, "amount")
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}

		rows = append(rows, ledger.Row{
			Date:        date,
			Description: desc,
			Amount:      amount,
		})
	}
	return rows, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the outermost array if the model wrapped it in prose.
	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}

func getStringField(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return strings.TrimSpace(val), nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

// getAmountField accepts a JSON number or a numeric string.
func getAmountField(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing required field %q", key)
	}
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val).String(), nil
	case string:
		return strings.TrimSpace(val), nil
	default:
		return "", fmt.Errorf("field %q has type %T, want number", key, v)
	}
}
