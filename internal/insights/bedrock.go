package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	bedrockruntime "github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

type BedrockClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type promptInput struct {
	Question        string
	Shop            string
	MaxDaysLookback int
	SchemaText      string
	TodayISO        string
}

type generated struct {
	SQL                string   `json:"sql"`
	Confidence         float64  `json:"confidence"`
	Assumptions        []string `json:"assumptions"`
	NeedsClarification bool     `json:"needs_clarification"`
	ClarifyingQuestion *string  `json:"clarifying_question"`
}

func buildPrompt(p promptInput) string {
	today, _ := time.Parse("2006-01-02", p.TodayISO)
	dtMin := today.AddDate(0, 0, -p.MaxDaysLookback).Format("2006-01-02")

	return fmt.Sprintf(`
You are a Text-to-SQL compiler for AWS Athena over Instagram sync-run metrics.

OUTPUT: valid JSON ONLY (never bare SQL).

CRITICAL RULES:
- One SELECT statement only, no semicolon, no comments.
- Use ONLY tables/columns in the schema.
- shop_id must equal '%s' and nothing else.
- dt must always have a lower bound >= '%s', e.g. dt >= date '%s'.
- Wrap aggregates in COALESCE(..., 0) so results never return NULL.
- Prefer partition pruning: always filter dt and shop_id.

TODAY: %s
DT_MIN_ALLOWED: %s

SCHEMA:
%s

USER QUESTION:
%s

Return JSON:
{
  "sql": "...",
  "confidence": 0.0,
  "assumptions": ["..."],
  "needs_clarification": false,
  "clarifying_question": null
}
`, p.Shop, dtMin, dtMin, p.TodayISO, dtMin, p.SchemaText, p.Question)
}

// generateSQL sends the prompt through Bedrock and parses the model's JSON
// reply. The Anthropic message payload shape is what Bedrock expects for
// Claude model IDs.
func generateSQL(ctx context.Context, c BedrockClient, prompt string) (*generated, error) {
	modelID := strings.TrimSpace(os.Getenv("BEDROCK_MODEL_ID"))
	if modelID == "" {
		return nil, fmt.Errorf("missing env BEDROCK_MODEL_ID")
	}

	payload := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        700,
		"temperature":       0.0,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": prompt},
				},
			},
		},
	}
	body, _ := json.Marshal(payload)

	out, err := c.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock InvokeModel: %w", err)
	}

	var raw struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(out.Body, &raw); err != nil {
		return nil, fmt.Errorf("bedrock response unmarshal: %w", err)
	}

	var text string
	for _, c := range raw.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}

	jsonStr := extractFirstJSONObject(strings.TrimSpace(text))
	if jsonStr == "" {
		return nil, fmt.Errorf("model did not return a JSON object")
	}

	var g generated
	if err := json.Unmarshal([]byte(jsonStr), &g); err != nil {
		return nil, fmt.Errorf("model JSON parse failed: %w", err)
	}
	g.SQL = strings.TrimSpace(g.SQL)
	return &g, nil
}

// extractFirstJSONObject finds the first balanced {...} block; models
// sometimes wrap the JSON in prose despite the instructions.
func extractFirstJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
