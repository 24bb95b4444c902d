package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"guardrails/internal/domain"
)

const defaultMaxTokens = 1024

// Anthropic asks a Claude model for the analysis and records the tokens it used.
type Anthropic struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	Now       func() time.Time
}

func NewAnthropic(apiKey, model string, maxTokens int64, opts ...option.RequestOption) (*Anthropic, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("anthropic api key required (set ANTHROPIC_API_KEY)")
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
	}, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

type reply struct {
	Recommendation              string   `json:"recommendation"`
	Confidence                  int      `json:"confidence"`
	RiskFactors                 []string `json:"risk_factors"`
	OptimizationSuggestions     []string `json:"optimization_suggestions"`
	EstimatedSuccessProbability int      `json:"estimated_success_probability"`
}

func (a *Anthropic) prompt(req Request) string {
	var b strings.Builder
	b.WriteString("You advise a human reviewer deciding whether an autonomous bot may perform an action.\n")
	fmt.Fprintf(&b, "Analysis type: %s\n\n", req.AnalysisType)
	b.WriteString("Request:\n")
	b.WriteString(describe(req.Validation))
	if len(req.Context) > 0 {
		fmt.Fprintf(&b, "\nAdditional context: %s\n", string(req.Context))
	}
	b.WriteString("\nReply with a single JSON object and nothing else, with keys: ")
	b.WriteString(`recommendation (string), confidence (0-100), risk_factors (array of strings), `)
	b.WriteString(`optimization_suggestions (array of strings), estimated_success_probability (0-100).`)
	return b.String()
}

func (a *Anthropic) Analyze(ctx context.Context, req Request) (domain.AdvisoryAnalysis, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(a.prompt(req))),
		},
	}
	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return domain.AdvisoryAnalysis{}, fmt.Errorf("anthropic messages: %w", err)
	}
	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return domain.AdvisoryAnalysis{}, errors.New("anthropic reply has no text block")
	}
	parsed, err := parseReply(text)
	if err != nil {
		return domain.AdvisoryAnalysis{}, err
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	if parsed.RiskFactors == nil {
		parsed.RiskFactors = []string{}
	}
	if parsed.OptimizationSuggestions == nil {
		parsed.OptimizationSuggestions = []string{}
	}
	return domain.AdvisoryAnalysis{
		AnalysisType:                req.AnalysisType,
		Recommendation:              parsed.Recommendation,
		Confidence:                  parsed.Confidence,
		RiskFactors:                 parsed.RiskFactors,
		OptimizationSuggestions:     parsed.OptimizationSuggestions,
		EstimatedSuccessProbability: parsed.EstimatedSuccessProbability,
		TokensUsed:                  message.Usage.InputTokens + message.Usage.OutputTokens,
		Provider:                    string(a.model),
		Context:                     req.Context,
		AnalyzedAt:                  now().UTC().Format(time.RFC3339),
	}, nil
}

// parseReply extracts the first JSON object in text. Models sometimes wrap
// the object in prose or a code fence.
func parseReply(text string) (reply, error) {
	var r reply
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return r, fmt.Errorf("anthropic reply is not JSON: %q", truncate(text, 120))
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return r, fmt.Errorf("decode anthropic reply: %w", err)
	}
	return r, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
