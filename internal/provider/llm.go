package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewOpenAIModel builds an OpenAI-compatible chat model. baseURL may be
// empty for the public endpoint.
func NewOpenAIModel(apiKey, model, baseURL string) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	return llm, nil
}

const planPrompt = `You are a home improvement planner. Produce a JSON object with keys
"overview" (title, est_time, est_cost, skill, notes), "materials" (name, qty, notes),
"tools" (name, notes), "cuts" (item, size, qty, notes) and "steps" (order, text, notes).
Reply with JSON only.

Project: %s
Budget: %s
Skill level: %s`

// LLMPlan asks a language model for a plan in JSON mode.
type LLMPlan struct {
	model       llms.Model
	temperature float64
}

func NewLLMPlan(model llms.Model) *LLMPlan {
	return &LLMPlan{model: model, temperature: 0.2}
}

func (p *LLMPlan) Name() string { return "llm" }

func (p *LLMPlan) GeneratePlan(ctx context.Context, opts PlanOptions) (interface{}, error) {
	prompt := fmt.Sprintf(planPrompt,
		orDefault(opts.Description, "general room refresh"),
		orDefault(opts.Budget, "unspecified"),
		orDefault(opts.SkillLevel, "beginner"),
	)

	out, err := llms.GenerateFromSinglePrompt(ctx, p.model, prompt,
		llms.WithJSONMode(),
		llms.WithTemperature(p.temperature),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return nil, fmt.Errorf("llm returned an empty plan")
	}
	return out, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
