package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const completionTemperature = 0.2

// openAICompleter issues chat completions against an OpenAI-compatible
// endpoint (LiteLLM, vLLM, OpenAI itself). Clients are constructed per
// model and cached, since the model is fixed at client construction.
type openAICompleter struct {
	baseURL string
	apiKey  string

	mu      sync.Mutex
	clients map[string]*openai.LLM
}

func newOpenAICompleter(baseURL, apiKey string) *openAICompleter {
	return &openAICompleter{
		baseURL: baseURL,
		apiKey:  apiKey,
		clients: make(map[string]*openai.LLM),
	}
}

func (c *openAICompleter) client(model string) (*openai.LLM, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if llm, ok := c.clients[model]; ok {
		return llm, nil
	}
	llm, err := openai.New(
		openai.WithBaseURL(c.baseURL),
		openai.WithToken(c.apiKey),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("building client for model %s: %w", model, err)
	}
	c.clients[model] = llm
	return llm, nil
}

// Complete sends prompt as a single user message and returns the first
// choice's content.
func (c *openAICompleter) Complete(ctx context.Context, model, prompt string) (string, error) {
	llm, err := c.client(model)
	if err != nil {
		return "", err
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, llm, prompt, llms.WithTemperature(completionTemperature))
	if err != nil {
		return "", fmt.Errorf("completion via model %s: %w", model, err)
	}
	return out, nil
}
