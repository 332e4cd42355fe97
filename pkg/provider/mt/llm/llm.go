// Package llm provides a machine-translation provider backed by
// github.com/mozilla-ai/any-llm-go, which gives one interface over OpenAI,
// Anthropic, Gemini, Ollama, Mistral, Groq, and local llama.cpp servers.
// It implements the mt.Provider interface.
//
// Translation quality with a mid-size instruction-tuned model is competitive
// with dedicated MT systems for the high-resource languages this server
// targets, and running through any-llm-go means deployments can point the
// same provider at a hosted API or a local Ollama without code changes.
package llm

import (
	"context"
	"fmt"
	"strings"

	anyllm "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/lingopair/lingopair/pkg/provider/mt"
)

// systemPrompt instructs the model to answer with the translation only.
const systemPrompt = "You are a translation engine. Translate the user's text from %s to %s. " +
	"Reply with the translation only: no quotes, no notes, no explanations."

// languageNames maps the wire codes to names the models respond to more
// reliably than raw codes.
var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"pt": "Portuguese",
}

// Compile-time assertion that Provider satisfies mt.Provider.
var _ mt.Provider = (*Provider)(nil)

// Provider implements mt.Provider by prompting a chat model.
type Provider struct {
	backend anyllm.Provider
	model   string
}

// New creates a Provider backed by the given any-llm provider name
// ("openai", "anthropic", "ollama", "mistral", "groq", "llamacpp") and model.
// opts are any-llm options such as anyllm.WithAPIKey and anyllm.WithBaseURL;
// without an API key option the backend falls back to its environment
// variable.
func New(providerName, model string, opts ...anyllm.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("llm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("llm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// Translate prompts the model for a translation.
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" || sourceLang == targetLang {
		return text, nil
	}

	params := anyllm.CompletionParams{
		Model: p.model,
		Messages: []anyllm.Message{
			{
				Role:    anyllm.RoleSystem,
				Content: fmt.Sprintf(systemPrompt, languageName(sourceLang), languageName(targetLang)),
			},
			{
				Role:    anyllm.RoleUser,
				Content: text,
			},
		},
	}

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: empty choices in response")
	}

	return strings.TrimSpace(resp.Choices[0].Message.ContentString()), nil
}

// Close is a no-op; any-llm backends hold no long-lived resources.
func (p *Provider) Close() error { return nil }

// languageName resolves a wire code to a prompt-friendly name, falling back
// to the code itself for languages outside the served set.
func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

// createBackend creates the underlying any-llm provider for the given name.
func createBackend(providerName string, opts ...anyllm.Option) (anyllm.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, ollama, mistral, groq, llamacpp", providerName)
	}
}
