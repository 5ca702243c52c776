package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
	BaseURL        string
}

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatEngine produces assistant replies grounded on retrieved knowledge
// base chunks. The retrieval pipeline supplies the context; the engine
// only formats and forwards it.
type ChatEngine struct {
	config ChatConfig
	model  llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.Temperature <= 0 || config.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a helpful assistant for this chatbot's users."
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	model, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{config: config, model: model}, nil
}

// Chat generates a reply for the conversation, grounded on the
// retrieved chunk texts. An empty context list falls back to the bare
// system prompt so the model can still answer ungrounded.
func (ce *ChatEngine) Chat(ctx context.Context, history []Message, systemPrompt string, contextChunks []string) (string, error) {
	response, err := ce.model.GenerateContent(ctx,
		ce.buildMessages(history, systemPrompt, contextChunks),
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}
	return response.Choices[0].Content, nil
}

// ChatStream generates a reply incrementally, invoking fn for each text
// fragment as the model produces it.
func (ce *ChatEngine) ChatStream(ctx context.Context, history []Message, systemPrompt string, contextChunks []string, fn func(chunk string) error) error {
	_, err := ce.model.GenerateContent(ctx,
		ce.buildMessages(history, systemPrompt, contextChunks),
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			return fn(string(chunk))
		}),
	)
	if err != nil {
		return fmt.Errorf("chat stream error: %w", err)
	}
	return nil
}

func (ce *ChatEngine) buildMessages(history []Message, systemPrompt string, contextChunks []string) []llms.MessageContent {
	if systemPrompt == "" {
		systemPrompt = ce.config.SystemTemplate
	}

	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, ce.buildSystemPrompt(systemPrompt, contextChunks)),
	}
	for _, msg := range history {
		role := schema.ChatMessageTypeHuman
		if msg.Role == "assistant" {
			role = schema.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, msg.Content))
	}
	return content
}

func (ce *ChatEngine) buildSystemPrompt(systemPrompt string, contextChunks []string) string {
	if len(contextChunks) == 0 {
		return systemPrompt
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nRelevant excerpts from your knowledge base:\n")
	for _, chunk := range contextChunks {
		b.WriteString("\n---\n")
		b.WriteString(chunk)
	}
	b.WriteString("\n\nUse these excerpts to answer the user's questions. Ignore them when they are not relevant.")
	return b.String()
}
