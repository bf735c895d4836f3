// Package llm wraps an OpenAI-compatible chat completions endpoint.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

var (
	// ErrCompletion is returned when the provider call fails.
	ErrCompletion = errors.New("unable to complete chat")
	// ErrNoChoices is returned when the provider answers without a choice.
	ErrNoChoices = errors.New("completion returned no choices")
	// ErrToolSchema is returned when a tool schema cannot be converted.
	ErrToolSchema = errors.New("unable to convert tool schema")
)

// Completer runs one chat completion and returns the first choice.
type Completer interface {
	Complete(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletionMessage, error)
}

// Client is a Completer backed by openai-go.
type Client struct {
	client openai.Client
	model  string
}

var _ Completer = (*Client)(nil)

// NewClient creates a client for baseURL. model is used when a request does
// not name one.
func NewClient(apiKey, baseURL, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	}, opts...)
	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Model returns the default model.
func (c *Client) Model() string {
	return c.model
}

// Complete implements Completer.
func (c *Client) Complete(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletionMessage, error) {
	if params.Model == "" {
		params.Model = c.model
	}
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	if len(completion.Choices) == 0 {
		return openai.ChatCompletionMessage{}, ErrNoChoices
	}
	return completion.Choices[0].Message, nil
}

// ToolParam converts an MCP tool definition to a function tool.
func ToolParam(tool mcp.Tool) (openai.ChatCompletionToolParam, error) {
	raw, err := json.Marshal(tool)
	if err != nil {
		return openai.ChatCompletionToolParam{}, fmt.Errorf("%w: %s: %w", ErrToolSchema, tool.Name, err)
	}
	var decoded struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return openai.ChatCompletionToolParam{}, fmt.Errorf("%w: %s: %w", ErrToolSchema, tool.Name, err)
	}
	schema := decoded.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}

	fn := openai.FunctionDefinitionParam{
		Name:       tool.Name,
		Parameters: openai.FunctionParameters(schema),
	}
	if tool.Description != "" {
		fn.Description = param.NewOpt(tool.Description)
	}
	return openai.ChatCompletionToolParam{Function: fn}, nil
}

// ToolParams converts a tool set.
func ToolParams(tools []server.ServerTool) ([]openai.ChatCompletionToolParam, error) {
	params := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		p, err := ToolParam(t.Tool)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, nil
}
