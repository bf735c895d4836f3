// Package agent runs the tool-calling scheduling loop and the intent
// classifier on top of an llm.Completer.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bttk/calendar-assistant/pkg/llm"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/openai/openai-go"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DefaultMaxSteps bounds the number of completions per run.
const DefaultMaxSteps = 10

// ErrRun is returned when a completion fails mid-run.
var ErrRun = errors.New("unable to run agent")

// ToolObserver is notified of every tool call.
type ToolObserver interface {
	ObserveToolCall(tool string, failed bool)
}

// ToolCall records one tool invocation of a run.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Output    string `json:"output"`
	IsError   bool   `json:"is_error"`
}

// Result is the outcome of Run.
type Result struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls"`
	Steps     int        `json:"steps"`
}

// Agent runs the scheduling loop.
type Agent struct {
	llm      llm.Completer
	model    string
	maxSteps int
	observer ToolObserver
	logger   zerolog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithModel overrides the completer's default model.
func WithModel(model string) Option {
	return func(a *Agent) {
		a.model = model
	}
}

// WithMaxSteps sets the completion budget. Values below 1 are ignored.
func WithMaxSteps(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

// WithToolObserver reports tool calls to o.
func WithToolObserver(o ToolObserver) Option {
	return func(a *Agent) {
		a.observer = o
	}
}

// New returns an Agent.
func New(completer llm.Completer, logger zerolog.Logger, opts ...Option) *Agent {
	a := &Agent{
		llm:      completer,
		maxSteps: DefaultMaxSteps,
		logger:   logger.With().Str("component", "agent").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run sends userMessage with the scheduling system prompt and executes the
// tool calls the model asks for until it answers with text or the step budget
// is spent. contextInjection, when set, is appended to the system prompt.
func (a *Agent) Run(ctx context.Context, tools []server.ServerTool, userMessage, contextInjection string) (Result, error) {
	toolParams, err := llm.ToolParams(tools)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrRun, err)
	}
	handlers := lo.SliceToMap(tools, func(t server.ServerTool) (string, server.ToolHandlerFunc) {
		return t.Tool.Name, t.Handler
	})

	system := SystemPrompt
	if contextInjection != "" {
		system += contextPrefix + contextInjection
	}
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system),
		openai.UserMessage(userMessage),
	}

	var res Result
	for step := 1; step <= a.maxSteps; step++ {
		params := openai.ChatCompletionNewParams{
			Messages: messages,
			Model:    a.model,
		}
		if len(toolParams) > 0 {
			params.Tools = toolParams
		}

		msg, err := a.llm.Complete(ctx, params)
		if err != nil {
			return res, fmt.Errorf("%w: step %d: %w", ErrRun, step, err)
		}
		res.Steps = step
		messages = append(messages, msg.ToParam())

		if len(msg.ToolCalls) == 0 {
			res.Text = finalText(msg.Content)
			return res, nil
		}

		for _, tc := range msg.ToolCalls {
			call := a.call(ctx, handlers, tc)
			res.ToolCalls = append(res.ToolCalls, call)
			messages = append(messages, openai.ToolMessage(call.Output, tc.ID))
		}
	}

	a.logger.Warn().Int("max_steps", a.maxSteps).Msg("step budget exhausted")
	res.Text = FallbackText
	return res, nil
}

func (a *Agent) call(ctx context.Context, handlers map[string]server.ToolHandlerFunc, tc openai.ChatCompletionMessageToolCall) ToolCall {
	call := ToolCall{
		ID:        tc.ID,
		Name:      tc.Function.Name,
		Arguments: tc.Function.Arguments,
	}
	logger := a.logger.With().Str("tool", call.Name).Logger()

	call.Output, call.IsError = invoke(ctx, handlers, call)
	if call.IsError {
		logger.Warn().Str("output", call.Output).Msg("tool call failed")
	} else {
		logger.Debug().Msg("tool call")
	}
	if a.observer != nil {
		a.observer.ObserveToolCall(call.Name, call.IsError)
	}
	return call
}

func invoke(ctx context.Context, handlers map[string]server.ToolHandlerFunc, call ToolCall) (string, bool) {
	handler, ok := handlers[call.Name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", call.Name), true
	}

	args := map[string]any{}
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fmt.Sprintf("Error: invalid arguments for %s: %v", call.Name, err), true
		}
	}

	result, err := handler(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: call.Name, Arguments: args},
	})
	if err != nil {
		return fmt.Sprintf("Error: %v", err), true
	}
	if result == nil {
		return "", false
	}
	return ResultText(result), result.IsError
}

// ResultText joins the text content of a tool result.
func ResultText(result *mcp.CallToolResult) string {
	var b strings.Builder
	for _, c := range result.Content {
		if text, ok := c.(mcp.TextContent); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String()
}

func finalText(content string) string {
	if strings.TrimSpace(content) == "" {
		return FallbackText
	}
	return content
}
