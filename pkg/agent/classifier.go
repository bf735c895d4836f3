package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bttk/calendar-assistant/pkg/llm"
	"github.com/bttk/calendar-assistant/pkg/model"
	"github.com/openai/openai-go"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ErrClassify is returned when a message cannot be classified.
var ErrClassify = errors.New("unable to classify message")

// Classifier assigns a ChatTaskType to a chat message.
type Classifier struct {
	llm    llm.Completer
	model  string
	logger zerolog.Logger
}

// NewClassifier returns a Classifier. An empty model uses the completer's
// default.
func NewClassifier(completer llm.Completer, model string, logger zerolog.Logger) *Classifier {
	return &Classifier{
		llm:    completer,
		model:  model,
		logger: logger.With().Str("component", "classifier").Logger(),
	}
}

// Classify asks the model for an AgentResponse. An unknown type becomes
// no_task, tasks that fail validation are dropped and tasks are cleared for
// types that do not take any.
func (c *Classifier) Classify(ctx context.Context, message, userContext string) (model.AgentResponse, error) {
	system := ClassifierPrompt
	if userContext != "" {
		system += contextPrefix + userContext
	}

	msg, err := c.llm.Complete(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(message),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "agent_response",
					Schema: responseSchema(),
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return model.AgentResponse{}, fmt.Errorf("%w: %w", ErrClassify, err)
	}

	var resp model.AgentResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(msg.Content)), &resp); err != nil {
		return model.AgentResponse{}, fmt.Errorf("%w: %w", ErrClassify, err)
	}
	return c.normalize(resp), nil
}

func (c *Classifier) normalize(resp model.AgentResponse) model.AgentResponse {
	if !resp.Type.Valid() {
		c.logger.Warn().Str("type", string(resp.Type)).Msg("unknown classification, using no_task")
		resp.Type = model.ChatNoTask
	}
	if resp.Type != model.ChatCreateTask && resp.Type != model.ChatRunTask {
		resp.Tasks = nil
		return resp
	}

	resp.Tasks = lo.Filter(resp.Tasks, func(t model.Task, _ int) bool {
		if err := t.Validate(); err != nil {
			c.logger.Warn().Err(err).Str("title", t.Title).Msg("dropping classified task")
			return false
		}
		return true
	})
	for i := range resp.Tasks {
		resp.Tasks[i].Context.Priority = strings.ToLower(resp.Tasks[i].Context.PriorityOrDefault())
	}
	return resp
}

func responseSchema() map[string]any {
	str := map[string]any{"type": "string"}
	enum := func(values ...string) map[string]any {
		return map[string]any{"type": "string", "enum": values}
	}

	taskContext := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt":   str,
			"priority": enum(model.Priorities...),
			"url":      str,
		},
		"required":             []string{"prompt", "priority", "url"},
		"additionalProperties": false,
	}
	task := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":   str,
			"type":    enum(lo.Map(model.TaskTypes, func(t model.TaskType, _ int) string { return string(t) })...),
			"period":  str,
			"context": taskContext,
		},
		"required":             []string{"title", "type", "period", "context"},
		"additionalProperties": false,
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type_": enum(lo.Map(model.ChatTaskTypes, func(t model.ChatTaskType, _ int) string { return string(t) })...),
			"text":  str,
			"tasks": map[string]any{"type": "array", "items": task},
		},
		"required":             []string{"type_", "text", "tasks"},
		"additionalProperties": false,
	}
}
