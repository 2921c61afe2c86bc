package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

type classifyOutput struct {
	Experts []string `json:"experts"`
}

func labelSchema(domain []string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"experts": map[string]any{
				"type":        "array",
				"description": "Experts in consultation order, each at most once.",
				"items": map[string]any{
					"type": "string",
					"enum": domain,
				},
			},
		},
		"required":             []string{"experts"},
		"additionalProperties": false,
	}
}

// StrictClassifier asks an OpenAI-compatible endpoint for a strict JSON schema
// whose labels are limited to the output domain.
type StrictClassifier struct {
	client *openai.Client
	model  string
}

var _ Classifier = (*StrictClassifier)(nil)

func NewStrictClassifier(client *openai.Client, model string) *StrictClassifier {
	return &StrictClassifier{client: client, model: strings.TrimSpace(model)}
}

func (c *StrictClassifier) Classify(ctx context.Context, req contractx.ClassifyRequest) ([]string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.Persona != "" {
		messages = append(messages, openai.SystemMessage(req.Persona))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case contractx.MessageUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case contractx.MessageAssistant:
			if m.Content != "" {
				messages = append(messages, openai.AssistantMessage(m.Content))
			}
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "routing_plan",
					Description: openai.String("Ordered experts to consult"),
					Schema:      labelSchema(req.OutputDomain),
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: classify: %v", contractx.ErrModelInvoke, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: classify: no choices", contractx.ErrModelInvoke)
	}
	return decodeLabels(resp.Choices[0].Message.Content)
}

func decodeLabels(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var out classifyOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		return nil, fmt.Errorf("%w: classify output: %v", contractx.ErrSchemaViolation, err)
	}
	if out.Experts == nil {
		return []string{}, nil
	}
	return out.Experts, nil
}

// GraphClassifier runs classification as an eino prompt -> model -> JSON parser
// graph, for models without structured output support.
type GraphClassifier struct {
	runner compose.Runnable[map[string]any, classifyOutput]
}

var _ Classifier = (*GraphClassifier)(nil)

func NewGraphClassifier(ctx context.Context, chatModel einomodel.BaseChatModel) (*GraphClassifier, error) {
	runner, err := compileStructuredLLMGraph[classifyOutput](ctx, chatModel, "router.classify_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile classify graph: %v", contractx.ErrConfiguration, err)
	}
	return &GraphClassifier{runner: runner}, nil
}

func (c *GraphClassifier) Classify(ctx context.Context, req contractx.ClassifyRequest) ([]string, error) {
	var transcript strings.Builder
	for _, m := range req.Messages {
		if m.Role != contractx.MessageUser && m.Role != contractx.MessageAssistant {
			continue
		}
		if m.Content == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	instructions := fmt.Sprintf(
		"Allowed labels: %s.\nReply with JSON only, shaped as {\"experts\": [<labels in order>]}.",
		strings.Join(req.OutputDomain, ", "),
	)
	out, err := c.runner.Invoke(ctx, map[string]any{
		"persona": req.Persona + "\n\n" + instructions,
		"input":   transcript.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: classify: %v", contractx.ErrSchemaViolation, err)
	}
	if out.Experts == nil {
		return []string{}, nil
	}
	return out.Experts, nil
}

// compileStructuredLLMGraph builds prompt -> model -> parse_json. The persona is a
// template variable so braces in it are never interpreted.
func compileStructuredLLMGraph[T any](
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	graphName string,
) (compose.Runnable[map[string]any, T], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{persona}"),
		schema.UserMessage("{input}"),
	)

	parser := schema.NewMessageJSONParser[T](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})

	graph := compose.NewGraph[map[string]any, T]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add structured prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add structured model node: %w", err)
	}
	if err := graph.AddLambdaNode("parse_json", compose.MessageParser(parser)); err != nil {
		return nil, fmt.Errorf("add structured parser node: %w", err)
	}

	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add structured edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add structured edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", "parse_json"); err != nil {
		return nil, fmt.Errorf("add structured edge model->parse: %w", err)
	}
	if err := graph.AddEdge("parse_json", compose.END); err != nil {
		return nil, fmt.Errorf("add structured edge parse->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile structured graph: %w", err)
	}
	return runner, nil
}
