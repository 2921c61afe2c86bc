package provider

import (
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

func toSchemaMessages(persona string, messages []contractx.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages)+1)
	if persona != "" {
		out = append(out, schema.SystemMessage(persona))
	}
	for _, m := range messages {
		switch m.Role {
		case contractx.MessageSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case contractx.MessageAssistant:
			out = append(out, schema.AssistantMessage(m.Content, toSchemaToolCalls(m.ToolCalls)))
		case contractx.MessageTool:
			out = append(out, schema.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

func toSchemaToolCalls(calls []contractx.ToolCall) []schema.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schema.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, schema.ToolCall{
			ID:   c.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      c.Name,
				Arguments: c.Arguments,
			},
		})
	}
	return out
}

func fromSchemaToolCalls(calls []schema.ToolCall) []contractx.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]contractx.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, contractx.ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: c.Function.Arguments,
		})
	}
	return out
}

var paramTypes = map[contractx.ParamType]schema.DataType{
	contractx.ParamString:  schema.String,
	contractx.ParamNumber:  schema.Number,
	contractx.ParamInteger: schema.Integer,
	contractx.ParamArray:   schema.Array,
}

func toToolInfos(specs []contractx.ToolSpec) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(specs))
	for _, spec := range specs {
		params := make(map[string]*schema.ParameterInfo, len(spec.Params))
		for _, p := range spec.Params {
			info := &schema.ParameterInfo{
				Type:     paramTypes[p.Type],
				Desc:     p.Description,
				Required: p.Required,
			}
			if p.Type == contractx.ParamArray {
				info.ElemInfo = &schema.ParameterInfo{Type: schema.String}
			}
			params[p.Name] = info
		}
		out = append(out, &schema.ToolInfo{
			Name:        spec.Name,
			Desc:        spec.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return out
}

// messageStream adapts an eino stream to contract.TextStream, skipping empty chunks.
type messageStream struct {
	reader *schema.StreamReader[*schema.Message]
}

func (s *messageStream) Recv() (string, error) {
	for {
		msg, err := s.reader.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", fmt.Errorf("%w: stream: %v", contractx.ErrModelInvoke, err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		return msg.Content, nil
	}
}

func (s *messageStream) Close() {
	s.reader.Close()
}
