package contract

import "context"

type MessageRole string

const (
	MessageSystem    MessageRole = "system"
	MessageUser      MessageRole = "user"
	MessageAssistant MessageRole = "assistant"
	MessageTool      MessageRole = "tool"
)

// Message is the provider-neutral prompt entry.
type Message struct {
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamInteger ParamType = "integer"
	ParamArray   ParamType = "array"
)

type ToolParam struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// ToolSpec is what a model sees of a tool.
type ToolSpec struct {
	Name        string
	Description string
	Params      []ToolParam
}

type ClassifyRequest struct {
	Persona      string
	Messages     []Message
	OutputDomain []string
}

type ConsultRequest struct {
	Expert   ExpertIdentity
	Persona  string
	Messages []Message
	Tools    []ToolSpec
}

// ConsultStep is one model turn: either final text, tool calls, or both.
type ConsultStep struct {
	Text      string
	ToolCalls []ToolCall
}

type SynthesizeRequest struct {
	Persona  string
	Messages []Message
}

// TextStream is a finite, non-restartable sequence of chunks. Recv returns io.EOF at the end.
type TextStream interface {
	Recv() (string, error)
	Close()
}

// Provider is the uniform call surface over the inference provider.
// Consult performs a single model step; the caller owns the step budget.
type Provider interface {
	Classify(ctx context.Context, req ClassifyRequest) ([]string, error)
	Consult(ctx context.Context, req ConsultRequest) (ConsultStep, error)
	Synthesize(ctx context.Context, req SynthesizeRequest) (TextStream, error)
}

type Router interface {
	Plan(ctx context.Context, tc TurnContext, conversation []Message) (RoutingPlan, error)
}

type Expert interface {
	Identity() ExpertIdentity
	Consult(ctx context.Context, tc TurnContext, conversation []Message, findings []ExpertFinding) (ExpertFinding, error)
}

type ExpertRegistry interface {
	Expert(id ExpertIdentity) (Expert, bool)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, tc TurnContext, conversation []Message, findings []ExpertFinding) (string, error)
}

// ToolGateway executes one batch of tool calls and returns results aligned with calls.
type ToolGateway interface {
	Execute(ctx context.Context, tc TurnContext, expert ExpertIdentity, calls []ToolCall) ([]ToolInvocationResult, error)
}

// Confirmer resumes exactly one suspended tool invocation.
type Confirmer interface {
	Resolve(ctx context.Context, correlationID string, decision Decision) error
}
