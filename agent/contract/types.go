package contract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ConversationTurn is one appended entry of a session's history.
type ConversationTurn struct {
	ID         string                `json:"id"`
	Role       Role                  `json:"role"`
	Content    string                `json:"content,omitempty"`
	ToolResult *ToolInvocationResult `json:"tool_result,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
}

type ExpertIdentity string

const (
	ExpertScheduling ExpertIdentity = "scheduling"
	ExpertFinance    ExpertIdentity = "finance"
	ExpertHealth     ExpertIdentity = "health"
	ExpertKnowledge  ExpertIdentity = "knowledge"
)

// ExpertIdentities is the closed set of experts, in declaration order.
var ExpertIdentities = []ExpertIdentity{
	ExpertScheduling,
	ExpertFinance,
	ExpertHealth,
	ExpertKnowledge,
}

func (e ExpertIdentity) Valid() bool {
	for _, id := range ExpertIdentities {
		if id == e {
			return true
		}
	}
	return false
}

func ParseExpertIdentity(raw string) (ExpertIdentity, error) {
	id := ExpertIdentity(strings.ToLower(strings.TrimSpace(raw)))
	if !id.Valid() {
		return "", fmt.Errorf("%w: unknown expert %q", ErrRouting, raw)
	}
	return id, nil
}

// ExpertLabels returns the closed set as plain strings, the output domain of classify.
func ExpertLabels() []string {
	out := make([]string, 0, len(ExpertIdentities))
	for _, id := range ExpertIdentities {
		out = append(out, string(id))
	}
	return out
}

// RoutingPlan is an ordered, duplicate-free list of experts. It cannot be changed once built.
type RoutingPlan struct {
	experts []ExpertIdentity
}

func NewRoutingPlan(experts ...ExpertIdentity) (RoutingPlan, error) {
	seen := make(map[ExpertIdentity]struct{}, len(experts))
	out := make([]ExpertIdentity, 0, len(experts))
	for _, e := range experts {
		if !e.Valid() {
			return RoutingPlan{}, fmt.Errorf("%w: unknown expert %q", ErrRouting, e)
		}
		if _, dup := seen[e]; dup {
			return RoutingPlan{}, fmt.Errorf("%w: duplicate expert %q", ErrRouting, e)
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return RoutingPlan{experts: out}, nil
}

func (p RoutingPlan) Experts() []ExpertIdentity {
	return append([]ExpertIdentity(nil), p.experts...)
}

func (p RoutingPlan) Len() int {
	return len(p.experts)
}

func (p RoutingPlan) Empty() bool {
	return len(p.experts) == 0
}

func (p RoutingPlan) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Experts())
}

type ExpertFinding struct {
	Expert ExpertIdentity `json:"expert"`
	Text   string         `json:"text"`
}

// NoAnswerMarker is the finding text of an expert that produced no text within its step budget.
const NoAnswerMarker = "[no answer produced]"

func (f ExpertFinding) Answered() bool {
	return f.Text != NoAnswerMarker
}

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeDeclined Outcome = "declined"
	OutcomeFailed   Outcome = "failed"
)

// ToolInvocationRequest is a decoded tool call with its confirmation policy attached.
type ToolInvocationRequest struct {
	CallID               string          `json:"call_id"`
	Tool                 string          `json:"tool"`
	Arguments            json.RawMessage `json:"arguments"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
}

type ToolInvocationResult struct {
	CallID    string          `json:"call_id"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Outcome   Outcome         `json:"outcome"`
	Output    string          `json:"output,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// Content renders the result as the text handed back to the model.
func (r ToolInvocationResult) Content() string {
	switch r.Outcome {
	case OutcomeSuccess:
		return r.Output
	case OutcomeDeclined:
		return fmt.Sprintf("The user declined the %s action. Nothing was changed.", r.Tool)
	default:
		return fmt.Sprintf("Tool %s failed: %s", r.Tool, r.Reason)
	}
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDecline Decision = "decline"
)

func ParseDecision(raw string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(raw))); d {
	case DecisionApprove, DecisionDecline:
		return d, nil
	default:
		return "", fmt.Errorf("%w: decision must be approve or decline, got %q", ErrValidation, raw)
	}
}

// TurnContext travels explicitly through router, experts, interceptor and tools.
type TurnContext struct {
	SessionID string
	TurnID    string
	Sink      FrameSink
}
