package orchestratornode

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

var (
	ErrInvalidMessage = fmt.Errorf("%w: message is empty", contractx.ErrValidation)
	ErrInvalidSession = fmt.Errorf("%w: session id is empty", contractx.ErrValidation)
)

type GraphInput struct {
	SessionID string
	TurnID    string
	Content   string
	Sink      contractx.FrameSink
}

type GraphOutput struct {
	Turn     contractx.ConversationTurn
	Plan     contractx.RoutingPlan
	Tasks    []ExpertTask
	Findings []contractx.ExpertFinding
}

// GraphState is threaded through every node of one turn and never shared across turns.
type GraphState struct {
	TC  contractx.TurnContext
	Now time.Time

	UserTurn     contractx.ConversationTurn
	Conversation []contractx.Message

	Plan     contractx.RoutingPlan
	Tasks    []ExpertTask
	Findings []contractx.ExpertFinding

	Answer        string
	AssistantTurn contractx.ConversationTurn
}

func ValidateRequest(in GraphInput, nowFn func() time.Time, newID func() string) (*GraphState, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, ErrInvalidMessage
	}

	sink := in.Sink
	if sink == nil {
		sink = contractx.DiscardSink
	}
	turnID := in.TurnID
	if turnID == "" {
		turnID = newID()
	}

	now := nowFn().UTC()
	return &GraphState{
		TC: contractx.TurnContext{
			SessionID: sessionID,
			TurnID:    turnID,
			Sink:      sink,
		},
		Now: now,
		UserTurn: contractx.ConversationTurn{
			ID:        newID(),
			Role:      contractx.RoleUser,
			Content:   content,
			CreatedAt: now,
		},
	}, nil
}
