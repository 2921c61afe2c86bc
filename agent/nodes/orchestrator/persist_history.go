package orchestratornode

import (
	"context"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
	historyx "github.com/tanpawarit/chative-experts/agent/history"
)

// PersistHistory appends the user turn and the synthesized assistant turn together.
func PersistHistory(ctx context.Context, in *GraphState, store historyx.Store, nowFn func() time.Time) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.AssistantTurn = contractx.ConversationTurn{
		ID:        in.TC.TurnID,
		Role:      contractx.RoleAssistant,
		Content:   in.Answer,
		CreatedAt: nowFn().UTC(),
	}
	if err := store.Append(ctx, in.TC.SessionID, in.UserTurn, in.AssistantTurn); err != nil {
		return nil, fmt.Errorf("persist history: %w", err)
	}
	return in, nil
}
