package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
	historyx "github.com/tanpawarit/chative-experts/agent/history"
)

// LoadHistory builds the working conversation: prior turns plus the new user turn.
// The user turn is not persisted here; a turn that aborts leaves history untouched.
func LoadHistory(ctx context.Context, in *GraphState, store historyx.Store, limit int) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	turns, err := store.Load(ctx, in.TC.SessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	in.Conversation = append(historyx.Messages(turns), contractx.Message{
		Role:    contractx.MessageUser,
		Content: in.UserTurn.Content,
	})
	return in, nil
}
