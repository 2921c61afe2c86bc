package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

func RouteExperts(ctx context.Context, in *GraphState, router contractx.Router) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	plan, err := router.Plan(ctx, in.TC, in.Conversation)
	if err != nil {
		return nil, err
	}
	in.Plan = plan
	in.Tasks = NewTasks(plan)
	return in, nil
}
