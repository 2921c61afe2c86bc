package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	return GraphOutput{
		Turn:     in.AssistantTurn,
		Plan:     in.Plan,
		Tasks:    in.Tasks,
		Findings: in.Findings,
	}, nil
}
