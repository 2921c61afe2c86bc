package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

func SynthesizeAnswer(ctx context.Context, in *GraphState, synth contractx.Synthesizer) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(in.Findings) != in.Plan.Len() {
		return nil, fmt.Errorf("%w: %d findings for a plan of %d", contractx.ErrValidation, len(in.Findings), in.Plan.Len())
	}
	answer, err := synth.Synthesize(ctx, in.TC, in.Conversation, in.Findings)
	if err != nil {
		return nil, err
	}
	in.Answer = answer
	return in, nil
}
