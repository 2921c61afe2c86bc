package router

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

// Router turns a conversation into a RoutingPlan through the provider's classify mode.
type Router struct {
	provider contractx.Provider
	persona  string
}

var _ contractx.Router = (*Router)(nil)

func New(provider contractx.Provider, persona string) *Router {
	return &Router{provider: provider, persona: persona}
}

// Plan rejects labels outside the expert set and drops repeated experts, keeping
// the first occurrence.
func (r *Router) Plan(ctx context.Context, tc contractx.TurnContext, conversation []contractx.Message) (contractx.RoutingPlan, error) {
	labels, err := r.provider.Classify(ctx, contractx.ClassifyRequest{
		Persona:      r.persona,
		Messages:     conversation,
		OutputDomain: contractx.ExpertLabels(),
	})
	if err != nil {
		return contractx.RoutingPlan{}, fmt.Errorf("classify conversation: %w", err)
	}

	experts, dropped, err := normalize(labels)
	if err != nil {
		return contractx.RoutingPlan{}, err
	}
	if len(dropped) > 0 {
		log.Warn().
			Str("session_id", tc.SessionID).
			Str("turn_id", tc.TurnID).
			Strs("labels", labels).
			Strs("dropped", dropped).
			Msg("classifier returned duplicate experts")
	}

	plan, err := contractx.NewRoutingPlan(experts...)
	if err != nil {
		return contractx.RoutingPlan{}, err
	}
	log.Debug().
		Str("session_id", tc.SessionID).
		Str("turn_id", tc.TurnID).
		Interface("plan", plan).
		Msg("routing plan ready")
	return plan, nil
}

func normalize(labels []string) ([]contractx.ExpertIdentity, []string, error) {
	seen := make(map[contractx.ExpertIdentity]struct{}, len(labels))
	experts := make([]contractx.ExpertIdentity, 0, len(labels))
	var dropped []string
	for _, label := range labels {
		id, err := contractx.ParseExpertIdentity(label)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[id]; dup {
			dropped = append(dropped, label)
			continue
		}
		seen[id] = struct{}{}
		experts = append(experts, id)
	}
	return experts, dropped, nil
}
