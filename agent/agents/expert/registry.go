package expert

import (
	contractx "github.com/tanpawarit/chative-experts/agent/contract"
	llmx "github.com/tanpawarit/chative-experts/agent/llm"
	promptx "github.com/tanpawarit/chative-experts/agent/prompt"
	toolx "github.com/tanpawarit/chative-experts/agent/tool"
	metricsx "github.com/tanpawarit/chative-experts/pkg/metrics"
)

// Registry holds one Invoker per expert identity.
type Registry struct {
	experts map[contractx.ExpertIdentity]*Invoker
}

var _ contractx.ExpertRegistry = (*Registry)(nil)

// Profiles derives every expert's profile from its persona, budget and tools.
func Profiles(prompts promptx.PromptSet, budgets llmx.StepBudgets, tools *toolx.Registry) ([]Profile, error) {
	out := make([]Profile, 0, len(contractx.ExpertIdentities))
	for _, id := range contractx.ExpertIdentities {
		persona, err := prompts.Expert(id)
		if err != nil {
			return nil, err
		}
		out = append(out, Profile{
			Identity:   id,
			Persona:    persona,
			StepBudget: budgets.For(id),
			Tools:      tools.Specs(id),
		})
	}
	return out, nil
}

func NewRegistry(profiles []Profile, provider contractx.Provider, gateway contractx.ToolGateway, metrics *metricsx.Metrics) (*Registry, error) {
	r := &Registry{experts: make(map[contractx.ExpertIdentity]*Invoker, len(profiles))}
	for _, p := range profiles {
		inv, err := NewInvoker(p, provider, gateway, metrics)
		if err != nil {
			return nil, err
		}
		r.experts[p.Identity] = inv
	}
	return r, nil
}

func (r *Registry) Expert(id contractx.ExpertIdentity) (contractx.Expert, bool) {
	inv, ok := r.experts[id]
	if !ok {
		return nil, false
	}
	return inv, true
}
