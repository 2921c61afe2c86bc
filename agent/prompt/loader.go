package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

var (
	//go:embed template/router.txt
	routerRaw string

	//go:embed template/synthesizer.txt
	synthesizerRaw string

	//go:embed template/scheduling.txt
	schedulingRaw string

	//go:embed template/finance.txt
	financeRaw string

	//go:embed template/health.txt
	healthRaw string

	//go:embed template/knowledge.txt
	knowledgeRaw string
)

// PromptSet holds the personas of every model consumer.
type PromptSet struct {
	Router      string
	Synthesizer string
	Experts     map[contractx.ExpertIdentity]string
}

// LoadPromptSet returns the embedded personas, trimmed.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Router:      strings.TrimSpace(routerRaw),
		Synthesizer: strings.TrimSpace(synthesizerRaw),
		Experts: map[contractx.ExpertIdentity]string{
			contractx.ExpertScheduling: strings.TrimSpace(schedulingRaw),
			contractx.ExpertFinance:    strings.TrimSpace(financeRaw),
			contractx.ExpertHealth:     strings.TrimSpace(healthRaw),
			contractx.ExpertKnowledge:  strings.TrimSpace(knowledgeRaw),
		},
	}
}

func (p PromptSet) Expert(id contractx.ExpertIdentity) (string, error) {
	persona := p.Experts[id]
	if persona == "" {
		return "", fmt.Errorf("%w: persona for expert %q", contractx.ErrPromptMissing, id)
	}
	return persona, nil
}

// Validate fails when any persona is empty.
func (p PromptSet) Validate() error {
	if p.Router == "" {
		return fmt.Errorf("%w: router", contractx.ErrPromptMissing)
	}
	if p.Synthesizer == "" {
		return fmt.Errorf("%w: synthesizer", contractx.ErrPromptMissing)
	}
	for _, id := range contractx.ExpertIdentities {
		if _, err := p.Expert(id); err != nil {
			return err
		}
	}
	return nil
}
