package prompt

import (
	"errors"
	"testing"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

func TestLoadPromptSetCoversEveryExpert(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	if err := set.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestExpertMissingPersona(t *testing.T) {
	t.Parallel()

	set := PromptSet{Router: "r", Synthesizer: "s"}
	if _, err := set.Expert(contractx.ExpertHealth); !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("Expert() error = %v, want ErrPromptMissing", err)
	}
}
