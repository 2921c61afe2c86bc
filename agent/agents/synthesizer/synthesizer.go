package synthesizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

// Synthesizer streams the single user-visible answer. It has no tool access.
type Synthesizer struct {
	provider contractx.Provider
	persona  string
}

var _ contractx.Synthesizer = (*Synthesizer)(nil)

func New(provider contractx.Provider, persona string) *Synthesizer {
	return &Synthesizer{provider: provider, persona: persona}
}

// Synthesize emits each chunk as a text-delta frame as soon as it arrives and
// returns the full text.
func (s *Synthesizer) Synthesize(ctx context.Context, tc contractx.TurnContext, conversation []contractx.Message, findings []contractx.ExpertFinding) (string, error) {
	stream, err := s.provider.Synthesize(ctx, contractx.SynthesizeRequest{
		Persona:  s.persona,
		Messages: withFindings(conversation, findings),
	})
	if err != nil {
		return "", fmt.Errorf("start synthesis: %w", err)
	}
	defer stream.Close()

	sink := tc.Sink
	if sink == nil {
		sink = contractx.DiscardSink
	}

	var full strings.Builder
	chunks := 0
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("receive synthesis chunk: %w", err)
		}
		full.WriteString(chunk)
		chunks++
		if err := sink.Emit(ctx, contractx.Frame{
			Type:   contractx.FrameTextDelta,
			TurnID: tc.TurnID,
			Delta:  chunk,
		}); err != nil {
			return "", fmt.Errorf("emit text delta: %w", err)
		}
	}

	log.Debug().
		Str("session_id", tc.SessionID).
		Str("turn_id", tc.TurnID).
		Int("findings", len(findings)).
		Int("chunks", chunks).
		Msg("synthesis complete")
	return full.String(), nil
}

func withFindings(conversation []contractx.Message, findings []contractx.ExpertFinding) []contractx.Message {
	out := append([]contractx.Message(nil), conversation...)
	if len(findings) == 0 {
		return out
	}
	var b strings.Builder
	b.WriteString("Internal findings for the latest user message:\n")
	for i, f := range findings {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, f.Text)
	}
	return append(out, contractx.Message{Role: contractx.MessageSystem, Content: b.String()})
}
