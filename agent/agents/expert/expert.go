package expert

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
	metricsx "github.com/tanpawarit/chative-experts/pkg/metrics"
)

// Profile is the data that tells experts apart. The reasoning loop is shared.
type Profile struct {
	Identity   contractx.ExpertIdentity
	Persona    string
	StepBudget int
	Tools      []contractx.ToolSpec
}

// Invoker runs one expert's bounded reasoning loop.
type Invoker struct {
	profile  Profile
	provider contractx.Provider
	gateway  contractx.ToolGateway
	metrics  *metricsx.Metrics
}

var _ contractx.Expert = (*Invoker)(nil)

func NewInvoker(profile Profile, provider contractx.Provider, gateway contractx.ToolGateway, metrics *metricsx.Metrics) (*Invoker, error) {
	if !profile.Identity.Valid() {
		return nil, fmt.Errorf("%w: unknown expert %q", contractx.ErrConfiguration, profile.Identity)
	}
	if profile.StepBudget < 1 {
		return nil, fmt.Errorf("%w: step budget of %s must be >= 1", contractx.ErrConfiguration, profile.Identity)
	}
	if strings.TrimSpace(profile.Persona) == "" {
		return nil, fmt.Errorf("%w: persona for expert %q", contractx.ErrPromptMissing, profile.Identity)
	}
	return &Invoker{profile: profile, provider: provider, gateway: gateway, metrics: metrics}, nil
}

func (e *Invoker) Identity() contractx.ExpertIdentity {
	return e.profile.Identity
}

// Consult produces exactly one finding. Running out of steps is not an error: the
// last text the model produced is kept, or NoAnswerMarker when there was none.
func (e *Invoker) Consult(ctx context.Context, tc contractx.TurnContext, conversation []contractx.Message, findings []contractx.ExpertFinding) (contractx.ExpertFinding, error) {
	id := e.profile.Identity
	logger := log.With().
		Str("session_id", tc.SessionID).
		Str("turn_id", tc.TurnID).
		Str("expert", string(id)).
		Logger()
	e.metrics.ExpertInvoked(string(id))

	messages := withFindings(conversation, findings)
	lastText := ""

	for step := 1; step <= e.profile.StepBudget; step++ {
		if err := ctx.Err(); err != nil {
			return contractx.ExpertFinding{}, err
		}

		res, err := e.provider.Consult(ctx, contractx.ConsultRequest{
			Expert:   id,
			Persona:  e.profile.Persona,
			Messages: messages,
			Tools:    e.profile.Tools,
		})
		if err != nil {
			return contractx.ExpertFinding{}, fmt.Errorf("expert %s step %d: %w", id, step, err)
		}
		if text := strings.TrimSpace(res.Text); text != "" {
			lastText = text
		}
		if len(res.ToolCalls) == 0 {
			logger.Debug().Int("step", step).Msg("expert answered")
			break
		}
		if step == e.profile.StepBudget {
			// results could never reach the model, so nothing is executed
			logger.Info().Int("step", step).Int("tool_calls", len(res.ToolCalls)).Msg("step budget exhausted")
			break
		}

		messages = append(messages, contractx.Message{
			Role:      contractx.MessageAssistant,
			Content:   res.Text,
			ToolCalls: res.ToolCalls,
		})
		results, err := e.gateway.Execute(ctx, tc, id, res.ToolCalls)
		if err != nil {
			return contractx.ExpertFinding{}, fmt.Errorf("expert %s step %d tools: %w", id, step, err)
		}
		for _, r := range results {
			messages = append(messages, contractx.Message{
				Role:       contractx.MessageTool,
				Content:    r.Content(),
				ToolCallID: r.CallID,
			})
		}
		logger.Debug().Int("step", step).Int("tool_calls", len(results)).Msg("tool results fed back")
	}

	if lastText == "" {
		lastText = contractx.NoAnswerMarker
	}
	return contractx.ExpertFinding{Expert: id, Text: lastText}, nil
}

// withFindings copies the conversation and appends earlier findings as read-only context.
func withFindings(conversation []contractx.Message, findings []contractx.ExpertFinding) []contractx.Message {
	out := make([]contractx.Message, 0, len(conversation)+1)
	out = append(out, conversation...)
	if len(findings) == 0 {
		return out
	}
	var b strings.Builder
	b.WriteString("Findings already gathered for this message by other specialists. Use them; do not repeat them.\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "\n[%s]\n%s\n", f.Expert, f.Text)
	}
	return append(out, contractx.Message{Role: contractx.MessageSystem, Content: b.String()})
}
