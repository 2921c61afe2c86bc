package expert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
	llmx "github.com/tanpawarit/chative-experts/agent/llm"
	promptx "github.com/tanpawarit/chative-experts/agent/prompt"
	toolx "github.com/tanpawarit/chative-experts/agent/tool"
)

type scriptedProvider struct {
	mu       sync.Mutex
	steps    []contractx.ConsultStep
	err      error
	requests []contractx.ConsultRequest
}

func (p *scriptedProvider) Classify(context.Context, contractx.ClassifyRequest) ([]string, error) {
	return nil, errors.New("not used")
}

func (p *scriptedProvider) Consult(_ context.Context, req contractx.ConsultRequest) (contractx.ConsultStep, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req.Messages = append([]contractx.Message(nil), req.Messages...)
	p.requests = append(p.requests, req)
	if p.err != nil {
		return contractx.ConsultStep{}, p.err
	}
	if len(p.steps) == 0 {
		return contractx.ConsultStep{}, errors.New("script exhausted")
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	return step, nil
}

func (p *scriptedProvider) Synthesize(context.Context, contractx.SynthesizeRequest) (contractx.TextStream, error) {
	return nil, errors.New("not used")
}

type recordingGateway struct {
	batches [][]contractx.ToolCall
	err     error
}

func (g *recordingGateway) Execute(_ context.Context, _ contractx.TurnContext, _ contractx.ExpertIdentity, calls []contractx.ToolCall) ([]contractx.ToolInvocationResult, error) {
	g.batches = append(g.batches, calls)
	if g.err != nil {
		return nil, g.err
	}
	out := make([]contractx.ToolInvocationResult, len(calls))
	for i, c := range calls {
		out[i] = contractx.ToolInvocationResult{CallID: c.ID, Tool: c.Name, Outcome: contractx.OutcomeSuccess, Output: "ok:" + c.ID}
	}
	return out, nil
}

func newInvoker(t *testing.T, budget int, provider contractx.Provider, gateway contractx.ToolGateway) *Invoker {
	t.Helper()
	inv, err := NewInvoker(Profile{
		Identity:   contractx.ExpertFinance,
		Persona:    "finance persona",
		StepBudget: budget,
	}, provider, gateway, nil)
	if err != nil {
		t.Fatalf("NewInvoker() error = %v", err)
	}
	return inv
}

var (
	tc           = contractx.TurnContext{SessionID: "s-1", TurnID: "t-1"}
	conversation = []contractx.Message{{Role: contractx.MessageUser, Content: "how much did I spend?"}}
)

func toolStep(ids ...string) contractx.ConsultStep {
	calls := make([]contractx.ToolCall, 0, len(ids))
	for _, id := range ids {
		calls = append(calls, contractx.ToolCall{ID: id, Name: "get_ledger", Arguments: `{}`})
	}
	return contractx.ConsultStep{ToolCalls: calls}
}

func TestConsultReturnsFinalText(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{steps: []contractx.ConsultStep{{Text: "  You spent 40.  "}}}
	finding, err := newInvoker(t, 3, provider, &recordingGateway{}).Consult(context.Background(), tc, conversation, nil)
	if err != nil {
		t.Fatalf("Consult() error = %v", err)
	}
	want := contractx.ExpertFinding{Expert: contractx.ExpertFinance, Text: "You spent 40."}
	if diff := cmp.Diff(want, finding); diff != "" {
		t.Fatalf("finding mismatch (-want +got):\n%s", diff)
	}
}

func TestConsultFeedsToolResultsBack(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{steps: []contractx.ConsultStep{
		toolStep("a", "b"),
		{Text: "Balance is 10."},
	}}
	gateway := &recordingGateway{}
	finding, err := newInvoker(t, 3, provider, gateway).Consult(context.Background(), tc, conversation, nil)
	if err != nil {
		t.Fatalf("Consult() error = %v", err)
	}
	if finding.Text != "Balance is 10." {
		t.Fatalf("finding = %+v", finding)
	}
	if len(gateway.batches) != 1 || len(gateway.batches[0]) != 2 {
		t.Fatalf("gateway batches = %+v", gateway.batches)
	}

	second := provider.requests[1].Messages
	if len(second) != 4 {
		t.Fatalf("expected user, assistant and two tool messages, got %+v", second)
	}
	if second[1].Role != contractx.MessageAssistant || len(second[1].ToolCalls) != 2 {
		t.Fatalf("assistant tool-call message missing: %+v", second[1])
	}
	if second[2].ToolCallID != "a" || second[3].ToolCallID != "b" || second[3].Content != "ok:b" {
		t.Fatalf("tool results misaligned: %+v", second[2:])
	}
}

func TestConsultBudgetExhaustedWithoutText(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{steps: []contractx.ConsultStep{toolStep("a"), toolStep("b")}}
	gateway := &recordingGateway{}
	finding, err := newInvoker(t, 2, provider, gateway).Consult(context.Background(), tc, conversation, nil)
	if err != nil {
		t.Fatalf("Consult() error = %v", err)
	}
	if finding.Text != contractx.NoAnswerMarker || finding.Answered() {
		t.Fatalf("finding = %+v, want no-answer marker", finding)
	}
	if len(provider.requests) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(provider.requests))
	}
	if len(gateway.batches) != 1 {
		t.Fatalf("tools of the last step must not run, batches = %d", len(gateway.batches))
	}
}

func TestConsultBudgetExhaustedKeepsLastText(t *testing.T) {
	t.Parallel()

	step := toolStep("a")
	step.Text = "Checking the ledger."
	provider := &scriptedProvider{steps: []contractx.ConsultStep{step}}
	finding, err := newInvoker(t, 1, provider, &recordingGateway{}).Consult(context.Background(), tc, conversation, nil)
	if err != nil {
		t.Fatalf("Consult() error = %v", err)
	}
	if finding.Text != "Checking the ledger." {
		t.Fatalf("finding = %+v", finding)
	}
}

func TestConsultSeesEarlierFindings(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{steps: []contractx.ConsultStep{{Text: "done"}}}
	findings := []contractx.ExpertFinding{{Expert: contractx.ExpertScheduling, Text: "Today is 2026-03-14."}}
	if _, err := newInvoker(t, 1, provider, &recordingGateway{}).Consult(context.Background(), tc, conversation, findings); err != nil {
		t.Fatalf("Consult() error = %v", err)
	}

	msgs := provider.requests[0].Messages
	last := msgs[len(msgs)-1]
	if last.Role != contractx.MessageSystem || !strings.Contains(last.Content, "[scheduling]") || !strings.Contains(last.Content, "2026-03-14") {
		t.Fatalf("findings not visible: %+v", last)
	}
	if len(conversation) != 1 {
		t.Fatal("caller conversation must not be modified")
	}
}

func TestConsultPropagatesFaults(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{err: contractx.ErrModelInvoke}
	if _, err := newInvoker(t, 3, provider, &recordingGateway{}).Consult(context.Background(), tc, conversation, nil); !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("Consult() error = %v, want ErrModelInvoke", err)
	}

	provider = &scriptedProvider{steps: []contractx.ConsultStep{toolStep("a")}}
	gateway := &recordingGateway{err: contractx.ErrToolArguments}
	if _, err := newInvoker(t, 3, provider, gateway).Consult(context.Background(), tc, conversation, nil); !errors.Is(err, contractx.ErrToolArguments) {
		t.Fatalf("Consult() error = %v, want ErrToolArguments", err)
	}
}

func TestConsultStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := &scriptedProvider{steps: []contractx.ConsultStep{{Text: "late"}}}
	if _, err := newInvoker(t, 3, provider, &recordingGateway{}).Consult(ctx, tc, conversation, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Consult() error = %v, want context.Canceled", err)
	}
	if len(provider.requests) != 0 {
		t.Fatal("provider must not be called after cancellation")
	}
}

func TestRegistryBuildsEveryExpert(t *testing.T) {
	t.Parallel()

	profiles, err := Profiles(promptx.LoadPromptSet(), llmx.DefaultStepBudgets, toolx.NewRegistry())
	if err != nil {
		t.Fatalf("Profiles() error = %v", err)
	}
	reg, err := NewRegistry(profiles, &scriptedProvider{}, &recordingGateway{}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	for _, id := range contractx.ExpertIdentities {
		e, ok := reg.Expert(id)
		if !ok || e.Identity() != id {
			t.Fatalf("missing expert %s", id)
		}
	}
	if profiles[1].StepBudget != 5 || len(profiles[1].Tools) != 3 {
		t.Fatalf("finance profile = %+v", profiles[1])
	}
}

func TestNewInvokerRejectsBadProfile(t *testing.T) {
	t.Parallel()

	_, err := NewInvoker(Profile{Identity: contractx.ExpertHealth, Persona: "p", StepBudget: 0}, &scriptedProvider{}, &recordingGateway{}, nil)
	if !errors.Is(err, contractx.ErrConfiguration) {
		t.Fatalf("NewInvoker() error = %v, want ErrConfiguration", err)
	}
}
