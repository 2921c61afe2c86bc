package interceptor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
	statex "github.com/tanpawarit/chative-experts/agent/state"
	toolx "github.com/tanpawarit/chative-experts/agent/tool"
	metricsx "github.com/tanpawarit/chative-experts/pkg/metrics"
	qstashx "github.com/tanpawarit/chative-experts/pkg/qstash"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type confirmationSink struct {
	ch chan contractx.ConfirmationRequest
}

func newConfirmationSink() *confirmationSink {
	return &confirmationSink{ch: make(chan contractx.ConfirmationRequest, 8)}
}

func (s *confirmationSink) Emit(_ context.Context, f contractx.Frame) error {
	if f.Type == contractx.FrameConfirmationRequest {
		s.ch <- *f.Confirmation
	}
	return nil
}

func (s *confirmationSink) next(t *testing.T) contractx.ConfirmationRequest {
	t.Helper()
	select {
	case req := <-s.ch:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no confirmation request emitted")
		return contractx.ConfirmationRequest{}
	}
}

type fixture struct {
	store *statex.MemoryStore
	icpt  *Interceptor
	sink  *confirmationSink
	tc    contractx.TurnContext
}

func newFixture(opts ...Option) *fixture {
	store := statex.NewMemoryStore()
	var seq atomic.Int64
	opts = append([]Option{
		WithClock(func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }),
		WithIDGenerator(func() string { return fmt.Sprintf("corr-%d", seq.Add(1)) }),
	}, opts...)
	sink := newConfirmationSink()
	return &fixture{
		store: store,
		icpt:  New(toolx.NewRegistry(), store, statex.NewLocalLocker(), opts...),
		sink:  sink,
		tc:    contractx.TurnContext{SessionID: "s-1", TurnID: "t-1", Sink: sink},
	}
}

type execResult struct {
	results []contractx.ToolInvocationResult
	err     error
}

func (f *fixture) executeAsync(ctx context.Context, expert contractx.ExpertIdentity, calls ...contractx.ToolCall) <-chan execResult {
	done := make(chan execResult, 1)
	go func() {
		res, err := f.icpt.Execute(ctx, f.tc, expert, calls)
		done <- execResult{res, err}
	}()
	return done
}

func ledgerCall(id string) contractx.ToolCall {
	return contractx.ToolCall{ID: id, Name: "add_ledger_entry", Arguments: `{"date":"2026-03-14","description":"lunch","amount":-12.5}`}
}

func ledgerLen(t *testing.T, store statex.Store) int {
	t.Helper()
	st, err := store.Get(context.Background(), "s-1")
	require.NoError(t, err)
	return len(st.LedgerEntries)
}

func TestAutoApprovedToolExecutesImmediately(t *testing.T) {
	f := newFixture()

	results, err := f.icpt.Execute(context.Background(), f.tc, contractx.ExpertHealth, []contractx.ToolCall{
		{ID: "c1", Name: "set_weight", Arguments: `{"kg":70}`},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, contractx.OutcomeSuccess, results[0].Outcome)

	st, err := f.store.Get(context.Background(), "s-1")
	require.NoError(t, err)
	require.NotNil(t, st.Weight)
	assert.Equal(t, 70.0, *st.Weight)
}

func TestConfirmationApproveAppliesSideEffect(t *testing.T) {
	f := newFixture()
	done := f.executeAsync(context.Background(), contractx.ExpertFinance, ledgerCall("c1"))

	req := f.sink.next(t)
	assert.Equal(t, "add_ledger_entry", req.Tool)
	assert.Equal(t, contractx.ExpertFinance, req.Expert)
	assert.JSONEq(t, `{"date":"2026-03-14","description":"lunch","amount":-12.5}`, string(req.Arguments))
	assert.Equal(t, 0, ledgerLen(t, f.store), "no mutation before approval")

	require.NoError(t, f.icpt.Resolve(context.Background(), req.CorrelationID, contractx.DecisionApprove))

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, contractx.OutcomeSuccess, out.results[0].Outcome)
	assert.Equal(t, 1, ledgerLen(t, f.store))
	assert.Equal(t, 0, f.icpt.PendingCount())
}

func TestConfirmationDeclineLeavesStateUnchanged(t *testing.T) {
	f := newFixture()
	done := f.executeAsync(context.Background(), contractx.ExpertFinance, ledgerCall("c1"))

	req := f.sink.next(t)
	require.NoError(t, f.icpt.Resolve(context.Background(), req.CorrelationID, contractx.DecisionDecline))

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, contractx.OutcomeDeclined, out.results[0].Outcome)
	assert.Contains(t, out.results[0].Content(), "declined")
	assert.Equal(t, 0, ledgerLen(t, f.store))
}

func TestConfirmationResumesOnlyTargetedInvocation(t *testing.T) {
	f := newFixture()
	done := f.executeAsync(context.Background(), contractx.ExpertFinance, ledgerCall("c1"), ledgerCall("c2"))

	first, second := f.sink.next(t), f.sink.next(t)
	require.NotEqual(t, first.CorrelationID, second.CorrelationID)

	require.NoError(t, f.icpt.Resolve(context.Background(), first.CorrelationID, contractx.DecisionDecline))
	assert.Equal(t, 1, f.icpt.PendingCount())
	assert.ErrorIs(t, f.icpt.Resolve(context.Background(), first.CorrelationID, contractx.DecisionApprove), contractx.ErrConfirmationNotFound)
	require.NoError(t, f.icpt.Resolve(context.Background(), second.CorrelationID, contractx.DecisionApprove))

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, 1, ledgerLen(t, f.store))

	outcomes := 0
	for _, r := range out.results {
		if r.Outcome == contractx.OutcomeSuccess {
			outcomes++
		}
	}
	assert.Equal(t, 1, outcomes)
}

func TestCancelWhilePendingHasNoSideEffect(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := f.executeAsync(ctx, contractx.ExpertFinance, ledgerCall("c1"))

	req := f.sink.next(t)
	cancel()

	out := <-done
	assert.ErrorIs(t, out.err, context.Canceled)
	assert.Equal(t, 0, f.icpt.PendingCount())
	assert.ErrorIs(t, f.icpt.Resolve(context.Background(), req.CorrelationID, contractx.DecisionApprove), contractx.ErrConfirmationNotFound)
	assert.Equal(t, 0, ledgerLen(t, f.store))
}

func TestBatchResultsAlignWithRequests(t *testing.T) {
	f := newFixture()
	done := f.executeAsync(context.Background(), contractx.ExpertFinance,
		ledgerCall("slow"),
		contractx.ToolCall{ID: "calc", Name: "calculate", Arguments: `{"expression":"6*7"}`},
		contractx.ToolCall{ID: "ghost", Name: "teleport", Arguments: `{}`},
		contractx.ToolCall{ID: "div", Name: "calculate", Arguments: `{"expression":"1/0"}`},
	)

	req := f.sink.next(t)
	require.NoError(t, f.icpt.Resolve(context.Background(), req.CorrelationID, contractx.DecisionApprove))

	out := <-done
	require.NoError(t, out.err)
	require.Len(t, out.results, 4)

	ids := make([]string, 0, len(out.results))
	for _, r := range out.results {
		ids = append(ids, r.CallID)
	}
	assert.Equal(t, []string{"slow", "calc", "ghost", "div"}, ids)
	assert.Equal(t, contractx.OutcomeSuccess, out.results[0].Outcome)
	assert.Contains(t, out.results[1].Output, "42")
	assert.Equal(t, contractx.OutcomeFailed, out.results[2].Outcome)
	assert.Equal(t, contractx.OutcomeFailed, out.results[3].Outcome)
	assert.Contains(t, out.results[3].Reason, "division by zero")
}

func TestMalformedArgumentsAbortBatch(t *testing.T) {
	f := newFixture()

	_, err := f.icpt.Execute(context.Background(), f.tc, contractx.ExpertHealth, []contractx.ToolCall{
		{ID: "c1", Name: "set_weight", Arguments: `{"kg":"heavy"}`},
	})
	assert.ErrorIs(t, err, contractx.ErrToolArguments)
}

func TestToolOfAnotherExpertFails(t *testing.T) {
	f := newFixture()

	results, err := f.icpt.Execute(context.Background(), f.tc, contractx.ExpertScheduling, []contractx.ToolCall{
		{ID: "c1", Name: "set_height", Arguments: `{"cm":180}`},
	})
	require.NoError(t, err)
	assert.Equal(t, contractx.OutcomeFailed, results[0].Outcome)

	st, err := f.store.Get(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Nil(t, st.Height)
}

func TestResolveRejectsUnknownDecision(t *testing.T) {
	f := newFixture()
	assert.ErrorIs(t, f.icpt.Resolve(context.Background(), "corr-1", contractx.Decision("maybe")), contractx.ErrValidation)
	assert.ErrorIs(t, f.icpt.Resolve(context.Background(), "corr-404", contractx.DecisionApprove), contractx.ErrConfirmationNotFound)
}

func TestQStashNotifierPublishesRequest(t *testing.T) {
	published := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		published <- string(body)
		fmt.Fprint(w, `{"messageId":"m-1"}`)
	}))
	defer server.Close()

	client := qstashx.MustNew(qstashx.Config{URL: server.URL, Token: "tok"}, qstashx.WithHTTPClient(server.Client()))
	f := newFixture(WithNotifier(NewQStashNotifier(client, "https://hooks.example.com/confirm")))
	done := f.executeAsync(context.Background(), contractx.ExpertFinance, ledgerCall("c1"))

	req := f.sink.next(t)
	select {
	case body := <-published:
		assert.Contains(t, body, req.CorrelationID)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not published")
	}
	require.NoError(t, f.icpt.Resolve(context.Background(), req.CorrelationID, contractx.DecisionDecline))
	require.NoError(t, (<-done).err)
}

func TestNotifierFailureDoesNotBlockConfirmation(t *testing.T) {
	f := newFixture(WithNotifier(notifierFunc(func(context.Context, contractx.ConfirmationRequest) error {
		return errors.New("webhook down")
	})))
	done := f.executeAsync(context.Background(), contractx.ExpertFinance, ledgerCall("c1"))

	req := f.sink.next(t)
	require.NoError(t, f.icpt.Resolve(context.Background(), req.CorrelationID, contractx.DecisionApprove))
	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, contractx.OutcomeSuccess, out.results[0].Outcome)
}

type notifierFunc func(context.Context, contractx.ConfirmationRequest) error

func (f notifierFunc) NotifyConfirmation(ctx context.Context, req contractx.ConfirmationRequest) error {
	return f(ctx, req)
}

func TestPhaseTransitions(t *testing.T) {
	inv := &invocation{phase: PhaseRequested}
	require.NoError(t, inv.advance(PhasePendingConfirmation))
	assert.Error(t, inv.advance(PhaseExecuted), "pending invocation cannot execute without a decision")
	require.NoError(t, inv.advance(PhaseDeclined))
	assert.True(t, inv.phase.Terminal())
	assert.Error(t, inv.advance(PhaseApproved))
}

// contendedStore records how many weight updates run at once for one session.
type contendedStore struct {
	statex.Store
	active atomic.Int32
	peak   atomic.Int32
	calls  atomic.Int32
}

func (s *contendedStore) SetWeight(ctx context.Context, sessionID string, kg float64) error {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	s.calls.Add(1)
	time.Sleep(20 * time.Millisecond)
	return s.Store.SetWeight(ctx, sessionID, kg)
}

func TestSameSessionMutationsApplyOneAtATime(t *testing.T) {
	store := &contendedStore{Store: statex.NewMemoryStore()}
	icpt := New(toolx.NewRegistry(), store, statex.NewLocalLocker())
	tc := contractx.TurnContext{SessionID: "s-1", TurnID: "t-1", Sink: contractx.DiscardSink}

	results, err := icpt.Execute(context.Background(), tc, contractx.ExpertHealth, []contractx.ToolCall{
		{ID: "w1", Name: "set_weight", Arguments: `{"kg":70}`},
		{ID: "w2", Name: "set_weight", Arguments: `{"kg":71}`},
		{ID: "w3", Name: "set_weight", Arguments: `{"kg":72}`},
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, contractx.OutcomeSuccess, r.Outcome)
	}
	assert.EqualValues(t, 3, store.calls.Load())
	assert.EqualValues(t, 1, store.peak.Load())
}

func TestResolveAfterCancelIsRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var f *fixture
	resolveErr := make(chan error, 1)
	// the turn is canceled while its waiter is still registered
	f = newFixture(WithNotifier(notifierFunc(func(_ context.Context, req contractx.ConfirmationRequest) error {
		cancel()
		resolveErr <- f.icpt.Resolve(context.Background(), req.CorrelationID, contractx.DecisionApprove)
		return nil
	})))

	_, err := f.icpt.Execute(ctx, f.tc, contractx.ExpertFinance, []contractx.ToolCall{ledgerCall("c1")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, <-resolveErr, contractx.ErrConfirmationNotFound)
	assert.Equal(t, 0, ledgerLen(t, f.store))
	assert.Equal(t, 0, f.icpt.PendingCount())
}

func TestUnknownToolOutcomeUsesFixedLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(WithMetrics(metricsx.New(reg)))

	results, err := f.icpt.Execute(context.Background(), f.tc, contractx.ExpertHealth, []contractx.ToolCall{
		{ID: "g1", Name: "teleport", Arguments: `{}`},
		{ID: "g2", Name: "summon_dragon_9f2c", Arguments: `{}`},
		{ID: "w1", Name: "set_weight", Arguments: `{"kg":70}`},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	families, err := reg.Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "chative_tool_outcomes_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			var tool, outcome string
			for _, l := range m.GetLabel() {
				switch l.GetName() {
				case "tool":
					tool = l.GetValue()
				case "outcome":
					outcome = l.GetValue()
				}
			}
			counts[tool+"/"+outcome] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{
		"unknown/failed":     2,
		"set_weight/success": 1,
	}, counts)
}
