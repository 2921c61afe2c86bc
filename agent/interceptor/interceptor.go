package interceptor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
	statex "github.com/tanpawarit/chative-experts/agent/state"
	toolx "github.com/tanpawarit/chative-experts/agent/tool"
	metricsx "github.com/tanpawarit/chative-experts/pkg/metrics"
)

// Notifier pushes a confirmation request to a channel outside the turn stream.
type Notifier interface {
	NotifyConfirmation(ctx context.Context, req contractx.ConfirmationRequest) error
}

type Option func(*Interceptor)

func WithNotifier(n Notifier) Option {
	return func(i *Interceptor) { i.notifier = n }
}

func WithMetrics(m *metricsx.Metrics) Option {
	return func(i *Interceptor) { i.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(i *Interceptor) {
		if now != nil {
			i.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(i *Interceptor) {
		if gen != nil {
			i.newID = gen
		}
	}
}

// unknownToolLabel keeps model-supplied names out of the metric label space.
const unknownToolLabel = "unknown"

type pendingInvocation struct {
	sessionID string
	decision  chan contractx.Decision
	// waiting is the waiting turn's ctx.Done; done is closed once await returns.
	waiting <-chan struct{}
	done    chan struct{}
}

func (p *pendingInvocation) live() bool {
	select {
	case <-p.done:
		return false
	case <-p.waiting:
		return false
	default:
		return true
	}
}

// Interceptor sits between an expert's tool calls and their side effects. It is
// both the ToolGateway experts call and the Confirmer the transport resumes.
type Interceptor struct {
	registry *toolx.Registry
	store    statex.Store
	locker   statex.Locker
	notifier Notifier
	metrics  *metricsx.Metrics
	now      func() time.Time
	newID    func() string

	mu      sync.Mutex
	pending map[string]*pendingInvocation
}

var (
	_ contractx.ToolGateway = (*Interceptor)(nil)
	_ contractx.Confirmer   = (*Interceptor)(nil)
)

func New(registry *toolx.Registry, store statex.Store, locker statex.Locker, opts ...Option) *Interceptor {
	if locker == nil {
		locker = statex.NewLocalLocker()
	}
	i := &Interceptor{
		registry: registry,
		store:    store,
		locker:   locker,
		now:      time.Now,
		newID:    uuid.NewString,
		pending:  make(map[string]*pendingInvocation),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Execute runs one batch of tool calls. Results are placed by call index, so they
// line up with calls whatever order the invocations finish in. A returned error
// aborts the turn: malformed arguments or a cancelled context while waiting.
func (i *Interceptor) Execute(ctx context.Context, tc contractx.TurnContext, expert contractx.ExpertIdentity, calls []contractx.ToolCall) ([]contractx.ToolInvocationResult, error) {
	decoded := make([]toolx.Params, len(calls))
	for idx, call := range calls {
		params, err := toolx.Decode(call.Name, call.Arguments)
		switch {
		case errors.Is(err, contractx.ErrUnknownTool):
			continue
		case err != nil:
			return nil, err
		}
		decoded[idx] = params
	}

	results := make([]contractx.ToolInvocationResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for idx := range calls {
		g.Go(func() error {
			res, err := i.invoke(gctx, tc, expert, calls[idx], decoded[idx])
			if err != nil {
				return err
			}
			results[idx] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (i *Interceptor) invoke(ctx context.Context, tc contractx.TurnContext, expert contractx.ExpertIdentity, call contractx.ToolCall, params toolx.Params) (contractx.ToolInvocationResult, error) {
	logger := log.With().
		Str("session_id", tc.SessionID).
		Str("turn_id", tc.TurnID).
		Str("expert", string(expert)).
		Str("tool", call.Name).
		Logger()

	def, known := i.registry.Lookup(call.Name)
	label := call.Name
	if params == nil || !known {
		label = unknownToolLabel
	}

	inv := &invocation{phase: PhaseRequested}
	result := contractx.ToolInvocationResult{
		CallID:    call.ID,
		Tool:      call.Name,
		Arguments: rawArguments(call.Arguments),
	}
	finish := func(outcome contractx.Outcome, output, reason string) (contractx.ToolInvocationResult, error) {
		result.Outcome, result.Output, result.Reason = outcome, output, reason
		i.metrics.ToolOutcome(label, string(outcome))
		logger.Debug().Str("phase", string(inv.phase)).Str("outcome", string(outcome)).Msg("tool invocation resolved")
		return result, nil
	}

	if params == nil || !known {
		_ = inv.advance(PhaseFailed)
		return finish(contractx.OutcomeFailed, "", fmt.Sprintf("unknown tool %q", call.Name))
	}
	if def.Expert != expert {
		_ = inv.advance(PhaseFailed)
		return finish(contractx.OutcomeFailed, "", fmt.Sprintf("tool %s is not available to the %s expert", call.Name, expert))
	}

	req := contractx.ToolInvocationRequest{
		CallID:               call.ID,
		Tool:                 call.Name,
		Arguments:            result.Arguments,
		RequiresConfirmation: def.RequiresConfirmation,
	}
	if req.RequiresConfirmation {
		if err := inv.advance(PhasePendingConfirmation); err != nil {
			return result, err
		}
		decision, err := i.await(ctx, tc, expert, req)
		if err != nil {
			logger.Info().Err(err).Msg("confirmation abandoned")
			return result, err
		}
		if decision == contractx.DecisionDecline {
			_ = inv.advance(PhaseDeclined)
			return finish(contractx.OutcomeDeclined, "", "declined by user")
		}
		_ = inv.advance(PhaseApproved)
	} else if err := inv.advance(PhaseAutoApproved); err != nil {
		return result, err
	}

	output, err := i.apply(ctx, tc, params)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		_ = inv.advance(PhaseFailed)
		logger.Warn().Err(err).Msg("tool execution failed")
		return finish(contractx.OutcomeFailed, "", err.Error())
	}
	_ = inv.advance(PhaseExecuted)
	return finish(contractx.OutcomeSuccess, output, "")
}

// apply runs the side effect while holding the session lock so mutations of one
// session are applied one at a time.
func (i *Interceptor) apply(ctx context.Context, tc contractx.TurnContext, params toolx.Params) (string, error) {
	unlock, err := i.locker.Lock(ctx, tc.SessionID)
	if err != nil {
		return "", fmt.Errorf("lock session: %w", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Str("session_id", tc.SessionID).Msg("failed to release session lock")
		}
	}()

	return toolx.Execute(ctx, toolx.Env{
		SessionID: tc.SessionID,
		Store:     i.store,
		Now:       i.now,
	}, params)
}

func (i *Interceptor) await(ctx context.Context, tc contractx.TurnContext, expert contractx.ExpertIdentity, request contractx.ToolInvocationRequest) (contractx.Decision, error) {
	correlationID := i.newID()
	p := &pendingInvocation{
		sessionID: tc.SessionID,
		decision:  make(chan contractx.Decision, 1),
		waiting:   ctx.Done(),
		done:      make(chan struct{}),
	}

	i.mu.Lock()
	i.pending[correlationID] = p
	i.mu.Unlock()
	i.metrics.ConfirmationPending(1)
	defer func() {
		i.forget(correlationID, p)
		i.metrics.ConfirmationPending(-1)
	}()

	req := contractx.ConfirmationRequest{
		CorrelationID: correlationID,
		SessionID:     tc.SessionID,
		Expert:        expert,
		Tool:          request.Tool,
		Arguments:     request.Arguments,
	}
	sink := tc.Sink
	if sink == nil {
		sink = contractx.DiscardSink
	}
	if err := sink.Emit(ctx, contractx.Frame{
		Type:         contractx.FrameConfirmationRequest,
		TurnID:       tc.TurnID,
		Confirmation: &req,
	}); err != nil {
		return "", fmt.Errorf("emit confirmation request: %w", err)
	}
	if i.notifier != nil {
		if err := i.notifier.NotifyConfirmation(ctx, req); err != nil {
			log.Warn().Err(err).Str("correlation_id", correlationID).Msg("confirmation notification failed")
		}
	}

	log.Info().
		Str("session_id", tc.SessionID).
		Str("correlation_id", correlationID).
		Str("tool", request.Tool).
		Msg("waiting for confirmation")

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case d := <-p.decision:
		return d, nil
	}
}

func (i *Interceptor) forget(correlationID string, p *pendingInvocation) {
	i.mu.Lock()
	delete(i.pending, correlationID)
	close(p.done)
	i.mu.Unlock()
}

// Resolve delivers a decision to exactly the invocation waiting on correlationID.
// A decision for a turn that was canceled or has stopped waiting is rejected
// with ErrConfirmationNotFound and applies nothing.
func (i *Interceptor) Resolve(_ context.Context, correlationID string, decision contractx.Decision) error {
	if _, err := contractx.ParseDecision(string(decision)); err != nil {
		return err
	}

	i.mu.Lock()
	p, ok := i.pending[correlationID]
	if !ok {
		i.mu.Unlock()
		return fmt.Errorf("%w: %s", contractx.ErrConfirmationNotFound, correlationID)
	}
	delete(i.pending, correlationID)
	live := p.live()
	if live {
		// buffered and the entry is gone, so this never blocks
		p.decision <- decision
	}
	i.mu.Unlock()
	if !live {
		return fmt.Errorf("%w: %s: turn is no longer waiting", contractx.ErrConfirmationNotFound, correlationID)
	}

	log.Info().
		Str("session_id", p.sessionID).
		Str("correlation_id", correlationID).
		Str("decision", string(decision)).
		Msg("confirmation resolved")
	return nil
}

// PendingCount reports how many invocations are waiting for a decision.
func (i *Interceptor) PendingCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.pending)
}

func rawArguments(arguments string) json.RawMessage {
	if json.Valid([]byte(arguments)) {
		return json.RawMessage(arguments)
	}
	return json.RawMessage("{}")
}
