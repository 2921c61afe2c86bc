package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
	historyx "github.com/tanpawarit/chative-experts/agent/history"
	nodex "github.com/tanpawarit/chative-experts/agent/nodes/orchestrator"
	metricsx "github.com/tanpawarit/chative-experts/pkg/metrics"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidSession = nodex.ErrInvalidSession
)

const DefaultHistoryLimit = 40

type Deps struct {
	Router      contractx.Router
	Experts     contractx.ExpertRegistry
	Synthesizer contractx.Synthesizer
	History     historyx.Store
}

type Option func(*Orchestrator)

func WithMetrics(m *metricsx.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// WithHistoryLimit caps how many stored turns are replayed to the models; <= 0 replays all.
func WithHistoryLimit(limit int) Option {
	return func(o *Orchestrator) { o.historyLimit = limit }
}

// Orchestrator runs one conversation turn: route, consult experts in plan order, synthesize.
type Orchestrator struct {
	router      contractx.Router
	experts     contractx.ExpertRegistry
	synthesizer contractx.Synthesizer
	history     historyx.Store
	metrics     *metricsx.Metrics

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	historyLimit int
	now          func() time.Time
	newID        func() string
}

func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Router == nil {
		return nil, fmt.Errorf("%w: router is required", contractx.ErrConfiguration)
	}
	if deps.Experts == nil {
		return nil, fmt.Errorf("%w: expert registry is required", contractx.ErrConfiguration)
	}
	if deps.Synthesizer == nil {
		return nil, fmt.Errorf("%w: synthesizer is required", contractx.ErrConfiguration)
	}
	if deps.History == nil {
		deps.History = historyx.NewMemoryStore()
	}

	o := &Orchestrator{
		router:       deps.Router,
		experts:      deps.Experts,
		synthesizer:  deps.Synthesizer,
		history:      deps.History,
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}

	graphRunner, err := o.compileHandleTurnGraph(context.Background())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrConfiguration, err)
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleTurn answers one user message. Frames go to sink; the last frame is always
// either finish (carrying the assistant turn) or error with a generic notice.
// A failed turn returns an error wrapping contract.ErrTurnAborted and persists nothing.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, content string, sink contractx.FrameSink) (contractx.ConversationTurn, error) {
	if sink == nil {
		sink = contractx.DiscardSink
	}
	turnID := o.newID()

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		SessionID: sessionID,
		TurnID:    turnID,
		Content:   content,
		Sink:      sink,
	})
	if err != nil {
		return contractx.ConversationTurn{}, o.abort(ctx, sessionID, turnID, sink, err)
	}

	turn := out.Turn
	if err := sink.Emit(ctx, contractx.Frame{Type: contractx.FrameFinish, TurnID: turnID, Turn: &turn}); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Str("turn_id", turnID).Msg("emit finish frame failed")
	}
	o.metrics.Turn("completed")

	log.Info().
		Str("session_id", sessionID).
		Str("turn_id", turnID).
		Interface("plan", out.Plan).
		Int("findings", len(out.Findings)).
		Msg("turn completed")
	return turn, nil
}

func (o *Orchestrator) abort(ctx context.Context, sessionID, turnID string, sink contractx.FrameSink, cause error) error {
	outcome := "aborted"
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		outcome = "canceled"
	}
	o.metrics.Turn(outcome)

	log.Error().Err(cause).
		Str("session_id", sessionID).
		Str("turn_id", turnID).
		Str("outcome", outcome).
		Msg("turn aborted")

	frame := contractx.Frame{Type: contractx.FrameError, TurnID: turnID, Message: contractx.GenericFailureNotice}
	if err := sink.Emit(context.WithoutCancel(ctx), frame); err != nil {
		log.Warn().Err(err).Str("turn_id", turnID).Msg("emit error frame failed")
	}
	return fmt.Errorf("%w: %w", contractx.ErrTurnAborted, cause)
}
