package contract

import (
	"context"
	"encoding/json"
	"sync"
)

type FrameType string

const (
	FrameTextDelta           FrameType = "text-delta"
	FrameConfirmationRequest FrameType = "confirmation-request"
	FrameError               FrameType = "error"
	FrameFinish              FrameType = "finish"
)

type ConfirmationRequest struct {
	CorrelationID string          `json:"correlation_id"`
	SessionID     string          `json:"session_id"`
	Expert        ExpertIdentity  `json:"expert"`
	Tool          string          `json:"tool"`
	Arguments     json.RawMessage `json:"arguments"`
}

type Frame struct {
	Type         FrameType            `json:"type"`
	TurnID       string               `json:"turn_id"`
	Delta        string               `json:"delta,omitempty"`
	Confirmation *ConfirmationRequest `json:"confirmation,omitempty"`
	Message      string               `json:"message,omitempty"`
	Turn         *ConversationTurn    `json:"turn,omitempty"`
}

// FrameSink receives stream frames. Implementations must be safe for concurrent use:
// confirmation frames of one tool batch may be emitted from several goroutines.
type FrameSink interface {
	Emit(ctx context.Context, frame Frame) error
}

type FrameSinkFunc func(ctx context.Context, frame Frame) error

func (f FrameSinkFunc) Emit(ctx context.Context, frame Frame) error {
	return f(ctx, frame)
}

// DiscardSink drops every frame.
var DiscardSink FrameSink = FrameSinkFunc(func(context.Context, Frame) error { return nil })

// FrameRecorder keeps every frame in memory.
type FrameRecorder struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *FrameRecorder) Emit(_ context.Context, frame Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return nil
}

func (r *FrameRecorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...)
}

func (r *FrameRecorder) OfType(t FrameType) []Frame {
	var out []Frame
	for _, f := range r.Frames() {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}
