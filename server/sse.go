package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

// sseSink writes frames as server-sent events. Emit is called from the turn
// goroutine and from concurrent tool confirmations, so writes are serialized.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

var _ contractx.FrameSink = (*sseSink)(nil)

func newSSESink(w http.ResponseWriter) (*sseSink, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseSink{w: w, flusher: flusher}, true
}

func (s *sseSink) Emit(ctx context.Context, frame contractx.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", frame.Type, data); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Type, err)
	}
	s.flusher.Flush()
	return nil
}
