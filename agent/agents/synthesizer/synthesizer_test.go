package synthesizer

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

type sliceStream struct {
	chunks []string
	err    error
	closed bool
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *sliceStream) Close() { s.closed = true }

type streamProvider struct {
	stream  *sliceStream
	openErr error
	request contractx.SynthesizeRequest
}

func (p *streamProvider) Classify(context.Context, contractx.ClassifyRequest) ([]string, error) {
	return nil, errors.New("not used")
}

func (p *streamProvider) Consult(context.Context, contractx.ConsultRequest) (contractx.ConsultStep, error) {
	return contractx.ConsultStep{}, errors.New("not used")
}

func (p *streamProvider) Synthesize(_ context.Context, req contractx.SynthesizeRequest) (contractx.TextStream, error) {
	p.request = req
	if p.openErr != nil {
		return nil, p.openErr
	}
	return p.stream, nil
}

func TestSynthesizeStreamsDeltasInOrder(t *testing.T) {
	t.Parallel()

	provider := &streamProvider{stream: &sliceStream{chunks: []string{"Your balance ", "is 40", "."}}}
	rec := &contractx.FrameRecorder{}
	tc := contractx.TurnContext{SessionID: "s-1", TurnID: "t-1", Sink: rec}

	text, err := New(provider, "synth").Synthesize(context.Background(), tc,
		[]contractx.Message{{Role: contractx.MessageUser, Content: "balance?"}},
		[]contractx.ExpertFinding{{Expert: contractx.ExpertFinance, Text: "Balance 40"}},
	)
	require.NoError(t, err)
	assert.Equal(t, "Your balance is 40.", text)
	assert.True(t, provider.stream.closed)

	deltas := rec.OfType(contractx.FrameTextDelta)
	require.Len(t, deltas, 3)
	assert.Equal(t, "is 40", deltas[1].Delta)
	assert.Equal(t, "t-1", deltas[1].TurnID)

	msgs := provider.request.Messages
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "Balance 40")
	assert.NotContains(t, msgs[1].Content, "finance", "findings are not attributed to experts")
}

func TestSynthesizeWithoutFindings(t *testing.T) {
	t.Parallel()

	provider := &streamProvider{stream: &sliceStream{chunks: []string{"Hi!"}}}
	text, err := New(provider, "synth").Synthesize(context.Background(), contractx.TurnContext{TurnID: "t"},
		[]contractx.Message{{Role: contractx.MessageUser, Content: "hello"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi!", text)
	assert.Len(t, provider.request.Messages, 1)
}

func TestSynthesizeStreamFailure(t *testing.T) {
	t.Parallel()

	provider := &streamProvider{stream: &sliceStream{chunks: []string{"part"}, err: contractx.ErrModelInvoke}}
	_, err := New(provider, "synth").Synthesize(context.Background(), contractx.TurnContext{}, nil, nil)
	assert.ErrorIs(t, err, contractx.ErrModelInvoke)
	assert.True(t, provider.stream.closed)

	provider = &streamProvider{openErr: contractx.ErrModelInvoke}
	_, err = New(provider, "synth").Synthesize(context.Background(), contractx.TurnContext{}, nil, nil)
	assert.True(t, strings.Contains(err.Error(), "start synthesis"))
}
