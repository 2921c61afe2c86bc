package provider

import (
	"context"
	"fmt"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
	metricsx "github.com/tanpawarit/chative-experts/pkg/metrics"
)

// Classifier is the classify mode of the provider.
type Classifier interface {
	Classify(ctx context.Context, req contractx.ClassifyRequest) ([]string, error)
}

// Provider implements contract.Provider on eino chat models. Classification is
// delegated so it can use a strict JSON schema endpoint.
type Provider struct {
	classifier  Classifier
	expert      einomodel.ToolCallingChatModel
	synthesizer einomodel.BaseChatModel
	metrics     *metricsx.Metrics
}

var _ contractx.Provider = (*Provider)(nil)

type Option func(*Provider)

func WithMetrics(m *metricsx.Metrics) Option {
	return func(p *Provider) { p.metrics = m }
}

func New(classifier Classifier, expert einomodel.ToolCallingChatModel, synthesizer einomodel.BaseChatModel, opts ...Option) (*Provider, error) {
	if classifier == nil || expert == nil || synthesizer == nil {
		return nil, fmt.Errorf("%w: provider needs a classifier, an expert model and a synthesizer model", contractx.ErrConfiguration)
	}
	p := &Provider{classifier: classifier, expert: expert, synthesizer: synthesizer}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Classify(ctx context.Context, req contractx.ClassifyRequest) ([]string, error) {
	defer p.metrics.ObserveProvider("classify", time.Now())
	return p.classifier.Classify(ctx, req)
}

// Consult runs one model step with the expert's tools bound.
func (p *Provider) Consult(ctx context.Context, req contractx.ConsultRequest) (contractx.ConsultStep, error) {
	defer p.metrics.ObserveProvider("consult", time.Now())

	chatModel := p.expert
	if len(req.Tools) > 0 {
		bound, err := p.expert.WithTools(toToolInfos(req.Tools))
		if err != nil {
			return contractx.ConsultStep{}, fmt.Errorf("%w: bind tools for %s: %v", contractx.ErrModelInvoke, req.Expert, err)
		}
		chatModel = bound
	}

	msg, err := chatModel.Generate(ctx, toSchemaMessages(req.Persona, req.Messages))
	if err != nil {
		return contractx.ConsultStep{}, fmt.Errorf("%w: consult %s: %v", contractx.ErrModelInvoke, req.Expert, err)
	}
	if msg == nil {
		return contractx.ConsultStep{}, fmt.Errorf("%w: consult %s: empty response", contractx.ErrModelInvoke, req.Expert)
	}
	return contractx.ConsultStep{
		Text:      msg.Content,
		ToolCalls: fromSchemaToolCalls(msg.ToolCalls),
	}, nil
}

func (p *Provider) Synthesize(ctx context.Context, req contractx.SynthesizeRequest) (contractx.TextStream, error) {
	defer p.metrics.ObserveProvider("synthesize", time.Now())

	reader, err := p.synthesizer.Stream(ctx, toSchemaMessages(req.Persona, req.Messages))
	if err != nil {
		return nil, fmt.Errorf("%w: synthesize: %v", contractx.ErrModelInvoke, err)
	}
	return &messageStream{reader: reader}, nil
}
