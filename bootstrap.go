package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	expertx "github.com/tanpawarit/chative-experts/agent/agents/expert"
	orchestratorx "github.com/tanpawarit/chative-experts/agent/agents/orchestrator"
	synthx "github.com/tanpawarit/chative-experts/agent/agents/synthesizer"
	contractx "github.com/tanpawarit/chative-experts/agent/contract"
	historyx "github.com/tanpawarit/chative-experts/agent/history"
	interceptorx "github.com/tanpawarit/chative-experts/agent/interceptor"
	llmx "github.com/tanpawarit/chative-experts/agent/llm"
	promptx "github.com/tanpawarit/chative-experts/agent/prompt"
	providerx "github.com/tanpawarit/chative-experts/agent/provider"
	routerx "github.com/tanpawarit/chative-experts/agent/router"
	statex "github.com/tanpawarit/chative-experts/agent/state"
	toolx "github.com/tanpawarit/chative-experts/agent/tool"
	configx "github.com/tanpawarit/chative-experts/pkg/config"
	metricsx "github.com/tanpawarit/chative-experts/pkg/metrics"
	openrouterx "github.com/tanpawarit/chative-experts/pkg/openrouter"
	qstashx "github.com/tanpawarit/chative-experts/pkg/qstash"
)

const (
	backendMemory   = "memory"
	backendRedis    = "redis"
	backendUpstash  = "upstash"
	backendPostgres = "postgres"
)

type AppConfig struct {
	StateBackend           string `envconfig:"STATE_BACKEND" default:"memory"`
	HistoryBackend         string `envconfig:"HISTORY_BACKEND" default:"memory"`
	HistoryLimit           int    `envconfig:"HISTORY_LIMIT" default:"40"`
	ConfirmationWebhookURL string `envconfig:"CONFIRMATION_WEBHOOK_URL"`
}

func (c *AppConfig) Validate() error {
	switch c.StateBackend {
	case backendMemory, backendRedis, backendUpstash:
	default:
		return fmt.Errorf("STATE_BACKEND must be memory, redis or upstash, got %q", c.StateBackend)
	}
	switch c.HistoryBackend {
	case backendMemory, backendPostgres:
	default:
		return fmt.Errorf("HISTORY_BACKEND must be memory or postgres, got %q", c.HistoryBackend)
	}
	return nil
}

// app is the fully wired process. Everything that can fail does so here, before
// the first turn is accepted.
type app struct {
	orchestrator *orchestratorx.Orchestrator
	interceptor  *interceptorx.Interceptor
	state        statex.Store
	history      historyx.Store
	metrics      *metricsx.Metrics
	verifier     *qstashx.Client

	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// bootstrap wires the application. inMemory forces memory state and history, used by ask.
func bootstrap(ctx context.Context, inMemory bool) (*app, error) {
	appCfg, err := configx.New[AppConfig]("")
	if err != nil {
		return nil, err
	}
	if inMemory {
		appCfg.StateBackend, appCfg.HistoryBackend = backendMemory, backendMemory
	}
	llmCfg, err := configx.New[llmx.Config]("OPENROUTER")
	if err != nil {
		return nil, err
	}
	budgets, err := configx.New[llmx.StepBudgets]("EXPERT")
	if err != nil {
		return nil, err
	}
	prompts := promptx.LoadPromptSet()
	if err := prompts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrConfiguration, err)
	}

	a := &app{metrics: metricsx.New(prometheus.NewRegistry())}
	fail := func(err error) (*app, error) {
		_ = a.Close()
		return nil, err
	}

	locker, err := a.wireState(appCfg.StateBackend)
	if err != nil {
		return fail(err)
	}
	if err := a.wireHistory(ctx, appCfg.HistoryBackend); err != nil {
		return fail(err)
	}

	provider, err := newProvider(ctx, *llmCfg, a.metrics)
	if err != nil {
		return fail(err)
	}

	icptOpts := []interceptorx.Option{interceptorx.WithMetrics(a.metrics)}
	notifier, verifier, err := newQStash(appCfg.ConfirmationWebhookURL)
	if err != nil {
		return fail(err)
	}
	if notifier != nil {
		icptOpts = append(icptOpts, interceptorx.WithNotifier(notifier))
	}
	a.verifier = verifier

	tools := toolx.NewRegistry()
	a.interceptor = interceptorx.New(tools, a.state, locker, icptOpts...)

	profiles, err := expertx.Profiles(prompts, *budgets, tools)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", contractx.ErrConfiguration, err))
	}
	experts, err := expertx.NewRegistry(profiles, provider, a.interceptor, a.metrics)
	if err != nil {
		return fail(err)
	}

	a.orchestrator, err = orchestratorx.New(orchestratorx.Deps{
		Router:      routerx.New(provider, prompts.Router),
		Experts:     experts,
		Synthesizer: synthx.New(provider, prompts.Synthesizer),
		History:     a.history,
	},
		orchestratorx.WithMetrics(a.metrics),
		orchestratorx.WithHistoryLimit(appCfg.HistoryLimit),
	)
	if err != nil {
		return fail(err)
	}

	log.Info().
		Str("state_backend", appCfg.StateBackend).
		Str("history_backend", appCfg.HistoryBackend).
		Bool("strict_classify", llmCfg.StrictClassify).
		Bool("confirmation_webhook", notifier != nil).
		Msg("application wired")
	return a, nil
}

func (a *app) wireState(backend string) (statex.Locker, error) {
	switch backend {
	case backendRedis:
		cfg, err := configx.New[statex.RedisConfig]("REDIS")
		if err != nil {
			return nil, err
		}
		store := statex.NewRedisStore(*cfg)
		a.state = store
		a.closers = append(a.closers, store.Close)
		return statex.NewRedisLocker(store.Client(), cfg.Prefix), nil
	case backendUpstash:
		cfg, err := configx.New[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		if err != nil {
			return nil, err
		}
		store, err := statex.NewUpstashRedisStore(*cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contractx.ErrConfiguration, err)
		}
		a.state = store
		// the REST API has no lock primitive; mutations are serialized per process
		return statex.NewLocalLocker(), nil
	default:
		a.state = statex.NewMemoryStore()
		return statex.NewLocalLocker(), nil
	}
}

func (a *app) wireHistory(ctx context.Context, backend string) error {
	if backend != backendPostgres {
		a.history = historyx.NewMemoryStore()
		return nil
	}
	cfg, err := configx.New[historyx.PostgresConfig]("POSTGRES")
	if err != nil {
		return err
	}
	store := historyx.NewPostgresStore(*cfg)
	a.closers = append(a.closers, store.Close)
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("%w: history schema: %v", contractx.ErrConfiguration, err)
	}
	a.history = store
	return nil
}

func newProvider(ctx context.Context, cfg llmx.Config, metrics *metricsx.Metrics) (*providerx.Provider, error) {
	expertCfg := cfg.OpenRouterFor(llmx.RoleExpert)
	expertModel, err := expertCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrConfiguration, err)
	}
	synthCfg := cfg.OpenRouterFor(llmx.RoleSynthesizer)
	synthModel, err := synthCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrConfiguration, err)
	}

	routerCfg := cfg.OpenRouterFor(llmx.RoleRouter)
	var classifier providerx.Classifier
	if cfg.StrictClassify {
		client, err := openrouterx.NewClient(routerCfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contractx.ErrConfiguration, err)
		}
		classifier = providerx.NewStrictClassifier(client, routerCfg.Model)
	} else {
		routerModel, err := routerCfg.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contractx.ErrConfiguration, err)
		}
		if classifier, err = providerx.NewGraphClassifier(ctx, routerModel); err != nil {
			return nil, err
		}
	}

	return providerx.New(classifier, expertModel, synthModel, providerx.WithMetrics(metrics))
}

// newQStash returns a notifier when a webhook is configured and a verifier when
// signing keys are present. QStash settings are optional without a webhook.
func newQStash(webhookURL string) (*interceptorx.QStashNotifier, *qstashx.Client, error) {
	webhookURL = strings.TrimSpace(webhookURL)
	cfg, err := configx.New[qstashx.Config]("QSTASH")
	if err != nil {
		if webhookURL != "" {
			return nil, nil, err
		}
		log.Debug().Msg("qstash not configured")
		return nil, nil, nil
	}
	client, err := qstashx.NewClient(*cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", contractx.ErrConfiguration, err)
	}

	var verifier *qstashx.Client
	if client.CanVerify() {
		verifier = client
	}
	if webhookURL == "" {
		return nil, verifier, nil
	}
	return interceptorx.NewQStashNotifier(client, webhookURL), verifier, nil
}
