package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
	openrouterx "github.com/tanpawarit/chative-experts/pkg/openrouter"
)

// Role names a model consumer. All experts share RoleExpert.
type Role string

const (
	RoleRouter      Role = "router"
	RoleSynthesizer Role = "synthesizer"
	RoleExpert      Role = "expert"
)

// Config is loaded with prefix OPENROUTER. Per-role model and temperature
// overrides fall back to the defaults when empty or negative.
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	// StrictClassify routes classification through the OpenAI SDK with a strict
	// JSON schema instead of the eino JSON parser graph.
	StrictClassify bool `envconfig:"STRICT_CLASSIFY" split_words:"true" default:"true"`

	RouterModel       string  `envconfig:"ROUTER_MODEL" split_words:"true"`
	SynthesizerModel  string  `envconfig:"SYNTHESIZER_MODEL" split_words:"true"`
	ExpertModel       string  `envconfig:"EXPERT_MODEL" split_words:"true"`
	RouterTemperature float32 `envconfig:"ROUTER_TEMPERATURE" split_words:"true" default:"0"`
	SynthTemperature  float32 `envconfig:"SYNTHESIZER_TEMPERATURE" split_words:"true" default:"-1"`
	ExpertTemperature float32 `envconfig:"EXPERT_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	if c.MaxCompletionToken <= 0 {
		return fmt.Errorf("%w: max completion token must be > 0", contractx.ErrValidation)
	}
	return nil
}

func (c Config) OpenRouterFor(role Role) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	override := func(m string, t float32) {
		if v := strings.TrimSpace(m); v != "" {
			modelName = v
		}
		if t >= 0 {
			temp = t
		}
	}

	switch role {
	case RoleRouter:
		override(c.RouterModel, c.RouterTemperature)
	case RoleSynthesizer:
		override(c.SynthesizerModel, c.SynthTemperature)
	default:
		override(c.ExpertModel, c.ExpertTemperature)
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

// StepBudgets is loaded with prefix EXPERT, e.g. EXPERT_FINANCE_STEPS=6.
type StepBudgets struct {
	Scheduling int `envconfig:"SCHEDULING_STEPS" default:"3"`
	Finance    int `envconfig:"FINANCE_STEPS" default:"5"`
	Health     int `envconfig:"HEALTH_STEPS" default:"4"`
	Knowledge  int `envconfig:"KNOWLEDGE_STEPS" default:"4"`
}

var DefaultStepBudgets = StepBudgets{Scheduling: 3, Finance: 5, Health: 4, Knowledge: 4}

func (b *StepBudgets) Validate() error {
	for _, id := range contractx.ExpertIdentities {
		if b.For(id) < 1 {
			return fmt.Errorf("%w: step budget of %s must be >= 1", contractx.ErrValidation, id)
		}
	}
	return nil
}

func (b StepBudgets) For(id contractx.ExpertIdentity) int {
	switch id {
	case contractx.ExpertScheduling:
		return b.Scheduling
	case contractx.ExpertFinance:
		return b.Finance
	case contractx.ExpertHealth:
		return b.Health
	case contractx.ExpertKnowledge:
		return b.Knowledge
	default:
		return 0
	}
}
