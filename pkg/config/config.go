package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

var (
	mu          sync.Mutex
	envFilePath string
	exported    bool
)

// Validator is implemented by config structs that check themselves after loading.
type Validator interface {
	Validate() error
}

// SetEnvFile points every later New call at a dotenv file instead of ./.env.
func SetEnvFile(path string) {
	mu.Lock()
	defer mu.Unlock()
	envFilePath = strings.TrimSpace(path)
	exported = false
}

func MustNew[T any](prefix string) *T {
	conf, err := New[T](prefix)
	if err != nil {
		panic(err)
	}
	return conf
}

// New loads T from the environment. A failure is a configuration fault.
func New[T any](prefix string) (*T, error) {
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrConfiguration, err)
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrConfiguration, err)
	}

	if v, ok := any(&conf).(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", contractx.ErrConfiguration, err)
		}
	}
	return &conf, nil
}

func loadEnvFile() error {
	mu.Lock()
	defer mu.Unlock()
	if exported {
		return nil
	}
	var err error
	if envFilePath != "" {
		err = exportEnvironment(envFilePath)
	} else {
		err = exportEnvironmentIfExists(".env")
	}
	if err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	exported = true
	return nil
}

func exportEnvironmentIfExists(filepath string) error {
	info, err := os.Stat(filepath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return exportEnvironment(filepath)
}

// exportEnvironment copies dotenv keys into the process env without overriding
// values that are already set.
func exportEnvironment(filepath string) error {
	v := viper.New()
	v.SetConfigFile(filepath)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	for k, val := range v.AllSettings() {
		key := strings.ToUpper(k)
		if _, ok := os.LookupEnv(key); ok {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return err
		}
	}
	return nil
}
