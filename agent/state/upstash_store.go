package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const maxResponseSizeBytes = 2 << 20

// StoreOption customizes UpstashRedisStore.
type StoreOption func(*UpstashRedisStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) {
		s.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashRedisStore persists SessionState in Upstash Redis via REST, using the same
// key layout as RedisStore so both backends can read each other's data.
type UpstashRedisStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

var _ Store = (*UpstashRedisStore)(nil)

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &UpstashRedisStore{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultStoreKeyPrefix,
		ttl:        defaultStoreTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	if store.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}
	return store, nil
}

func (s *UpstashRedisStore) key(sessionID, suffix string) string {
	return s.keyPrefix + sessionID + ":" + suffix
}

func (s *UpstashRedisStore) Get(ctx context.Context, sessionID string) (*SessionState, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}

	results, err := s.pipeline(ctx, [][]any{
		{"LRANGE", s.key(sessionID, "ledger"), 0, -1},
		{"LRANGE", s.key(sessionID, "notes"), 0, -1},
		{"HGETALL", s.key(sessionID, "metrics")},
	})
	if err != nil {
		return nil, err
	}

	var ledger, notes, flatMetrics []string
	for i, dst := range []*[]string{&ledger, &notes, &flatMetrics} {
		if err := decodeStrings(results[i].Result, dst); err != nil {
			return nil, fmt.Errorf("decode session payload: %w", err)
		}
	}

	metrics := make(map[string]string, len(flatMetrics)/2)
	for i := 0; i+1 < len(flatMetrics); i += 2 {
		metrics[flatMetrics[i]] = flatMetrics[i+1]
	}
	return decodeSession(sessionID, ledger, notes, metrics)
}

func (s *UpstashRedisStore) AppendLedgerEntry(ctx context.Context, sessionID string, entry LedgerEntry) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}
	return s.write(ctx, sessionID, []any{"RPUSH", s.key(sessionID, "ledger"), string(payload)})
}

func (s *UpstashRedisStore) AppendNote(ctx context.Context, sessionID string, note Note) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	if err := note.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal note: %w", err)
	}
	return s.write(ctx, sessionID, []any{"RPUSH", s.key(sessionID, "notes"), string(payload)})
}

func (s *UpstashRedisStore) SetWeight(ctx context.Context, sessionID string, kg float64) error {
	return s.setMetric(ctx, sessionID, fieldWeight, kg)
}

func (s *UpstashRedisStore) SetHeight(ctx context.Context, sessionID string, cm float64) error {
	return s.setMetric(ctx, sessionID, fieldHeight, cm)
}

func (s *UpstashRedisStore) setMetric(ctx context.Context, sessionID, field string, v float64) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	if err := validateMetric(v); err != nil {
		return err
	}
	return s.write(ctx, sessionID, []any{"HSET", s.key(sessionID, "metrics"), field, strconv.FormatFloat(v, 'f', -1, 64)})
}

// write runs the mutation followed by EXPIRE on each session key in one transaction.
func (s *UpstashRedisStore) write(ctx context.Context, sessionID string, command []any) error {
	commands := [][]any{command}
	if s.ttl > 0 {
		for _, suffix := range []string{"ledger", "notes", "metrics"} {
			commands = append(commands, []any{"EXPIRE", s.key(sessionID, suffix), ttlSeconds(s.ttl)})
		}
	}
	_, err := s.do(ctx, "/multi-exec", commands)
	return err
}

func (s *UpstashRedisStore) pipeline(ctx context.Context, commands [][]any) ([]redisRESTResponse, error) {
	return s.do(ctx, "/pipeline", commands)
}

func (s *UpstashRedisStore) do(ctx context.Context, path string, commands [][]any) ([]redisRESTResponse, error) {
	if s == nil {
		return nil, errors.New("nil store")
	}
	if len(commands) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(commands)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed []redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if len(parsed) != len(commands) {
		return nil, fmt.Errorf("redis returned %d results for %d commands", len(parsed), len(commands))
	}
	for _, r := range parsed {
		if r.Error != "" {
			return nil, errors.New(r.Error)
		}
	}
	return parsed, nil
}

func decodeStrings(raw json.RawMessage, dst *[]string) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*dst = nil
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
