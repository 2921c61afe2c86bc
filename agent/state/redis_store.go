package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"
)

const (
	fieldWeight = "weight"
	fieldHeight = "height"

	defaultStoreTTL = 24 * time.Hour
)

type RedisConfig struct {
	Addr     string        `envconfig:"ADDR" default:"localhost:6379"`
	Password string        `envconfig:"PASSWORD"`
	DB       int           `envconfig:"DB" default:"0"`
	TTL      time.Duration `envconfig:"TTL" default:"24h"`
	Prefix   string        `envconfig:"PREFIX" default:"chative:session:"`
}

// RedisStore keeps each SessionState field under its own key:
// ledger and notes as JSON lists, weight/height as hash fields.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

type RedisOption func(*RedisStore)

func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func NewRedisStore(cfg RedisConfig, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	opts = append([]RedisOption{WithRedisTTL(cfg.TTL), WithRedisPrefix(cfg.Prefix)}, opts...)
	return NewRedisStoreFromClient(client, opts...)
}

func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		prefix: defaultStoreKeyPrefix,
		ttl:    defaultStoreTTL,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisStore) Client() *backend.Client {
	return s.client
}

func (s *RedisStore) ledgerKey(sessionID string) string  { return s.prefix + sessionID + ":ledger" }
func (s *RedisStore) notesKey(sessionID string) string   { return s.prefix + sessionID + ":notes" }
func (s *RedisStore) metricsKey(sessionID string) string { return s.prefix + sessionID + ":metrics" }

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*SessionState, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}

	pipe := s.client.Pipeline()
	ledgerCmd := pipe.LRange(ctx, s.ledgerKey(sessionID), 0, -1)
	notesCmd := pipe.LRange(ctx, s.notesKey(sessionID), 0, -1)
	metricsCmd := pipe.HGetAll(ctx, s.metricsKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil && err != backend.Nil {
		return nil, fmt.Errorf("failed to read session from redis: %w", err)
	}

	return decodeSession(sessionID, ledgerCmd.Val(), notesCmd.Val(), metricsCmd.Val())
}

func (s *RedisStore) AppendLedgerEntry(ctx context.Context, sessionID string, entry LedgerEntry) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	return s.pushJSON(ctx, sessionID, s.ledgerKey(sessionID), entry)
}

func (s *RedisStore) AppendNote(ctx context.Context, sessionID string, note Note) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	if err := note.Validate(); err != nil {
		return err
	}
	return s.pushJSON(ctx, sessionID, s.notesKey(sessionID), note)
}

func (s *RedisStore) SetWeight(ctx context.Context, sessionID string, kg float64) error {
	return s.setMetric(ctx, sessionID, fieldWeight, kg)
}

func (s *RedisStore) SetHeight(ctx context.Context, sessionID string, cm float64) error {
	return s.setMetric(ctx, sessionID, fieldHeight, cm)
}

func (s *RedisStore) pushJSON(ctx context.Context, sessionID, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	s.touch(ctx, pipe, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) setMetric(ctx context.Context, sessionID, field string, v float64) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	if err := validateMetric(v); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.metricsKey(sessionID), field, strconv.FormatFloat(v, 'f', -1, 64))
	s.touch(ctx, pipe, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write to redis: %w", err)
	}
	return nil
}

// touch refreshes the retention period of every key of the session.
func (s *RedisStore) touch(ctx context.Context, pipe backend.Pipeliner, sessionID string) {
	if s.ttl <= 0 {
		return
	}
	for _, key := range []string{s.ledgerKey(sessionID), s.notesKey(sessionID), s.metricsKey(sessionID)} {
		pipe.Expire(ctx, key, s.ttl)
	}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeSession(sessionID string, ledger, notes []string, metrics map[string]string) (*SessionState, error) {
	st := NewSessionState(sessionID)
	for _, raw := range ledger {
		var e LedgerEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ledger entry: %w", err)
		}
		st.LedgerEntries = append(st.LedgerEntries, e)
	}
	for _, raw := range notes {
		var n Note
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			return nil, fmt.Errorf("failed to unmarshal note: %w", err)
		}
		st.Notes = append(st.Notes, n)
	}
	var err error
	if st.Weight, err = parseMetric(metrics, fieldWeight); err != nil {
		return nil, err
	}
	if st.Height, err = parseMetric(metrics, fieldHeight); err != nil {
		return nil, err
	}
	return st, nil
}

func parseMetric(metrics map[string]string, field string) (*float64, error) {
	raw, ok := metrics[field]
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return &v, nil
}
