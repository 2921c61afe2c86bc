package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s"`
}

type turnRow struct {
	bun.BaseModel `bun:"table:conversation_turns,alias:ct"`

	ID         int64                           `bun:"id,pk,autoincrement"`
	TurnID     string                          `bun:"turn_id,notnull,unique"`
	SessionID  string                          `bun:"session_id,notnull"`
	Role       string                          `bun:"role,notnull"`
	Content    string                          `bun:"content,nullzero"`
	ToolResult *contractx.ToolInvocationResult `bun:"tool_result,type:jsonb"`
	CreatedAt  time.Time                       `bun:"created_at,notnull"`
}

func toRow(sessionID string, t contractx.ConversationTurn) turnRow {
	return turnRow{
		TurnID:     t.ID,
		SessionID:  sessionID,
		Role:       string(t.Role),
		Content:    t.Content,
		ToolResult: t.ToolResult,
		CreatedAt:  t.CreatedAt.UTC(),
	}
}

func (r turnRow) turn() contractx.ConversationTurn {
	return contractx.ConversationTurn{
		ID:         r.TurnID,
		Role:       contractx.Role(r.Role),
		Content:    r.Content,
		ToolResult: r.ToolResult,
		CreatedAt:  r.CreatedAt,
	}
}

// PostgresStore keeps turns in a single conversation_turns table through bun.
type PostgresStore struct {
	db *bun.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(cfg PostgresConfig) *PostgresStore {
	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.DSN),
		pgdriver.WithTimeout(cfg.Timeout),
	)
	return NewPostgresStoreFromDB(bun.NewDB(sql.OpenDB(connector), pgdialect.New()))
}

func NewPostgresStoreFromDB(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the table and its session index when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*turnRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create conversation_turns: %w", err)
	}
	if _, err := s.db.NewCreateIndex().
		Model((*turnRow)(nil)).
		Index("conversation_turns_session_idx").
		Column("session_id", "id").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create conversation_turns index: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, sessionID string, turns ...contractx.ConversationTurn) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	rows := make([]turnRow, 0, len(turns))
	for _, t := range turns {
		rows = append(rows, toRow(sessionID, t))
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return fmt.Errorf("insert conversation turns: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string, limit int) ([]contractx.ConversationTurn, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	var rows []turnRow
	q := s.db.NewSelect().Model(&rows).Where("session_id = ?", sessionID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("load conversation turns: %w", err)
	}

	out := make([]contractx.ConversationTurn, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.turn()
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
