package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

func sampleTurns(n int) []contractx.ConversationTurn {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	out := make([]contractx.ConversationTurn, 0, n)
	for i := 0; i < n; i++ {
		role := contractx.RoleUser
		if i%2 == 1 {
			role = contractx.RoleAssistant
		}
		out = append(out, contractx.ConversationTurn{
			ID:        fmt.Sprintf("turn-%d-%d", time.Now().UnixNano(), i),
			Role:      role,
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	session := fmt.Sprintf("session-%d", time.Now().UnixNano())
	turns := sampleTurns(5)

	if err := store.Append(ctx, session, turns[:2]...); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Append(ctx, session, turns[2:]...); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := store.Load(ctx, session, 2)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(turns[3:], got); diff != "" {
		t.Fatalf("Load(limit=2) mismatch (-want +got):\n%s", diff)
	}

	all, err := store.Load(ctx, session, 0)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(all) != 5 || all[0].Content != "message 0" {
		t.Fatalf("Load(all) = %+v", all)
	}

	empty, err := store.Load(ctx, session+"-other", 10)
	if err != nil || len(empty) != 0 {
		t.Fatalf("Load(unknown) = %v, %v", empty, err)
	}

	if err := store.Append(ctx, " ", turns[0]); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("Append(empty session) error = %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("HISTORY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HISTORY_TEST_POSTGRES_DSN not set")
	}
	store := NewPostgresStore(PostgresConfig{DSN: dsn, Timeout: 5 * time.Second})
	t.Cleanup(func() { _ = store.Close() })
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	exerciseStore(t, store)
}

func TestRowRoundTripKeepsToolResult(t *testing.T) {
	t.Parallel()

	turn := contractx.ConversationTurn{
		ID:   "t-1",
		Role: contractx.RoleTool,
		ToolResult: &contractx.ToolInvocationResult{
			CallID: "c-1", Tool: "set_weight", Outcome: contractx.OutcomeSuccess, Output: "ok",
		},
		CreatedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(turn, toRow("s-1", turn).turn()); diff != "" {
		t.Fatalf("row round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMessagesSkipsToolTurns(t *testing.T) {
	t.Parallel()

	msgs := Messages([]contractx.ConversationTurn{
		{Role: contractx.RoleUser, Content: "hi"},
		{Role: contractx.RoleTool, Content: "internal"},
		{Role: contractx.RoleAssistant, Content: "hello"},
	})
	want := []contractx.Message{
		{Role: contractx.MessageUser, Content: "hi"},
		{Role: contractx.MessageAssistant, Content: "hello"},
	}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Fatalf("Messages mismatch (-want +got):\n%s", diff)
	}
}
