package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
	statex "github.com/tanpawarit/chative-experts/agent/state"
)

// Env is what a tool may touch: the session it acts for, the state store and a clock.
type Env struct {
	SessionID string
	Store     statex.Store
	Now       func() time.Time
}

func (e Env) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

type CurrentTimeOutput struct {
	Now      string `json:"now"`
	Date     string `json:"date"`
	Weekday  string `json:"weekday"`
	Timezone string `json:"timezone"`
}

type LedgerOutput struct {
	Entries []statex.LedgerEntry `json:"entries"`
	Total   int                  `json:"total_entries"`
	Balance float64              `json:"balance"`
}

type CalculateOutput struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

type HealthMetricsOutput struct {
	WeightKg *float64 `json:"weight_kg,omitempty"`
	HeightCm *float64 `json:"height_cm,omitempty"`
	BMI      *float64 `json:"bmi,omitempty"`
}

type NotesOutput struct {
	Notes []statex.Note `json:"notes"`
	Count int           `json:"count"`
}

// Execute applies one tool. Errors are tool execution faults; callers report them
// back to the model instead of aborting.
func Execute(ctx context.Context, env Env, params Params) (string, error) {
	switch p := params.(type) {
	case GetCurrentTimeParams:
		return currentTime(env, p)
	case AddLedgerEntryParams:
		entry := statex.LedgerEntry{
			Date:        p.Date,
			Description: strings.TrimSpace(p.Description),
			Amount:      p.Amount,
		}
		if entry.Date == "" {
			entry.Date = env.now().Format("2006-01-02")
		}
		if err := env.Store.AppendLedgerEntry(ctx, env.SessionID, entry); err != nil {
			return "", err
		}
		return fmt.Sprintf("Recorded %s %.2f on %s.", entry.Description, entry.Amount, entry.Date), nil
	case GetLedgerParams:
		st, err := env.Store.Get(ctx, env.SessionID)
		if err != nil {
			return "", err
		}
		return marshalOutput(LedgerOutput{
			Entries: nonNil(st.LastEntries(p.Limit)),
			Total:   len(st.LedgerEntries),
			Balance: st.Balance(),
		})
	case CalculateParams:
		result, err := Evaluate(p.Expression)
		if err != nil {
			return "", err
		}
		return marshalOutput(CalculateOutput{Expression: strings.TrimSpace(p.Expression), Result: result})
	case SetWeightParams:
		if err := env.Store.SetWeight(ctx, env.SessionID, p.Kilograms); err != nil {
			return "", err
		}
		return fmt.Sprintf("Weight set to %g kg.", p.Kilograms), nil
	case SetHeightParams:
		if err := env.Store.SetHeight(ctx, env.SessionID, p.Centimeters); err != nil {
			return "", err
		}
		return fmt.Sprintf("Height set to %g cm.", p.Centimeters), nil
	case GetHealthMetricsParams:
		st, err := env.Store.Get(ctx, env.SessionID)
		if err != nil {
			return "", err
		}
		return marshalOutput(healthMetrics(st))
	case AddNoteParams:
		note := statex.Note{
			Title:     strings.TrimSpace(p.Title),
			Content:   strings.TrimSpace(p.Content),
			Timestamp: env.now(),
			Tags:      normalizeTags(p.Tags),
		}
		if err := env.Store.AppendNote(ctx, env.SessionID, note); err != nil {
			return "", err
		}
		return fmt.Sprintf("Saved note %q.", note.Title), nil
	case SearchNotesParams:
		st, err := env.Store.Get(ctx, env.SessionID)
		if err != nil {
			return "", err
		}
		notes := st.FilterNotes(p.Query, p.Tag)
		return marshalOutput(NotesOutput{Notes: nonNil(notes), Count: len(notes)})
	default:
		return "", fmt.Errorf("%w: %T", contractx.ErrUnknownTool, params)
	}
}

func currentTime(env Env, p GetCurrentTimeParams) (string, error) {
	loc := time.UTC
	if p.Timezone != "" {
		l, err := time.LoadLocation(p.Timezone)
		if err != nil {
			return "", err
		}
		loc = l
	}
	now := env.now().In(loc)
	return marshalOutput(CurrentTimeOutput{
		Now:      now.Format(time.RFC3339),
		Date:     now.Format("2006-01-02"),
		Weekday:  now.Weekday().String(),
		Timezone: loc.String(),
	})
}

func healthMetrics(st *statex.SessionState) HealthMetricsOutput {
	out := HealthMetricsOutput{WeightKg: st.Weight, HeightCm: st.Height}
	if bmi, ok := st.BMI(); ok {
		out.BMI = &bmi
	}
	return out
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func marshalOutput(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal tool output: %w", err)
	}
	return string(raw), nil
}
