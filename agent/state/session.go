package state

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// SessionState is the per-session domain record mutated by tools.
// - Finance: LedgerEntries (append only, chronological)
// - Knowledge: Notes (append only)
// - Health: Weight (kg) + Height (cm), each optional
type SessionState struct {
	SessionID     string        `json:"session_id"`
	LedgerEntries []LedgerEntry `json:"ledger_entries,omitempty"`
	Notes         []Note        `json:"notes,omitempty"`
	Weight        *float64      `json:"weight,omitempty"`
	Height        *float64      `json:"height,omitempty"`
}

type LedgerEntry struct {
	Date        string  `json:"date"` // YYYY-MM-DD
	Description string  `json:"description"`
	Amount      float64 `json:"amount"` // negative = expense
}

type Note struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Tags      []string  `json:"tags,omitempty"`
}

var (
	ErrInvalidSession = errors.New("session id is empty")
	ErrInvalidEntry   = errors.New("invalid ledger entry")
	ErrInvalidNote    = errors.New("invalid note")
	ErrInvalidMetric  = errors.New("invalid health metric")
)

const ledgerDateLayout = "2006-01-02"

func NewSessionState(sessionID string) *SessionState {
	return &SessionState{SessionID: sessionID}
}

/* ------------------------------ validation ------------------------------ */

func (e LedgerEntry) Validate() error {
	if strings.TrimSpace(e.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidEntry)
	}
	if _, err := time.Parse(ledgerDateLayout, e.Date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidEntry)
	}
	if math.IsNaN(e.Amount) || math.IsInf(e.Amount, 0) {
		return fmt.Errorf("%w: amount must be finite", ErrInvalidEntry)
	}
	return nil
}

func (n Note) Validate() error {
	if strings.TrimSpace(n.Title) == "" && strings.TrimSpace(n.Content) == "" {
		return fmt.Errorf("%w: title or content is required", ErrInvalidNote)
	}
	return nil
}

func validateMetric(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("%w: value must be a positive number", ErrInvalidMetric)
	}
	return nil
}

/* ------------------------------- queries -------------------------------- */

// LastEntries returns the last limit entries in chronological order. limit <= 0 means all.
func (s *SessionState) LastEntries(limit int) []LedgerEntry {
	if s == nil {
		return nil
	}
	entries := s.LedgerEntries
	if limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	return append([]LedgerEntry(nil), entries...)
}

func (s *SessionState) Balance() float64 {
	if s == nil {
		return 0
	}
	var total float64
	for _, e := range s.LedgerEntries {
		total += e.Amount
	}
	return math.Round(total*100) / 100
}

// FilterNotes matches tag exactly (case-insensitive) and query as a substring of title or content.
// Empty filters match everything.
func (s *SessionState) FilterNotes(query, tag string) []Note {
	if s == nil {
		return nil
	}
	query = strings.ToLower(strings.TrimSpace(query))
	tag = strings.ToLower(strings.TrimSpace(tag))

	out := make([]Note, 0, len(s.Notes))
	for _, n := range s.Notes {
		if tag != "" && !hasTag(n.Tags, tag) {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(n.Title), query) &&
			!strings.Contains(strings.ToLower(n.Content), query) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.ToLower(strings.TrimSpace(t)) == want {
			return true
		}
	}
	return false
}

// BMI is computed from kg and cm; ok is false when either metric is absent.
func (s *SessionState) BMI() (float64, bool) {
	if s == nil || s.Weight == nil || s.Height == nil || *s.Height <= 0 {
		return 0, false
	}
	meters := *s.Height / 100
	bmi := *s.Weight / (meters * meters)
	return math.Round(bmi*100) / 100, true
}

func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := &SessionState{
		SessionID:     s.SessionID,
		LedgerEntries: append([]LedgerEntry(nil), s.LedgerEntries...),
	}
	if len(s.Notes) > 0 {
		out.Notes = make([]Note, len(s.Notes))
		for i, n := range s.Notes {
			n.Tags = append([]string(nil), n.Tags...)
			out.Notes[i] = n
		}
	}
	if s.Weight != nil {
		w := *s.Weight
		out.Weight = &w
	}
	if s.Height != nil {
		h := *s.Height
		out.Height = &h
	}
	return out
}
