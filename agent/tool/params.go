package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

// Params is the closed set of typed tool arguments. Each tool kind has exactly one
// params type; Execute switches over them exhaustively.
type Params interface {
	Kind() Kind
	validate() error
}

type GetCurrentTimeParams struct {
	Timezone string `json:"timezone,omitempty"`
}

type AddLedgerEntryParams struct {
	Date        string  `json:"date,omitempty"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

type GetLedgerParams struct {
	Limit int `json:"limit,omitempty"`
}

type CalculateParams struct {
	Expression string `json:"expression"`
}

type SetWeightParams struct {
	Kilograms float64 `json:"kg"`
}

type SetHeightParams struct {
	Centimeters float64 `json:"cm"`
}

type GetHealthMetricsParams struct{}

type AddNoteParams struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

type SearchNotesParams struct {
	Query string `json:"query,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

func (GetCurrentTimeParams) Kind() Kind   { return KindGetCurrentTime }
func (AddLedgerEntryParams) Kind() Kind   { return KindAddLedgerEntry }
func (GetLedgerParams) Kind() Kind        { return KindGetLedger }
func (CalculateParams) Kind() Kind        { return KindCalculate }
func (SetWeightParams) Kind() Kind        { return KindSetWeight }
func (SetHeightParams) Kind() Kind        { return KindSetHeight }
func (GetHealthMetricsParams) Kind() Kind { return KindGetHealthMetrics }
func (AddNoteParams) Kind() Kind          { return KindAddNote }
func (SearchNotesParams) Kind() Kind      { return KindSearchNotes }

func (p GetCurrentTimeParams) validate() error {
	if p.Timezone == "" {
		return nil
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return fmt.Errorf("unknown timezone %q", p.Timezone)
	}
	return nil
}

func (p AddLedgerEntryParams) validate() error {
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("description is required")
	}
	if p.Date != "" {
		if _, err := time.Parse("2006-01-02", p.Date); err != nil {
			return fmt.Errorf("date must be YYYY-MM-DD")
		}
	}
	if math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) {
		return fmt.Errorf("amount must be a finite number")
	}
	return nil
}

func (p GetLedgerParams) validate() error {
	if p.Limit < 0 {
		return fmt.Errorf("limit must be >= 0")
	}
	return nil
}

func (p CalculateParams) validate() error {
	if strings.TrimSpace(p.Expression) == "" {
		return fmt.Errorf("expression is required")
	}
	return nil
}

func (p SetWeightParams) validate() error {
	if p.Kilograms <= 0 || p.Kilograms > 700 {
		return fmt.Errorf("kg must be between 0 and 700")
	}
	return nil
}

func (p SetHeightParams) validate() error {
	if p.Centimeters <= 0 || p.Centimeters > 300 {
		return fmt.Errorf("cm must be between 0 and 300")
	}
	return nil
}

func (GetHealthMetricsParams) validate() error { return nil }

func (p AddNoteParams) validate() error {
	if strings.TrimSpace(p.Title) == "" && strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("title or content is required")
	}
	return nil
}

func (SearchNotesParams) validate() error { return nil }

// Decode parses raw model arguments into the typed params of the named tool.
func Decode(name string, raw string) (Params, error) {
	kind := Kind(strings.TrimSpace(name))
	var (
		params Params
		err    error
	)
	switch kind {
	case KindGetCurrentTime:
		params, err = decodeAs[GetCurrentTimeParams](raw)
	case KindAddLedgerEntry:
		params, err = decodeAs[AddLedgerEntryParams](raw)
	case KindGetLedger:
		params, err = decodeAs[GetLedgerParams](raw)
	case KindCalculate:
		params, err = decodeAs[CalculateParams](raw)
	case KindSetWeight:
		params, err = decodeAs[SetWeightParams](raw)
	case KindSetHeight:
		params, err = decodeAs[SetHeightParams](raw)
	case KindGetHealthMetrics:
		params, err = decodeAs[GetHealthMetricsParams](raw)
	case KindAddNote:
		params, err = decodeAs[AddNoteParams](raw)
	case KindSearchNotes:
		params, err = decodeAs[SearchNotesParams](raw)
	default:
		return nil, fmt.Errorf("%w: %q", contractx.ErrUnknownTool, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: tool=%s: %v", contractx.ErrToolArguments, kind, err)
	}
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("%w: tool=%s: %v", contractx.ErrToolArguments, kind, err)
	}
	return params, nil
}

func decodeAs[T Params](raw string) (Params, error) {
	var p T
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return p, nil
}
