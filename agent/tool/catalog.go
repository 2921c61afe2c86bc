package tool

import (
	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

type Kind string

const (
	KindGetCurrentTime   Kind = "get_current_time"
	KindAddLedgerEntry   Kind = "add_ledger_entry"
	KindGetLedger        Kind = "get_ledger"
	KindCalculate        Kind = "calculate"
	KindSetWeight        Kind = "set_weight"
	KindSetHeight        Kind = "set_height"
	KindGetHealthMetrics Kind = "get_health_metrics"
	KindAddNote          Kind = "add_note"
	KindSearchNotes      Kind = "search_notes"
)

// Definition describes a tool to the model and to the interceptor.
type Definition struct {
	Kind                 Kind
	Expert               contractx.ExpertIdentity
	Description          string
	Params               []contractx.ToolParam
	RequiresConfirmation bool
}

func (d Definition) Spec() contractx.ToolSpec {
	return contractx.ToolSpec{
		Name:        string(d.Kind),
		Description: d.Description,
		Params:      append([]contractx.ToolParam(nil), d.Params...),
	}
}

var definitions = []Definition{
	{
		Kind:        KindGetCurrentTime,
		Expert:      contractx.ExpertScheduling,
		Description: "Return the current date, time and weekday, optionally in an IANA timezone.",
		Params: []contractx.ToolParam{
			{Name: "timezone", Type: contractx.ParamString, Description: "IANA timezone such as Asia/Bangkok"},
		},
	},
	{
		Kind:                 KindAddLedgerEntry,
		Expert:               contractx.ExpertFinance,
		Description:          "Record an income (positive amount) or expense (negative amount) in the user's ledger.",
		RequiresConfirmation: true,
		Params: []contractx.ToolParam{
			{Name: "date", Type: contractx.ParamString, Description: "YYYY-MM-DD, defaults to today"},
			{Name: "description", Type: contractx.ParamString, Description: "What the entry is for", Required: true},
			{Name: "amount", Type: contractx.ParamNumber, Description: "Signed amount", Required: true},
		},
	},
	{
		Kind:        KindGetLedger,
		Expert:      contractx.ExpertFinance,
		Description: "Return the most recent ledger entries in chronological order and the running balance.",
		Params: []contractx.ToolParam{
			{Name: "limit", Type: contractx.ParamInteger, Description: "How many recent entries, 0 for all"},
		},
	},
	{
		Kind:        KindCalculate,
		Expert:      contractx.ExpertFinance,
		Description: "Evaluate an arithmetic expression.",
		Params: []contractx.ToolParam{
			{Name: "expression", Type: contractx.ParamString, Description: "Expression to evaluate", Required: true},
		},
	},
	{
		Kind:        KindSetWeight,
		Expert:      contractx.ExpertHealth,
		Description: "Store the user's body weight in kilograms.",
		Params: []contractx.ToolParam{
			{Name: "kg", Type: contractx.ParamNumber, Description: "Weight in kilograms", Required: true},
		},
	},
	{
		Kind:        KindSetHeight,
		Expert:      contractx.ExpertHealth,
		Description: "Store the user's height in centimeters.",
		Params: []contractx.ToolParam{
			{Name: "cm", Type: contractx.ParamNumber, Description: "Height in centimeters", Required: true},
		},
	},
	{
		Kind:        KindGetHealthMetrics,
		Expert:      contractx.ExpertHealth,
		Description: "Return stored weight, height and BMI when both are known.",
	},
	{
		Kind:        KindAddNote,
		Expert:      contractx.ExpertKnowledge,
		Description: "Save a note with optional tags.",
		Params: []contractx.ToolParam{
			{Name: "title", Type: contractx.ParamString, Description: "Short title", Required: true},
			{Name: "content", Type: contractx.ParamString, Description: "Note body"},
			{Name: "tags", Type: contractx.ParamArray, Description: "Tags for later filtering"},
		},
	},
	{
		Kind:        KindSearchNotes,
		Expert:      contractx.ExpertKnowledge,
		Description: "Find saved notes by tag and/or text.",
		Params: []contractx.ToolParam{
			{Name: "query", Type: contractx.ParamString, Description: "Text to look for in title or content"},
			{Name: "tag", Type: contractx.ParamString, Description: "Exact tag"},
		},
	},
}

// Registry is the fixed mapping from tool name to definition.
type Registry struct {
	byKind map[Kind]Definition
}

func NewRegistry() *Registry {
	r := &Registry{byKind: make(map[Kind]Definition, len(definitions))}
	for _, d := range definitions {
		r.byKind[d.Kind] = d
	}
	return r
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	d, ok := r.byKind[Kind(name)]
	return d, ok
}

// ForExpert returns the tools of one expert in declaration order.
func (r *Registry) ForExpert(expert contractx.ExpertIdentity) []Definition {
	var out []Definition
	for _, d := range definitions {
		if d.Expert == expert {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) Specs(expert contractx.ExpertIdentity) []contractx.ToolSpec {
	defs := r.ForExpert(expert)
	out := make([]contractx.ToolSpec, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.Spec())
	}
	return out
}
