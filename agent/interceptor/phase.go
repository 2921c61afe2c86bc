package interceptor

import "fmt"

// Phase is the lifecycle position of one tool invocation.
type Phase string

const (
	PhaseRequested           Phase = "requested"
	PhaseAutoApproved        Phase = "auto_approved"
	PhasePendingConfirmation Phase = "pending_confirmation"
	PhaseApproved            Phase = "approved"
	PhaseDeclined            Phase = "declined"
	PhaseExecuted            Phase = "executed"
	PhaseFailed              Phase = "failed"
)

var transitions = map[Phase][]Phase{
	PhaseRequested:           {PhaseAutoApproved, PhasePendingConfirmation, PhaseFailed},
	PhaseAutoApproved:        {PhaseExecuted, PhaseFailed},
	PhasePendingConfirmation: {PhaseApproved, PhaseDeclined},
	PhaseApproved:            {PhaseExecuted, PhaseFailed},
}

func (p Phase) Terminal() bool {
	return len(transitions[p]) == 0
}

func (p Phase) CanAdvance(next Phase) bool {
	for _, allowed := range transitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

type invocation struct {
	phase Phase
}

func (i *invocation) advance(next Phase) error {
	if !i.phase.CanAdvance(next) {
		return fmt.Errorf("illegal tool invocation transition %s -> %s", i.phase, next)
	}
	i.phase = next
	return nil
}
