package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
	TaskAborted TaskStatus = "aborted"
)

// ExpertTask is one entry of the ordered consultation list built from the plan.
type ExpertTask struct {
	Expert contractx.ExpertIdentity
	Status TaskStatus
}

func NewTasks(plan contractx.RoutingPlan) []ExpertTask {
	experts := plan.Experts()
	tasks := make([]ExpertTask, 0, len(experts))
	for _, e := range experts {
		tasks = append(tasks, ExpertTask{Expert: e, Status: TaskPending})
	}
	return tasks
}

func abortFrom(tasks []ExpertTask, idx int) {
	for i := idx; i < len(tasks); i++ {
		tasks[i].Status = TaskAborted
	}
}

// ConsultExperts takes tasks one at a time in plan order. Each expert sees the
// findings of the ones before it. The first failure marks that task failed and
// aborts every remaining one; a canceled context aborts from the current task.
func ConsultExperts(ctx context.Context, in *GraphState, registry contractx.ExpertRegistry) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Findings = make([]contractx.ExpertFinding, 0, len(in.Tasks))

	for i := range in.Tasks {
		task := &in.Tasks[i]
		if err := ctx.Err(); err != nil {
			abortFrom(in.Tasks, i)
			return nil, err
		}

		expert, ok := registry.Expert(task.Expert)
		if !ok {
			task.Status = TaskFailed
			abortFrom(in.Tasks, i+1)
			return nil, fmt.Errorf("%w: no invoker for expert %q", contractx.ErrConfiguration, task.Expert)
		}

		task.Status = TaskRunning
		finding, err := expert.Consult(ctx, in.TC, in.Conversation, append([]contractx.ExpertFinding(nil), in.Findings...))
		if err != nil {
			task.Status = TaskFailed
			abortFrom(in.Tasks, i+1)
			log.Error().Err(err).
				Str("session_id", in.TC.SessionID).
				Str("turn_id", in.TC.TurnID).
				Str("expert", string(task.Expert)).
				Int("position", i).
				Msg("expert invocation failed")
			return nil, err
		}
		finding.Expert = task.Expert
		task.Status = TaskDone
		in.Findings = append(in.Findings, finding)
	}
	return in, nil
}
