package chat

import (
	"errors"
	"fmt"
	"time"

	"cebus/internal/agent"
)

type PlanState int

const (
	PlanIdle PlanState = iota
	PlanPlanning
	PlanAwaitingApproval
	PlanExecuting
	PlanCompleted
	PlanRejected
	PlanFailed
)

func (s PlanState) String() string {
	switch s {
	case PlanIdle:
		return "idle"
	case PlanPlanning:
		return "planning"
	case PlanAwaitingApproval:
		return "awaiting_approval"
	case PlanExecuting:
		return "executing"
	case PlanCompleted:
		return "completed"
	case PlanRejected:
		return "rejected"
	case PlanFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrPlanInFlight rejects a second planning request while one plan is still
// pending approval or executing.
var ErrPlanInFlight = errors.New("a plan is already pending or executing")

// PendingPlanApproval holds everything needed to resume once the user
// decides: the plan itself, the message that triggered planning, and the
// orchestrator's analysis to attach on re-dispatch.
type PendingPlanApproval struct {
	Plan            *agent.Plan
	OriginalMessage string
	Analysis        string
}

// PlanProgress tracks execution. Completed never decreases and never exceeds
// the number of steps.
type PlanProgress struct {
	Plan        *agent.Plan
	Completed   int
	ActiveAgent string
}

// OrchestratorMessage is one entry of the orchestrator's append-only
// narration log.
type OrchestratorMessage struct {
	Kind    string // "status" | "plan"
	Content string
	At      time.Time
}

// Orchestrator is the per-session plan state machine.
type Orchestrator struct {
	state    PlanState
	pending  *PendingPlanApproval
	progress *PlanProgress
	log      []OrchestratorMessage
}

func NewOrchestrator() *Orchestrator {
	return &Orchestrator{state: PlanIdle}
}

func (o *Orchestrator) State() PlanState              { return o.state }
func (o *Orchestrator) Pending() *PendingPlanApproval { return o.pending }
func (o *Orchestrator) Progress() *PlanProgress       { return o.progress }
func (o *Orchestrator) Log() []OrchestratorMessage    { return o.log }

// BeginPlanning starts a planning cycle. Only one plan may be in flight per
// session; a concurrent request is an error surfaced to the user, never a
// silent queue.
func (o *Orchestrator) BeginPlanning() error {
	switch o.state {
	case PlanPlanning, PlanAwaitingApproval, PlanExecuting:
		return ErrPlanInFlight
	}
	o.state = PlanPlanning
	o.pending = nil
	o.progress = nil
	o.logStatus("analyzing the request")
	return nil
}

// PlanReady moves planning into awaiting_approval with the produced plan.
func (o *Orchestrator) PlanReady(plan *agent.Plan, originalMessage string) error {
	if o.state != PlanPlanning {
		return fmt.Errorf("plan arrived in state %s", o.state)
	}
	o.pending = &PendingPlanApproval{
		Plan:            plan,
		OriginalMessage: originalMessage,
		Analysis:        plan.Analysis,
	}
	o.state = PlanAwaitingApproval
	o.log = append(o.log, OrchestratorMessage{Kind: "plan", Content: plan.RenderYAML(), At: time.Now()})
	return nil
}

// Approve transitions to executing and hands back the pending approval so
// the coordinator can re-dispatch the original message.
func (o *Orchestrator) Approve() (*PendingPlanApproval, error) {
	if o.state != PlanAwaitingApproval || o.pending == nil {
		return nil, fmt.Errorf("no plan is awaiting approval")
	}
	approved := o.pending
	o.pending = nil
	o.state = PlanExecuting
	o.progress = &PlanProgress{Plan: approved.Plan}
	o.logStatus(fmt.Sprintf("plan approved, executing %d steps", len(approved.Plan.Steps)))
	return approved, nil
}

// Reject drops the pending plan without executing anything.
func (o *Orchestrator) Reject() (*PendingPlanApproval, error) {
	if o.state != PlanAwaitingApproval || o.pending == nil {
		return nil, fmt.Errorf("no plan is awaiting approval")
	}
	rejected := o.pending
	o.pending = nil
	o.progress = nil
	o.state = PlanRejected
	o.logStatus("plan rejected")
	return rejected, nil
}

// StepStarted records which agent is currently working.
func (o *Orchestrator) StepStarted(agentID string) {
	if o.state != PlanExecuting || o.progress == nil {
		return
	}
	o.progress.ActiveAgent = agentID
}

// AgentFinished marks every step bound to the given agent complete. When the
// counter reaches the plan length the machine lands in completed.
func (o *Orchestrator) AgentFinished(agentID string) {
	if o.state != PlanExecuting || o.progress == nil {
		return
	}
	done := 0
	for _, step := range o.progress.Plan.Steps {
		if step.AgentID == agentID {
			done++
		}
	}
	total := len(o.progress.Plan.Steps)
	if next := o.progress.Completed + done; next <= total {
		o.progress.Completed = next
	} else {
		o.progress.Completed = total
	}
	if o.progress.ActiveAgent == agentID {
		o.progress.ActiveAgent = ""
	}
	if o.progress.Completed == total {
		o.state = PlanCompleted
		o.logStatus("plan completed")
	}
}

// Fail records an unrecoverable step error. The failure is reported, never
// retried automatically.
func (o *Orchestrator) Fail(reason string) {
	switch o.state {
	case PlanPlanning, PlanAwaitingApproval, PlanExecuting:
		o.state = PlanFailed
		o.pending = nil
		o.logStatus("plan failed: " + reason)
	}
}

// Reset returns a settled machine to idle so the next request can plan.
func (o *Orchestrator) Reset() {
	switch o.state {
	case PlanCompleted, PlanRejected, PlanFailed, PlanIdle:
		o.state = PlanIdle
		o.pending = nil
		o.progress = nil
	}
}

func (o *Orchestrator) logStatus(content string) {
	o.log = append(o.log, OrchestratorMessage{Kind: "status", Content: content, At: time.Now()})
}
