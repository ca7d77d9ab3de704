package chat

import "cebus/internal/agent"

type SuspensionKind int

const (
	NoSuspension SuspensionKind = iota
	AwaitingApproval
	AwaitingPlanApproval
	AwaitingURLConfirmation
)

// Suspension is the single prompt the session can be blocked on. Only one is
// meaningful at a time, so the state is a tagged value instead of a bag of
// optional pending fields.
type Suspension struct {
	Kind     SuspensionKind
	Approval *agent.ApprovalRequest
	Plan     *PendingPlanApproval
	URL      string
	AgentID  string
}

func (s Suspension) Active() bool { return s.Kind != NoSuspension }

func SuspendNone() Suspension {
	return Suspension{Kind: NoSuspension}
}

func SuspendForApproval(req *agent.ApprovalRequest) Suspension {
	return Suspension{Kind: AwaitingApproval, Approval: req, AgentID: req.AgentID}
}

func SuspendForPlan(pending *PendingPlanApproval) Suspension {
	return Suspension{Kind: AwaitingPlanApproval, Plan: pending}
}

// SuspendForURL is the url-permission variant of an approval suspension: the
// prompt shows the target URL, but resolution still goes through the gate
// with the request's id.
func SuspendForURL(req *agent.ApprovalRequest) Suspension {
	url, _ := req.Parameters["url"].(string)
	return Suspension{Kind: AwaitingURLConfirmation, Approval: req, URL: url, AgentID: req.AgentID}
}
