package chat

import "cebus/internal/agent"

// BudgetUnlimited pre-authorizes every further tool call for the rest of the
// worker's turn.
const BudgetUnlimited = -1

type pendingApproval struct {
	req     *agent.ApprovalRequest
	resolve func(agent.ApprovalDecision)
}

// Gate mediates tool approvals between workers and the user. A worker blocks
// on each request until the gate resolves it; the gate auto-approves while
// the worker still has budget from an earlier grant and surfaces everything
// else for a user decision.
type Gate struct {
	pending map[int64]*pendingApproval
	budgets map[string]int
}

func NewGate() *Gate {
	return &Gate{
		pending: make(map[int64]*pendingApproval),
		budgets: make(map[string]int),
	}
}

// Handle takes an approval_required event. It returns true when the request
// was auto-approved from budget, false when it is now pending a user
// decision. Unrecognized permission kinds are treated as the most
// restrictive kind before anything else happens.
func (g *Gate) Handle(req *agent.ApprovalRequest, resolve func(agent.ApprovalDecision)) bool {
	req.Permission = normalizePermission(req.Permission)

	if remaining, ok := g.budgets[req.AgentID]; ok {
		if remaining == BudgetUnlimited {
			resolve(agent.ApprovalDecision{Approved: true})
			return true
		}
		if remaining > 0 {
			if remaining == 1 {
				delete(g.budgets, req.AgentID)
			} else {
				g.budgets[req.AgentID] = remaining - 1
			}
			resolve(agent.ApprovalDecision{Approved: true})
			return true
		}
		delete(g.budgets, req.AgentID)
	}

	g.pending[req.ID] = &pendingApproval{req: req, resolve: resolve}
	return false
}

// Resolve settles a pending approval. Approving with budget N > 1 also
// pre-authorizes the next N-1 calls from the same worker; BudgetUnlimited
// waives prompting for the rest of the turn. Unknown ids are ignored, which
// makes duplicate and late resolutions harmless.
func (g *Gate) Resolve(approvalID int64, approved bool, budget int) {
	p, ok := g.pending[approvalID]
	if !ok {
		return
	}
	delete(g.pending, approvalID)

	if approved {
		switch {
		case budget == BudgetUnlimited:
			g.budgets[p.req.AgentID] = BudgetUnlimited
		case budget > 1:
			g.budgets[p.req.AgentID] = budget - 1
		}
	}
	p.resolve(agent.ApprovalDecision{Approved: approved, Budget: budget})
}

// Pending returns the request for an outstanding approval id.
func (g *Gate) Pending(approvalID int64) (*agent.ApprovalRequest, bool) {
	p, ok := g.pending[approvalID]
	if !ok {
		return nil, false
	}
	return p.req, true
}

func (g *Gate) HasPending() bool { return len(g.pending) > 0 }

// NextPending returns the oldest outstanding request. Approval ids are
// monotone, so the lowest id is the one raised first.
func (g *Gate) NextPending() (*agent.ApprovalRequest, bool) {
	var next *pendingApproval
	for _, p := range g.pending {
		if next == nil || p.req.ID < next.req.ID {
			next = p
		}
	}
	if next == nil {
		return nil, false
	}
	return next.req, true
}

// DenyAgent resolves every pending approval for one worker as denied and
// drops its budget. Used when that worker's turn is cancelled.
func (g *Gate) DenyAgent(agentID string) {
	for id, p := range g.pending {
		if p.req.AgentID != agentID {
			continue
		}
		delete(g.pending, id)
		p.resolve(agent.ApprovalDecision{Approved: false})
	}
	delete(g.budgets, agentID)
}

// DenyAll resolves every pending approval as denied and clears all budgets.
func (g *Gate) DenyAll() {
	for id, p := range g.pending {
		delete(g.pending, id)
		p.resolve(agent.ApprovalDecision{Approved: false})
	}
	g.budgets = make(map[string]int)
}

// ClearBudget forgets a worker's remaining grant. Budgets last at most one
// turn.
func (g *Gate) ClearBudget(agentID string) {
	delete(g.budgets, agentID)
}

func normalizePermission(kind string) string {
	switch kind {
	case agent.PermissionShell, agent.PermissionWrite, agent.PermissionRead, agent.PermissionMCP, agent.PermissionURL:
		return kind
	default:
		return agent.PermissionWrite
	}
}
