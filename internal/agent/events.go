package agent

import "time"

type EventKind int

const (
	EventStart EventKind = iota
	EventToken
	EventActivity
	EventApprovalRequired
	EventCompaction
	EventComplete
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventToken:
		return "token"
	case EventActivity:
		return "agent_activity"
	case EventApprovalRequired:
		return "approval_required"
	case EventCompaction:
		return "compaction_status"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Usage is the token accounting a provider reports for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// ApprovalRequest is carried by an approval_required event. The worker that
// emitted it blocks until ResolveApproval is called with the same ID.
type ApprovalRequest struct {
	ID         int64
	AgentID    string
	ToolName   string
	Permission string
	Parameters map[string]any
}

// Event is the single discriminated value every worker emits on its stream.
// AgentID and TraceID are set on every event regardless of kind.
type Event struct {
	Kind     EventKind
	AgentID  string
	TraceID  string
	Token    string
	Detail   string
	Approval *ApprovalRequest
	Usage    *Usage
	Err      error
	At       time.Time
}
