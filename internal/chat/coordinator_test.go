package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cebus/internal/agent"
)

var fakeApprovalSeq atomic.Int64

// fakeWorker drives one scripted turn per Execute call. Scripts run in the
// worker goroutine and talk to the coordinator only through emitted events,
// like a real provider-backed worker.
type fakeWorker struct {
	mu      sync.Mutex
	pending map[int64]chan agent.ApprovalDecision
	run     func(ft *fakeTurn) (*agent.Response, error)
}

type fakeTurn struct {
	ctx     context.Context
	worker  *fakeWorker
	emit    func(agent.Event)
	agentID string
	content string
	extra   string
}

func newFakeWorker(run func(ft *fakeTurn) (*agent.Response, error)) *fakeWorker {
	return &fakeWorker{pending: make(map[int64]chan agent.ApprovalDecision), run: run}
}

func (w *fakeWorker) Execute(ctx context.Context, profile agent.Profile, content string, history []agent.HistoryMessage, extra string, onStream func(agent.Event), traceID string) (*agent.Response, error) {
	emit := func(ev agent.Event) {
		ev.AgentID = profile.AgentID
		ev.TraceID = traceID
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		if ev.Approval != nil && ev.Approval.AgentID == "" {
			ev.Approval.AgentID = profile.AgentID
		}
		onStream(ev)
	}
	return w.run(&fakeTurn{ctx: ctx, worker: w, emit: emit, agentID: profile.AgentID, content: content, extra: extra})
}

func (w *fakeWorker) ResolveApproval(id int64, decision agent.ApprovalDecision) {
	w.mu.Lock()
	ch, ok := w.pending[id]
	if ok {
		delete(w.pending, id)
	}
	w.mu.Unlock()
	if ok {
		ch <- decision
	}
}

func (w *fakeWorker) Dispose() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, ch := range w.pending {
		delete(w.pending, id)
		ch <- agent.ApprovalDecision{Approved: false}
	}
}

// requestApproval emits approval_required and blocks like ProviderWorker does.
func (ft *fakeTurn) requestApproval(tool, permission string, params map[string]any) (agent.ApprovalDecision, error) {
	id := fakeApprovalSeq.Add(1)
	ch := make(chan agent.ApprovalDecision, 1)
	ft.worker.mu.Lock()
	ft.worker.pending[id] = ch
	ft.worker.mu.Unlock()

	ft.emit(agent.Event{Kind: agent.EventApprovalRequired, Approval: &agent.ApprovalRequest{
		ID:         id,
		ToolName:   tool,
		Permission: permission,
		Parameters: params,
	}})

	select {
	case d := <-ch:
		return d, nil
	case <-ft.ctx.Done():
		ft.worker.mu.Lock()
		delete(ft.worker.pending, id)
		ft.worker.mu.Unlock()
		return agent.ApprovalDecision{}, agent.ErrUserCancelled
	}
}

func (ft *fakeTurn) stream(tokens ...string) {
	ft.emit(agent.Event{Kind: agent.EventStart})
	for _, tok := range tokens {
		ft.emit(agent.Event{Kind: agent.EventToken, Token: tok})
	}
}

func newTestCoordinator(idle time.Duration, plannerID string, workers map[string]agent.Worker) *Coordinator {
	participants := []Participant{
		{ID: "user", Type: ParticipantUser, Nickname: "you"},
		{ID: "a", Type: ParticipantModel, Nickname: "gpt", DisplayName: "GPT"},
		{ID: "b", Type: ParticipantModel, Nickname: "claude", DisplayName: "Claude"},
	}
	profiles := map[string]agent.Profile{
		"a": {AgentID: "a", Nickname: "gpt", DisplayName: "GPT", Model: "m"},
		"b": {AgentID: "b", Nickname: "claude", DisplayName: "Claude", Model: "m"},
	}
	if plannerID != "" {
		participants = append(participants, Participant{ID: plannerID, Type: ParticipantOrchestrator, Nickname: "orc"})
		profiles[plannerID] = agent.Profile{AgentID: plannerID, Nickname: "orc", Model: "m"}
	}
	return NewCoordinator(CoordinatorConfig{
		Participants: participants,
		Profiles:     profiles,
		Workers:      workers,
		PlannerID:    plannerID,
		IdleTimeout:  idle,
	})
}

// pump applies queued updates until the condition holds.
func pump(t *testing.T, c *Coordinator, what string, until func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !until() {
		select {
		case u := <-c.Updates():
			c.Apply(u)
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func messageFor(c *Coordinator, senderID string) *Message {
	for _, msg := range c.Store().All() {
		if msg.SenderID == senderID {
			return msg
		}
	}
	return nil
}

// Two participants are broadcast a message; A answers in two tokens while B
// stops for a tool approval. A must reach the static log while B is still
// suspended, and the final order must follow dispatch order either way.
func TestBroadcastPromotesInDispatchOrder(t *testing.T) {
	t.Parallel()

	workerA := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream("Hello", " there")
		return &agent.Response{Content: "Hello there", Usage: agent.Usage{OutputTokens: 2}}, nil
	})
	workerB := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream("Let me check")
		decision, err := ft.requestApproval("run_command", agent.PermissionShell, map[string]any{"command": "ls"})
		if err != nil {
			return nil, err
		}
		if !decision.Approved {
			return &agent.Response{Content: "The command was denied."}, nil
		}
		ft.emit(agent.Event{Kind: agent.EventToken, Token: " and done"})
		return &agent.Response{Content: "Let me check and done", Usage: agent.Usage{OutputTokens: 5}}, nil
	})

	c := newTestCoordinator(0, "", map[string]agent.Worker{"a": workerA, "b": workerB})
	require.NoError(t, c.Submit("hello everyone", nil))

	pump(t, c, "A to complete and B to suspend", func() bool {
		a := messageFor(c, "a")
		return a != nil && a.Status == StatusComplete && c.Suspension().Kind == AwaitingApproval
	})

	// A promotes while B's approval is still outstanding.
	c.Promote()
	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Message.SenderID)
	assert.Equal(t, "a", entries[1].Message.SenderID)
	assert.Equal(t, "Hello there", entries[1].Message.Content)

	req := c.Suspension().Approval
	require.NotNil(t, req)
	assert.Equal(t, "b", req.AgentID)
	c.ResolveApproval(req.ID, true, 1)

	pump(t, c, "B to complete", func() bool {
		b := messageFor(c, "b")
		return b != nil && b.Status == StatusComplete
	})
	c.Promote()

	entries = c.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[1].Message.SenderID)
	assert.Equal(t, "b", entries[2].Message.SenderID)
	assert.Equal(t, SuspendNone(), c.Suspension())

	total := c.Stats().TotalUsage()
	assert.Equal(t, 7, total.OutputTokens)
}

func TestDirectedSubmitTargetsOnlyMentioned(t *testing.T) {
	t.Parallel()

	workerA := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream("hi")
		return &agent.Response{Content: "hi"}, nil
	})
	workerB := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		t.Error("b must not be dispatched")
		return &agent.Response{}, nil
	})

	c := newTestCoordinator(0, "", map[string]agent.Worker{"a": workerA, "b": workerB})
	require.NoError(t, c.Submit("just you", []string{"a"}))

	pump(t, c, "A to complete", func() bool {
		a := messageFor(c, "a")
		return a != nil && a.Status == StatusComplete
	})
	assert.Nil(t, messageFor(c, "b"))
}

func TestPerParticipantSerialization(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	worker := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream("working")
		select {
		case <-release:
			return &agent.Response{Content: "done"}, nil
		case <-ft.ctx.Done():
			return nil, agent.ErrUserCancelled
		}
	})

	c := newTestCoordinator(0, "", map[string]agent.Worker{"a": worker})
	require.NoError(t, c.Submit("first", []string{"a"}))
	pump(t, c, "A to start streaming", func() bool { return c.StateOf("a") == TurnStreaming })

	// A second broadcast while A is streaming must not open a second turn.
	require.NoError(t, c.Submit("second", []string{"a"}))
	var pendingA int
	for _, msg := range c.Store().All() {
		if msg.SenderID == "a" {
			pendingA++
		}
	}
	assert.Equal(t, 1, pendingA, "one turn per participant at a time")
	assert.Equal(t, []string{"a"}, c.ActiveAgents())

	close(release)
	pump(t, c, "A to complete", func() bool {
		return messageFor(c, "a").Status == StatusComplete
	})
	assert.False(t, c.HasActiveTurns())
}

func TestWorkerFailureIsIsolated(t *testing.T) {
	t.Parallel()

	workerA := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream()
		return nil, agent.Errorf(agent.ErrKindProvider, "backend 503")
	})
	workerB := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream("fine")
		return &agent.Response{Content: "fine"}, nil
	})

	c := newTestCoordinator(0, "", map[string]agent.Worker{"a": workerA, "b": workerB})
	require.NoError(t, c.Submit("hello", nil))

	pump(t, c, "both turns to settle", func() bool {
		a, b := messageFor(c, "a"), messageFor(c, "b")
		return a != nil && a.Status.Terminal() && b != nil && b.Status.Terminal()
	})

	a := messageFor(c, "a")
	assert.Equal(t, StatusError, a.Status)
	assert.Equal(t, agent.ErrKindProvider, a.ErrKind)

	b := messageFor(c, "b")
	assert.Equal(t, StatusComplete, b.Status)
	assert.Equal(t, "fine", b.Content)
}

func TestCancelAllCompleteness(t *testing.T) {
	t.Parallel()

	workerA := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream("thinking")
		_, err := ft.requestApproval("run_command", agent.PermissionShell, nil)
		if err != nil {
			return nil, err
		}
		return &agent.Response{Content: "never"}, nil
	})
	workerB := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream("also thinking")
		<-ft.ctx.Done()
		return nil, agent.ErrUserCancelled
	})

	c := newTestCoordinator(0, "", map[string]agent.Worker{"a": workerA, "b": workerB})
	require.NoError(t, c.Submit("hello", nil))

	pump(t, c, "A to suspend on approval", func() bool {
		return c.Suspension().Kind == AwaitingApproval
	})

	c.CancelAll()

	for _, id := range []string{"a", "b"} {
		msg := messageFor(c, id)
		require.NotNil(t, msg)
		assert.Equal(t, StatusError, msg.Status)
		assert.Equal(t, agent.ErrKindCancelled, msg.ErrKind)
	}
	assert.False(t, c.HasActiveTurns(), "no buffer may outlive its turn")
	assert.Equal(t, SuspendNone(), c.Suspension())

	// Late worker writes after cancellation must not resurrect state.
	drained := time.After(200 * time.Millisecond)
drain:
	for {
		select {
		case u := <-c.Updates():
			c.Apply(u)
		case <-drained:
			break drain
		}
	}
	assert.Equal(t, StatusError, messageFor(c, "a").Status)
	assert.Equal(t, StatusError, messageFor(c, "b").Status)
	assert.False(t, c.HasActiveTurns())
}

func TestIdleTimeoutProducesTimeoutError(t *testing.T) {
	t.Parallel()

	worker := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream("one token then silence")
		<-ft.ctx.Done()
		return nil, agent.ErrUserCancelled
	})

	c := newTestCoordinator(80*time.Millisecond, "", map[string]agent.Worker{"a": worker})
	require.NoError(t, c.Submit("hello", []string{"a"}))

	pump(t, c, "the idle timer to fire", func() bool {
		msg := messageFor(c, "a")
		return msg != nil && msg.Status == StatusError
	})
	assert.Equal(t, agent.ErrKindTimeout, messageFor(c, "a").ErrKind)
}

func TestIdleTimerIsHeldWhileApprovalPending(t *testing.T) {
	t.Parallel()

	done := make(chan agent.ApprovalDecision, 1)
	worker := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream("need a tool")
		decision, err := ft.requestApproval("run_command", agent.PermissionShell, nil)
		if err != nil {
			return nil, err
		}
		done <- decision
		// Silence after the approval: the revived idle timer should fire.
		<-ft.ctx.Done()
		return nil, agent.ErrUserCancelled
	})

	c := newTestCoordinator(100*time.Millisecond, "", map[string]agent.Worker{"a": worker})
	require.NoError(t, c.Submit("hello", []string{"a"}))

	pump(t, c, "the approval prompt", func() bool {
		return c.Suspension().Kind == AwaitingApproval
	})

	// Wait out several idle windows with the prompt up: the turn must survive.
	settle := time.After(350 * time.Millisecond)
hold:
	for {
		select {
		case u := <-c.Updates():
			c.Apply(u)
		case <-settle:
			break hold
		}
	}
	require.True(t, c.HasActiveTurns(), "a pending approval must hold the idle timer open")

	req := c.Suspension().Approval
	c.ResolveApproval(req.ID, true, 1)
	assert.True(t, (<-done).Approved)

	// With the approval resolved and the worker silent, the timer fires.
	pump(t, c, "the post-approval idle timeout", func() bool {
		msg := messageFor(c, "a")
		return msg != nil && msg.Status == StatusError
	})
	assert.Equal(t, agent.ErrKindTimeout, messageFor(c, "a").ErrKind)
}

func TestBudgetedApprovalSkipsLaterPrompts(t *testing.T) {
	t.Parallel()

	prompts := 0
	worker := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream("three tools coming")
		for i := 0; i < 3; i++ {
			decision, err := ft.requestApproval("run_command", agent.PermissionShell, nil)
			if err != nil {
				return nil, err
			}
			if !decision.Approved {
				return &agent.Response{Content: "denied"}, nil
			}
		}
		return &agent.Response{Content: "all three ran"}, nil
	})

	c := newTestCoordinator(0, "", map[string]agent.Worker{"a": worker})
	require.NoError(t, c.Submit("go", []string{"a"}))

	pump(t, c, "the turn to settle", func() bool {
		if c.Suspension().Kind == AwaitingApproval {
			prompts++
			c.ResolveApproval(c.Suspension().Approval.ID, true, 3)
		}
		msg := messageFor(c, "a")
		return msg != nil && msg.Status.Terminal()
	})

	assert.Equal(t, 1, prompts, "a budget of three covers the whole burst")
	assert.Equal(t, "all three ran", messageFor(c, "a").Content)
}

func TestDeniedApprovalIsNotAnError(t *testing.T) {
	t.Parallel()

	worker := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream("asking")
		decision, err := ft.requestApproval("write_file", agent.PermissionWrite, nil)
		if err != nil {
			return nil, err
		}
		if !decision.Approved {
			return &agent.Response{Content: "I could not write the file."}, nil
		}
		return &agent.Response{Content: "wrote it"}, nil
	})

	c := newTestCoordinator(0, "", map[string]agent.Worker{"a": worker})
	require.NoError(t, c.Submit("write", []string{"a"}))

	pump(t, c, "the approval prompt", func() bool {
		return c.Suspension().Kind == AwaitingApproval
	})
	c.ResolveApproval(c.Suspension().Approval.ID, false, 0)

	pump(t, c, "the turn to settle", func() bool {
		msg := messageFor(c, "a")
		return msg != nil && msg.Status.Terminal()
	})
	msg := messageFor(c, "a")
	assert.Equal(t, StatusComplete, msg.Status)
	assert.Equal(t, "I could not write the file.", msg.Content)
}

func TestURLApprovalSuspendsAsURLConfirmation(t *testing.T) {
	t.Parallel()

	worker := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream("fetching")
		decision, err := ft.requestApproval("fetch_url", agent.PermissionURL, map[string]any{"url": "https://example.com"})
		if err != nil {
			return nil, err
		}
		_ = decision
		return &agent.Response{Content: "fetched"}, nil
	})

	c := newTestCoordinator(0, "", map[string]agent.Worker{"a": worker})
	require.NoError(t, c.Submit("fetch", []string{"a"}))

	pump(t, c, "the url confirmation", func() bool {
		return c.Suspension().Kind == AwaitingURLConfirmation
	})
	assert.Equal(t, "https://example.com", c.Suspension().URL)

	c.ResolveApproval(c.Suspension().Approval.ID, true, 1)
	pump(t, c, "the turn to settle", func() bool {
		msg := messageFor(c, "a")
		return msg != nil && msg.Status.Terminal()
	})
}

// Both workers stop for an approval at the same time. Resolving the visible
// prompt must surface the other one instead of leaving that worker blocked
// behind a cleared suspension.
func TestOverlappingApprovalsPromptInTurn(t *testing.T) {
	t.Parallel()

	approvalWorker := func(reply string) *fakeWorker {
		return newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
			ft.stream("asking")
			decision, err := ft.requestApproval("run_command", agent.PermissionShell, nil)
			if err != nil {
				return nil, err
			}
			if !decision.Approved {
				return &agent.Response{Content: "denied"}, nil
			}
			return &agent.Response{Content: reply}, nil
		})
	}

	c := newTestCoordinator(0, "", map[string]agent.Worker{"a": approvalWorker("ran a"), "b": approvalWorker("ran b")})
	require.NoError(t, c.Submit("both of you, run it", nil))

	pump(t, c, "both approvals to be raised", func() bool {
		return len(c.gate.pending) == 2
	})

	first := c.Suspension().Approval
	require.NotNil(t, first)
	c.ResolveApproval(first.ID, true, 1)

	second := c.Suspension().Approval
	require.NotNil(t, second, "the queued approval must surface when the first resolves")
	assert.Equal(t, AwaitingApproval, c.Suspension().Kind)
	assert.NotEqual(t, first.AgentID, second.AgentID)
	c.ResolveApproval(second.ID, true, 1)

	pump(t, c, "both turns to settle", func() bool {
		a, b := messageFor(c, "a"), messageFor(c, "b")
		return a != nil && a.Status == StatusComplete && b != nil && b.Status == StatusComplete
	})
	assert.Equal(t, "ran a", messageFor(c, "a").Content)
	assert.Equal(t, "ran b", messageFor(c, "b").Content)
	assert.Equal(t, SuspendNone(), c.Suspension())
}

const planYAML = "analysis: both models should answer in sequence\nsteps:\n  - id: step-1\n    description: draft an answer\n    agent: a\n  - id: step-2\n    description: critique the draft\n    agent: b\n"

func TestPlanFlowApprove(t *testing.T) {
	t.Parallel()

	planner := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream()
		return &agent.Response{Content: planYAML}, nil
	})
	echo := func(reply string) *fakeWorker {
		return newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
			if !strings.Contains(ft.extra, "both models should answer") {
				t.Error("plan analysis was not attached to the re-dispatch")
			}
			ft.stream(reply)
			return &agent.Response{Content: reply}, nil
		})
	}

	c := newTestCoordinator(0, "orc", map[string]agent.Worker{
		"orc": planner, "a": echo("draft"), "b": echo("critique"),
	})
	require.NoError(t, c.Submit("solve this", nil))

	pump(t, c, "the plan to await approval", func() bool {
		return c.Suspension().Kind == AwaitingPlanApproval
	})
	assert.Equal(t, PlanAwaitingApproval, c.PlanState())
	require.NotNil(t, c.Suspension().Plan)
	assert.Equal(t, "solve this", c.Suspension().Plan.OriginalMessage)

	// A second request while the plan is pending is rejected, not queued.
	err := c.Submit("another thing", nil)
	assert.True(t, errors.Is(err, ErrPlanInFlight))
	assert.NotEmpty(t, c.Notice())

	require.NoError(t, c.ApprovePlan())
	pump(t, c, "plan execution to finish", func() bool {
		return c.PlanState() == PlanCompleted
	})

	a, b := messageFor(c, "a"), messageFor(c, "b")
	assert.Equal(t, "draft", a.Content)
	assert.Equal(t, "critique", b.Content)
	assert.Equal(t, 2, c.PlanProgress().Completed)

	c.Promote()
	var sawApprovedPlan bool
	for _, entry := range c.Entries() {
		if entry.Kind == EntryPlan && entry.Approved {
			sawApprovedPlan = true
		}
	}
	assert.True(t, sawApprovedPlan, "approved plan must be in the static log")
}

func TestPlanFlowReject(t *testing.T) {
	t.Parallel()

	planner := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream()
		return &agent.Response{Content: planYAML}, nil
	})
	model := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		t.Error("no worker may run after a plan rejection")
		return &agent.Response{}, nil
	})

	c := newTestCoordinator(0, "orc", map[string]agent.Worker{"orc": planner, "a": model, "b": model})
	require.NoError(t, c.Submit("solve this", nil))

	pump(t, c, "the plan to await approval", func() bool {
		return c.Suspension().Kind == AwaitingPlanApproval
	})
	require.NoError(t, c.RejectPlan())

	assert.Equal(t, PlanIdle, c.PlanState())
	assert.Equal(t, SuspendNone(), c.Suspension())
	assert.False(t, c.HasActiveTurns())

	var sawRejectedPlan bool
	for _, entry := range c.Entries() {
		if entry.Kind == EntryPlan && !entry.Approved {
			sawRejectedPlan = true
		}
	}
	assert.True(t, sawRejectedPlan)
}

func TestInvalidPlanFailsWithNotice(t *testing.T) {
	t.Parallel()

	planner := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream()
		return &agent.Response{Content: "this is not a plan"}, nil
	})
	c := newTestCoordinator(0, "orc", map[string]agent.Worker{"orc": planner})
	require.NoError(t, c.Submit("solve this", nil))

	pump(t, c, "planning to fail", func() bool {
		return c.PlanState() == PlanFailed
	})
	assert.NotEmpty(t, c.Notice())
	assert.Equal(t, SuspendNone(), c.Suspension())
}

// A planner that goes silent must fail the plan machine on idle timeout, so
// later requests can plan again instead of bouncing off the single-flight
// guard forever.
func TestPlannerIdleTimeoutFailsPlanning(t *testing.T) {
	t.Parallel()

	planner := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		<-ft.ctx.Done()
		return nil, agent.ErrUserCancelled
	})
	c := newTestCoordinator(60*time.Millisecond, "orc", map[string]agent.Worker{"orc": planner})
	require.NoError(t, c.Submit("solve this", nil))
	assert.Equal(t, PlanPlanning, c.PlanState())

	pump(t, c, "planning to time out", func() bool {
		return c.PlanState() == PlanFailed
	})
	assert.NotEmpty(t, c.Notice(), "a silent planner must be reported")
	assert.False(t, c.HasActiveTurns())

	require.NoError(t, c.Submit("try again", nil))
	assert.Equal(t, PlanPlanning, c.PlanState())
}

func TestPlanNamingUnknownAgentIsRejected(t *testing.T) {
	t.Parallel()

	ghostPlan := "analysis: route everything to a stranger\nsteps:\n  - id: step-1\n    description: do the thing\n    agent: ghost\n"
	planner := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream()
		return &agent.Response{Content: ghostPlan}, nil
	})
	c := newTestCoordinator(0, "orc", map[string]agent.Worker{"orc": planner})
	require.NoError(t, c.Submit("solve this", nil))

	pump(t, c, "planning to fail", func() bool {
		return c.PlanState() == PlanFailed
	})
	assert.Contains(t, c.Notice(), "ghost")
	assert.Equal(t, SuspendNone(), c.Suspension())
}

// Approving a plan while one of its agents is mid-turn must refuse instead
// of executing with that agent's dispatch skipped.
func TestApprovePlanRefusedWhileTargetBusy(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	slow := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream("working")
		select {
		case <-release:
			return &agent.Response{Content: "done"}, nil
		case <-ft.ctx.Done():
			return nil, agent.ErrUserCancelled
		}
	})
	quick := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream("ok")
		return &agent.Response{Content: "ok"}, nil
	})
	planner := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream()
		return &agent.Response{Content: planYAML}, nil
	})

	c := newTestCoordinator(0, "orc", map[string]agent.Worker{"orc": planner, "a": slow, "b": quick})
	require.NoError(t, c.Submit("keep going", []string{"a"}))
	pump(t, c, "A to start streaming", func() bool { return c.StateOf("a") == TurnStreaming })

	require.NoError(t, c.Submit("solve this", nil))
	pump(t, c, "the plan to await approval", func() bool {
		return c.Suspension().Kind == AwaitingPlanApproval
	})

	err := c.ApprovePlan()
	require.Error(t, err)
	assert.Equal(t, PlanAwaitingApproval, c.PlanState(), "a refused approval must not start executing")

	close(release)
	pump(t, c, "A's directed turn to finish", func() bool {
		msg := messageFor(c, "a")
		return msg != nil && msg.Status == StatusComplete
	})

	require.NoError(t, c.ApprovePlan())
	pump(t, c, "plan execution to finish", func() bool {
		return c.PlanState() == PlanCompleted
	})
	assert.Equal(t, 2, c.PlanProgress().Completed)
}

// A submit refused by the single-flight guard or by target resolution must
// leave no trace in the store, the history, or the stats.
func TestRefusedSubmitRecordsNothing(t *testing.T) {
	t.Parallel()

	planner := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream()
		return &agent.Response{Content: planYAML}, nil
	})
	c := newTestCoordinator(0, "orc", map[string]agent.Worker{"orc": planner})
	require.NoError(t, c.Submit("solve this", nil))
	pump(t, c, "the plan to await approval", func() bool {
		return c.Suspension().Kind == AwaitingPlanApproval
	})

	stored := len(c.Store().All())
	history := len(c.History())
	turns := c.stats.turns

	err := c.Submit("another thing", nil)
	require.ErrorIs(t, err, ErrPlanInFlight)
	assert.Equal(t, stored, len(c.Store().All()))
	assert.Equal(t, history, len(c.History()))
	assert.Equal(t, turns, c.stats.turns)

	direct := newTestCoordinator(0, "", map[string]agent.Worker{})
	require.Error(t, direct.Submit("hello", []string{"ghost"}))
	assert.Empty(t, direct.Store().All())
	assert.Empty(t, direct.History())
	assert.Zero(t, direct.stats.turns)
}

func TestShutdownDisposesWorkers(t *testing.T) {
	t.Parallel()

	worker := newFakeWorker(func(ft *fakeTurn) (*agent.Response, error) {
		ft.stream("waiting")
		_, err := ft.requestApproval("run_command", agent.PermissionShell, nil)
		if err != nil {
			return nil, err
		}
		return &agent.Response{Content: "never"}, nil
	})

	c := newTestCoordinator(0, "", map[string]agent.Worker{"a": worker})
	require.NoError(t, c.Submit("hello", []string{"a"}))
	pump(t, c, "the approval prompt", func() bool {
		return c.Suspension().Kind == AwaitingApproval
	})

	c.Shutdown()
	assert.False(t, c.HasActiveTurns())

	worker.mu.Lock()
	defer worker.mu.Unlock()
	assert.Empty(t, worker.pending, "shutdown must settle every pending approval")
}
