package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cebus/internal/agent"
)

// noticeWindow bounds how long a session-level transient error stays on
// screen before it auto-clears.
const noticeWindow = 5 * time.Second

type TurnState int

const (
	TurnIdle TurnState = iota
	TurnWaiting
	TurnStreaming
)

// TurnResult is the settled outcome of one worker turn.
type TurnResult struct {
	AgentID  string
	TraceID  string
	Response *agent.Response
	Err      error
}

type TurnTimeout struct {
	AgentID string
	TraceID string
}

// Update is one item of the coordinator's inbound queue. Exactly one field
// is set. Worker goroutines and idle timers produce updates; the event loop
// consumes them through Apply, which is the only writer of session state.
type Update struct {
	Event   *agent.Event
	Result  *TurnResult
	Timeout *TurnTimeout
}

type activeTurn struct {
	msg      *Message
	buffer   *StreamBuffer
	partial  string
	activity string
	cancel   context.CancelFunc
	state    TurnState
	traceID  string
	idle     *time.Timer
	held     bool // idle timer held open while an approval is outstanding
	planTurn bool
	planner  bool
}

// CoordinatorConfig wires a coordinator to its session.
type CoordinatorConfig struct {
	Participants []Participant
	Profiles     map[string]agent.Profile
	Workers      map[string]agent.Worker
	// PlannerID names the orchestrator participant; empty disables planning.
	PlannerID   string
	IdleTimeout time.Duration
	History     []agent.HistoryMessage
	Logger      *DebugLogger
}

// Coordinator fans user input out to participant workers, multiplexes their
// event streams, and reconciles the results into the session state. All
// mutation happens on the caller's event loop via Submit/Apply/Resolve*;
// workers run in their own goroutines and communicate only through Updates().
type Coordinator struct {
	participants []Participant
	profiles     map[string]agent.Profile
	workers      map[string]agent.Worker
	plannerID    string
	idleTimeout  time.Duration
	logger       *DebugLogger

	store *MessageStore
	gate  *Gate
	orch  *Orchestrator
	recon *Reconciler
	stats *SessionStats

	updates     chan Update
	turns       map[string]*activeTurn
	dispatchSeq int64
	history     []agent.HistoryMessage
	suspension  Suspension
	planRequest string

	notice      string
	noticeUntil time.Time
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		participants: cfg.Participants,
		profiles:     cfg.Profiles,
		workers:      cfg.Workers,
		plannerID:    cfg.PlannerID,
		idleTimeout:  cfg.IdleTimeout,
		logger:       cfg.Logger,
		store:        NewMessageStore(),
		gate:         NewGate(),
		orch:         NewOrchestrator(),
		recon:        NewReconciler(),
		stats:        NewSessionStats(),
		updates:      make(chan Update, 256),
		turns:        make(map[string]*activeTurn),
		history:      append([]agent.HistoryMessage(nil), cfg.History...),
	}
}

// Updates is the queue the event loop drains, one item per Apply call.
func (c *Coordinator) Updates() <-chan Update { return c.updates }

// Submit records the user message and opens one streaming turn per
// addressee. Explicit directedTo ids win; otherwise the message broadcasts
// to every model participant, or goes to the orchestrator for planning when
// one is configured.
func (c *Coordinator) Submit(content string, directedTo []string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("empty message")
	}

	// Refusals come before the message is recorded, so a rejected submit
	// leaves no trace in the store, the history, or the stats.
	planning := c.plannerID != "" && len(directedTo) == 0
	var targets []Participant
	if planning {
		if _, ok := c.workers[c.plannerID]; !ok {
			return fmt.Errorf("no orchestrator worker configured")
		}
		if err := c.orch.BeginPlanning(); err != nil {
			c.SetNotice(err.Error())
			return err
		}
	} else {
		targets = c.resolveTargets(directedTo)
		if len(targets) == 0 {
			return fmt.Errorf("no addressable participants")
		}
	}

	userMsg := c.store.New("user", StatusSent, 0)
	userMsg.Content = content
	c.history = append(c.history, agent.HistoryMessage{Role: "user", Sender: "user", Content: content})
	c.stats.RecordTurn()
	c.stats.RecordMessage("user", agent.Usage{})
	c.logEvent("submit", map[string]any{"directed": directedTo})

	if planning {
		c.startPlannerTurn(content)
		return nil
	}
	c.dispatch(content, targets, "", false)
	return nil
}

func (c *Coordinator) resolveTargets(directedTo []string) []Participant {
	if len(directedTo) == 0 {
		return ModelParticipants(c.participants)
	}
	byID := make(map[string]Participant, len(c.participants))
	for _, p := range c.participants {
		byID[p.ID] = p
	}
	var targets []Participant
	for _, id := range directedTo {
		if p, ok := byID[id]; ok && p.Type == ParticipantModel {
			targets = append(targets, p)
		}
	}
	return targets
}

// dispatch opens one turn per target, skipping participants that already
// have a turn in flight. Dispatch order fixes the promotion tie-break.
func (c *Coordinator) dispatch(content string, targets []Participant, extraContext string, planTurn bool) {
	historySnapshot := append([]agent.HistoryMessage(nil), c.history...)
	for _, target := range targets {
		if _, busy := c.turns[target.ID]; busy {
			continue
		}
		worker, ok := c.workers[target.ID]
		if !ok {
			continue
		}
		c.dispatchSeq++
		msg := c.store.New(target.ID, StatusPending, c.dispatchSeq)
		c.startTurn(target.ID, worker, c.profiles[target.ID], content, historySnapshot, extraContext, msg, planTurn, false)
	}
}

func (c *Coordinator) startTurn(agentID string, worker agent.Worker, profile agent.Profile, content string, history []agent.HistoryMessage, extraContext string, msg *Message, planTurn, planner bool) {
	ctx, cancel := context.WithCancel(context.Background())
	traceID := uuid.NewString()
	turn := &activeTurn{
		msg:      msg,
		buffer:   NewStreamBuffer(),
		cancel:   cancel,
		state:    TurnWaiting,
		traceID:  traceID,
		planTurn: planTurn,
		planner:  planner,
	}
	if c.idleTimeout > 0 {
		turn.idle = time.AfterFunc(c.idleTimeout, func() {
			c.updates <- Update{Timeout: &TurnTimeout{AgentID: agentID, TraceID: traceID}}
		})
	}
	c.turns[agentID] = turn

	go func() {
		resp, err := worker.Execute(ctx, profile, content, history, extraContext, func(ev agent.Event) {
			c.updates <- Update{Event: &ev}
		}, traceID)
		c.updates <- Update{Result: &TurnResult{AgentID: agentID, TraceID: traceID, Response: resp, Err: err}}
	}()
}

// Apply folds one update into the session state. It must only run on the
// event loop. Updates from turns that were already finalized are dropped,
// which is what keeps post-cancel worker writes harmless.
func (c *Coordinator) Apply(u Update) {
	switch {
	case u.Event != nil:
		c.applyEvent(u.Event)
	case u.Result != nil:
		c.applyResult(u.Result)
	case u.Timeout != nil:
		c.applyTimeout(u.Timeout)
	}
}

func (c *Coordinator) applyEvent(ev *agent.Event) {
	turn, ok := c.turns[ev.AgentID]
	if !ok || turn.traceID != ev.TraceID {
		return
	}
	c.resetIdle(turn)

	switch ev.Kind {
	case agent.EventStart:
		turn.state = TurnStreaming
		if turn.msg != nil {
			turn.msg.Status = StatusStreaming
		}
		if turn.planTurn {
			c.orch.StepStarted(ev.AgentID)
		}
	case agent.EventToken:
		if turn.msg != nil {
			turn.msg.Content += ev.Token
		}
		turn.partial += turn.buffer.OnToken(ev.Token)
	case agent.EventActivity:
		turn.activity = ev.Detail
	case agent.EventCompaction:
		turn.activity = ev.Detail
		c.logEvent("compaction", map[string]any{"agent": ev.AgentID, "detail": ev.Detail})
	case agent.EventApprovalRequired:
		c.handleApprovalEvent(ev.AgentID, turn, ev.Approval)
	case agent.EventComplete, agent.EventError:
		// Finalized on the turn result, which carries the settled response.
	}
}

func (c *Coordinator) handleApprovalEvent(agentID string, turn *activeTurn, req *agent.ApprovalRequest) {
	worker := c.workers[agentID]
	auto := c.gate.Handle(req, func(d agent.ApprovalDecision) {
		worker.ResolveApproval(req.ID, d)
	})
	if auto {
		turn.activity = fmt.Sprintf("%s auto-approved", req.ToolName)
		return
	}
	// Hold the idle timer open while the prompt is up. The request stays
	// queued in the gate while another prompt occupies the suspension slot.
	turn.held = true
	if turn.idle != nil {
		turn.idle.Stop()
	}
	if !c.suspension.Active() {
		c.suspendFor(req)
	}
	c.logEvent("approval_required", map[string]any{"agent": agentID, "tool": req.ToolName, "id": req.ID})
}

func (c *Coordinator) suspendFor(req *agent.ApprovalRequest) {
	if req.Permission == agent.PermissionURL {
		c.suspension = SuspendForURL(req)
	} else {
		c.suspension = SuspendForApproval(req)
	}
}

// resuspendNext surfaces the next queued prompt once the current one clears:
// the oldest approval still pending in the gate first, then a plan awaiting
// review.
func (c *Coordinator) resuspendNext() {
	if c.suspension.Active() {
		return
	}
	if req, ok := c.gate.NextPending(); ok {
		c.suspendFor(req)
		return
	}
	if c.orch.State() == PlanAwaitingApproval {
		if pending := c.orch.Pending(); pending != nil {
			c.suspension = SuspendForPlan(pending)
		}
	}
}

func (c *Coordinator) applyResult(res *TurnResult) {
	turn, ok := c.turns[res.AgentID]
	if !ok || turn.traceID != res.TraceID {
		return
	}
	c.stopIdle(turn)
	delete(c.turns, res.AgentID)

	if turn.planner {
		c.finishPlanning(res)
		return
	}

	if res.Err != nil {
		c.finalizeError(res.AgentID, turn, res.Err)
		return
	}

	turn.partial += turn.buffer.Close()
	msg := turn.msg
	if res.Response != nil && res.Response.Content != "" {
		msg.Content = res.Response.Content
	}
	if res.Response != nil {
		usage := res.Response.Usage
		msg.Usage = &usage
		c.stats.RecordMessage(res.AgentID, usage)
	} else {
		c.stats.RecordMessage(res.AgentID, agent.Usage{})
	}
	msg.Status = StatusComplete
	c.gate.ClearBudget(res.AgentID)
	c.clearSuspensionFor(res.AgentID)
	c.history = append(c.history, agent.HistoryMessage{
		Role:    "assistant",
		Sender:  c.nicknameOf(res.AgentID),
		Content: msg.Content,
	})
	if turn.planTurn {
		c.orch.AgentFinished(res.AgentID)
	}
	c.logEvent("turn_complete", map[string]any{"agent": res.AgentID})
}

func (c *Coordinator) finalizeError(agentID string, turn *activeTurn, err error) {
	if turn.msg != nil {
		turn.msg.Status = StatusError
		turn.msg.ErrKind = agent.KindOf(err)
		turn.msg.ErrText = err.Error()
	}
	c.stats.RecordError()
	c.gate.DenyAgent(agentID)
	c.clearSuspensionFor(agentID)
	switch {
	case turn.planner:
		c.orch.Fail(err.Error())
		c.SetNotice(fmt.Sprintf("planning failed: %v", err))
	case turn.planTurn:
		c.orch.Fail(fmt.Sprintf("%s: %v", agentID, err))
	}
	c.logEvent("turn_error", map[string]any{"agent": agentID, "kind": string(agent.KindOf(err)), "err": err.Error()})
}

func (c *Coordinator) applyTimeout(to *TurnTimeout) {
	turn, ok := c.turns[to.AgentID]
	if !ok || turn.traceID != to.TraceID || turn.held {
		return
	}
	delete(c.turns, to.AgentID)
	turn.cancel()
	err := agent.Errorf(agent.ErrKindTimeout, "%s produced no output within %s", to.AgentID, c.idleTimeout)
	c.finalizeError(to.AgentID, turn, err)
}

func (c *Coordinator) resetIdle(turn *activeTurn) {
	if turn.idle == nil || turn.held {
		return
	}
	turn.idle.Reset(c.idleTimeout)
}

func (c *Coordinator) stopIdle(turn *activeTurn) {
	if turn.idle != nil {
		turn.idle.Stop()
	}
}

// ResolveApproval settles the pending tool approval and releases the
// worker's idle timer again.
func (c *Coordinator) ResolveApproval(approvalID int64, approved bool, budget int) {
	req, ok := c.gate.Pending(approvalID)
	if !ok {
		return
	}
	c.gate.Resolve(approvalID, approved, budget)
	if turn, ok := c.turns[req.AgentID]; ok {
		turn.held = false
		c.resetIdle(turn)
	}
	if c.suspension.Approval != nil && c.suspension.Approval.ID == approvalID {
		c.suspension = SuspendNone()
		c.resuspendNext()
	}
	c.logEvent("approval_resolved", map[string]any{"id": approvalID, "approved": approved, "budget": budget})
}

// CancelAll aborts every in-flight turn. Pending messages settle as
// cancellation errors, pending approvals resolve as denied, and the buffers
// go away with their turns.
func (c *Coordinator) CancelAll() {
	c.gate.DenyAll()
	for agentID, turn := range c.turns {
		delete(c.turns, agentID)
		turn.cancel()
		c.stopIdle(turn)
		if turn.msg != nil {
			turn.msg.Status = StatusError
			turn.msg.ErrKind = agent.ErrKindCancelled
			turn.msg.ErrText = "cancelled by user"
		}
		c.stats.RecordError()
	}
	switch c.orch.State() {
	case PlanPlanning, PlanAwaitingApproval, PlanExecuting:
		c.orch.Fail("cancelled by user")
	}
	c.suspension = SuspendNone()
	c.logEvent("cancel_all", nil)
}

func (c *Coordinator) clearSuspensionFor(agentID string) {
	if c.suspension.Active() && c.suspension.AgentID == agentID {
		c.suspension = SuspendNone()
		c.resuspendNext()
	}
}

// Promote runs one reconciliation pass and returns the entries that just
// made it into the static log.
func (c *Coordinator) Promote() []StaticEntry {
	return c.recon.Promote(c.store.All(), func(messageID string) bool {
		for _, turn := range c.turns {
			if turn.msg != nil && turn.msg.ID == messageID {
				return true
			}
		}
		return false
	})
}

// --- planning ---

// startPlannerTurn opens the orchestrator's planning turn. Submit has
// already moved the plan machine into planning and checked the worker.
func (c *Coordinator) startPlannerTurn(content string) {
	worker := c.workers[c.plannerID]
	c.planRequest = content

	var modelIDs []string
	for _, p := range ModelParticipants(c.participants) {
		modelIDs = append(modelIDs, p.ID)
	}
	profile := c.profiles[c.plannerID]
	profile.SystemPrompt = agent.PlannerSystemPrompt(modelIDs)

	historySnapshot := append([]agent.HistoryMessage(nil), c.history...)
	c.startTurn(c.plannerID, worker, profile, content, historySnapshot, "", nil, false, true)
}

func (c *Coordinator) finishPlanning(res *TurnResult) {
	if res.Err != nil {
		c.orch.Fail(res.Err.Error())
		c.stats.RecordError()
		c.SetNotice(fmt.Sprintf("planning failed: %v", res.Err))
		return
	}
	plan, err := agent.ParsePlan(res.Response.Content)
	if err != nil {
		c.orch.Fail(err.Error())
		c.stats.RecordError()
		c.SetNotice(fmt.Sprintf("orchestrator produced an invalid plan: %v", err))
		return
	}
	if err := c.validatePlanAgents(plan); err != nil {
		c.orch.Fail(err.Error())
		c.stats.RecordError()
		c.SetNotice(fmt.Sprintf("orchestrator produced an invalid plan: %v", err))
		return
	}
	plan.ID = uuid.NewString()
	if err := c.orch.PlanReady(plan, c.planRequest); err != nil {
		c.SetNotice(err.Error())
		return
	}
	c.resuspendNext()
	c.logEvent("plan_ready", map[string]any{"steps": len(plan.Steps)})
}

// ApprovePlan appends the approved plan to the static log and re-dispatches
// the original message to the plan's agents with the orchestrator's analysis
// attached. Every plan agent must be free before the machine commits to
// executing, so no dispatch is ever silently skipped mid-plan.
func (c *Coordinator) ApprovePlan() error {
	pending := c.orch.Pending()
	if pending == nil {
		return fmt.Errorf("no plan is awaiting approval")
	}
	targets := c.planTargets(pending.Plan)
	if len(targets) == 0 {
		return fmt.Errorf("plan names no known participants")
	}
	for _, target := range targets {
		if _, busy := c.turns[target.ID]; busy {
			return fmt.Errorf("%s is still responding; wait or cancel before approving", c.nicknameOf(target.ID))
		}
		if _, ok := c.workers[target.ID]; !ok {
			return fmt.Errorf("no worker configured for %s", c.nicknameOf(target.ID))
		}
	}

	if _, err := c.orch.Approve(); err != nil {
		return err
	}
	c.suspension = SuspendNone()
	c.recon.AppendPlan(pending.Plan.RenderYAML(), true)
	extraContext := planContext(pending)
	c.dispatch(pending.OriginalMessage, targets, extraContext, true)
	c.orch.StepStarted(targets[0].ID)
	c.resuspendNext()
	return nil
}

// RejectPlan drops the pending plan; nothing executes.
func (c *Coordinator) RejectPlan() error {
	pending, err := c.orch.Reject()
	if err != nil {
		return err
	}
	c.suspension = SuspendNone()
	c.recon.AppendPlan(pending.Plan.RenderYAML(), false)
	c.recon.AppendStatus("plan rejected, nothing was executed")
	c.orch.Reset()
	c.resuspendNext()
	return nil
}

// validatePlanAgents rejects a plan whose steps name anyone who is not a
// model participant of this session.
func (c *Coordinator) validatePlanAgents(plan *agent.Plan) error {
	known := make(map[string]bool)
	for _, p := range ModelParticipants(c.participants) {
		known[p.ID] = true
	}
	for _, step := range plan.Steps {
		if !known[step.AgentID] {
			return fmt.Errorf("step %q is assigned to unknown agent %q", step.ID, step.AgentID)
		}
	}
	return nil
}

// planTargets resolves the unique agents named by plan steps, in step order.
func (c *Coordinator) planTargets(plan *agent.Plan) []Participant {
	byID := make(map[string]Participant, len(c.participants))
	for _, p := range c.participants {
		byID[p.ID] = p
	}
	seen := make(map[string]bool)
	var targets []Participant
	for _, step := range plan.Steps {
		if seen[step.AgentID] {
			continue
		}
		seen[step.AgentID] = true
		if p, ok := byID[step.AgentID]; ok && p.Type == ParticipantModel {
			targets = append(targets, p)
		}
	}
	return targets
}

func planContext(pending *PendingPlanApproval) string {
	var b strings.Builder
	b.WriteString("The session orchestrator analyzed this request")
	if pending.Analysis != "" {
		b.WriteString(":\n")
		b.WriteString(pending.Analysis)
	}
	b.WriteString("\n\nApproved plan:\n")
	for _, step := range pending.Plan.Steps {
		fmt.Fprintf(&b, "- [%s] %s (agent: %s)\n", step.ID, step.Description, step.AgentID)
	}
	b.WriteString("Carry out the steps assigned to you.")
	return b.String()
}

// --- read projections ---

func (c *Coordinator) Store() *MessageStore         { return c.store }
func (c *Coordinator) Stats() *SessionStats         { return c.stats }
func (c *Coordinator) Entries() []StaticEntry       { return c.recon.Entries() }
func (c *Coordinator) Suspension() Suspension       { return c.suspension }
func (c *Coordinator) PlanState() PlanState         { return c.orch.State() }
func (c *Coordinator) PlanProgress() *PlanProgress  { return c.orch.Progress() }
func (c *Coordinator) Participants() []Participant  { return c.participants }
func (c *Coordinator) History() []agent.HistoryMessage {
	return append([]agent.HistoryMessage(nil), c.history...)
}

// StateOf reports a participant's turn state for the status bar.
func (c *Coordinator) StateOf(agentID string) TurnState {
	turn, ok := c.turns[agentID]
	if !ok {
		return TurnIdle
	}
	return turn.state
}

// Partial returns the flushed live output of a streaming participant.
func (c *Coordinator) Partial(agentID string) string {
	turn, ok := c.turns[agentID]
	if !ok {
		return ""
	}
	return turn.partial
}

// Activity returns the latest activity detail for a participant.
func (c *Coordinator) Activity(agentID string) string {
	turn, ok := c.turns[agentID]
	if !ok {
		return ""
	}
	return turn.activity
}

// ActiveAgents lists participants with a turn in flight, dispatch order not
// guaranteed.
func (c *Coordinator) ActiveAgents() []string {
	var ids []string
	for id := range c.turns {
		ids = append(ids, id)
	}
	return ids
}

func (c *Coordinator) HasActiveTurns() bool { return len(c.turns) > 0 }

// SetNotice shows a transient session-level error line.
func (c *Coordinator) SetNotice(text string) {
	c.notice = text
	c.noticeUntil = time.Now().Add(noticeWindow)
}

// Notice returns the current transient error, or "" once it expired.
func (c *Coordinator) Notice() string {
	if c.notice == "" || time.Now().After(c.noticeUntil) {
		return ""
	}
	return c.notice
}

// Shutdown cancels everything and disposes the workers.
func (c *Coordinator) Shutdown() {
	c.CancelAll()
	for _, w := range c.workers {
		w.Dispose()
	}
}

func (c *Coordinator) nicknameOf(agentID string) string {
	for _, p := range c.participants {
		if p.ID == agentID {
			if p.Nickname != "" {
				return p.Nickname
			}
			return p.DisplayName
		}
	}
	return agentID
}

func (c *Coordinator) logEvent(event string, fields map[string]any) {
	c.logger.Log(event, fields)
}
