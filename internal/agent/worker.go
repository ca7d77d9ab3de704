package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cebus/internal/providers"
	"cebus/internal/scrub"
)

// Profile binds a session participant to a model backend.
type Profile struct {
	AgentID      string
	Nickname     string
	DisplayName  string
	Model        string
	SystemPrompt string
	Provider     providers.Provider
	Tools        ToolSet
}

// HistoryMessage is one prior conversation entry handed to a worker.
type HistoryMessage struct {
	Role    string // "user" | "assistant"
	Sender  string
	Content string
}

type Response struct {
	Content string
	Usage   Usage
}

type ApprovalDecision struct {
	Approved bool
	Budget   int
}

// Worker turns a message into a streamed response. Implementations must emit
// events in order on onStream and settle exactly once.
type Worker interface {
	Execute(ctx context.Context, profile Profile, content string, history []HistoryMessage, extraContext string, onStream func(Event), traceID string) (*Response, error)
	ResolveApproval(approvalID int64, decision ApprovalDecision)
	Dispose()
}

// approvalSeq hands out session-unique, monotonically increasing approval ids.
var approvalSeq atomic.Int64

const (
	maxToolRounds = 8
	// History beyond this many entries is compacted before the provider call.
	historyCompactionThreshold = 60
	historyCompactionKeep      = 30
)

var ErrWorkerDisposed = errors.New("worker is disposed")

// ProviderWorker executes turns against a streaming provider and runs the
// tool loop, pausing on every tool call until its approval resolves.
type ProviderWorker struct {
	mu       sync.Mutex
	pending  map[int64]chan ApprovalDecision
	disposed bool
}

func NewProviderWorker() *ProviderWorker {
	return &ProviderWorker{
		pending: make(map[int64]chan ApprovalDecision),
	}
}

func (w *ProviderWorker) Execute(ctx context.Context, profile Profile, content string, history []HistoryMessage, extraContext string, onStream func(Event), traceID string) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	emit := func(ev Event) {
		if onStream == nil {
			return
		}
		ev.AgentID = profile.AgentID
		ev.TraceID = traceID
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		onStream(ev)
	}

	if err := w.checkUsable(); err != nil {
		return nil, err
	}
	if profile.Provider == nil {
		err := Errorf(ErrKindWorker, "%s has no provider configured", profile.AgentID)
		emit(Event{Kind: EventError, Err: err})
		return nil, err
	}
	if strings.TrimSpace(profile.Model) == "" {
		err := Errorf(ErrKindWorker, "%s has no model configured", profile.AgentID)
		emit(Event{Kind: EventError, Err: err})
		return nil, err
	}

	emit(Event{Kind: EventStart})

	messages := w.buildMessages(profile, content, history, extraContext, emit)
	tools := profile.Tools.ProviderTools()

	var total Usage
	for round := 0; round < maxToolRounds; round++ {
		if err := checkContextCancelled(ctx); err != nil {
			emit(Event{Kind: EventError, Err: err})
			return nil, err
		}

		resp, err := profile.Provider.Complete(ctx, profile.Model, messages, tools, func(token string) {
			emit(Event{Kind: EventToken, Token: token})
		})
		if err != nil {
			err = classifyProviderErr(err)
			emit(Event{Kind: EventError, Err: err})
			return nil, err
		}
		total = total.Add(Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens})

		if len(resp.ToolCalls) == 0 {
			usage := total
			emit(Event{Kind: EventComplete, Usage: &usage})
			return &Response{Content: resp.Text, Usage: total}, nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			result, err := w.runApprovedTool(ctx, profile, call, emit)
			if err != nil {
				emit(Event{Kind: EventError, Err: err})
				return nil, err
			}
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    scrub.Clean(result),
				ToolCallID: call.ID,
			})
		}
	}

	err := Errorf(ErrKindWorker, "%s exceeded %d tool rounds in one turn", profile.AgentID, maxToolRounds)
	emit(Event{Kind: EventError, Err: err})
	return nil, err
}

// runApprovedTool emits approval_required, blocks until the gate resolves it,
// and executes the tool on approval. A denial is not an error: the model gets
// a denial notice as the tool result and decides how to continue.
func (w *ProviderWorker) runApprovedTool(ctx context.Context, profile Profile, call providers.ToolCall, emit func(Event)) (string, error) {
	params, err := parseToolArguments(call.Arguments)
	if err != nil {
		return fmt.Sprintf("invalid tool arguments: %v", err), nil
	}

	req := &ApprovalRequest{
		ID:         approvalSeq.Add(1),
		AgentID:    profile.AgentID,
		ToolName:   call.Name,
		Permission: PermissionForTool(call.Name),
		Parameters: params,
	}

	ch := make(chan ApprovalDecision, 1)
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return "", Errorf(ErrKindWorker, "%w", ErrWorkerDisposed)
	}
	w.pending[req.ID] = ch
	w.mu.Unlock()

	emit(Event{Kind: EventApprovalRequired, Approval: req})

	var decision ApprovalDecision
	select {
	case decision = <-ch:
	case <-ctx.Done():
		w.dropPending(req.ID)
		return "", ErrUserCancelled
	}

	if !decision.Approved {
		emit(Event{Kind: EventActivity, Detail: fmt.Sprintf("%s denied", call.Name)})
		return "Tool call was denied by the user. Continue without this tool.", nil
	}

	tool, ok := profile.Tools.Get(call.Name)
	if !ok {
		return fmt.Sprintf("tool %q is not available", call.Name), nil
	}
	result, err := tool.Execute(ctx, params)
	if err != nil {
		err = normalizeCancellationErr(err)
		if IsUserCancelled(err) {
			return "", err
		}
		// Tool failures go back to the model as results, not up the stack.
		return fmt.Sprintf("tool %s failed: %v", call.Name, err), nil
	}
	return result.Output, nil
}

func (w *ProviderWorker) ResolveApproval(approvalID int64, decision ApprovalDecision) {
	w.mu.Lock()
	ch, ok := w.pending[approvalID]
	if ok {
		delete(w.pending, approvalID)
	}
	w.mu.Unlock()
	if !ok {
		// Unknown or already-resolved id: ignore duplicates and stale resolutions.
		return
	}
	ch <- decision
}

// Dispose denies all outstanding approvals and marks the worker unusable.
// Safe to call multiple times.
func (w *ProviderWorker) Dispose() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return
	}
	w.disposed = true
	for id, ch := range w.pending {
		delete(w.pending, id)
		ch <- ApprovalDecision{Approved: false}
	}
}

func (w *ProviderWorker) checkUsable() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return Errorf(ErrKindWorker, "%w", ErrWorkerDisposed)
	}
	return nil
}

func (w *ProviderWorker) dropPending(id int64) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}

func (w *ProviderWorker) buildMessages(profile Profile, content string, history []HistoryMessage, extraContext string, emit func(Event)) []providers.Message {
	system := strings.TrimSpace(profile.SystemPrompt)
	if system == "" {
		system = fmt.Sprintf("You are %s, a participant in a multi-model chat session.", profile.DisplayName)
	}
	if extraContext = strings.TrimSpace(extraContext); extraContext != "" {
		system += "\n\n" + extraContext
	}

	messages := []providers.Message{{Role: "system", Content: system}}

	if len(history) > historyCompactionThreshold {
		dropped := len(history) - historyCompactionKeep
		history = history[dropped:]
		messages = append(messages, providers.Message{
			Role:    "system",
			Content: fmt.Sprintf("[%d earlier messages omitted to fit the context window]", dropped),
		})
		emit(Event{Kind: EventCompaction, Detail: fmt.Sprintf("compacted %d older messages", dropped)})
	}

	for _, h := range history {
		role := h.Role
		if role != "assistant" {
			role = "user"
		}
		text := h.Content
		if h.Sender != "" && role == "user" {
			text = h.Sender + ": " + h.Content
		}
		messages = append(messages, providers.Message{Role: role, Content: text})
	}

	return append(messages, providers.Message{Role: "user", Content: content})
}

func classifyProviderErr(err error) error {
	if err == nil {
		return nil
	}
	err = normalizeCancellationErr(err)
	if IsUserCancelled(err) {
		return ErrUserCancelled
	}
	var authErr *providers.ProviderAuthError
	if errors.As(err, &authErr) {
		return &AgentError{Kind: ErrKindAuthFailed, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &AgentError{Kind: ErrKindTimeout, Err: err}
	}
	return &AgentError{Kind: ErrKindProvider, Err: err}
}

// parseToolArguments accepts either a JSON object or a JSON-encoded string
// containing an object, which some providers emit for function arguments.
func parseToolArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	params := make(map[string]any)
	if err := json.Unmarshal(raw, &params); err == nil {
		return params, nil
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("tool arguments are not a JSON object: %s", string(raw))
	}
	if strings.TrimSpace(encoded) == "" {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal([]byte(encoded), &params); err != nil {
		return nil, fmt.Errorf("tool arguments string is not a JSON object: %w", err)
	}
	return params, nil
}
