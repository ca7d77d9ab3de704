package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"cebus/internal/chat"
	"cebus/internal/config"
	"cebus/internal/state"
)

// coordinatorUpdateMsg carries one item from the coordinator's queue into the
// bubbletea loop, where Apply folds it into session state.
type coordinatorUpdateMsg struct {
	update chat.Update
}

// inputHistoryLoadedMsg delivers the persisted prompt history on startup.
type inputHistoryLoadedMsg struct {
	entries []string
}

// configReloadedMsg arrives when the config file changes on disk.
type configReloadedMsg struct {
	cfg *config.Config
}

// AppOptions wires the app to a running session.
type AppOptions struct {
	Coordinator *chat.Coordinator
	DB          *state.DB
	Session     *state.Session
	Config      *config.Config
	ConfigChan  <-chan *config.Config
}

// AppModel is the root bubbletea model. It owns the event loop: coordinator
// updates, key routing, the modal stack, and persistence of promoted
// messages.
type AppModel struct {
	coordinator *chat.Coordinator
	db          *state.DB
	session     *state.Session
	cfg         *config.Config
	configChan  <-chan *config.Config

	chatModel         *ChatModel
	statusBar         *StatusBar
	approvalModal     *ApprovalModal
	planModal         *PlanReviewModal
	participantsModal *ParticipantsModal

	names        map[string]string
	inputHistory []string
	historyIdx   int
	draft        string

	width    int
	height   int
	quitting bool
	summary  string
}

func NewAppModel(opts AppOptions) *AppModel {
	names := make(map[string]string)
	for _, p := range opts.Coordinator.Participants() {
		names[p.ID] = p.DisplayName
	}

	return &AppModel{
		coordinator:       opts.Coordinator,
		db:                opts.DB,
		session:           opts.Session,
		cfg:               opts.Config,
		configChan:        opts.ConfigChan,
		chatModel:         NewChatModel(names),
		statusBar:         NewStatusBar(opts.Session.Title),
		approvalModal:     NewApprovalModal(),
		planModal:         NewPlanReviewModal(names),
		participantsModal: NewParticipantsModal(opts.Coordinator.Participants()),
		names:             names,
		historyIdx:        -1,
	}
}

func (m *AppModel) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.chatModel.Init(),
		m.waitForUpdate(),
		m.loadInputHistory(),
	}
	if m.configChan != nil {
		cmds = append(cmds, m.waitForConfigReload())
	}
	return tea.Batch(cmds...)
}

// waitForUpdate blocks on the coordinator queue and hands the next item to
// Update. It is re-armed after every delivery.
func (m *AppModel) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		return coordinatorUpdateMsg{update: <-m.coordinator.Updates()}
	}
}

func (m *AppModel) waitForConfigReload() tea.Cmd {
	return func() tea.Msg {
		cfg, ok := <-m.configChan
		if !ok {
			return nil
		}
		return configReloadedMsg{cfg: cfg}
	}
}

func (m *AppModel) loadInputHistory() tea.Cmd {
	return func() tea.Msg {
		if m.db == nil {
			return inputHistoryLoadedMsg{}
		}
		entries, err := m.db.GetSessionInputHistory(context.Background(), m.session.ID)
		if err != nil {
			return inputHistoryLoadedMsg{}
		}
		return inputHistoryLoadedMsg{entries: entries}
	}
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.SetWidth(msg.Width)
		m.chatModel.SetSize(msg.Width, msg.Height-1)
		m.approvalModal.SetSize(msg.Width, msg.Height)
		m.planModal.SetSize(msg.Width, msg.Height)
		m.participantsModal.SetSize(msg.Width, msg.Height)
		return m, nil

	case coordinatorUpdateMsg:
		m.coordinator.Apply(msg.update)
		m.refresh()
		return m, m.waitForUpdate()

	case configReloadedMsg:
		if msg.cfg != nil {
			m.cfg = msg.cfg
			m.chatModel.AddSystemLine("Configuration reloaded from disk.")
		}
		return m, m.waitForConfigReload()

	case inputHistoryLoadedMsg:
		m.inputHistory = msg.entries
		m.historyIdx = -1
		return m, nil

	case CommandResultMsg:
		m.chatModel.AddSystemLine(msg.Msg)
		return m, nil

	case OpenParticipantsModalMsg:
		m.participantsModal.Open()
		return m, nil

	case ShowStatsMsg:
		m.chatModel.AddSystemLine(m.coordinator.Stats().Summary(m.coordinator.Participants()))
		return m, nil

	case CancelTurnsMsg:
		m.coordinator.CancelAll()
		m.refresh()
		m.chatModel.AddSystemLine("Cancelled all in-flight turns.")
		return m, nil

	case QuitRequestedMsg:
		return m, m.quit()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	_, cmd = m.chatModel.Update(msg)
	return m, cmd
}

func (m *AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Modal keys never reach the chat input.
	if m.approvalModal.Visible() {
		return m.handleApprovalKey(msg)
	}
	if m.planModal.Visible() {
		return m.handlePlanKey(msg)
	}
	if m.participantsModal.Visible() {
		if picked, ok := m.participantsModal.Update(msg); ok {
			current := m.chatModel.GetInputValue()
			mention := "@" + picked.Nickname + " "
			if !strings.Contains(current, mention) {
				m.chatModel.SetInputValue(mention + current)
			}
		}
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c":
		return m, m.quit()
	case "esc":
		if m.coordinator.HasActiveTurns() {
			m.coordinator.CancelAll()
			m.refresh()
			return m, nil
		}
		return m, nil
	case "enter":
		return m.handleEnter()
	case "tab":
		if m.chatModel.ApplyTopSlashSuggestion() {
			return m, nil
		}
	case "up":
		if m.chatModel.MoveSlashSelection(-1) {
			return m, nil
		}
		m.navigateHistory(-1)
		return m, nil
	case "down":
		if m.chatModel.MoveSlashSelection(1) {
			return m, nil
		}
		m.navigateHistory(1)
		return m, nil
	}

	var cmd tea.Cmd
	_, cmd = m.chatModel.Update(msg)
	return m, cmd
}

func (m *AppModel) handleApprovalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	action, budget := m.approvalModal.Update(msg)
	req := m.approvalModal.Request()
	if action == ApprovalNoAction || req == nil {
		return m, nil
	}

	switch action {
	case ApprovalApproveOnce:
		m.coordinator.ResolveApproval(req.ID, true, 1)
	case ApprovalApproveBudget:
		m.coordinator.ResolveApproval(req.ID, true, budget)
	case ApprovalApproveUnlimited:
		m.coordinator.ResolveApproval(req.ID, true, chat.BudgetUnlimited)
	case ApprovalDeny:
		m.coordinator.ResolveApproval(req.ID, false, 0)
	}
	m.approvalModal.Close()
	m.refresh()
	return m, nil
}

func (m *AppModel) handlePlanKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	action, cmd := m.planModal.Update(msg)
	switch action {
	case PlanApproved:
		m.planModal.Close()
		if err := m.coordinator.ApprovePlan(); err != nil {
			m.coordinator.SetNotice(err.Error())
		}
		m.refresh()
	case PlanRejected:
		m.planModal.Close()
		if err := m.coordinator.RejectPlan(); err != nil {
			m.coordinator.SetNotice(err.Error())
		}
		m.refresh()
	}
	return m, cmd
}

func (m *AppModel) handleEnter() (tea.Model, tea.Cmd) {
	raw := m.chatModel.GetInputValue()
	trimmed, isCommand := classifyUserInput(raw)
	if trimmed == "" {
		return m, nil
	}

	m.chatModel.ClearInput()
	m.rememberInput(trimmed)

	if isCommand {
		return m, handleSlashCommand(trimmed, m)
	}

	content, directedTo := chat.ParseMentions(trimmed, m.coordinator.Participants())
	if content == "" {
		m.coordinator.SetNotice("message is empty after the mentions")
		m.refresh()
		return m, nil
	}
	if err := m.coordinator.Submit(content, directedTo); err != nil {
		m.coordinator.SetNotice(err.Error())
	}
	m.refresh()
	return m, nil
}

func (m *AppModel) rememberInput(content string) {
	m.inputHistory = append(m.inputHistory, content)
	m.historyIdx = -1
	m.draft = ""
	if m.db != nil {
		_ = m.db.AppendSessionInputHistory(context.Background(), m.session.ID, content)
	}
}

// navigateHistory moves through prior inputs with up/down, stashing the
// current draft so down past the newest entry restores it.
func (m *AppModel) navigateHistory(delta int) {
	if len(m.inputHistory) == 0 {
		return
	}

	if m.historyIdx == -1 {
		if delta > 0 {
			return
		}
		m.draft = m.chatModel.GetInputValue()
		m.historyIdx = len(m.inputHistory) - 1
		m.chatModel.SetInputValue(m.inputHistory[m.historyIdx])
		return
	}

	next := m.historyIdx + delta
	if next < 0 {
		next = 0
	}
	if next >= len(m.inputHistory) {
		m.historyIdx = -1
		m.chatModel.SetInputValue(m.draft)
		m.draft = ""
		return
	}
	m.historyIdx = next
	m.chatModel.SetInputValue(m.inputHistory[next])
}

// refresh re-derives every view projection from the coordinator and persists
// whatever the reconciler just promoted.
func (m *AppModel) refresh() {
	promoted := m.coordinator.Promote()
	m.persistEntries(promoted)
	m.chatModel.SetEntries(m.coordinator.Entries())
	m.chatModel.SetLive(m.liveLines())
	m.chatModel.SetNotice(m.coordinator.Notice())
	m.syncSuspension()
}

func (m *AppModel) liveLines() []LiveLine {
	var live []LiveLine
	for _, p := range chat.ModelParticipants(m.coordinator.Participants()) {
		st := m.coordinator.StateOf(p.ID)
		if st == chat.TurnIdle {
			continue
		}
		live = append(live, LiveLine{
			Name:     p.DisplayName,
			State:    st,
			Partial:  m.coordinator.Partial(p.ID),
			Activity: m.coordinator.Activity(p.ID),
		})
	}
	return live
}

// syncSuspension keeps exactly one modal in step with the coordinator's
// suspension state. A suspension that vanished (cancel, turn failure) closes
// its modal.
func (m *AppModel) syncSuspension() {
	susp := m.coordinator.Suspension()
	switch susp.Kind {
	case chat.AwaitingApproval:
		if !m.approvalModal.Visible() {
			m.approvalModal.Open(susp.Approval, m.displayName(susp.AgentID), "")
		}
	case chat.AwaitingURLConfirmation:
		if !m.approvalModal.Visible() {
			m.approvalModal.Open(susp.Approval, m.displayName(susp.AgentID), susp.URL)
		}
	case chat.AwaitingPlanApproval:
		if !m.planModal.Visible() {
			m.planModal.Open(susp.Plan)
		}
	case chat.NoSuspension:
		if m.approvalModal.Visible() {
			m.approvalModal.Close()
		}
		if m.planModal.Visible() {
			m.planModal.Close()
		}
	}
}

func (m *AppModel) persistEntries(entries []chat.StaticEntry) {
	if m.db == nil {
		return
	}
	ctx := context.Background()
	for _, entry := range entries {
		if entry.Kind != chat.EntryMessage || entry.Message == nil {
			continue
		}
		msg := entry.Message
		role := "assistant"
		if msg.SenderID == "user" {
			role = "user"
		}
		stored := state.StoredMessage{
			ID:          msg.ID,
			SessionID:   m.session.ID,
			SenderID:    msg.SenderID,
			Role:        role,
			Content:     msg.Content,
			Status:      string(msg.Status),
			DispatchSeq: msg.DispatchSeq,
			Seq:         msg.Seq,
			CreatedAt:   msg.Created.UTC(),
		}
		if msg.Usage != nil {
			stored.InputTokens = msg.Usage.InputTokens
			stored.OutputTokens = msg.Usage.OutputTokens
		}
		_ = m.db.SaveMessage(ctx, stored)
	}
}

func (m *AppModel) persistUsageTotals() {
	if m.db == nil {
		return
	}
	ctx := context.Background()
	stats := m.coordinator.Stats()
	for _, p := range m.coordinator.Participants() {
		u := stats.Usage(p.ID)
		if u.InputTokens == 0 && u.OutputTokens == 0 {
			continue
		}
		_ = m.db.SaveUsageTotals(ctx, state.UsageTotals{
			SessionID:     m.session.ID,
			ParticipantID: p.ID,
			InputTokens:   u.InputTokens,
			OutputTokens:  u.OutputTokens,
		})
	}
}

func (m *AppModel) quit() tea.Cmd {
	m.quitting = true
	m.summary = m.coordinator.Stats().Summary(m.coordinator.Participants())
	m.persistUsageTotals()
	m.coordinator.Shutdown()
	return tea.Quit
}

func (m *AppModel) displayName(id string) string {
	if name, ok := m.names[id]; ok {
		return name
	}
	return id
}

func (m *AppModel) configSummary() string {
	var b strings.Builder
	b.WriteString("Configuration (" + config.GetConfigPath() + "):\n")
	fmt.Fprintf(&b, "  idle timeout: %s\n", m.cfg.IdleTimeout())
	fmt.Fprintf(&b, "  orchestrator: %t\n", m.cfg.Session.Orchestrator)
	fmt.Fprintf(&b, "  anthropic model: %s\n", m.cfg.Providers.Anthropic.DefaultModel)
	fmt.Fprintf(&b, "  openai model: %s\n", m.cfg.Providers.OpenAI.DefaultModel)
	fmt.Fprintf(&b, "  ollama host: %s", m.cfg.Providers.Ollama.Host)
	return b.String()
}

func (m *AppModel) View() string {
	if m.quitting {
		return m.summary + "\n"
	}

	if m.approvalModal.Visible() {
		return m.approvalModal.View()
	}
	if m.planModal.Visible() {
		return m.planModal.View()
	}
	if m.participantsModal.Visible() {
		return m.participantsModal.View()
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.chatModel.View(),
		m.statusBar.Render(m.coordinator),
	)
}

// Run starts the TUI and blocks until the session ends.
func Run(opts AppOptions) error {
	p := tea.NewProgram(NewAppModel(opts), tea.WithAltScreen())
	model, err := p.Run()
	if err != nil {
		return err
	}
	if app, ok := model.(*AppModel); ok && app.summary != "" {
		fmt.Println(app.summary)
	}
	return nil
}
