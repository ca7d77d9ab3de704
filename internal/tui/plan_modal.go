package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"cebus/internal/chat"
)

var (
	planModalBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("75")).
				Padding(1, 2)
	planModalTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
	planStepStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	planAgentStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	planAnalysisStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Italic(true)
	planKeysStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// PlanReviewAction is the user's verdict on a proposed plan.
type PlanReviewAction int

const (
	PlanNoAction PlanReviewAction = iota
	PlanApproved
	PlanRejected
)

// PlanReviewModal shows the orchestrator's proposed plan. Nothing executes
// until the user approves it here.
type PlanReviewModal struct {
	visible  bool
	pending  *chat.PendingPlanApproval
	names    map[string]string
	viewport viewport.Model
	width    int
	height   int
}

func NewPlanReviewModal(names map[string]string) *PlanReviewModal {
	vp := viewport.New(0, 0)
	if names == nil {
		names = make(map[string]string)
	}
	return &PlanReviewModal{viewport: vp, names: names}
}

func (m *PlanReviewModal) Visible() bool { return m.visible }

func (m *PlanReviewModal) Open(pending *chat.PendingPlanApproval) {
	m.visible = true
	m.pending = pending
	m.refresh()
	m.viewport.GotoTop()
}

func (m *PlanReviewModal) Close() {
	m.visible = false
	m.pending = nil
}

func (m *PlanReviewModal) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = m.bodyWidth()
	m.viewport.Height = m.bodyHeight()
	m.refresh()
}

func (m *PlanReviewModal) Update(msg tea.Msg) (PlanReviewAction, tea.Cmd) {
	if !m.visible {
		return PlanNoAction, nil
	}

	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "enter", "a", "y":
			return PlanApproved, nil
		case "r", "n", "esc":
			return PlanRejected, nil
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return PlanNoAction, cmd
}

func (m *PlanReviewModal) View() string {
	if !m.visible || m.pending == nil {
		return ""
	}

	title := planModalTitleStyle.Render(fmt.Sprintf("Proposed plan (%d steps)", len(m.pending.Plan.Steps)))
	keys := planKeysStyle.Render("enter/a approve · r/esc reject · ↑/↓ scroll")
	body := title + "\n\n" + m.viewport.View() + "\n\n" + keys

	box := planModalBorderStyle.Width(m.boxWidth()).Render(body)
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
	}
	return box
}

func (m *PlanReviewModal) refresh() {
	if m.pending == nil {
		return
	}
	width := m.bodyWidth()

	var b strings.Builder
	if m.pending.Analysis != "" {
		b.WriteString(planAnalysisStyle.Render(wrapToWidth(m.pending.Analysis, width)))
		b.WriteString("\n\n")
	}
	for i, step := range m.pending.Plan.Steps {
		agentName := m.names[step.AgentID]
		if agentName == "" {
			agentName = step.AgentID
		}
		prefix := fmt.Sprintf("%d. ", i+1)
		line := styleWrappedPrefixStyled(prefix, step.Description, width, planStepStyle, planStepStyle)
		b.WriteString(line)
		b.WriteString("\n")
		b.WriteString("   " + planAgentStyle.Render("@"+agentName))
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
}

func (m *PlanReviewModal) boxWidth() int {
	width := m.width - 10
	if width > 84 {
		width = 84
	}
	if width < 40 {
		width = 40
	}
	return width
}

func (m *PlanReviewModal) bodyWidth() int {
	return m.boxWidth() - 6
}

func (m *PlanReviewModal) bodyHeight() int {
	height := m.height - 12
	if height > 18 {
		height = 18
	}
	if height < 4 {
		height = 4
	}
	return height
}
