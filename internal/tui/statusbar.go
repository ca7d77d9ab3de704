package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"cebus/internal/chat"
)

var (
	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("250")).
			Padding(0, 1)
	statusTitleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	statusIdleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	statusWaitingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusStreamingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	statusPlanStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	statusTokensStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	statusSepStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// StatusBar summarizes the session on one line: title, each model's turn
// state, plan progress, and running token totals.
type StatusBar struct {
	title string
	width int
}

func NewStatusBar(title string) *StatusBar {
	return &StatusBar{title: title}
}

func (s *StatusBar) SetWidth(width int) {
	s.width = width
}

func (s *StatusBar) SetTitle(title string) {
	s.title = title
}

func (s *StatusBar) Render(c *chat.Coordinator) string {
	sep := statusSepStyle.Render(" │ ")
	segments := []string{statusTitleStyle.Render(s.title)}

	var states []string
	for _, p := range chat.ModelParticipants(c.Participants()) {
		states = append(states, renderParticipantState(p, c.StateOf(p.ID)))
	}
	if len(states) > 0 {
		segments = append(segments, strings.Join(states, " "))
	}

	if planSeg := renderPlanSegment(c); planSeg != "" {
		segments = append(segments, planSeg)
	}

	total := c.Stats().TotalUsage()
	segments = append(segments, statusTokensStyle.Render(
		fmt.Sprintf("%d in / %d out", total.InputTokens, total.OutputTokens)))

	line := strings.Join(segments, sep)
	return statusBarStyle.Width(max(0, s.width)).Render(line)
}

func renderParticipantState(p chat.Participant, state chat.TurnState) string {
	switch state {
	case chat.TurnStreaming:
		return statusStreamingStyle.Render("●" + p.Nickname)
	case chat.TurnWaiting:
		return statusWaitingStyle.Render("◐" + p.Nickname)
	default:
		return statusIdleStyle.Render("○" + p.Nickname)
	}
}

func renderPlanSegment(c *chat.Coordinator) string {
	state := c.PlanState()
	switch state {
	case chat.PlanIdle:
		return ""
	case chat.PlanExecuting:
		if prog := c.PlanProgress(); prog != nil {
			return statusPlanStyle.Render(fmt.Sprintf("plan %d/%d", prog.Completed, len(prog.Plan.Steps)))
		}
		return statusPlanStyle.Render("plan executing")
	default:
		return statusPlanStyle.Render("plan " + state.String())
	}
}
