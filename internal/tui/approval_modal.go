package tui

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"cebus/internal/agent"
)

var (
	approvalBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("214")).
				Padding(1, 2)
	approvalTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	approvalToolStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	approvalParamStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	approvalKeysStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	approvalURLStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Underline(true)
)

// ApprovalAction is what the user decided about a pending tool call.
type ApprovalAction int

const (
	ApprovalNoAction ApprovalAction = iota
	ApprovalApproveOnce
	ApprovalApproveBudget
	ApprovalApproveUnlimited
	ApprovalDeny
)

// ApprovalModal prompts for a single pending tool approval. A URL
// confirmation is the same prompt with the target address front and center.
type ApprovalModal struct {
	visible   bool
	req       *agent.ApprovalRequest
	agentName string
	url       string
	isURL     bool
	width     int
	height    int
}

func NewApprovalModal() *ApprovalModal {
	return &ApprovalModal{}
}

func (m *ApprovalModal) Visible() bool { return m.visible }

func (m *ApprovalModal) Open(req *agent.ApprovalRequest, agentName, url string) {
	m.visible = true
	m.req = req
	m.agentName = agentName
	m.url = url
	m.isURL = url != ""
}

func (m *ApprovalModal) Close() {
	m.visible = false
	m.req = nil
	m.url = ""
	m.isURL = false
}

func (m *ApprovalModal) Request() *agent.ApprovalRequest { return m.req }

func (m *ApprovalModal) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// Update maps a key press to a decision. Budget > 0 only accompanies
// ApprovalApproveBudget, where pressing a digit pre-approves that many calls.
func (m *ApprovalModal) Update(msg tea.Msg) (ApprovalAction, int) {
	if !m.visible {
		return ApprovalNoAction, 0
	}
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return ApprovalNoAction, 0
	}

	key := keyMsg.String()
	switch key {
	case "y", "enter":
		return ApprovalApproveOnce, 0
	case "u":
		return ApprovalApproveUnlimited, 0
	case "n", "esc":
		return ApprovalDeny, 0
	}
	if len(key) == 1 && key[0] >= '2' && key[0] <= '9' {
		return ApprovalApproveBudget, int(key[0] - '0')
	}
	return ApprovalNoAction, 0
}

func (m *ApprovalModal) View() string {
	if !m.visible || m.req == nil {
		return ""
	}

	width := m.width - 12
	if width > 72 {
		width = 72
	}
	if width < 36 {
		width = 36
	}
	inner := width - 6

	var b strings.Builder
	if m.isURL {
		b.WriteString(approvalTitleStyle.Render("Open URL?"))
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "%s wants to fetch\n", approvalToolStyle.Render(m.agentName))
		b.WriteString(approvalURLStyle.Render(wrapToWidth(m.url, inner)))
	} else {
		b.WriteString(approvalTitleStyle.Render("Tool approval"))
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "%s wants to run %s (%s)\n",
			approvalToolStyle.Render(m.agentName),
			approvalToolStyle.Render(m.req.ToolName),
			m.req.Permission)
		for _, line := range formatApprovalParams(m.req.Parameters, inner) {
			b.WriteString(approvalParamStyle.Render(line))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n\n")
	b.WriteString(approvalKeysStyle.Render("y approve once · 2-9 approve N calls · u unlimited this turn · n deny"))

	box := approvalBorderStyle.Width(width).Render(b.String())
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
	}
	return box
}

func formatApprovalParams(params map[string]any, width int) []string {
	if len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		val := fmt.Sprintf("%v", params[k])
		if len(val) > 120 {
			val = val[:117] + "..."
		}
		lines = append(lines, wrapWithPrefix("  "+k+": ", val, width))
	}
	return lines
}
