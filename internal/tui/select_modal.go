package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"cebus/internal/chat"
)

var (
	selectBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("39")).
				Padding(1, 2)
	selectTitleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	selectItemStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	selectActiveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	selectDetailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	selectKeyHintsStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// ParticipantsModal lists the session's model participants. Selecting one
// inserts its @nickname into the input so the next message is directed.
type ParticipantsModal struct {
	visible      bool
	participants []chat.Participant
	cursor       int
	width        int
	height       int
}

func NewParticipantsModal(participants []chat.Participant) *ParticipantsModal {
	return &ParticipantsModal{participants: chat.ModelParticipants(participants)}
}

func (m *ParticipantsModal) Visible() bool { return m.visible }

func (m *ParticipantsModal) Open() {
	m.visible = true
	m.cursor = 0
}

func (m *ParticipantsModal) Close() {
	m.visible = false
}

func (m *ParticipantsModal) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// Update returns the picked participant, if any. A zero Participant with
// ok=false means the modal stayed open or was dismissed.
func (m *ParticipantsModal) Update(msg tea.Msg) (chat.Participant, bool) {
	if !m.visible {
		return chat.Participant{}, false
	}
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return chat.Participant{}, false
	}

	switch keyMsg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.participants)-1 {
			m.cursor++
		}
	case "enter":
		if len(m.participants) == 0 {
			m.Close()
			return chat.Participant{}, false
		}
		picked := m.participants[m.cursor]
		m.Close()
		return picked, true
	case "esc", "q":
		m.Close()
	}
	return chat.Participant{}, false
}

func (m *ParticipantsModal) View() string {
	if !m.visible {
		return ""
	}

	var b strings.Builder
	b.WriteString(selectTitleStyle.Render("Participants"))
	b.WriteString("\n\n")

	if len(m.participants) == 0 {
		b.WriteString(selectDetailStyle.Render("No model participants in this session."))
	}
	for i, p := range m.participants {
		line := "@" + p.Nickname + "  " + p.DisplayName
		if p.Role != "" {
			line += selectDetailStyle.Render("  · " + p.Role)
		}
		if i == m.cursor {
			b.WriteString(selectActiveStyle.Render("> " + line))
		} else {
			b.WriteString(selectItemStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(selectKeyHintsStyle.Render("enter mention · esc close"))

	width := m.width - 20
	if width > 64 {
		width = 64
	}
	if width < 32 {
		width = 32
	}
	box := selectBorderStyle.Width(width).Render(b.String())
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
	}
	return box
}
