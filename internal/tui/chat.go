package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"cebus/internal/chat"
)

var (
	chatViewportStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, true, false).BorderForeground(lipgloss.Color("238"))
	userInputStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	modelTextStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	systemStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	noticeStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	planBoxStyle      = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("75")).Padding(0, 1)
	planVerdictStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true)
	partialStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	activityStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	suggestBoxStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	suggestDescStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	suggestSelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	splashLogoDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Bold(true)
	splashLogoBright  = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	splashCardStyle   = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), false, false, false, true).
				BorderForeground(lipgloss.Color("39")).
				Padding(1, 2).
				Background(lipgloss.Color("236"))
	splashPromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	splashCursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	splashTipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	placeholderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	senderNameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	streamingTagStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	promptIndicator   = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
)

// LiveLine is the render projection of one participant's in-flight turn.
type LiveLine struct {
	Name     string
	State    chat.TurnState
	Partial  string
	Activity string
}

type ChatModel struct {
	viewport         viewport.Model
	textInput        textinput.Model
	entries          []chat.StaticEntry
	live             []LiveLine
	notice           string
	names            map[string]string
	slashSuggestions []slashCommand
	selectedSlashIdx int
	lastSuggestInput string
	width            int
	height           int
}

func NewChatModel(names map[string]string) *ChatModel {
	ti := textinput.New()
	ti.Placeholder = ""
	ti.Prompt = ""
	ti.Focus()
	ti.CharLimit = 4000
	ti.Width = 50

	vp := viewport.New(0, 0)
	vp.SetContent("")

	if names == nil {
		names = make(map[string]string)
	}
	return &ChatModel{
		viewport:         vp,
		textInput:        ti,
		names:            names,
		selectedSlashIdx: -1,
	}
}

func (m *ChatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	m.textInput, cmd = m.textInput.Update(msg)
	cmds = append(cmds, cmd)
	m.updateSlashSuggestions()

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *ChatModel) SetSize(w, h int) {
	if w == 0 || h == 0 {
		return
	}
	m.width = w
	m.height = h
	m.viewport.Width = w
	m.textInput.Width = m.inputWrapWidth()
	m.reflow()
	m.render()
}

// SetEntries replaces the static log projection. Entries only ever grow, so
// the viewport sticks to the bottom on change.
func (m *ChatModel) SetEntries(entries []chat.StaticEntry) {
	grew := len(entries) > len(m.entries)
	m.entries = entries
	m.render()
	if grew {
		m.viewport.GotoBottom()
	}
}

// SetLive replaces the streaming section beneath the static log.
func (m *ChatModel) SetLive(live []LiveLine) {
	m.live = live
	m.render()
	m.viewport.GotoBottom()
}

func (m *ChatModel) SetNotice(notice string) {
	if m.notice == notice {
		return
	}
	m.notice = notice
	m.render()
}

// AddSystemLine shows a one-off local line (command output, hints).
func (m *ChatModel) AddSystemLine(content string) {
	m.entries = append(m.entries, chat.StaticEntry{Kind: chat.EntryStatus, Status: content})
	m.render()
	m.viewport.GotoBottom()
}

func (m *ChatModel) displayName(id string) string {
	if name, ok := m.names[id]; ok {
		return name
	}
	return id
}

func (m *ChatModel) render() {
	contentWidth := m.viewport.Width
	if contentWidth <= 0 {
		contentWidth = m.width
	}
	if contentWidth <= 0 {
		contentWidth = 80
	}

	var blocks []string
	for _, entry := range m.entries {
		if block := m.renderEntry(entry, contentWidth); block != "" {
			blocks = append(blocks, block)
		}
	}
	for _, line := range m.live {
		blocks = append(blocks, m.renderLive(line, contentWidth))
	}
	if m.notice != "" {
		blocks = append(blocks, noticeStyle.Render(wrapToWidth(m.notice, contentWidth)))
	}
	m.viewport.SetContent(strings.Join(blocks, "\n\n"))
}

func (m *ChatModel) renderEntry(entry chat.StaticEntry, width int) string {
	switch entry.Kind {
	case chat.EntryMessage:
		return m.renderMessageEntry(entry.Message, width)
	case chat.EntryPlan:
		verdict := "approved"
		if !entry.Approved {
			verdict = "rejected"
		}
		header := planVerdictStyle.Render("plan " + verdict)
		body := wrapToWidth(entry.PlanYAML, width-4)
		return planBoxStyle.Width(min(width, 80)).Render(header + "\n" + body)
	case chat.EntryStatus:
		return systemStyle.Render(wrapToWidth(entry.Status, width))
	default:
		return ""
	}
}

func (m *ChatModel) renderMessageEntry(msg *chat.Message, width int) string {
	if msg == nil {
		return ""
	}
	content := strings.TrimSpace(msg.Content)

	if msg.SenderID == "user" {
		indicator := promptIndicator.Render("> ")
		return indicator + userInputStyle.Render(wrapToWidth(content, width-2))
	}

	label := m.displayName(msg.SenderID) + ": "
	if msg.Status == chat.StatusError {
		line := msg.ErrText
		if line == "" {
			line = "turn failed"
		}
		detail := errorStyle.Render("✗ " + string(msg.ErrKind) + ": " + line)
		if content == "" {
			return styleWrappedPrefixStyled(label, detail, width, senderNameStyle, errorStyle)
		}
		return styleWrappedPrefixStyled(label, content, width, senderNameStyle, modelTextStyle) + "\n" + detail
	}
	return styleWrappedPrefixStyled(label, content, width, senderNameStyle, modelTextStyle)
}

func (m *ChatModel) renderLive(line LiveLine, width int) string {
	tag := "…"
	if line.State == chat.TurnStreaming {
		tag = "streaming"
	} else if line.State == chat.TurnWaiting {
		tag = "waiting"
	}
	header := senderNameStyle.Render(line.Name) + " " + streamingTagStyle.Render("["+tag+"]")

	parts := []string{header}
	if strings.TrimSpace(line.Partial) != "" {
		parts = append(parts, partialStyle.Render(wrapToWidth(line.Partial, width)))
	}
	if line.Activity != "" {
		parts = append(parts, activityStyle.Render(wrapToWidth("· "+line.Activity, width)))
	}
	return strings.Join(parts, "\n")
}

func (m *ChatModel) View() string {
	if len(m.entries) == 0 && len(m.live) == 0 {
		return m.emptyStateView()
	}

	vpView := chatViewportStyle.Width(m.width).Render(m.viewport.View())
	inputView := lipgloss.NewStyle().Padding(0, 1).Render(m.renderInputForView())

	var parts []string
	parts = append(parts, vpView)
	if len(m.slashSuggestions) > 0 {
		lines := m.renderSuggestionsForWidth(max(16, m.width-4))
		suggestView := suggestBoxStyle.Width(m.width).Padding(0, 1).Render(strings.Join(lines, "\n"))
		parts = append(parts, suggestView)
	}
	parts = append(parts, inputView)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *ChatModel) emptyStateView() string {
	cardWidth := m.width - 24
	if cardWidth > 96 {
		cardWidth = 96
	}
	maxByScreen := m.width - 4
	if maxByScreen > 0 && cardWidth > maxByScreen {
		cardWidth = maxByScreen
	}
	if cardWidth < 24 {
		cardWidth = 24
	}

	ti := m.textInput
	if cardWidth > 10 {
		ti.Width = cardWidth - 8
	}

	cardLines := []string{
		splashPromptStyle.Render(`Ask everyone, or one model with @nickname`),
		"",
	}
	inputLines := strings.Split(m.renderSimpleInput(ti), "\n")
	if len(inputLines) == 0 {
		inputLines = []string{""}
	}
	inputLines[0] = promptIndicator.Render("> ") + inputLines[0]
	for i := 1; i < len(inputLines); i++ {
		inputLines[i] = "  " + inputLines[i]
	}
	cardLines = append(cardLines, strings.Join(inputLines, "\n"))
	if len(m.slashSuggestions) > 0 {
		cardLines = append(cardLines, "", strings.Join(m.renderSuggestionsForWidth(max(16, cardWidth-6)), "\n"))
	}

	card := splashCardStyle.Width(cardWidth).Render(strings.Join(cardLines, "\n"))
	tip := splashTipStyle.Render("Tip: /participants lists everyone in the session")

	body := lipgloss.JoinVertical(
		lipgloss.Center,
		m.renderLogo(),
		"",
		card,
		"",
		tip,
	)

	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, body)
	}
	return body
}

func (m *ChatModel) renderLogo() string {
	chars := []rune("cebus")
	var b strings.Builder
	for i, ch := range chars {
		if i >= len(chars)-2 {
			b.WriteString(splashLogoBright.Render(strings.ToUpper(string(ch))))
		} else {
			b.WriteString(splashLogoDim.Render(strings.ToUpper(string(ch))))
		}
		b.WriteRune(' ')
	}
	return b.String()
}

func (m *ChatModel) renderSimpleInput(ti textinput.Model) string {
	valueRunes := []rune(ti.Value())
	pos := ti.Position()
	if pos < 0 {
		pos = 0
	}
	if pos > len(valueRunes) {
		pos = len(valueRunes)
	}

	left := string(valueRunes[:pos])
	right := string(valueRunes[pos:])
	cursor := splashCursorStyle.Render("█")
	width := ti.Width
	if width <= 0 {
		width = 32
	}

	if len(valueRunes) == 0 {
		placeholder := placeholderStyle.Render("Type a message, @nickname to direct it")
		return cursor + placeholder
	}

	return wrapToWidth(left+cursor+right, width)
}

func (m *ChatModel) GetInputValue() string {
	return m.textInput.Value()
}

func (m *ChatModel) ClearInput() {
	m.textInput.SetValue("")
	m.updateSlashSuggestions()
}

func (m *ChatModel) SetInputValue(value string) {
	m.textInput.SetValue(value)
	m.textInput.CursorEnd()
	m.updateSlashSuggestions()
}

func (m *ChatModel) ApplyTopSlashSuggestion() bool {
	suggestion, ok := m.SelectedSlashSuggestion()
	if !ok {
		return false
	}
	m.textInput.SetValue(suggestion.Name)
	// SetValue keeps the previous cursor in some cases; force the cursor to
	// command end so continued typing appends after autocomplete.
	m.textInput.CursorEnd()
	m.updateSlashSuggestions()
	return true
}

func (m *ChatModel) SelectedSlashSuggestion() (slashCommand, bool) {
	if len(m.slashSuggestions) == 0 {
		return slashCommand{}, false
	}
	if m.selectedSlashIdx < 0 || m.selectedSlashIdx >= len(m.slashSuggestions) {
		return slashCommand{}, false
	}
	return m.slashSuggestions[m.selectedSlashIdx], true
}

func (m *ChatModel) MoveSlashSelection(delta int) bool {
	if len(m.slashSuggestions) == 0 {
		return false
	}
	if m.selectedSlashIdx < 0 || m.selectedSlashIdx >= len(m.slashSuggestions) {
		m.selectedSlashIdx = 0
		return true
	}

	next := m.selectedSlashIdx + delta
	if next < 0 {
		next = 0
	}
	if next >= len(m.slashSuggestions) {
		next = len(m.slashSuggestions) - 1
	}
	m.selectedSlashIdx = next
	return true
}

func (m *ChatModel) updateSlashSuggestions() {
	input := m.textInput.Value()
	inputChanged := input != m.lastSuggestInput
	m.lastSuggestInput = input

	m.slashSuggestions = filterSlashCommands(input, 6)
	if len(m.slashSuggestions) == 0 {
		m.selectedSlashIdx = -1
	} else if inputChanged {
		// When the user types, default to the first suggestion.
		m.selectedSlashIdx = 0
	} else {
		// Preserve manual selection on non-input events (blink, redraw, etc).
		if m.selectedSlashIdx < 0 {
			m.selectedSlashIdx = 0
		}
		if m.selectedSlashIdx >= len(m.slashSuggestions) {
			m.selectedSlashIdx = len(m.slashSuggestions) - 1
		}
	}
	m.reflow()
}

func (m *ChatModel) reflow() {
	if m.height == 0 {
		return
	}

	inputHeight := m.inputHeight()
	suggestHeight := m.suggestionsHeight()

	vpHeight := m.height - inputHeight - suggestHeight - 1
	if vpHeight < 0 {
		vpHeight = 0
	}
	m.viewport.Height = vpHeight
}

func (m *ChatModel) inputWrapWidth() int {
	width := m.width - 4
	if width <= 0 {
		width = 48
	}
	if width < 8 {
		width = 8
	}
	return width
}

func (m *ChatModel) renderInputForView() string {
	valueRunes := []rune(m.textInput.Value())
	pos := m.textInput.Position()
	if pos < 0 {
		pos = 0
	}
	if pos > len(valueRunes) {
		pos = len(valueRunes)
	}

	if len(valueRunes) == 0 {
		placeholder := placeholderStyle.Render("Type a message, @nickname to direct it")
		return promptIndicator.Render("> ") + "█ " + placeholder
	}

	left := string(valueRunes[:pos])
	right := string(valueRunes[pos:])
	raw := left + "█" + right

	wrapped := wrapToWidth(raw, m.inputWrapWidth())
	lines := strings.Split(wrapped, "\n")
	if len(lines) == 0 {
		lines = []string{"█"}
	}
	lines[0] = promptIndicator.Render("> ") + lines[0]
	for i := 1; i < len(lines); i++ {
		lines[i] = "  " + lines[i]
	}
	return strings.Join(lines, "\n")
}

func (m *ChatModel) renderSuggestionsForWidth(width int) []string {
	if width <= 0 {
		width = 16
	}
	lines := make([]string, 0, len(m.slashSuggestions))
	for i, c := range m.slashSuggestions {
		line := wrapWithPrefix("  ", c.Name+"  "+c.Description, width)
		style := suggestDescStyle
		if i == m.selectedSlashIdx {
			line = wrapWithPrefix("> ", c.Name+"  "+c.Description, width)
			style = suggestSelStyle
		}
		lines = append(lines, style.Render(line))
	}
	return lines
}

func (m *ChatModel) inputHeight() int {
	input := m.renderInputForView()
	height := lipgloss.Height(input)
	if height < 1 {
		return 1
	}
	return height
}

func (m *ChatModel) suggestionsHeight() int {
	if len(m.slashSuggestions) == 0 {
		return 0
	}
	return lipgloss.Height(strings.Join(m.renderSuggestionsForWidth(max(16, m.width-4)), "\n"))
}

// styleWrappedPrefixStyled renders a prefix with one style and content with another.
func styleWrappedPrefixStyled(prefix, content string, width int, prefStyle, contentStyle lipgloss.Style) string {
	wrapped := wrapWithPrefix(prefix, content, width)
	lines := strings.Split(wrapped, "\n")
	if len(lines) == 0 {
		return prefStyle.Render(prefix)
	}
	if strings.HasPrefix(lines[0], prefix) {
		lines[0] = prefStyle.Render(prefix) + contentStyle.Render(strings.TrimPrefix(lines[0], prefix))
	}
	for i := 1; i < len(lines); i++ {
		lines[i] = contentStyle.Render(lines[i])
	}
	return strings.Join(lines, "\n")
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
