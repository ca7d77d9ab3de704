package tui

import (
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cebus/internal/chat"
	"cebus/internal/config"
	"cebus/internal/state"
)

func newTestApp(t *testing.T) *AppModel {
	t.Helper()

	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)

	coordinator := chat.NewCoordinator(chat.CoordinatorConfig{
		Participants: []chat.Participant{
			{ID: "user", Type: chat.ParticipantUser, DisplayName: "You"},
			{ID: "gpt", Type: chat.ParticipantModel, Nickname: "gpt", DisplayName: "GPT"},
			{ID: "claude", Type: chat.ParticipantModel, Nickname: "claude", DisplayName: "Claude"},
		},
	})

	app := NewAppModel(AppOptions{
		Coordinator: coordinator,
		Session:     &state.Session{ID: "test-session", Title: "test"},
		Config:      cfg,
	})
	_, _ = app.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return app
}

func keyPress(s string) tea.KeyMsg {
	if len(s) == 1 {
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestHistoryNavigationRestoresDraft(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	app.inputHistory = []string{"first question", "second question"}

	app.chatModel.SetInputValue("half-typed")
	app.navigateHistory(-1)
	assert.Equal(t, "second question", app.chatModel.GetInputValue())

	app.navigateHistory(-1)
	assert.Equal(t, "first question", app.chatModel.GetInputValue())

	app.navigateHistory(1)
	app.navigateHistory(1)
	assert.Equal(t, "half-typed", app.chatModel.GetInputValue(), "scrolling past the newest entry restores the draft")
}

func TestEnterWithSlashCommandProducesCommand(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	app.chatModel.SetInputValue("/stats")

	_, cmd := app.handleEnter()
	require.NotNil(t, cmd)
	assert.IsType(t, ShowStatsMsg{}, cmd())
	assert.Empty(t, app.chatModel.GetInputValue())
}

func TestEnterSubmitsAndRecordsHistory(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	app.chatModel.SetInputValue("hello everyone")

	_, _ = app.handleEnter()
	assert.Equal(t, []string{"hello everyone"}, app.inputHistory)
	assert.Equal(t, 1, app.coordinator.Store().Len(), "the user message lands in the store even with no workers wired")
}

func TestParticipantPickerInsertsMention(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	app.chatModel.SetInputValue("summarize this")
	app.participantsModal.Open()

	_, _ = app.handleKey(keyPress("down"))
	_, _ = app.handleKey(keyPress("enter"))

	assert.Equal(t, "@claude summarize this", app.chatModel.GetInputValue())
	assert.False(t, app.participantsModal.Visible())
}

func TestQuitRendersSummary(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	cmd := app.quit()
	require.NotNil(t, cmd)
	assert.True(t, app.quitting)
	assert.Contains(t, app.View(), "Session summary")
}

func TestCommandResultShowsInLog(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	_, _ = app.Update(CommandResultMsg{Msg: "done"})
	assert.Contains(t, app.chatModel.View(), "done")
}
