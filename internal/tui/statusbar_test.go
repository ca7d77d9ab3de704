package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cebus/internal/chat"
)

func TestStatusBarShowsTitleAndParticipants(t *testing.T) {
	t.Parallel()

	c := chat.NewCoordinator(chat.CoordinatorConfig{
		Participants: []chat.Participant{
			{ID: "user", Type: chat.ParticipantUser, DisplayName: "You"},
			{ID: "gpt", Type: chat.ParticipantModel, Nickname: "gpt", DisplayName: "GPT"},
			{ID: "claude", Type: chat.ParticipantModel, Nickname: "claude", DisplayName: "Claude"},
		},
	})

	bar := NewStatusBar("api review")
	bar.SetWidth(120)

	view := bar.Render(c)
	assert.Contains(t, view, "api review")
	assert.Contains(t, view, "gpt")
	assert.Contains(t, view, "claude")
	assert.Contains(t, view, "0 in / 0 out")
	assert.NotContains(t, view, "plan", "idle plan state stays off the bar")
}

func TestRenderParticipantStateMarkers(t *testing.T) {
	t.Parallel()

	p := chat.Participant{ID: "gpt", Type: chat.ParticipantModel, Nickname: "gpt"}
	assert.Contains(t, renderParticipantState(p, chat.TurnIdle), "○")
	assert.Contains(t, renderParticipantState(p, chat.TurnWaiting), "◐")
	assert.Contains(t, renderParticipantState(p, chat.TurnStreaming), "●")
}
