package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"cebus/internal/agent"
	"cebus/internal/chat"
)

func testPendingPlan() *chat.PendingPlanApproval {
	return &chat.PendingPlanApproval{
		Plan: &agent.Plan{
			ID:       "p1",
			Analysis: "split the work between the two models",
			Steps: []agent.PlanStep{
				{ID: "s1", Description: "draft the schema", AgentID: "gpt"},
				{ID: "s2", Description: "review the schema", AgentID: "claude"},
			},
		},
		OriginalMessage: "design a schema",
		Analysis:        "split the work between the two models",
	}
}

func TestPlanModalShowsStepsAndAgents(t *testing.T) {
	t.Parallel()

	m := NewPlanReviewModal(map[string]string{"gpt": "GPT", "claude": "Claude"})
	m.SetSize(100, 30)
	m.Open(testPendingPlan())

	view := m.View()
	assert.Contains(t, view, "2 steps")
	assert.Contains(t, view, "draft the schema")
	assert.Contains(t, view, "@GPT")
	assert.Contains(t, view, "@Claude")
	assert.Contains(t, view, "split the work")
}

func TestPlanModalApproveAndRejectKeys(t *testing.T) {
	t.Parallel()

	m := NewPlanReviewModal(nil)
	m.Open(testPendingPlan())

	action, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, PlanApproved, action)

	action, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	assert.Equal(t, PlanRejected, action)

	action, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, PlanRejected, action)
}

func TestPlanModalIgnoresKeysWhenHidden(t *testing.T) {
	t.Parallel()

	m := NewPlanReviewModal(nil)
	action, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, PlanNoAction, action)
	assert.Empty(t, m.View())
}
