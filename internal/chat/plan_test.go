package chat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cebus/internal/agent"
)

func twoStepPlan() *agent.Plan {
	return &agent.Plan{
		ID:       "p1",
		Analysis: "split across both",
		Steps: []agent.PlanStep{
			{ID: "step-1", Description: "draft", AgentID: "gpt"},
			{ID: "step-2", Description: "review", AgentID: "claude"},
		},
	}
}

func TestOrchestratorHappyPath(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator()
	assert.Equal(t, PlanIdle, o.State())

	require.NoError(t, o.BeginPlanning())
	assert.Equal(t, PlanPlanning, o.State())

	require.NoError(t, o.PlanReady(twoStepPlan(), "do the thing"))
	assert.Equal(t, PlanAwaitingApproval, o.State())
	require.NotNil(t, o.Pending())
	assert.Equal(t, "do the thing", o.Pending().OriginalMessage)
	assert.Equal(t, "split across both", o.Pending().Analysis)

	approved, err := o.Approve()
	require.NoError(t, err)
	assert.Equal(t, PlanExecuting, o.State())
	assert.Equal(t, 2, len(approved.Plan.Steps))
	require.NotNil(t, o.Progress())
	assert.Equal(t, 0, o.Progress().Completed)

	o.StepStarted("gpt")
	assert.Equal(t, "gpt", o.Progress().ActiveAgent)

	o.AgentFinished("gpt")
	assert.Equal(t, 1, o.Progress().Completed)
	assert.Equal(t, PlanExecuting, o.State())

	o.AgentFinished("claude")
	assert.Equal(t, 2, o.Progress().Completed)
	assert.Equal(t, PlanCompleted, o.State())
}

func TestOrchestratorSingleFlight(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator()
	require.NoError(t, o.BeginPlanning())
	assert.True(t, errors.Is(o.BeginPlanning(), ErrPlanInFlight))

	require.NoError(t, o.PlanReady(twoStepPlan(), "msg"))
	assert.True(t, errors.Is(o.BeginPlanning(), ErrPlanInFlight))

	_, err := o.Approve()
	require.NoError(t, err)
	assert.True(t, errors.Is(o.BeginPlanning(), ErrPlanInFlight))
}

func TestOrchestratorReject(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator()
	require.NoError(t, o.BeginPlanning())
	require.NoError(t, o.PlanReady(twoStepPlan(), "msg"))

	rejected, err := o.Reject()
	require.NoError(t, err)
	assert.Equal(t, PlanRejected, o.State())
	assert.Nil(t, o.Progress())
	assert.Equal(t, "p1", rejected.Plan.ID)

	// A settled machine accepts the next request.
	o.Reset()
	require.NoError(t, o.BeginPlanning())
}

func TestOrchestratorApproveRequiresPendingPlan(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator()
	if _, err := o.Approve(); err == nil {
		t.Fatal("expected error approving with no pending plan")
	}
	if _, err := o.Reject(); err == nil {
		t.Fatal("expected error rejecting with no pending plan")
	}
}

func TestOrchestratorProgressIsMonotoneAndBounded(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator()
	require.NoError(t, o.BeginPlanning())
	require.NoError(t, o.PlanReady(twoStepPlan(), "msg"))
	_, err := o.Approve()
	require.NoError(t, err)

	o.AgentFinished("gpt")
	o.AgentFinished("gpt")
	o.AgentFinished("claude")
	o.AgentFinished("claude")
	assert.Equal(t, 2, o.Progress().Completed, "completed must stay bounded by the step count")
}

func TestOrchestratorFail(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator()
	require.NoError(t, o.BeginPlanning())
	require.NoError(t, o.PlanReady(twoStepPlan(), "msg"))
	_, err := o.Approve()
	require.NoError(t, err)

	o.Fail("gpt: provider exploded")
	assert.Equal(t, PlanFailed, o.State())

	// Failure settles the machine; the next request may plan again.
	o.Reset()
	require.NoError(t, o.BeginPlanning())
}

func TestOrchestratorLogsNarration(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator()
	require.NoError(t, o.BeginPlanning())
	require.NoError(t, o.PlanReady(twoStepPlan(), "msg"))

	log := o.Log()
	require.NotEmpty(t, log)
	var sawPlan bool
	for _, entry := range log {
		if entry.Kind == "plan" {
			sawPlan = true
		}
	}
	assert.True(t, sawPlan, "plan YAML should be in the narration log")
}
