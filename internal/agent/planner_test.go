package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlanAcceptsFencedYAML(t *testing.T) {
	t.Parallel()

	raw := "```yaml\nanalysis: split the work\nsteps:\n  - id: s1\n    description: draft the schema\n    agent: gpt\n  - id: s2\n    description: review the schema\n    agent: claude\n```"

	plan, err := ParsePlan(raw)
	require.NoError(t, err)
	assert.Equal(t, "split the work", plan.Analysis)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "s1", plan.Steps[0].ID)
	assert.Equal(t, "gpt", plan.Steps[0].AgentID)
	assert.Equal(t, "claude", plan.Steps[1].AgentID)
}

func TestParsePlanGeneratesMissingStepIDs(t *testing.T) {
	t.Parallel()

	plan, err := ParsePlan("steps:\n  - description: only step\n    agent: gpt\n")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "step-1", plan.Steps[0].ID)
}

func TestParsePlanRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "no steps", raw: "analysis: nothing to do\n"},
		{name: "not yaml", raw: "{{{{"},
		{name: "step without description", raw: "steps:\n  - id: s1\n    agent: gpt\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePlan(tc.raw)
			assert.Error(t, err)
		})
	}
}

func TestRenderYAMLRoundTrips(t *testing.T) {
	t.Parallel()

	plan := &Plan{
		Analysis: "two phases",
		Steps: []PlanStep{
			{ID: "s1", Description: "write it", AgentID: "gpt"},
			{ID: "s2", Description: "check it", AgentID: "claude"},
		},
	}

	reparsed, err := ParsePlan(plan.RenderYAML())
	require.NoError(t, err)
	assert.Equal(t, plan.Analysis, reparsed.Analysis)
	assert.Equal(t, plan.Steps, reparsed.Steps)
}

func TestPlannerSystemPromptListsAgents(t *testing.T) {
	t.Parallel()

	prompt := PlannerSystemPrompt([]string{"gpt", "claude"})
	assert.True(t, strings.Contains(prompt, "gpt, claude"))
	assert.True(t, strings.Contains(prompt, "YAML"))
}
