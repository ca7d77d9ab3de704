package agent

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Plan is an orchestrator-produced sequence of steps, each bound to one
// model participant.
type Plan struct {
	ID       string
	Analysis string
	Steps    []PlanStep
}

type PlanStep struct {
	ID          string
	Description string
	AgentID     string
}

type yamlPlan struct {
	Analysis string `yaml:"analysis"`
	Steps    []struct {
		ID          string `yaml:"id"`
		Description string `yaml:"description"`
		Agent       string `yaml:"agent"`
	} `yaml:"steps"`
}

// ParsePlan decodes a planner reply. Models tend to wrap YAML in markdown
// fences, so those are stripped first.
func ParsePlan(raw string) (*Plan, error) {
	cleaned := stripYAMLFences(raw)
	if strings.TrimSpace(cleaned) == "" {
		return nil, fmt.Errorf("planner returned an empty plan")
	}

	var decoded yamlPlan
	if err := yaml.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return nil, fmt.Errorf("plan is not valid YAML: %w", err)
	}
	if len(decoded.Steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}

	plan := &Plan{Analysis: strings.TrimSpace(decoded.Analysis)}
	for i, step := range decoded.Steps {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			id = fmt.Sprintf("step-%d", i+1)
		}
		description := strings.TrimSpace(step.Description)
		if description == "" {
			return nil, fmt.Errorf("plan step %s has no description", id)
		}
		plan.Steps = append(plan.Steps, PlanStep{
			ID:          id,
			Description: description,
			AgentID:     strings.TrimSpace(step.Agent),
		})
	}
	return plan, nil
}

// RenderYAML produces the plan text shown in the review modal.
func (p *Plan) RenderYAML() string {
	if p == nil {
		return ""
	}
	encoded := yamlPlan{Analysis: p.Analysis}
	for _, step := range p.Steps {
		encoded.Steps = append(encoded.Steps, struct {
			ID          string `yaml:"id"`
			Description string `yaml:"description"`
			Agent       string `yaml:"agent"`
		}{ID: step.ID, Description: step.Description, Agent: step.AgentID})
	}
	out, err := yaml.Marshal(encoded)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// PlannerSystemPrompt instructs the orchestrator model to emit the plan
// schema ParsePlan understands, binding steps to the given participants.
func PlannerSystemPrompt(agentIDs []string) string {
	agents := strings.Join(agentIDs, ", ")
	if agents == "" {
		agents = "none"
	}
	return strings.TrimSpace(fmt.Sprintf(`You are the session orchestrator. Turn the user's request into a short plan.
Reply with YAML only, no prose outside the YAML document:

analysis: <one-paragraph analysis of the request>
steps:
  - id: step-1
    description: <what to do>
    agent: <one of: %s>

Rules:
- Every step's agent must be one of the listed participants.
- Keep plans short; merge trivial steps.
- Do not execute anything yourself.`, agents))
}

func stripYAMLFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```yaml")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
