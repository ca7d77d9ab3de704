package cli

import (
	"fmt"
	"os"
	"strings"

	"cebus/internal/agent"
	"cebus/internal/chat"
	"cebus/internal/config"
	"cebus/internal/providers"
)

const UserParticipantID = "user"
const OrchestratorParticipantID = "orchestrator"

// SessionSetup is everything a new chat session needs: the cast of
// participants and one worker per model.
type SessionSetup struct {
	Participants []chat.Participant
	Profiles     map[string]agent.Profile
	Workers      map[string]agent.Worker
	PlannerID    string
	Mode         string
	Providers    []providers.Provider
}

// BuildSession resolves model specs like "gpt", "claude" or "openai:gpt-4o"
// into participants. Repeated providers get numbered nicknames so mentions
// stay unambiguous.
func BuildSession(cfg *config.Config, modelArgs []string, orchestrator bool) (*SessionSetup, error) {
	if len(modelArgs) == 0 {
		modelArgs = []string{"gpt", "claude"}
	}

	workingDir, err := os.Getwd()
	if err != nil {
		workingDir = "."
	}

	setup := &SessionSetup{
		Participants: []chat.Participant{
			{ID: UserParticipantID, Type: chat.ParticipantUser, Nickname: "you", DisplayName: "You"},
		},
		Profiles: make(map[string]agent.Profile),
		Workers:  make(map[string]agent.Worker),
		Mode:     "direct",
	}

	nicknameCount := make(map[string]int)
	var firstProvider providers.Provider

	for _, arg := range modelArgs {
		providerName, model, _ := strings.Cut(arg, ":")
		spec, err := resolveProvider(providerName)
		if err != nil {
			return nil, err
		}
		if model == "" {
			model = spec.Model(cfg)
		}
		if strings.TrimSpace(model) == "" {
			return nil, fmt.Errorf("no model configured for provider %s", spec.Name)
		}

		nickname := spec.Nickname
		nicknameCount[nickname]++
		if n := nicknameCount[nickname]; n > 1 {
			nickname = fmt.Sprintf("%s%d", nickname, n)
		}

		provider := spec.Builder(cfg)
		if firstProvider == nil {
			firstProvider = provider
		}

		id := nickname
		displayName := spec.DisplayName
		if nickname != spec.Nickname {
			displayName = fmt.Sprintf("%s (%s)", spec.DisplayName, model)
		}

		setup.Participants = append(setup.Participants, chat.Participant{
			ID:          id,
			Type:        chat.ParticipantModel,
			Nickname:    nickname,
			DisplayName: displayName,
		})
		setup.Profiles[id] = agent.Profile{
			AgentID:     id,
			Nickname:    nickname,
			DisplayName: displayName,
			Model:       model,
			Provider:    provider,
			Tools:       agent.DefaultToolSet(agent.ToolEnv{WorkingDir: workingDir, AgentID: id}),
		}
		setup.Workers[id] = agent.NewProviderWorker()
		setup.Providers = append(setup.Providers, provider)
	}

	applySystemPrompts(setup)

	if orchestrator {
		setup.Mode = "orchestrated"
		setup.PlannerID = OrchestratorParticipantID
		setup.Participants = append(setup.Participants, chat.Participant{
			ID:          OrchestratorParticipantID,
			Type:        chat.ParticipantOrchestrator,
			Nickname:    "orc",
			DisplayName: "Orchestrator",
		})
		// The planner reuses the first model backend; its system prompt is
		// swapped in per planning turn.
		model := ""
		for _, p := range setup.Participants {
			if p.Type == chat.ParticipantModel {
				model = setup.Profiles[p.ID].Model
				break
			}
		}
		setup.Profiles[OrchestratorParticipantID] = agent.Profile{
			AgentID:     OrchestratorParticipantID,
			Nickname:    "orc",
			DisplayName: "Orchestrator",
			Model:       model,
			Provider:    firstProvider,
		}
		setup.Workers[OrchestratorParticipantID] = agent.NewProviderWorker()
	}

	return setup, nil
}

// applySystemPrompts tells each model who else is in the room so replies can
// reference other participants by nickname.
func applySystemPrompts(setup *SessionSetup) {
	models := chat.ModelParticipants(setup.Participants)
	for id, profile := range setup.Profiles {
		var others []string
		for _, p := range models {
			if p.ID != id {
				others = append(others, "@"+p.Nickname+" ("+p.DisplayName+")")
			}
		}
		prompt := fmt.Sprintf("You are %s in a group chat with a human and other AI models.", profile.DisplayName)
		if len(others) > 0 {
			prompt += " Also present: " + strings.Join(others, ", ") + "."
		}
		prompt += " Keep answers focused; the user sees every reply side by side."
		profile.SystemPrompt = prompt
		setup.Profiles[id] = profile
	}
}
