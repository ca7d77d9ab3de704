package chat

import "strings"

type ParticipantType string

const (
	ParticipantUser         ParticipantType = "user"
	ParticipantModel        ParticipantType = "model"
	ParticipantOrchestrator ParticipantType = "orchestrator"
)

// Participant is an addressable entity in a session. Identity fields are set
// at session setup and never change; Role may be reassigned.
type Participant struct {
	ID          string
	Type        ParticipantType
	Nickname    string
	DisplayName string
	Role        string
}

// ModelParticipants filters to the participants a broadcast turn targets.
func ModelParticipants(participants []Participant) []Participant {
	var models []Participant
	for _, p := range participants {
		if p.Type == ParticipantModel {
			models = append(models, p)
		}
	}
	return models
}

// ParseMentions splits leading @nickname prefixes off a user input line and
// resolves them against the session participants. Unmatched mentions are left
// in the content untouched. The returned ids preserve mention order.
func ParseMentions(input string, participants []Participant) (content string, directedTo []string) {
	byNickname := make(map[string]string, len(participants))
	for _, p := range participants {
		if p.Type == ParticipantModel && p.Nickname != "" {
			byNickname[strings.ToLower(p.Nickname)] = p.ID
		}
	}

	rest := strings.TrimSpace(input)
	seen := make(map[string]bool)
	for {
		if !strings.HasPrefix(rest, "@") {
			break
		}
		mention, tail, _ := strings.Cut(rest, " ")
		id, ok := byNickname[strings.ToLower(strings.TrimPrefix(mention, "@"))]
		if !ok {
			break
		}
		if !seen[id] {
			seen[id] = true
			directedTo = append(directedTo, id)
		}
		rest = strings.TrimSpace(tail)
	}
	return rest, directedTo
}
