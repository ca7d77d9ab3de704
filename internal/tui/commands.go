package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

type CommandResultMsg struct {
	Msg string
}

type OpenParticipantsModalMsg struct{}
type ShowStatsMsg struct{}
type CancelTurnsMsg struct{}
type QuitRequestedMsg struct{}

type slashCommand struct {
	Name        string
	Description string
}

var slashCommands = []slashCommand{
	{Name: "/participants", Description: "List session participants"},
	{Name: "/stats", Description: "Show token usage so far"},
	{Name: "/cancel", Description: "Cancel all in-flight turns"},
	{Name: "/config", Description: "Show the active configuration"},
	{Name: "/help", Description: "List available commands"},
	{Name: "/quit", Description: "End the session"},
}

func filterSlashCommands(input string, limit int) []slashCommand {
	if limit <= 0 {
		limit = len(slashCommands)
	}

	raw := strings.TrimSpace(input)
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return nil
	}

	token := strings.Fields(raw)[0]
	query := strings.ToLower(strings.TrimPrefix(token, "/"))
	if query == "" {
		if limit > len(slashCommands) {
			limit = len(slashCommands)
		}
		return slashCommands[:limit]
	}

	matches := make([]slashCommand, 0, limit)
	add := func(c slashCommand) bool {
		if len(matches) >= limit {
			return false
		}
		matches = append(matches, c)
		return true
	}

	// Prefix matches first for intuitive command completion.
	for _, c := range slashCommands {
		if strings.HasPrefix(strings.TrimPrefix(strings.ToLower(c.Name), "/"), query) {
			if !add(c) {
				return matches
			}
		}
	}

	// If needed, add substring matches to help discovery.
	for _, c := range slashCommands {
		name := strings.TrimPrefix(strings.ToLower(c.Name), "/")
		if strings.HasPrefix(name, query) {
			continue
		}
		if strings.Contains(name, query) {
			if !add(c) {
				return matches
			}
		}
	}

	return matches
}

func normalizeSlashCommand(input string) string {
	parts := strings.Fields(strings.TrimSpace(input))
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// handleSlashCommand intercepts /command lines before they reach the
// coordinator.
func handleSlashCommand(cmdStr string, app *AppModel) tea.Cmd {
	return func() tea.Msg {
		switch normalizeSlashCommand(cmdStr) {
		case "/participants":
			return OpenParticipantsModalMsg{}
		case "/stats":
			return ShowStatsMsg{}
		case "/cancel":
			return CancelTurnsMsg{}
		case "/config":
			return CommandResultMsg{Msg: app.configSummary()}
		case "/help":
			return CommandResultMsg{Msg: helpText()}
		case "/quit", "/exit":
			return QuitRequestedMsg{}
		default:
			if suggestions := filterSlashCommands(cmdStr, 1); len(suggestions) == 1 {
				return CommandResultMsg{Msg: fmt.Sprintf("Unknown command: %s. Did you mean %s?", cmdStr, suggestions[0].Name)}
			}
			return CommandResultMsg{Msg: fmt.Sprintf("Unknown command: %s", cmdStr)}
		}
	}
}

func helpText() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range slashCommands {
		fmt.Fprintf(&b, "  %-14s %s\n", c.Name, c.Description)
	}
	b.WriteString("Address one model with @nickname, e.g. \"@gpt summarize this\".")
	return b.String()
}

func classifyUserInput(raw string) (trimmed string, isCommand bool) {
	trimmed = strings.TrimSpace(raw)
	return trimmed, strings.HasPrefix(trimmed, "/")
}
