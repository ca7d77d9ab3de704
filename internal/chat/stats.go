package chat

import (
	"fmt"
	"sort"
	"strings"

	"cebus/internal/agent"
)

// SessionStats accumulates per-participant token usage and message counts
// for the exit summary.
type SessionStats struct {
	usage    map[string]agent.Usage
	messages map[string]int
	errors   int
	turns    int
}

func NewSessionStats() *SessionStats {
	return &SessionStats{
		usage:    make(map[string]agent.Usage),
		messages: make(map[string]int),
	}
}

func (s *SessionStats) RecordTurn() {
	s.turns++
}

func (s *SessionStats) RecordMessage(participantID string, usage agent.Usage) {
	s.messages[participantID]++
	s.usage[participantID] = s.usage[participantID].Add(usage)
}

func (s *SessionStats) RecordError() {
	s.errors++
}

func (s *SessionStats) Usage(participantID string) agent.Usage {
	return s.usage[participantID]
}

func (s *SessionStats) TotalUsage() agent.Usage {
	var total agent.Usage
	for _, u := range s.usage {
		total = total.Add(u)
	}
	return total
}

// Summary renders the end-of-session report printed on exit.
func (s *SessionStats) Summary(participants []Participant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session summary: %d turns", s.turns)
	if s.errors > 0 {
		fmt.Fprintf(&b, ", %d errors", s.errors)
	}
	b.WriteString("\n")

	names := make(map[string]string, len(participants))
	for _, p := range participants {
		names[p.ID] = p.DisplayName
	}

	ids := make([]string, 0, len(s.messages))
	for id := range s.messages {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		name := names[id]
		if name == "" {
			name = id
		}
		u := s.usage[id]
		fmt.Fprintf(&b, "  %s: %d messages, %d in / %d out tokens\n",
			name, s.messages[id], u.InputTokens, u.OutputTokens)
	}

	total := s.TotalUsage()
	fmt.Fprintf(&b, "  total: %d in / %d out tokens", total.InputTokens, total.OutputTokens)
	return b.String()
}
