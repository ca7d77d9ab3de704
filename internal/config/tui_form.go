package config

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	itemStyle  = lipgloss.NewStyle().PaddingLeft(2)
)

type FormModel struct {
	cfg *Config
}

func NewFormModel(cfg *Config) *FormModel {
	return &FormModel{cfg: cfg}
}

func (m *FormModel) Init() tea.Cmd {
	return nil
}

func (m *FormModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *FormModel) View() string {
	s := titleStyle.Render("Cebus Configuration") + "\n\n"
	s += itemStyle.Render(fmt.Sprintf("Idle timeout: %s", m.cfg.IdleTimeout())) + "\n"
	s += itemStyle.Render(fmt.Sprintf("Orchestrator: %t", m.cfg.Session.Orchestrator)) + "\n"
	s += itemStyle.Render(fmt.Sprintf("Anthropic model: %s", m.cfg.Providers.Anthropic.DefaultModel)) + "\n"
	s += itemStyle.Render(fmt.Sprintf("OpenAI model: %s", m.cfg.Providers.OpenAI.DefaultModel)) + "\n"
	s += itemStyle.Render(fmt.Sprintf("Ollama host: %s", m.cfg.Providers.Ollama.Host)) + "\n"
	s += "\nEdit " + GetConfigPath() + " to change values. Press 'q' to close.\n"
	return lipgloss.NewStyle().Padding(1, 2).Render(s)
}

func RunConfigForm(cfg *Config) error {
	p := tea.NewProgram(NewFormModel(cfg))
	_, err := p.Run()
	return err
}
