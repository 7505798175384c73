package moderation

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/ui/common"
)

// Model is the moderation pane: block or unblock federation domains
// and watch the engine's queue and delivery state.
type Model struct {
	TextInput textinput.Model
	Status    string
	Error     string
	engine    *activitypub.Engine
}

func InitialModel(engine *activitypub.Engine) Model {
	ti := textinput.New()
	ti.Placeholder = "spam.example"
	ti.Focus()
	ti.CharLimit = 100
	ti.Width = 50

	return Model{
		TextInput: ti,
		engine:    engine,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			domain := strings.TrimSpace(m.TextInput.Value())
			if domain == "" {
				m.Error = "Please enter a domain"
				return m, nil
			}
			if err := m.engine.Policy.BlockDomain(domain, "blocked via moderation pane"); err != nil {
				m.Error = fmt.Sprintf("Block failed: %v", err)
				m.Status = ""
			} else {
				m.Status = fmt.Sprintf("Blocked %s", domain)
				m.Error = ""
				m.TextInput.SetValue("")
			}
			return m, nil
		case "ctrl+u":
			domain := strings.TrimSpace(m.TextInput.Value())
			if domain == "" {
				m.Error = "Please enter a domain to unblock"
				return m, nil
			}
			if err := m.engine.Policy.UnblockDomain(domain); err != nil {
				m.Error = fmt.Sprintf("Unblock failed: %v", err)
				m.Status = ""
			} else {
				m.Status = fmt.Sprintf("Unblocked %s", domain)
				m.Error = ""
				m.TextInput.SetValue("")
			}
			return m, nil
		case "esc":
			m.TextInput.SetValue("")
			m.Status = ""
			m.Error = ""
			return m, nil
		}
	}

	m.TextInput, cmd = m.TextInput.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render("federation moderation"))
	s.WriteString("\n\n")
	s.WriteString("Domain to block or unblock:\n\n")
	s.WriteString(m.TextInput.View())
	s.WriteString("\n\n")

	if m.Status != "" {
		s.WriteString(common.StatusStyle.Render(m.Status))
		s.WriteString("\n")
	}
	if m.Error != "" {
		s.WriteString(common.ErrorStyle.Render(m.Error))
		s.WriteString("\n")
	}

	blocked := m.engine.Policy.BlockedDomains()
	s.WriteString("\nblocked domains:\n")
	if len(blocked) == 0 {
		s.WriteString(common.HelpStyle.Render("(none)"))
		s.WriteString("\n")
	}
	for _, domain := range blocked {
		s.WriteString(fmt.Sprintf("  • %s\n", domain))
	}

	s.WriteString(fmt.Sprintf("\nqueue: %d pending • send threads: %d\n",
		m.engine.Queue.Len(), m.engine.Sends.Active()))

	s.WriteString("\n")
	s.WriteString(common.HelpStyle.Render("enter: block • ctrl+u: unblock • esc: clear"))

	return s.String()
}
