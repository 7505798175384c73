package followuser

import (
	"fmt"
	"log"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/ui/common"
	"github.com/deemkeen/mammut/web"
	"github.com/google/uuid"
)

var (
	Style = lipgloss.NewStyle().
		Padding(1, 2).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63"))
)

type Model struct {
	TextInput textinput.Model
	AccountId uuid.UUID
	Status    string
	Error     string
	engine    *activitypub.Engine
}

func InitialModel(engine *activitypub.Engine, accountId uuid.UUID) Model {
	ti := textinput.New()
	ti.Placeholder = "user@mastodon.social"
	ti.Focus()
	ti.CharLimit = 100
	ti.Width = 50

	return Model{
		TextInput: ti,
		AccountId: accountId,
		Status:    "",
		Error:     "",
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
			input := strings.TrimSpace(m.TextInput.Value())
			if input == "" {
				m.Error = "Please enter a user@domain"
				return m, nil
			}

			parts := strings.Split(input, "@")
			if len(parts) != 2 {
				m.Error = "Invalid format. Use: user@domain.com"
				return m, nil
			}

			username := parts[0]
			domain := parts[1]

			m.Status = fmt.Sprintf("Following %s...", input)
			m.Error = ""

			engine := m.engine
			accountId := m.AccountId
			go func() {
				if err := followRemoteUser(engine, accountId, username, domain); err != nil {
					log.Printf("Follow failed: %v", err)
				}
			}()

			m.TextInput.SetValue("")
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

	s.WriteString(common.CaptionStyle.Render("follow remote user"))
	s.WriteString("\n\n")
	s.WriteString("Enter ActivityPub address (e.g., user@mastodon.social):\n\n")
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

	s.WriteString("\n")
	s.WriteString(common.HelpStyle.Render("enter: follow • esc: clear • tab: switch view • shift+tab: prev view"))

	return s.String()
}

// followRemoteUser resolves a remote address via webfinger and sends
// the Follow activity through the delivery engine.
func followRemoteUser(engine *activitypub.Engine, accountId uuid.UUID, username, domain string) error {
	err, localAccount := engine.DB().ReadAccById(accountId)
	if err != nil {
		return fmt.Errorf("failed to get local account: %w", err)
	}

	actorURI, err := web.ResolveWebFinger(username, domain)
	if err != nil {
		return fmt.Errorf("webfinger resolution failed: %w", err)
	}

	if err := engine.SendFollow(localAccount, actorURI); err != nil {
		return fmt.Errorf("failed to send follow: %w", err)
	}

	log.Printf("Sent follow request from %s to %s@%s (%s)",
		localAccount.Username, username, domain, actorURI)

	return nil
}
