package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/ui/common"
	"github.com/deemkeen/mammut/ui/followuser"
	"github.com/deemkeen/mammut/ui/header"
	"github.com/deemkeen/mammut/ui/moderation"
	"github.com/deemkeen/mammut/ui/writenote"
)

var (
	modelStyle = lipgloss.NewStyle().
			Align(lipgloss.Top, lipgloss.Top).
			BorderStyle(lipgloss.HiddenBorder()).MarginLeft(1)
	focusedModelStyle = lipgloss.NewStyle().
				Align(lipgloss.Top, lipgloss.Top).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(lipgloss.Color(common.COLOR_LIGHTBLUE)).MarginLeft(1)
)

type MainModel struct {
	width           int
	height          int
	headerModel     header.Model
	account         domain.Account
	state           common.SessionState
	createModel     writenote.Model
	followModel     followuser.Model
	moderationModel moderation.Model
}

func NewModel(engine *activitypub.Engine, acc domain.Account, width int, height int) MainModel {

	width = common.DefaultWindowWidth(width)
	height = common.DefaultWindowHeight(height)

	m := MainModel{state: common.CreateNoteView}
	m.createModel = writenote.InitialNote(engine, width, acc.Id)
	m.followModel = followuser.InitialModel(engine, acc.Id)
	m.moderationModel = moderation.InitialModel(engine)
	m.headerModel = header.Model{Width: width, Acc: &acc}
	m.account = acc
	m.width = width
	m.height = height
	return m
}

func (m MainModel) Init() tea.Cmd {
	return func() tea.Msg {
		return common.CreateNoteView
	}
}

func (m MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.headerModel.Width = msg.Width
		return m, nil

	case common.SessionState:
		switch msg {
		case common.CreateNoteView, common.FollowUserView, common.ModerationView:
			m.state = msg
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			switch m.state {
			case common.CreateNoteView:
				m.state = common.FollowUserView
			case common.FollowUserView:
				m.state = common.ModerationView
			case common.ModerationView:
				m.state = common.CreateNoteView
			}
		case "shift+tab":
			switch m.state {
			case common.CreateNoteView:
				m.state = common.ModerationView
			case common.FollowUserView:
				m.state = common.CreateNoteView
			case common.ModerationView:
				m.state = common.FollowUserView
			}
		}
	}

	// Non-keyboard messages reach every sub-model; keyboard input only
	// the focused one.
	if _, isKeyMsg := msg.(tea.KeyMsg); !isKeyMsg {
		m.headerModel, _ = m.headerModel.Update(msg)
		m.followModel, cmd = m.followModel.Update(msg)
		cmds = append(cmds, cmd)
		m.moderationModel, cmd = m.moderationModel.Update(msg)
		cmds = append(cmds, cmd)
		m.createModel, cmd = m.createModel.Update(msg)
		cmds = append(cmds, cmd)
	} else {
		switch m.state {
		case common.CreateNoteView:
			m.createModel, cmd = m.createModel.Update(msg)
		case common.FollowUserView:
			m.followModel, cmd = m.followModel.Update(msg)
		case common.ModerationView:
			m.moderationModel, cmd = m.moderationModel.Update(msg)
		}
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m MainModel) View() string {

	var s string

	availableHeight := m.height - 10
	leftPanelWidth := m.width / 3
	rightPanelWidth := m.width - leftPanelWidth - 6

	createStyleStr := lipgloss.NewStyle().
		MaxHeight(availableHeight).
		Height(availableHeight).
		Width(leftPanelWidth).
		MaxWidth(leftPanelWidth).
		Render(m.createModel.View())

	followStyleStr := lipgloss.NewStyle().
		MaxHeight(availableHeight).
		Height(availableHeight).
		Width(rightPanelWidth).
		MaxWidth(rightPanelWidth).
		Margin(1).
		Render(m.followModel.View())

	moderationStyleStr := lipgloss.NewStyle().
		MaxHeight(availableHeight).
		Height(availableHeight).
		Width(rightPanelWidth).
		MaxWidth(rightPanelWidth).
		Margin(1).
		Render(m.moderationModel.View())

	navContainer := lipgloss.NewStyle().Render(m.headerModel.View())
	s += navContainer + "\n"

	switch m.state {
	case common.CreateNoteView:
		s += lipgloss.JoinHorizontal(lipgloss.Top,
			focusedModelStyle.Render(createStyleStr),
			modelStyle.Render(followStyleStr))
	case common.FollowUserView:
		s += lipgloss.JoinHorizontal(lipgloss.Top,
			modelStyle.Render(createStyleStr),
			focusedModelStyle.Render(followStyleStr))
	case common.ModerationView:
		s += lipgloss.JoinHorizontal(lipgloss.Top,
			modelStyle.Render(createStyleStr),
			focusedModelStyle.Render(moderationStyleStr))
	}

	var viewCommands string
	switch m.state {
	case common.FollowUserView:
		viewCommands = "enter: follow"
	case common.ModerationView:
		viewCommands = "enter: block • ctrl+u: unblock"
	default:
		viewCommands = "ctrl+s: post"
	}

	s += common.HelpStyle.Render(fmt.Sprintf(
		"focused > %s\t\tkeys > tab: next • shift+tab: prev • %s • ctrl-c: exit",
		m.currentFocusedModel(), viewCommands))
	return lipgloss.NewStyle().Render(s)
}

func (m MainModel) currentFocusedModel() string {
	switch m.state {
	case common.FollowUserView:
		return "follow user"
	case common.ModerationView:
		return "moderation"
	default:
		return "new note"
	}
}
