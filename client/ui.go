package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/burntcarrot/convergent/client/editor"
	"github.com/burntcarrot/convergent/commons"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// statusTimeout is how long a status message stays in the status bar.
const statusTimeout = 3 * time.Second

type (
	// loginMsg joins the session under a name given on the command line.
	loginMsg string

	clearStatusMsg struct{}
)

var (
	cursorStyle = lipgloss.NewStyle().Reverse(true)
	statusStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1a1a1a")).Background(lipgloss.Color("#7dcfff"))
)

type model struct {
	session *session
	editor  *editor.Editor

	textInput textinput.Model
	name      string
	err       error
	Quitting  bool
	LoggedIn  bool
}

func initialModel(s *session, name string) model {
	ti := textinput.New()
	ti.Placeholder = "Username"
	ti.Focus()
	ti.CharLimit = 156
	ti.Width = 20

	e := editor.NewEditor(editor.EditorConfig{
		ScrollEnabled: true,
		CursorStyle:   func(s string) string { return cursorStyle.Render(s) },
		StatusStyle:   func(s string) string { return statusStyle.Render(s) },
	})

	return model{
		session:   s,
		editor:    e,
		textInput: ti,
		name:      name,
	}
}

func (m model) Init() tea.Cmd {
	if m.name != "" {
		name := m.name
		return func() tea.Msg { return loginMsg(name) }
	}
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.editor.SetSize(msg.Width, msg.Height)
		return m, nil

	case loginMsg:
		return m.logIn(string(msg))

	case remoteMsg:
		return m, m.handleRemote(commons.Message(msg))

	case connClosedMsg:
		m.err = msg.err
		m.Quitting = true
		return m, tea.Quit

	case clearStatusMsg:
		m.editor.ClearStatus()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.Quitting = true
			return m, tea.Quit
		}

		if m.LoggedIn {
			return m, m.handleKey(msg)
		}
		if msg.Type == tea.KeyEnter {
			if name := strings.TrimSpace(m.textInput.Value()); name != "" {
				return m.logIn(name)
			}
		}
	}

	if !m.LoggedIn {
		m.textInput, cmd = m.textInput.Update(msg)
	}
	return m, cmd
}

func (m model) logIn(name string) (tea.Model, tea.Cmd) {
	m.name = name
	m.LoggedIn = true
	m.textInput.Blur()

	if err := m.session.join(context.Background(), name); err != nil {
		m.session.log.WithError(err).Error("failed to join")
		return m, m.setStatus("lost connection!")
	}
	return m, m.setStatus(fmt.Sprintf("Welcome %s! Editing a %s document.", name, m.session.replica.Kind()))
}

// handleKey applies a key press to the editor and mirrors edits into the
// replica.
func (m model) handleKey(k tea.KeyMsg) tea.Cmd {
	ctx := context.Background()

	switch k.Type {
	case tea.KeyLeft, tea.KeyCtrlB:
		m.editor.MoveCursor(-1, 0)
	case tea.KeyRight, tea.KeyCtrlF:
		m.editor.MoveCursor(1, 0)
	case tea.KeyUp, tea.KeyCtrlP:
		m.editor.MoveCursor(0, -1)
	case tea.KeyDown, tea.KeyCtrlN:
		m.editor.MoveCursor(0, 1)
	case tea.KeyHome:
		m.editor.MoveCursor(-len(m.editor.Text), 0)
	case tea.KeyEnd:
		m.editor.MoveCursor(len(m.editor.Text), 0)

	case tea.KeyCtrlS:
		if err := m.session.save(ctx); err != nil {
			m.session.log.WithError(err).Error("failed to save")
			return m.setStatus("Failed to save to " + m.session.file)
		}
		return m.setStatus("Saved document to " + m.session.file)

	case tea.KeyCtrlL:
		if err := m.session.load(ctx); err != nil {
			m.session.log.WithError(err).Error("failed to load")
			return m.setStatus("Failed to load " + m.session.file)
		}
		m.refresh(ctx)
		return m.setStatus("Loaded " + m.session.file)

	case tea.KeyCtrlT:
		title := strings.TrimSpace(strings.SplitN(m.editor.GetText(), "\n", 2)[0])
		if title == "" {
			return m.setStatus("The first line is empty, nothing to use as a title")
		}
		if err := m.session.setTitle(ctx, title); err != nil {
			m.session.log.WithError(err).Error("failed to set title")
			return m.setStatus("lost connection!")
		}
		return m.setStatus(fmt.Sprintf("Title set to %q", title))

	case tea.KeyCtrlU:
		users, err := m.session.presence(ctx)
		if err != nil {
			m.session.log.WithError(err).Error("failed to read presence")
			return nil
		}
		return m.setStatus("present: " + strings.Join(users, ", "))

	case tea.KeyBackspace:
		if index, ok := m.editor.DeleteRune(); ok {
			return m.edit(m.session.delete(ctx, index))
		}
	case tea.KeyDelete:
		if index, ok := m.editor.DeleteForward(); ok {
			return m.edit(m.session.delete(ctx, index))
		}

	case tea.KeyTab:
		return m.insert(ctx, "    ")
	case tea.KeyEnter:
		return m.insert(ctx, "\n")
	case tea.KeyRunes:
		return m.insert(ctx, string(k.Runes))
	default:
		if k.String() == " " {
			return m.insert(ctx, " ")
		}
	}
	return nil
}

func (m model) insert(ctx context.Context, text string) tea.Cmd {
	index := m.editor.Cursor
	for _, r := range text {
		m.editor.AddRune(r)
	}
	return m.edit(m.session.insert(ctx, index, text))
}

// edit reports a failed local edit. The editor is resynchronized from the
// replica, which stays the source of truth.
func (m model) edit(err error) tea.Cmd {
	if err == nil {
		return nil
	}
	m.session.log.WithError(err).Error("failed to edit")
	m.refresh(context.Background())
	return m.setStatus("lost connection!")
}

func (m model) handleRemote(msg commons.Message) tea.Cmd {
	ctx := context.Background()

	changed, status, err := m.session.handleMsg(ctx, msg)
	if err != nil {
		m.session.log.WithError(err).Warn("failed to handle message")
		return nil
	}
	if changed {
		m.refresh(ctx)
	}
	if status != "" {
		return m.setStatus(status)
	}
	return nil
}

// refresh copies the replica's text into the editor.
func (m model) refresh(ctx context.Context) {
	text, err := m.session.replica.Text(ctx)
	if err != nil {
		m.session.log.WithError(err).Error("failed to read document")
		return
	}
	m.editor.Replace(text)
	logDoc(ctx, m.session.replica, m.session.log)
}

func (m model) setStatus(status string) tea.Cmd {
	m.editor.SetStatus(status)
	return tea.Tick(statusTimeout, func(time.Time) tea.Msg { return clearStatusMsg{} })
}

func loginView(m model) string {
	return fmt.Sprintf(
		"Enter username:\n\n%s\n\n%s",
		m.textInput.View(),
		"(esc to quit)",
	) + "\n"
}

func (m model) View() string {
	if m.Quitting {
		return "\n  See you later!\n\n"
	}
	if !m.LoggedIn {
		return loginView(m)
	}
	return m.editor.View()
}
