// Package tui is the interactive chat screen: a session sidebar, the active
// session's timeline and an input line.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/user/mirrorchat/internal/orchestrator"
	"github.com/user/mirrorchat/internal/types"
)

const sidebarWidth = 16

type theme struct {
	header  lipgloss.Style
	panel   lipgloss.Style
	active  lipgloss.Style
	muted   lipgloss.Style
	user    lipgloss.Style
	bot     lipgloss.Style
	status  lipgloss.Style
	errLine lipgloss.Style
}

func newTheme() theme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")

	return theme{
		header: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue),
		active:  lipgloss.NewStyle().Foreground(pink).Bold(true),
		muted:   lipgloss.NewStyle().Foreground(muted),
		user:    lipgloss.NewStyle().Foreground(mint).Bold(true),
		bot:     lipgloss.NewStyle().Foreground(blue).Bold(true),
		status:  lipgloss.NewStyle().Foreground(blue),
		errLine: lipgloss.NewStyle().Foreground(pink).Bold(true),
	}
}

type changedMsg types.SessionID

type sendDoneMsg struct {
	res *orchestrator.SendResult
	err error
}

type switchDoneMsg struct {
	id  types.SessionID
	err error
}

type resyncDoneMsg struct{ err error }

type model struct {
	ctx     context.Context
	orch    *orchestrator.Orchestrator
	changes <-chan types.SessionID

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	theme    theme

	width, height int
	inflight      int
	status        string
	lastErr       error
}

func newModel(ctx context.Context, o *orchestrator.Orchestrator, changes <-chan types.SessionID) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Say something. /new, /switch <id>, /sync, /quit"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points

	return model{
		ctx:      ctx,
		orch:     o,
		changes:  changes,
		input:    input,
		timeline: viewport.New(0, 0),
		spinner:  sp,
		theme:    newTheme(),
		status:   "connected as " + o.Identity().Username,
	}
}

// Run shows the chat screen until the user quits.
func Run(ctx context.Context, o *orchestrator.Orchestrator) error {
	changes, cancel := o.Timeline().Subscribe()
	defer cancel()

	_, err := tea.NewProgram(newModel(ctx, o, changes), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForChange(m.changes))
}

func waitForChange(ch <-chan types.SessionID) tea.Cmd {
	return func() tea.Msg {
		id, ok := <-ch
		if !ok {
			return nil
		}
		return changedMsg(id)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.renderTimeline()
	case changedMsg:
		if types.SessionID(msg) == m.orch.Registry().Active() {
			m.renderTimeline()
		}
		cmds = append(cmds, waitForChange(m.changes))
	case sendDoneMsg:
		m.inflight--
		switch {
		case msg.err != nil:
			m.fail(msg.err)
		case msg.res.Fallback:
			m.status = "no reply stored yet, showing fallback"
		default:
			m.status = fmt.Sprintf("replied in %s", msg.res.Duration.Round(time.Millisecond))
		}
	case switchDoneMsg:
		if msg.err != nil {
			m.fail(msg.err)
		} else {
			m.status = "session " + string(msg.id)
		}
		m.renderTimeline()
	case resyncDoneMsg:
		if msg.err != nil {
			m.fail(msg.err)
		} else {
			m.status = "synced"
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+n":
			return m, m.newSession()
		case "tab":
			return m, m.switchTo(m.nextSession())
		case "enter":
			line := m.input.Value()
			m.input.Reset()
			cmd, quit := m.submit(line)
			if quit {
				return m, tea.Quit
			}
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.timeline, cmd = m.timeline.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *model) fail(err error) {
	m.lastErr = err
	if errors.Is(err, types.ErrAuth) {
		m.status = "signed out, run mirrorchat login"
		return
	}
	m.status = err.Error()
}

// command is a parsed input line.
type command struct {
	name string
	arg  string
}

// parseCommand splits "/name arg". Plain text yields ok == false.
func parseCommand(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{}, false
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

func (m *model) submit(line string) (tea.Cmd, bool) {
	if strings.TrimSpace(line) == "" {
		return nil, false
	}
	m.lastErr = nil

	c, ok := parseCommand(line)
	if !ok {
		return m.send(line), false
	}
	switch c.name {
	case "quit", "exit":
		return nil, true
	case "new":
		return m.newSession(), false
	case "switch":
		if c.arg == "" {
			m.status = "usage: /switch <session>"
			return nil, false
		}
		return m.switchTo(types.SessionID(c.arg)), false
	case "sync":
		o, ctx := m.orch, m.ctx
		return func() tea.Msg { return resyncDoneMsg{err: o.Resync(ctx)} }, false
	default:
		m.status = "unknown command /" + c.name
		return nil, false
	}
}

func (m *model) send(body string) tea.Cmd {
	o, ctx := m.orch, m.ctx
	session := o.Registry().Active()
	m.inflight++
	m.status = "sending"
	return func() tea.Msg {
		res, err := o.Send(ctx, session, body)
		return sendDoneMsg{res: res, err: err}
	}
}

func (m *model) newSession() tea.Cmd {
	o, ctx := m.orch, m.ctx
	return func() tea.Msg {
		id, err := o.NewSession(ctx)
		return switchDoneMsg{id: id, err: err}
	}
}

func (m *model) switchTo(id types.SessionID) tea.Cmd {
	if id == "" {
		return nil
	}
	if !m.orch.Registry().Contains(id) {
		m.status = "no session " + string(id)
		return nil
	}
	o, ctx := m.orch, m.ctx
	return func() tea.Msg {
		return switchDoneMsg{id: id, err: o.Switch(ctx, id)}
	}
}

// nextSession is the session after the active one, wrapping around.
func (m *model) nextSession() types.SessionID {
	sessions := m.orch.Registry().Sessions()
	if len(sessions) == 0 {
		return ""
	}
	active := m.orch.Registry().Active()
	for i, s := range sessions {
		if s.ID == active {
			return sessions[(i+1)%len(sessions)].ID
		}
	}
	return sessions[0].ID
}

func (m *model) resize() {
	w := m.width - sidebarWidth - 4
	h := m.height - 8
	if w < 10 {
		w = 10
	}
	if h < 3 {
		h = 3
	}
	m.timeline.Width = w
	m.timeline.Height = h
	m.input.Width = m.width - 6
}

func (m *model) renderTimeline() {
	msgs := m.orch.Timeline().View(m.orch.Registry().Active())
	m.timeline.SetContent(renderMessages(msgs, m.theme, m.timeline.Width))
	m.timeline.GotoBottom()
}

func renderMessages(msgs []types.Message, th theme, width int) string {
	if len(msgs) == 0 {
		return th.muted.Render("No messages yet.")
	}
	body := lipgloss.NewStyle()
	if width > 0 {
		body = body.Width(width)
	}
	var b strings.Builder
	for _, msg := range msgs {
		name := th.user.Render(msg.Author)
		if msg.Origin == types.OriginBot {
			name = th.bot.Render(msg.Author)
		}
		stamp := th.muted.Render(msg.CreatedAt.Local().Format("15:04"))
		fmt.Fprintf(&b, "%s %s\n%s\n\n", name, stamp, body.Render(msg.Body))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSidebar(sessions []types.Session, active types.SessionID, th theme) string {
	lines := []string{th.muted.Render("sessions")}
	for _, s := range sessions {
		label := "  #" + string(s.ID)
		if s.ID == active {
			lines = append(lines, th.active.Render("▸ #"+string(s.ID)))
			continue
		}
		lines = append(lines, label)
	}
	return strings.Join(lines, "\n")
}

func (m model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	active := m.orch.Registry().Active()
	header := m.theme.header.Width(m.width - 2).Render(
		fmt.Sprintf("mirrorchat · %s · session #%s", m.orch.Identity().Username, active))

	sidebar := m.theme.panel.
		Width(sidebarWidth).
		Height(m.timeline.Height).
		Render(renderSidebar(m.orch.Registry().Sessions(), active, m.theme))
	pane := m.theme.panel.Render(m.timeline.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, pane)

	status := m.theme.status.Render(m.status)
	if m.lastErr != nil {
		status = m.theme.errLine.Render(m.status)
	}
	if m.inflight > 0 {
		status = m.spinner.View() + " " + status
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.input.View(), status)
}
