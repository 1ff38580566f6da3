package display

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/teslashibe/go-spider/pkg/status"
)

// FetchFunc retrieves the current state.
type FetchFunc func(ctx context.Context) (status.RobotState, error)

// SendFunc submits a command text; it is bound to single keys.
type SendFunc func(ctx context.Context, text string) error

type stateMsg struct {
	state status.RobotState
	err   error
}

type tickMsg time.Time

type sentMsg struct {
	text string
	err  error
}

// keys maps single keystrokes to command texts.
var keys = map[string]string{
	"w":     "walk forward",
	"s":     "walk backward",
	"a":     "turn left",
	"d":     "turn right",
	"p":     "take a photo",
	" ":     "stop",
	"x":     "stop",
	"h":     "home",
	"enter": "what do you see",
}

// Model is a bubbletea model polling the robot's status.
type Model struct {
	fetch    FetchFunc
	send     SendFunc
	interval time.Duration

	state  status.RobotState
	err    error
	note   string
	width  int
	loaded bool
}

// NewModel polls fetch every interval. send may be nil for a read-only view.
func NewModel(fetch FetchFunc, send SendFunc, interval time.Duration) Model {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return Model{fetch: fetch, send: send, interval: interval}
}

func (m Model) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		st, err := m.fetch(ctx)
		return stateMsg{state: st, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) sendCmd(text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return sentMsg{text: text, err: m.send(ctx, text)}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.poll(), m.tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		k := msg.String()
		if k == "q" || k == "ctrl+c" {
			return m, tea.Quit
		}
		if text, ok := keys[k]; ok && m.send != nil {
			return m, m.sendCmd(text)
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.poll(), m.tick())

	case stateMsg:
		m.err = msg.err
		if msg.err == nil {
			m.state, m.loaded = msg.state, true
		}
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.note = "send failed: " + msg.err.Error()
		} else {
			m.note = "sent: " + msg.text
		}
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	switch {
	case m.loaded:
		b.WriteString(Panel(m.state, m.width))
	case m.err == nil:
		b.WriteString(dimStyle.Render("connecting..."))
	}
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errStyle.Render(m.err.Error()) + "\n")
	}
	if m.note != "" {
		b.WriteString(dimStyle.Render(m.note) + "\n")
	}
	help := "q quit"
	if m.send != nil {
		help = "w/s walk  a/d turn  space stop  p photo  h home  enter look  " + help
	}
	b.WriteString(dimStyle.Render(help))
	return b.String()
}
