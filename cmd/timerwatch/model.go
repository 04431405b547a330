package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	clockStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#04B575"))

	chronoStyle = clockStyle.
			Foreground(lipgloss.Color("#4A90E2"))

	alarmStyle = clockStyle.
			Foreground(lipgloss.Color("#FF6B6B")).
			Blink(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD")).
			Padding(1, 3)
)

// maxEventLines bounds the recent-events list.
const maxEventLines = 6

type disconnectedMsg struct{ err error }

type pressResultMsg struct{ err error }

var keyButtons = map[string]string{"b": "back", "u": "up", "s": "select", "d": "down"}

type model struct {
	conn   *conn
	url    string
	state  *snapshot
	events []string
	err    error
}

func newModel(c *conn, url string) model {
	return model{conn: c, url: url}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		lower := strings.ToLower(key)
		button, ok := keyButtons[lower]
		if !ok || m.conn == nil {
			return m, nil
		}
		press := "short"
		if lower != key {
			press = "long"
		}
		c := m.conn
		return m, func() tea.Msg {
			return pressResultMsg{err: c.press(button, press)}
		}

	case pressResultMsg:
		if msg.err != nil {
			m.err = msg.err
		}

	case envelope:
		m = m.apply(msg)

	case disconnectedMsg:
		m.err = fmt.Errorf("disconnected: %w", msg.err)
		m.conn = nil
	}
	return m, nil
}

// apply folds one daemon message into the view.
func (m model) apply(env envelope) model {
	switch env.Type {
	case "state_init", "state_changed":
		var s snapshot
		if err := json.Unmarshal(env.Data, &s); err == nil {
			m.state = &s
		}
		return m
	}
	line := describe(env)
	m.events = append(m.events, line)
	if len(m.events) > maxEventLines {
		m.events = m.events[len(m.events)-maxEventLines:]
	}
	return m
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("timerplus") + " " + dimStyle.Render(m.url) + "\n\n")

	if m.state == nil {
		b.WriteString(boxStyle.Render("waiting for state..."))
	} else {
		s := *m.state
		style := clockStyle
		switch {
		case s.IsVibrating:
			style = alarmStyle
		case s.IsChrono:
			style = chronoStyle
		}
		body := lipgloss.JoinVertical(lipgloss.Center,
			style.Render(clockText(s)),
			"",
			fmt.Sprintf("mode %s%s", s.Mode, flagText(s)),
			dimStyle.Render(fmt.Sprintf("base %s", time.Duration(s.BaseLengthMs)*time.Millisecond)),
		)
		b.WriteString(boxStyle.Render(body))
	}
	b.WriteString("\n\n")

	for _, line := range m.events {
		b.WriteString(dimStyle.Render(line) + "\n")
	}
	if m.err != nil {
		b.WriteString(alarmStyle.UnsetBlink().Render(m.err.Error()) + "\n")
	}
	b.WriteString(dimStyle.Render("b/u/s/d press, B/U/S/D long press, q quit") + "\n")
	return b.String()
}
