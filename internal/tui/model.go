// Package tui renders a live voice session in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"visitnote/internal/domain"
)

// LiveSession is the part of the live manager the view drives.
type LiveSession interface {
	Connect(ctx context.Context) error
	HangUp()
	Snapshot() domain.LiveSnapshot
}

type snapshotMsg struct{ snapshot domain.LiveSnapshot }

type connectResultMsg struct{ err error }

// Model is the bubbletea model for the live view.
type Model struct {
	ctx     context.Context
	live    LiveSession
	updates <-chan domain.LiveSnapshot

	snapshot   domain.LiveSnapshot
	connectErr string
	width      int
	quitting   bool
}

// New creates a model. updates usually comes from a Sink.
func New(ctx context.Context, live LiveSession, updates <-chan domain.LiveSnapshot) Model {
	return Model{
		ctx:      ctx,
		live:     live,
		updates:  updates,
		snapshot: live.Snapshot(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(connectCmd(m.ctx, m.live), waitForSnapshot(m.updates))
}

func connectCmd(ctx context.Context, live LiveSession) tea.Cmd {
	return func() tea.Msg {
		return connectResultMsg{err: live.Connect(ctx)}
	}
}

func waitForSnapshot(updates <-chan domain.LiveSnapshot) tea.Cmd {
	return func() tea.Msg {
		snapshot, ok := <-updates
		if !ok {
			return nil
		}
		return snapshotMsg{snapshot: snapshot}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.live.HangUp()
			m.quitting = true
			return m, tea.Quit
		case "r":
			if m.snapshot.State == domain.LiveStateError || m.snapshot.State == domain.LiveStateIdle {
				m.connectErr = ""
				return m, connectCmd(m.ctx, m.live)
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case snapshotMsg:
		m.snapshot = msg.snapshot
		return m, waitForSnapshot(m.updates)

	case connectResultMsg:
		if msg.err != nil {
			m.connectErr = msg.err.Error()
		}
		m.snapshot = m.live.Snapshot()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("戦慄のお局看護師 LIVE"))
	b.WriteString("  ")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	for _, entry := range m.snapshot.Log {
		b.WriteString(speakerLabel(entry.Speaker))
		b.WriteString(" ")
		b.WriteString(entry.Text)
		b.WriteString("\n")
	}
	if m.snapshot.TypingLocal != "" {
		b.WriteString(speakerLabel(domain.SpeakerLocal) + " " + typingStyle.Render(m.snapshot.TypingLocal) + "\n")
	}
	if m.snapshot.TypingRemote != "" {
		b.WriteString(speakerLabel(domain.SpeakerRemote) + " " + typingStyle.Render(m.snapshot.TypingRemote) + "\n")
	}

	errText := m.snapshot.Error
	if errText == "" {
		errText = m.connectErr
	}
	if errText != "" {
		b.WriteString("\n" + errorStyle.Render("通信エラー: "+errText) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("q: 終了  r: 再接続"))
	return b.String()
}

func (m Model) statusLine() string {
	dot := idleDotStyle.Render("●")
	switch m.snapshot.State {
	case domain.LiveStateConnected:
		dot = connectedDotStyle.Render("●")
	case domain.LiveStateError:
		dot = errorStyle.Render("●")
	}
	status := fmt.Sprintf("%s %s", dot, statusStyle.Render(string(m.snapshot.State)))
	if m.snapshot.Playing {
		status += statusStyle.Render(" ♪")
	}
	return status
}

func speakerLabel(speaker domain.Speaker) string {
	if speaker == domain.SpeakerRemote {
		return remoteLabelStyle.Render("お局:")
	}
	return localLabelStyle.Render("あなた:")
}
