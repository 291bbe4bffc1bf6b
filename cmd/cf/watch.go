package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cashforge/internal/economy"
	"cashforge/internal/game"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// refreshEvery bounds how stale the board can get; countdowns between
// refreshes are computed locally from the last snapshot.
const refreshEvery = 10 * time.Second

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	readyStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	doneStyle    = lipgloss.NewStyle().Faint(true)
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle    = lipgloss.NewStyle().Faint(true)
)

type boardSnapshot struct {
	Board     game.TaskBoardView
	FetchedAt time.Time
}

type fetchFunc func(ctx context.Context) (boardSnapshot, error)

type snapshotMsg struct {
	snap boardSnapshot
	err  error
}

type tickMsg time.Time

type watchModel struct {
	ctx     context.Context
	fetch   fetchFunc
	snap    boardSnapshot
	loaded  bool
	err     error
	now     time.Time
	spinner spinner.Model
	bar     progress.Model
}

func newWatchModel(ctx context.Context, fetch fetchFunc) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = runningStyle
	return watchModel{
		ctx:     ctx,
		fetch:   fetch,
		now:     time.Now(),
		spinner: sp,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(24), progress.WithoutPercentage()),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.load(), tick(), m.spinner.Tick)
}

func (m watchModel) load() tea.Cmd {
	ctx, fetch := m.ctx, m.fetch
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		snap, err := fetch(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.load()
		}
	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.loaded = true
		}
	case tickMsg:
		m.now = time.Time(msg)
		cmds := []tea.Cmd{tick()}
		if m.loaded && m.now.Sub(m.snap.FetchedAt) >= refreshEvery {
			cmds = append(cmds, m.load())
		}
		return m, tea.Batch(cmds...)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// remaining is the task's countdown as of the model clock.
func (m watchModel) remaining(t game.TaskView) int64 {
	elapsed := int64(m.now.Sub(m.snap.FetchedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	left := t.RemainingSeconds - elapsed
	if left < 0 {
		return 0
	}
	return left
}

func (m watchModel) View() string {
	var b strings.Builder
	if !m.loaded {
		if m.err != nil {
			b.WriteString(errStyle.Render("error: "+m.err.Error()) + "\n")
		} else {
			b.WriteString(m.spinner.View() + " loading task board\n")
		}
		b.WriteString(helpStyle.Render("r refresh · q quit") + "\n")
		return b.String()
	}

	board := m.snap.Board
	b.WriteString(titleStyle.Render(fmt.Sprintf("Tasks for %s (%s)", board.Day, board.PackageID)) + "\n\n")
	for i, t := range board.Tasks {
		label := fmt.Sprintf("%d. %-30s %10s", i, truncate(t.Description, 30), money(t.Reward))
		switch status := t.EffectiveStatus; {
		case status == economy.TaskRunning && m.remaining(t) > 0:
			left := m.remaining(t)
			frac := 1.0
			if t.DurationSeconds > 0 {
				frac = 1 - float64(left)/float64(t.DurationSeconds)
			}
			b.WriteString(fmt.Sprintf("%s %s %s %s\n", m.spinner.View(), label, m.bar.ViewAs(frac), runningStyle.Render(formatSeconds(left))))
		case status == economy.TaskRunning || status == economy.TaskClaimable:
			b.WriteString(fmt.Sprintf("  %s %s\n", label, readyStyle.Render("ready, run `cf tasks claim "+fmt.Sprint(i)+"`")))
		case status == economy.TaskCompleted:
			b.WriteString(doneStyle.Render(fmt.Sprintf("  %s done", label)) + "\n")
		default:
			b.WriteString(fmt.Sprintf("  %s idle\n", label))
		}
	}
	if m.err != nil {
		b.WriteString("\n" + errStyle.Render("refresh failed: "+m.err.Error()) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("r refresh · q quit") + "\n")
	return b.String()
}
