package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cashforge/internal/economy"
	"cashforge/internal/game"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
)

var watchT0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleBoard() game.TaskBoardView {
	task := func(i int, desc string, status economy.TaskStatus, left int64) game.TaskView {
		return game.TaskView{
			DailyTask: economy.DailyTask{
				Index:           i,
				Description:     desc,
				DurationSeconds: 25,
				Reward:          decimal.NewFromInt(45),
				Status:          status,
			},
			EffectiveStatus:  status,
			RemainingSeconds: left,
		}
	}
	return game.TaskBoardView{
		Day:       "2026-03-01",
		PackageID: "vip1",
		InFlight:  1,
		Tasks: []game.TaskView{
			task(0, "Watch market brief", economy.TaskCompleted, 0),
			task(1, "Review trade signals", economy.TaskRunning, 20),
			task(2, "Rate the daily pick", economy.TaskIdle, 0),
		},
	}
}

func loadedModel(t *testing.T) watchModel {
	t.Helper()
	m := newWatchModel(context.Background(), nil)
	next, _ := m.Update(snapshotMsg{snap: boardSnapshot{Board: sampleBoard(), FetchedAt: watchT0}})
	m = next.(watchModel)
	next, _ = m.Update(tickMsg(watchT0))
	return next.(watchModel)
}

func TestWatchLoadingView(t *testing.T) {
	m := newWatchModel(context.Background(), nil)
	if !strings.Contains(m.View(), "loading task board") {
		t.Fatalf("view before load:\n%s", m.View())
	}
	next, _ := m.Update(snapshotMsg{err: errors.New("api status 401: invalid token")})
	if v := next.(watchModel).View(); !strings.Contains(v, "invalid token") {
		t.Fatalf("error not shown:\n%s", v)
	}
}

func TestWatchCountsDownLocally(t *testing.T) {
	m := loadedModel(t)
	v := m.View()
	for _, want := range []string{"Tasks for 2026-03-01 (vip1)", "Watch market brief", "done", "20s", "idle", "45.00"} {
		if !strings.Contains(v, want) {
			t.Fatalf("view missing %q:\n%s", want, v)
		}
	}

	next, _ := m.Update(tickMsg(watchT0.Add(5 * time.Second)))
	m = next.(watchModel)
	if v := m.View(); !strings.Contains(v, "15s") {
		t.Fatalf("expected 15s left:\n%s", v)
	}

	next, _ = m.Update(tickMsg(watchT0.Add(21 * time.Second)))
	m = next.(watchModel)
	if v := m.View(); !strings.Contains(v, "cf tasks claim 1") {
		t.Fatalf("expected task 1 ready:\n%s", v)
	}
}

func TestWatchRefreshAndQuit(t *testing.T) {
	calls := 0
	fetch := func(context.Context) (boardSnapshot, error) {
		calls++
		return boardSnapshot{Board: sampleBoard(), FetchedAt: watchT0}, nil
	}
	m := newWatchModel(context.Background(), fetch)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd == nil {
		t.Fatalf("refresh key returned no command")
	}
	msg, ok := cmd().(snapshotMsg)
	if !ok || msg.err != nil || calls != 1 {
		t.Fatalf("refresh produced %#v after %d calls", msg, calls)
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatalf("quit key returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected QuitMsg")
	}
}

func TestMoney(t *testing.T) {
	tests := []struct{ in, want string }{
		{"0", "0.00"},
		{"45", "45.00"},
		{"1234.5", "1,234.50"},
		{"-1000000", "-1,000,000.00"},
		{"999.999", "1,000.00"},
	}
	for _, tc := range tests {
		if got := money(decimal.RequireFromString(tc.in)); got != tc.want {
			t.Fatalf("money(%s) = %q want %q", tc.in, got, tc.want)
		}
	}
}
