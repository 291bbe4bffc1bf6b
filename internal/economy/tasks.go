package economy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TaskStatus string

const (
	TaskIdle      TaskStatus = "idle"
	TaskRunning   TaskStatus = "running"
	TaskClaimable TaskStatus = "claimable"
	TaskCompleted TaskStatus = "completed"
)

type DailyTask struct {
	Index           int             `json:"index"`
	Description     string          `json:"description"`
	DurationSeconds int64           `json:"duration_seconds"`
	Reward          decimal.Decimal `json:"reward"`
	Status          TaskStatus      `json:"status"`
	StartedAt       time.Time       `json:"started_at,omitzero"`
	EndsAt          time.Time       `json:"ends_at,omitzero"`
}

// StatusAt reports the status as of now. A running task whose end has passed
// reads as claimable; the stored status is left alone until the claim.
func (t DailyTask) StatusAt(now time.Time) TaskStatus {
	if t.Status == TaskRunning && !now.Before(t.EndsAt) {
		return TaskClaimable
	}
	return t.Status
}

func (t DailyTask) Remaining(now time.Time) time.Duration {
	if t.StatusAt(now) != TaskRunning {
		return 0
	}
	return t.EndsAt.Sub(now)
}

// TaskBoard is one account's task list for one day.
type TaskBoard struct {
	PackageID string      `json:"package_id"`
	Day       string      `json:"day"`
	Tasks     []DailyTask `json:"tasks"`
}

func DayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// SplitRewards divides income across tasks in proportion to their durations.
// Shares are rounded to cents and the rounding remainder lands on the last
// task so the shares always add up to income exactly.
func SplitRewards(income decimal.Decimal, durations []time.Duration) []decimal.Decimal {
	out := make([]decimal.Decimal, len(durations))
	if len(durations) == 0 {
		return out
	}
	var total int64
	for _, d := range durations {
		total += int64(d / time.Second)
	}
	allotted := decimal.Zero
	for i, d := range durations {
		if i == len(durations)-1 {
			out[i] = income.Sub(allotted)
			break
		}
		var share decimal.Decimal
		if total <= 0 {
			share = income.Div(decimal.NewFromInt(int64(len(durations))))
		} else {
			share = income.Mul(decimal.NewFromInt(int64(d / time.Second))).Div(decimal.NewFromInt(total))
		}
		share = share.Round(CentsPlaces)
		out[i] = share
		allotted = allotted.Add(share)
	}
	return out
}

func NewTaskBoard(pkg Package, day string) TaskBoard {
	durations := make([]time.Duration, len(pkg.Tasks))
	for i, spec := range pkg.Tasks {
		durations[i] = spec.Duration
	}
	rewards := SplitRewards(pkg.DailyIncome, durations)
	board := TaskBoard{PackageID: pkg.ID, Day: day, Tasks: make([]DailyTask, 0, len(pkg.Tasks))}
	for i, spec := range pkg.Tasks {
		board.Tasks = append(board.Tasks, DailyTask{
			Index:           i,
			Description:     spec.Description,
			DurationSeconds: int64(spec.Duration / time.Second),
			Reward:          rewards[i],
			Status:          TaskIdle,
		})
	}
	return board
}

// InFlight returns the task holding the single active slot: running, or
// finished but not yet claimed.
func (b *TaskBoard) InFlight(now time.Time) (int, bool) {
	for i, t := range b.Tasks {
		switch t.StatusAt(now) {
		case TaskRunning, TaskClaimable:
			return i, true
		}
	}
	return -1, false
}

func (b *TaskBoard) task(i int) (*DailyTask, error) {
	if i < 0 || i >= len(b.Tasks) {
		return nil, fmt.Errorf("%w: task %d", ErrNotFound, i)
	}
	return &b.Tasks[i], nil
}

func (b *TaskBoard) Start(i int, now time.Time) error {
	t, err := b.task(i)
	if err != nil {
		return err
	}
	if active, ok := b.InFlight(now); ok && active != i {
		return fmt.Errorf("%w: task %d is still in progress", ErrAlreadyActive, active)
	}
	switch t.StatusAt(now) {
	case TaskIdle:
	case TaskCompleted:
		return fmt.Errorf("%w: task %d already completed today", ErrAlreadyClaimed, i)
	default:
		return fmt.Errorf("%w: task %d already started", ErrAlreadyActive, i)
	}
	t.Status = TaskRunning
	t.StartedAt = now
	t.EndsAt = now.Add(time.Duration(t.DurationSeconds) * time.Second)
	return nil
}

func (b *TaskBoard) Claim(i int, now time.Time) (decimal.Decimal, error) {
	t, err := b.task(i)
	if err != nil {
		return decimal.Zero, err
	}
	if t.StatusAt(now) != TaskClaimable {
		return decimal.Zero, fmt.Errorf("%w: task %d is %s", ErrNotClaimable, i, t.StatusAt(now))
	}
	t.Status = TaskCompleted
	return t.Reward, nil
}

// Rollover rebuilds the board for a new day. A task still in flight keeps its
// state so it can be claimed after midnight.
func (b *TaskBoard) Rollover(pkg Package, now time.Time) {
	next := NewTaskBoard(pkg, DayKey(now))
	if i, ok := b.InFlight(now); ok && b.PackageID == pkg.ID && i < len(next.Tasks) {
		next.Tasks[i] = b.Tasks[i]
	}
	*b = next
}

// UpgradeBoard moves today's board onto pkg. Tasks completed today keep their
// status and the reward already paid; the remaining tasks share what is left
// of pkg's daily income, so a day never pays more than the larger income.
func UpgradeBoard(old TaskBoard, pkg Package, now time.Time) TaskBoard {
	next := NewTaskBoard(pkg, DayKey(now))
	if old.Stale(now) {
		return next
	}
	earned := decimal.Zero
	for _, t := range old.Tasks {
		if t.Status == TaskCompleted {
			earned = earned.Add(t.Reward)
		}
	}
	if earned.IsZero() {
		return next
	}

	var open []int
	var durations []time.Duration
	for i := range next.Tasks {
		if i < len(old.Tasks) && old.Tasks[i].Status == TaskCompleted {
			next.Tasks[i].Status = TaskCompleted
			next.Tasks[i].Reward = old.Tasks[i].Reward
			continue
		}
		open = append(open, i)
		durations = append(durations, time.Duration(next.Tasks[i].DurationSeconds)*time.Second)
	}
	left := pkg.DailyIncome.Sub(earned)
	if left.IsNegative() {
		left = decimal.Zero
	}
	for j, r := range SplitRewards(left, durations) {
		next.Tasks[open[j]].Reward = r
	}
	return next
}

func (b *TaskBoard) Stale(now time.Time) bool {
	return b.Day != DayKey(now)
}

func (b TaskBoard) Clone() TaskBoard {
	out := b
	out.Tasks = append([]DailyTask(nil), b.Tasks...)
	return out
}
