package economy

import (
	"errors"
	"math"
	mathrand "math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func threeTaskPackage() Package {
	return Package{
		ID:             "starter",
		Level:          1,
		Name:           "Starter",
		InvestmentCost: d("900"),
		DailyIncome:    d("135"),
		Tasks: []TaskSpec{
			{Description: "Sync market feed", Duration: 25 * time.Second},
			{Description: "Verify signals", Duration: 25 * time.Second},
			{Description: "Settle batch", Duration: 25 * time.Second},
		},
	}
}

func TestUpgradeCost(t *testing.T) {
	a := Package{ID: "a", Level: 1, InvestmentCost: d("900")}
	b := Package{ID: "b", Level: 2, InvestmentCost: d("3900")}

	q := UpgradeCost(b, &a)
	if !q.Payable.Equal(d("3000")) || !q.Credit.Equal(d("900")) {
		t.Fatalf("got payable=%s credit=%s want 3000/900", q.Payable, q.Credit)
	}

	q = UpgradeCost(b, nil)
	if !q.Payable.Equal(d("3900")) || !q.Credit.IsZero() {
		t.Fatalf("fresh purchase got payable=%s credit=%s", q.Payable, q.Credit)
	}

	q = UpgradeCost(a, &b)
	if !q.Payable.IsZero() {
		t.Fatalf("downgrade payable should clamp to 0, got %s", q.Payable)
	}
}

func TestWithdrawalNet(t *testing.T) {
	net, fee, err := WithdrawalNet(d("100"), DefaultWithdrawalFeeRate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !net.Equal(d("93")) || !fee.Equal(d("7")) {
		t.Fatalf("got net=%s fee=%s", net, fee)
	}
	if _, _, err := WithdrawalNet(d("-1"), DefaultWithdrawalFeeRate); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, _, err := WithdrawalNet(d("10"), d("1.5")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for fee rate, got %v", err)
	}
}

func TestDepositToStable(t *testing.T) {
	got, err := DepositToStable(d("2800"), d("280"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(d("10")) {
		t.Fatalf("got %s want 10", got)
	}
	got, err = DepositToStable(d("1000"), d("3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(d("333.333333")) {
		t.Fatalf("got %s want 333.333333", got)
	}
	if _, err := DepositToStable(d("10"), decimal.Zero); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero rate, got %v", err)
	}
}

func TestAmountParsing(t *testing.T) {
	if _, err := AmountFromFloat(math.NaN()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("NaN should be rejected, got %v", err)
	}
	if _, err := AmountFromFloat(math.Inf(1)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Inf should be rejected, got %v", err)
	}
	if _, err := ParseAmount("-5"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative should be rejected, got %v", err)
	}
	if _, err := ParseAmount("abc"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("garbage should be rejected, got %v", err)
	}
	v, err := ParseAmount(" 12.50 ")
	if err != nil || !v.Equal(d("12.5")) {
		t.Fatalf("got %s, %v", v, err)
	}
	if _, err := ParseAmount("0.0000001"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("seven decimals should be rejected, got %v", err)
	}
	if err := ValidatePositive(d("0.0000001")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ValidatePositive accepted seven decimals: %v", err)
	}
	if v, err := ParseAmount("1.00000000"); err != nil || !v.Equal(d("1")) {
		t.Fatalf("trailing zeros are not extra precision: %s, %v", v, err)
	}
	if err := ValidatePositive(d("0.000001")); err != nil {
		t.Fatalf("six decimals should pass: %v", err)
	}
}

func TestPayoutRoundsToStablePlaces(t *testing.T) {
	trade := ActiveTrade{Principal: d("100.123457"), ReturnFraction: d("0.03")}
	got := trade.Payout()
	if !got.Equal(d("103.127161")) {
		t.Fatalf("payout %s want 103.127161", got)
	}
	if err := ValidatePrecision(got); err != nil {
		t.Fatalf("payout not storable: %v", err)
	}
}

func TestSplitRewards(t *testing.T) {
	tests := []struct {
		income    string
		durations []time.Duration
		want      []string
	}{
		{"135", []time.Duration{25 * time.Second, 25 * time.Second, 25 * time.Second}, []string{"45", "45", "45"}},
		{"100", []time.Duration{10 * time.Second, 30 * time.Second}, []string{"25", "75"}},
		{"100", []time.Duration{10 * time.Second, 10 * time.Second, 10 * time.Second}, []string{"33.33", "33.33", "33.34"}},
		{"90", []time.Duration{0, 0}, []string{"45", "45"}},
	}
	for _, tc := range tests {
		got := SplitRewards(d(tc.income), tc.durations)
		sum := decimal.Zero
		for i, w := range tc.want {
			if !got[i].Equal(d(w)) {
				t.Fatalf("income=%s task %d got %s want %s", tc.income, i, got[i], w)
			}
			sum = sum.Add(got[i])
		}
		if !sum.Equal(d(tc.income)) {
			t.Fatalf("shares sum to %s want %s", sum, tc.income)
		}
	}
}

func TestTaskBoardSequencing(t *testing.T) {
	board := NewTaskBoard(threeTaskPackage(), DayKey(t0))
	for _, task := range board.Tasks {
		if !task.Reward.Equal(d("45")) {
			t.Fatalf("task %d reward %s want 45", task.Index, task.Reward)
		}
	}

	if err := board.Start(0, t0); err != nil {
		t.Fatalf("start task 0: %v", err)
	}
	if err := board.Start(1, t0.Add(time.Second)); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive starting task 1, got %v", err)
	}
	if _, err := board.Claim(0, t0.Add(24*time.Second)); !errors.Is(err, ErrNotClaimable) {
		t.Fatalf("expected ErrNotClaimable before duration, got %v", err)
	}

	end := t0.Add(25 * time.Second)
	if got := board.Tasks[0].StatusAt(end); got != TaskClaimable {
		t.Fatalf("status at end = %s want claimable", got)
	}
	if board.Tasks[0].Status != TaskRunning {
		t.Fatalf("polling must not mutate stored status, got %s", board.Tasks[0].Status)
	}
	if err := board.Start(1, end); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("unclaimed task should hold the slot, got %v", err)
	}

	reward, err := board.Claim(0, end)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !reward.Equal(d("45")) {
		t.Fatalf("reward %s want 45", reward)
	}
	if _, err := board.Claim(0, end); !errors.Is(err, ErrNotClaimable) {
		t.Fatalf("double claim should fail, got %v", err)
	}
	if err := board.Start(0, end); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("restarting a completed task should fail, got %v", err)
	}
	if err := board.Start(1, end); err != nil {
		t.Fatalf("start task 1 after claim: %v", err)
	}
	if err := board.Start(7, end); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTaskBoardRollover(t *testing.T) {
	pkg := threeTaskPackage()
	board := NewTaskBoard(pkg, DayKey(t0))
	if _, err := board.Claim(0, t0); err == nil {
		t.Fatalf("idle task must not be claimable")
	}
	_ = board.Start(0, t0)
	_, _ = board.Claim(0, t0.Add(time.Minute))
	_ = board.Start(1, t0.Add(time.Minute))

	tomorrow := t0.Add(24 * time.Hour)
	if !board.Stale(tomorrow) {
		t.Fatalf("board should be stale next day")
	}
	board.Rollover(pkg, tomorrow)
	if board.Day != DayKey(tomorrow) {
		t.Fatalf("day = %s", board.Day)
	}
	if board.Tasks[0].Status != TaskIdle {
		t.Fatalf("completed task should reset, got %s", board.Tasks[0].Status)
	}
	if board.Tasks[1].StatusAt(tomorrow) != TaskClaimable {
		t.Fatalf("in-flight task should survive rollover, got %s", board.Tasks[1].StatusAt(tomorrow))
	}
}

func TestUpgradeBoardKeepsTodaysProgress(t *testing.T) {
	small := threeTaskPackage()
	big := Package{
		ID:          "pro",
		Level:       2,
		DailyIncome: d("585"),
		Tasks: []TaskSpec{
			{Description: "Sync market feed", Duration: 30 * time.Second},
			{Description: "Verify signals", Duration: 30 * time.Second},
			{Description: "Rebalance pool", Duration: 45 * time.Second},
			{Description: "Settle batch", Duration: 45 * time.Second},
		},
	}

	board := NewTaskBoard(small, DayKey(t0))
	_ = board.Start(1, t0)
	if _, err := board.Claim(1, t0.Add(time.Minute)); err != nil {
		t.Fatalf("claim: %v", err)
	}

	up := UpgradeBoard(board, big, t0.Add(2*time.Minute))
	if up.PackageID != "pro" || len(up.Tasks) != 4 {
		t.Fatalf("board %+v", up)
	}
	want := []struct {
		status TaskStatus
		reward string
	}{
		{TaskIdle, "135"},
		{TaskCompleted, "45"},
		{TaskIdle, "202.5"},
		{TaskIdle, "202.5"},
	}
	total := decimal.Zero
	for i, w := range want {
		got := up.Tasks[i]
		if got.Status != w.status || !got.Reward.Equal(d(w.reward)) {
			t.Fatalf("task %d = %s %s, want %s %s", i, got.Status, got.Reward, w.status, w.reward)
		}
		total = total.Add(got.Reward)
	}
	if !total.Equal(d("585")) {
		t.Fatalf("day total %s, want 585", total)
	}

	fresh := UpgradeBoard(board, big, t0.Add(24*time.Hour))
	for i, task := range fresh.Tasks {
		if task.Status != TaskIdle {
			t.Fatalf("next-day upgrade task %d is %s", i, task.Status)
		}
	}
	if !fresh.Tasks[0].Reward.Equal(d("117")) {
		t.Fatalf("next-day reward %s", fresh.Tasks[0].Reward)
	}
}

func TestTradeLifecycle(t *testing.T) {
	day := TradeTier{ID: "day", Name: "Day", Min: d("100"), Max: d("50000"), DurationHours: 24, ReturnFraction: d("0.03")}

	trade, err := OpenTrade(nil, day, d("10000"), d("12000"), t0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !trade.EndTime.Equal(t0.Add(24 * time.Hour)) {
		t.Fatalf("end time %s", trade.EndTime)
	}
	if trade.Status(t0) != TradeRunning {
		t.Fatalf("status %s want running", trade.Status(t0))
	}
	if _, err := ClaimTrade(&trade, t0.Add(time.Hour)); !errors.Is(err, ErrNotClaimable) {
		t.Fatalf("early claim should fail, got %v", err)
	}
	payout, err := ClaimTrade(&trade, trade.EndTime)
	if err != nil {
		t.Fatalf("claim at end: %v", err)
	}
	if !payout.Equal(d("10300")) {
		t.Fatalf("payout %s want 10300", payout)
	}
	if _, err := ClaimTrade(nil, t0); !errors.Is(err, ErrNotClaimable) {
		t.Fatalf("claim without trade should fail, got %v", err)
	}
}

func TestOpenTradeErrors(t *testing.T) {
	tier := TradeTier{ID: "week", Name: "Weekly", Min: d("500"), Max: d("5000"), DurationHours: 168, ReturnFraction: d("0.25")}
	open := &ActiveTrade{TierID: "week", EndTime: t0.Add(time.Hour)}

	tests := []struct {
		name    string
		active  *ActiveTrade
		amount  string
		balance string
		want    error
	}{
		{"already active wins", open, "999999", "0", ErrAlreadyActive},
		{"insufficient", nil, "1000", "999", ErrInsufficientFunds},
		{"below min", nil, "100", "10000", ErrAmountOutOfRange},
		{"above max", nil, "6000", "10000", ErrAmountOutOfRange},
		{"zero", nil, "0", "10000", ErrInvalidInput},
	}
	for _, tc := range tests {
		_, err := OpenTrade(tc.active, tier, d(tc.amount), d(tc.balance), t0)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
}

func TestMonthlyPayoutIsUncapped(t *testing.T) {
	trade := ActiveTrade{Principal: d("1000"), ReturnFraction: d("3.5")}
	if !trade.Payout().Equal(d("4500")) {
		t.Fatalf("payout %s want 4500", trade.Payout())
	}
}

func TestSpin(t *testing.T) {
	prizes := []decimal.Decimal{d("1"), d("5"), d("1"), d("20")}
	s := NewSpinner(mathrand.NewSource(42))

	if _, err := s.Spin(prizes, false); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
	if _, err := s.Spin(nil, true); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty wheel, got %v", err)
	}

	seen := make(map[int]int)
	for i := 0; i < 4000; i++ {
		res, err := s.Spin(prizes, true)
		if err != nil {
			t.Fatalf("spin: %v", err)
		}
		if !res.Prize.Equal(prizes[res.Index]) {
			t.Fatalf("prize %s does not match segment %d", res.Prize, res.Index)
		}
		if res.Angle != LandingAngle(res.Index, len(prizes)) {
			t.Fatalf("angle %f not derived from index %d", res.Angle, res.Index)
		}
		seen[res.Index]++
	}
	for i := range prizes {
		if seen[i] < 800 || seen[i] > 1200 {
			t.Fatalf("segment %d hit %d times, expected roughly uniform", i, seen[i])
		}
	}

	a := NewSpinner(mathrand.NewSource(7))
	b := NewSpinner(mathrand.NewSource(7))
	for i := 0; i < 20; i++ {
		ra, _ := a.Spin(prizes, true)
		rb, _ := b.Spin(prizes, true)
		if ra.Index != rb.Index {
			t.Fatalf("same seed diverged at spin %d", i)
		}
	}
}

func TestLandingAngle(t *testing.T) {
	if got := LandingAngle(0, 4); got != 5*360+360-45 {
		t.Fatalf("got %f", got)
	}
	if got := LandingAngle(3, 4); got != 5*360+360-315 {
		t.Fatalf("got %f", got)
	}
}

func TestReferralTiers(t *testing.T) {
	table := []SalaryTier{
		{Level: 1, RequiredReferrals: 50, Salary: d("100")},
		{Level: 2, RequiredReferrals: 180, Salary: d("400")},
		{Level: 3, RequiredReferrals: 300, Salary: d("800")},
		{Level: 4, RequiredReferrals: 500, Salary: d("1500")},
		{Level: 5, RequiredReferrals: 1500, Salary: d("5000")},
	}

	unlocked := UnlockedTiers(60, table)
	if len(unlocked) != 1 || unlocked[0].RequiredReferrals != 50 {
		t.Fatalf("unlocked %+v", unlocked)
	}
	next, ok := NextTier(60, table)
	if !ok || next.RequiredReferrals != 180 {
		t.Fatalf("next %+v ok=%v", next, ok)
	}
	if got := ProgressToNext(60, table); math.Abs(got-33.333) > 0.01 {
		t.Fatalf("progress %f want 33.33", got)
	}

	if _, ok := NextTier(1500, table); ok {
		t.Fatalf("all tiers unlocked, next should be absent")
	}
	if got := ProgressToNext(2000, table); got != 100 {
		t.Fatalf("progress %f want 100", got)
	}
	if got := ProgressToNext(0, table); got != 0 {
		t.Fatalf("progress %f want 0", got)
	}
	if _, ok := TierUnlocked(60, 2, table); ok {
		t.Fatalf("tier 2 should be locked at 60 referrals")
	}
	if tier, ok := TierUnlocked(60, 1, table); !ok || !tier.Salary.Equal(d("100")) {
		t.Fatalf("tier 1 should be unlocked")
	}
}
