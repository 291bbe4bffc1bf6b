package game

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	mathrand "math/rand"
	"sync"
	"testing"
	"time"

	"cashforge/internal/economy"
	"cashforge/internal/ledger"
	"cashforge/internal/proof"

	"github.com/shopspring/decimal"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(t *testing.T) (*Service, *ledger.Ledger, *stepClock) {
	t.Helper()
	clock := &stepClock{t: time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)}
	l := ledger.New(ledger.NewMemoryStore(), ledger.Options{Clock: clock})
	svc := NewService(l, Options{Spinner: economy.NewSpinner(mathrand.NewSource(1))})
	if _, err := svc.EnsureAccount(context.Background(), "u1", "Alice.Smith@example.com", ""); err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	return svc, l, clock
}

func fund(t *testing.T, l *ledger.Ledger, id, amount string) {
	t.Helper()
	if _, _, err := l.ApplyDelta(context.Background(), id, ledger.Entry{Type: ledger.TxDeposit, Amount: d(amount)}); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func TestEnsureAccountIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	a, err := svc.EnsureAccount(context.Background(), "u1", "other@example.com", "renamed")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if a.Username != "alice_smith" {
		t.Fatalf("username = %q", a.Username)
	}
	if len(a.InviteCode) != 8 {
		t.Fatalf("invite code %q", a.InviteCode)
	}
	if _, err := svc.EnsureAccount(context.Background(), " ", "", ""); !errors.Is(err, economy.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPurchaseAndUpgrade(t *testing.T) {
	ctx := context.Background()
	svc, l, _ := newTestService(t)

	if _, err := svc.PurchasePackage(ctx, "u1", "vip1"); !errors.Is(err, economy.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	fund(t, l, "u1", "1000")
	res, err := svc.PurchasePackage(ctx, "u1", "vip1")
	if err != nil {
		t.Fatalf("buy vip1: %v", err)
	}
	if !res.Account.Balance.Equal(d("100")) || res.Account.VIPLevel != 1 {
		t.Fatalf("after vip1: balance %s level %d", res.Account.Balance, res.Account.VIPLevel)
	}

	q, err := svc.Quote(ctx, "u1", "vip2")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.Payable.Equal(d("3000")) || !q.Credit.Equal(d("900")) {
		t.Fatalf("quote %+v", q)
	}

	fund(t, l, "u1", "2900")
	res, err = svc.PurchasePackage(ctx, "u1", "vip2")
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if !res.Account.Balance.IsZero() || !res.Transaction.Amount.Equal(d("-3000")) {
		t.Fatalf("upgrade charged %s, balance %s", res.Transaction.Amount, res.Account.Balance)
	}
	if res.Account.Tasks.PackageID != "vip2" || len(res.Account.Tasks.Tasks) != 4 {
		t.Fatalf("board not rebuilt: %+v", res.Account.Tasks)
	}

	if _, err := svc.PurchasePackage(ctx, "u1", "vip1"); !errors.Is(err, economy.ErrNotUpgrade) {
		t.Fatalf("expected ErrNotUpgrade, got %v", err)
	}
	if _, err := svc.PurchasePackage(ctx, "u1", "vip9"); !errors.Is(err, economy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpgradeAfterCompletingTodaysTasks(t *testing.T) {
	ctx := context.Background()
	svc, l, clock := newTestService(t)
	fund(t, l, "u1", "900")
	if _, err := svc.PurchasePackage(ctx, "u1", "vip1"); err != nil {
		t.Fatalf("buy vip1: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := svc.StartTask(ctx, "u1", i); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		clock.Advance(time.Minute)
		if _, err := svc.ClaimTask(ctx, "u1", i); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
	}

	fund(t, l, "u1", "2865")
	if _, err := svc.PurchasePackage(ctx, "u1", "vip2"); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	view, err := svc.Tasks(ctx, "u1")
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	for i := 0; i < 3; i++ {
		if view.Tasks[i].EffectiveStatus != economy.TaskCompleted {
			t.Fatalf("task %d reset to %s by the upgrade", i, view.Tasks[i].EffectiveStatus)
		}
	}
	if _, err := svc.StartTask(ctx, "u1", 0); !errors.Is(err, economy.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}

	if _, err := svc.StartTask(ctx, "u1", 3); err != nil {
		t.Fatalf("start remaining task: %v", err)
	}
	clock.Advance(time.Minute)
	res, err := svc.ClaimTask(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("claim remaining task: %v", err)
	}
	if !res.Reward.Equal(d("450")) {
		t.Fatalf("remaining task paid %s, want 450", res.Reward)
	}

	history, _ := l.History(ctx, "u1", 50)
	paid := decimal.Zero
	for _, tx := range history {
		if tx.Type == ledger.TxTaskReward {
			paid = paid.Add(tx.Amount)
		}
	}
	if !paid.Equal(d("585")) {
		t.Fatalf("task rewards today %s, want the vip2 daily income 585", paid)
	}
}

func TestTaskFlow(t *testing.T) {
	ctx := context.Background()
	svc, l, clock := newTestService(t)

	if _, err := svc.Tasks(ctx, "u1"); !errors.Is(err, ErrNoPackage) {
		t.Fatalf("expected ErrNoPackage, got %v", err)
	}
	fund(t, l, "u1", "900")
	if _, err := svc.PurchasePackage(ctx, "u1", "vip1"); err != nil {
		t.Fatalf("buy: %v", err)
	}

	view, err := svc.StartTask(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if view.InFlight != 0 || view.Tasks[0].RemainingSeconds != 25 {
		t.Fatalf("view %+v", view)
	}
	if _, err := svc.StartTask(ctx, "u1", 1); !errors.Is(err, economy.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if _, err := svc.PurchasePackage(ctx, "u1", "vip2"); !errors.Is(err, economy.ErrInsufficientFunds) && !errors.Is(err, economy.ErrAlreadyActive) {
		t.Fatalf("package change during a task should fail, got %v", err)
	}
	if _, err := svc.ClaimTask(ctx, "u1", 0); !errors.Is(err, economy.ErrNotClaimable) {
		t.Fatalf("expected ErrNotClaimable, got %v", err)
	}

	clock.Advance(25 * time.Second)
	view, err = svc.Tasks(ctx, "u1")
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if view.Tasks[0].EffectiveStatus != economy.TaskClaimable {
		t.Fatalf("effective status %s", view.Tasks[0].EffectiveStatus)
	}

	res, err := svc.ClaimTask(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !res.Reward.Equal(d("45")) || !res.Account.Balance.Equal(d("45")) {
		t.Fatalf("reward %s balance %s", res.Reward, res.Account.Balance)
	}
	if res.Transaction.Type != ledger.TxTaskReward {
		t.Fatalf("tx type %s", res.Transaction.Type)
	}
	if _, err := svc.StartTask(ctx, "u1", 1); err != nil {
		t.Fatalf("start next task: %v", err)
	}
}

func TestRolloverAll(t *testing.T) {
	ctx := context.Background()
	svc, l, clock := newTestService(t)
	if _, err := svc.EnsureAccount(ctx, "u2", "b@example.com", "bob"); err != nil {
		t.Fatalf("ensure u2: %v", err)
	}
	fund(t, l, "u1", "900")
	if _, err := svc.PurchasePackage(ctx, "u1", "vip1"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := svc.StartTask(ctx, "u1", 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := svc.ClaimTask(ctx, "u1", 0); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := svc.RolloverAll(ctx)
	if err != nil || n != 0 {
		t.Fatalf("same day rollover n=%d err=%v", n, err)
	}

	clock.Advance(24 * time.Hour)
	n, err = svc.RolloverAll(ctx)
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if n != 1 {
		t.Fatalf("rolled %d accounts, want 1", n)
	}
	acct, _ := l.Load(ctx, "u1")
	if acct.Tasks.Day != economy.DayKey(clock.Now()) || acct.Tasks.Tasks[0].Status != economy.TaskIdle {
		t.Fatalf("board after rollover %+v", acct.Tasks)
	}
}

func TestTradeScenario(t *testing.T) {
	ctx := context.Background()
	svc, l, clock := newTestService(t)
	fund(t, l, "u1", "12000")

	if _, err := svc.StartTrade(ctx, "u1", "day", d("60000")); !errors.Is(err, economy.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := svc.StartTrade(ctx, "u1", "day", d("50")); !errors.Is(err, economy.ErrAmountOutOfRange) {
		t.Fatalf("expected ErrAmountOutOfRange, got %v", err)
	}

	res, err := svc.StartTrade(ctx, "u1", "day", d("10000"))
	if err != nil {
		t.Fatalf("start trade: %v", err)
	}
	if !res.Account.Balance.Equal(d("2000")) || res.Trade.Status != economy.TradeRunning {
		t.Fatalf("after open: %s %s", res.Account.Balance, res.Trade.Status)
	}
	if _, err := svc.StartTrade(ctx, "u1", "day", d("100")); !errors.Is(err, economy.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}

	clock.Advance(23 * time.Hour)
	if _, err := svc.ClaimTrade(ctx, "u1"); !errors.Is(err, economy.ErrNotClaimable) {
		t.Fatalf("expected ErrNotClaimable, got %v", err)
	}
	view, _ := svc.Trade(ctx, "u1")
	if view.RemainingSeconds != 3600 {
		t.Fatalf("remaining %d", view.RemainingSeconds)
	}

	clock.Advance(time.Hour)
	res, err = svc.ClaimTrade(ctx, "u1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !res.Transaction.Amount.Equal(d("10300")) || !res.Account.Balance.Equal(d("12300")) {
		t.Fatalf("payout %s balance %s", res.Transaction.Amount, res.Account.Balance)
	}
	if res.Account.ActiveTrade != nil {
		t.Fatalf("trade should be cleared")
	}
	if _, err := svc.ClaimTrade(ctx, "u1"); !errors.Is(err, economy.ErrNotClaimable) {
		t.Fatalf("second claim should fail, got %v", err)
	}
}

func TestSpin(t *testing.T) {
	ctx := context.Background()
	svc, l, _ := newTestService(t)
	fund(t, l, "u1", "250")
	if _, err := svc.GrantKeys(ctx, "u1", economy.KeyBronze, 3); err != nil {
		t.Fatalf("grant bronze: %v", err)
	}

	if _, err := svc.Spin(ctx, "u1", economy.KeyGold); !errors.Is(err, economy.ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
	acct, _ := l.Load(ctx, "u1")
	if !acct.Balance.Equal(d("250")) {
		t.Fatalf("keyless spin moved the balance to %s", acct.Balance)
	}
	if acct.Keys[economy.KeyBronze] != 3 || acct.Keys[economy.KeyGold] != 0 {
		t.Fatalf("keyless spin changed keys: %v", acct.Keys)
	}
	history, _ := l.History(ctx, "u1", 10)
	if len(history) != 1 {
		t.Fatalf("failed spin recorded a transaction: %d in history", len(history))
	}

	if _, err := svc.GrantKeys(ctx, "u1", economy.KeyGold, 0); !errors.Is(err, economy.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.GrantKeys(ctx, "u1", economy.KeyGold, 2); err != nil {
		t.Fatalf("grant: %v", err)
	}
	out, err := svc.Spin(ctx, "u1", economy.KeyGold)
	if err != nil {
		t.Fatalf("spin: %v", err)
	}
	if out.KeysLeft != 1 {
		t.Fatalf("keys left %d", out.KeysLeft)
	}
	wheel, _ := svc.Catalog().Wheel(economy.KeyGold)
	if !out.Spin.Prize.Equal(wheel.Prizes[out.Spin.Index]) {
		t.Fatalf("prize does not match segment")
	}
	if !out.Account.Balance.Equal(d("250").Add(out.Spin.Prize)) || out.Transaction.Type != ledger.TxReward {
		t.Fatalf("balance %s prize %s", out.Account.Balance, out.Spin.Prize)
	}
}

func TestReferralsAndSalary(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)
	inviter, _ := svc.EnsureAccount(ctx, "u1", "", "")

	if _, err := svc.RedeemInvite(ctx, "u1", inviter.InviteCode); !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("expected ErrSelfReferral, got %v", err)
	}
	if _, err := svc.RedeemInvite(ctx, "u1", "ZZZZZZZZ"); !errors.Is(err, economy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var summary ReferralSummary
	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("ref-%02d", i)
		if _, err := svc.EnsureAccount(ctx, id, id+"@example.com", ""); err != nil {
			t.Fatalf("ensure %s: %v", id, err)
		}
		var err error
		summary, err = svc.RedeemInvite(ctx, id, " "+inviter.InviteCode+" ")
		if err != nil {
			t.Fatalf("redeem %s: %v", id, err)
		}
	}
	if _, err := svc.RedeemInvite(ctx, "ref-00", inviter.InviteCode); !errors.Is(err, economy.ErrAlreadyClaimed) {
		t.Fatalf("double redeem should fail, got %v", err)
	}

	if summary.ReferralCount != 60 || len(summary.Unlocked) != 1 || summary.Unlocked[0].RequiredReferrals != 50 {
		t.Fatalf("summary %+v", summary)
	}
	if summary.Next == nil || summary.Next.RequiredReferrals != 180 {
		t.Fatalf("next %+v", summary.Next)
	}
	if math.Abs(summary.Progress-33.33) > 0.01 {
		t.Fatalf("progress %f", summary.Progress)
	}

	res, err := svc.ClaimSalary(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("claim salary: %v", err)
	}
	if !res.Account.Balance.Equal(d("100")) || res.Transaction.Type != ledger.TxSalary {
		t.Fatalf("salary balance %s", res.Account.Balance)
	}
	if _, err := svc.ClaimSalary(ctx, "u1", 1); !errors.Is(err, economy.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if _, err := svc.ClaimSalary(ctx, "u1", 2); !errors.Is(err, economy.ErrSalaryLocked) {
		t.Fatalf("expected ErrSalaryLocked, got %v", err)
	}
	if _, err := svc.ClaimSalary(ctx, "u1", 9); !errors.Is(err, economy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	clock.Advance(31 * 24 * time.Hour)
	if _, err := svc.ClaimSalary(ctx, "u1", 1); err != nil {
		t.Fatalf("next month claim: %v", err)
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	if _, err := svc.Deposit(ctx, "u1", d("2800"), ""); !errors.Is(err, economy.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without proof, got %v", err)
	}
	if _, err := svc.Deposit(ctx, "u1", d("0.0000001"), "https://cdn.example.com/p.png"); !errors.Is(err, economy.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for seven decimals, got %v", err)
	}
	dep, err := svc.Deposit(ctx, "u1", d("28000"), "https://cdn.example.com/p.png")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !dep.Deposit.Credit.Equal(d("100")) || dep.Transaction != nil || !dep.Account.Balance.IsZero() {
		t.Fatalf("deposit should wait for review: %+v", dep)
	}
	if len(dep.Account.PendingDeposits) != 1 {
		t.Fatalf("pending deposits %+v", dep.Account.PendingDeposits)
	}

	rejected, err := svc.Deposit(ctx, "u1", d("2800"), "https://cdn.example.com/fake.png")
	if err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	res, err := svc.SettleDeposit(ctx, "u1", rejected.Deposit.ID, false)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Transaction != nil || !res.Account.Balance.IsZero() || len(res.Account.PendingDeposits) != 1 {
		t.Fatalf("rejection changed the ledger: %+v", res)
	}

	res, err = svc.SettleDeposit(ctx, "u1", dep.Deposit.ID, true)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !res.Account.Balance.Equal(d("100")) || res.Transaction.Status != ledger.StatusCompleted || res.Transaction.ProofURL == "" {
		t.Fatalf("approval %+v", res)
	}
	if len(res.Account.PendingDeposits) != 0 {
		t.Fatalf("approved deposit still pending")
	}
	if _, err := svc.SettleDeposit(ctx, "u1", dep.Deposit.ID, true); !errors.Is(err, economy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second settle, got %v", err)
	}

	if _, err := svc.Withdraw(ctx, "u1", d("0.0000001"), "x"); !errors.Is(err, economy.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for seven decimals, got %v", err)
	}

	w, err := svc.Withdraw(ctx, "u1", d("100"), "JazzCash 0300-0000000")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !w.Net.Equal(d("93")) || !w.Fee.Equal(d("7")) {
		t.Fatalf("net %s fee %s", w.Net, w.Fee)
	}
	if w.Transaction.Status != ledger.StatusPending || !w.Account.Balance.IsZero() {
		t.Fatalf("withdraw tx %+v balance %s", w.Transaction, w.Account.Balance)
	}
	if _, err := svc.Withdraw(ctx, "u1", d("1"), "x"); !errors.Is(err, economy.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := svc.Withdraw(ctx, "u1", d("-1"), "x"); !errors.Is(err, economy.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUploadProof(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.UploadProof(context.Background(), "u1", "image/png", bytes.NewReader([]byte("x"))); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	store, err := proof.NewLocalStore(t.TempDir(), "https://cdn.example.com")
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	svc.proofs = store
	u, err := svc.UploadProof(context.Background(), "u1", "image/png", bytes.NewReader([]byte("png-bytes")))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if u == "" {
		t.Fatalf("empty url")
	}
}

func TestSanitizeUsername(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "investor"},
		{"ab", "investor_ab"},
		{"Hello World", "hello_world"},
		{"averyveryverylongusername1", "averyveryverylongusernam"},
	}
	for _, tc := range tests {
		if got := sanitizeUsername(tc.in); got != tc.want {
			t.Fatalf("sanitizeUsername(%q) = %q want %q", tc.in, got, tc.want)
		}
	}
}
