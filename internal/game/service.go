package game

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"cashforge/internal/catalog"
	"cashforge/internal/economy"
	"cashforge/internal/ledger"
	"cashforge/internal/proof"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultPKRRate is how many PKR buy one unit of the stable balance.
var DefaultPKRRate = decimal.NewFromInt(280)

type Options struct {
	Catalog *catalog.Catalog
	Spinner *economy.Spinner
	Proofs  proof.Store
	// FeeRate defaults to economy.DefaultWithdrawalFeeRate when nil; zero
	// means fee-free withdrawals.
	FeeRate *decimal.Decimal
	PKRRate decimal.Decimal
	Logger  *slog.Logger
}

type Service struct {
	ledger  *ledger.Ledger
	catalog *catalog.Catalog
	spinner *economy.Spinner
	proofs  proof.Store
	feeRate decimal.Decimal
	pkrRate decimal.Decimal
	log     *slog.Logger
}

func NewService(l *ledger.Ledger, opts Options) *Service {
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.Spinner == nil {
		opts.Spinner = economy.NewSpinner(nil)
	}
	if opts.FeeRate == nil {
		fee := economy.DefaultWithdrawalFeeRate
		opts.FeeRate = &fee
	}
	if !opts.PKRRate.IsPositive() {
		opts.PKRRate = DefaultPKRRate
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		ledger:  l,
		catalog: opts.Catalog,
		spinner: opts.Spinner,
		proofs:  opts.Proofs,
		feeRate: *opts.FeeRate,
		pkrRate: opts.PKRRate,
		log:     opts.Logger,
	}
}

func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

func (s *Service) now() time.Time {
	return s.ledger.Now()
}

// EnsureAccount creates the account on first sight of a user id.
func (s *Service) EnsureAccount(ctx context.Context, userID, email, username string) (ledger.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ledger.Account{}, fmt.Errorf("%w: user id is required", economy.ErrInvalidInput)
	}
	if acct, err := s.ledger.Load(ctx, userID); err == nil {
		return acct, nil
	} else if !errors.Is(err, economy.ErrNotFound) {
		return ledger.Account{}, err
	}

	if strings.TrimSpace(username) == "" {
		username = usernameFromEmail(email)
	}
	username = sanitizeUsername(username)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		code, err := generateInviteCode()
		if err != nil {
			return ledger.Account{}, err
		}
		acct := ledger.NewAccount(userID, strings.TrimSpace(email), username, code, s.now())
		err = s.ledger.Create(ctx, acct)
		if err == nil {
			s.log.Info("account created", "account_id", userID, "username", username)
			return acct, nil
		}
		if !errors.Is(err, ledger.ErrAccountExists) {
			return ledger.Account{}, err
		}
		// Either a concurrent first request won or the invite code collided.
		if existing, lerr := s.ledger.Load(ctx, userID); lerr == nil {
			return existing, nil
		}
		lastErr = err
	}
	return ledger.Account{}, lastErr
}

func (s *Service) Dashboard(ctx context.Context, accountID string) (Dashboard, error) {
	acct, err := s.ledger.Load(ctx, accountID)
	if err != nil {
		return Dashboard{}, err
	}
	out := Dashboard{Account: acct, Trade: tradeView(acct.ActiveTrade, s.now())}
	if acct.ActivePackageID != "" {
		if pkg, err := s.catalog.Package(acct.ActivePackageID); err == nil {
			out.Package = &pkg
		}
	}
	return out, nil
}

func (s *Service) History(ctx context.Context, accountID string, limit int) ([]ledger.Transaction, error) {
	return s.ledger.History(ctx, accountID, limit)
}

func (s *Service) ownedPackage(acct ledger.Account) (*economy.Package, error) {
	if acct.ActivePackageID == "" {
		return nil, nil
	}
	pkg, err := s.catalog.Package(acct.ActivePackageID)
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (s *Service) Quote(ctx context.Context, accountID, packageID string) (economy.Quote, error) {
	acct, err := s.ledger.Load(ctx, accountID)
	if err != nil {
		return economy.Quote{}, err
	}
	target, err := s.catalog.Package(packageID)
	if err != nil {
		return economy.Quote{}, err
	}
	current, err := s.ownedPackage(acct)
	if err != nil {
		return economy.Quote{}, err
	}
	return economy.UpgradeCost(target, current), nil
}

// PurchasePackage buys or upgrades to packageID. The owned package's full cost
// is credited against the new one and the task board moves to the new package,
// keeping today's completed tasks.
func (s *Service) PurchasePackage(ctx context.Context, accountID, packageID string) (PurchaseResult, error) {
	target, err := s.catalog.Package(packageID)
	if err != nil {
		return PurchaseResult{}, err
	}
	var quote economy.Quote
	acct, tx, err := s.ledger.Mutate(ctx, accountID, func(a *ledger.Account) (*ledger.Entry, error) {
		now := s.now()
		current, err := s.ownedPackage(*a)
		if err != nil {
			return nil, err
		}
		if current != nil && target.Level <= current.Level {
			return nil, fmt.Errorf("%w: own level %d, asked for level %d", economy.ErrNotUpgrade, current.Level, target.Level)
		}
		if i, busy := a.Tasks.InFlight(now); busy {
			return nil, fmt.Errorf("%w: claim task %d before changing package", economy.ErrAlreadyActive, i)
		}
		quote = economy.UpgradeCost(target, current)
		a.ActivePackageID = target.ID
		a.VIPLevel = target.Level
		a.Tasks = economy.UpgradeBoard(a.Tasks, target, now)
		note := "package " + target.ID
		if current != nil {
			note += fmt.Sprintf(" upgrade from %s (credit %s)", current.ID, quote.Credit.String())
		}
		return &ledger.Entry{Type: ledger.TxInvest, Amount: quote.Payable.Neg(), Note: note}, nil
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	s.log.Info("package purchased", "account_id", accountID, "package", target.ID, "payable", quote.Payable.String())
	return PurchaseResult{Result: Result{Account: acct, Transaction: tx}, Package: target, Quote: quote}, nil
}

// Deposit queues a PKR payment for review. The converted amount is credited
// only when an operator approves it through SettleDeposit.
func (s *Service) Deposit(ctx context.Context, accountID string, pkrAmount decimal.Decimal, proofURL string) (DepositResult, error) {
	if err := economy.ValidatePositive(pkrAmount); err != nil {
		return DepositResult{}, err
	}
	proofURL = strings.TrimSpace(proofURL)
	if proofURL == "" {
		return DepositResult{}, fmt.Errorf("%w: deposit proof is required", economy.ErrInvalidInput)
	}
	credit, err := economy.DepositToStable(pkrAmount, s.pkrRate)
	if err != nil {
		return DepositResult{}, err
	}
	dep := ledger.PendingDeposit{
		ID:        uuid.NewString(),
		PKRAmount: pkrAmount,
		Credit:    credit,
		ProofURL:  proofURL,
	}
	acct, _, err := s.ledger.Mutate(ctx, accountID, func(a *ledger.Account) (*ledger.Entry, error) {
		dep.RequestedAt = s.now()
		a.PendingDeposits = append(a.PendingDeposits, dep)
		return nil, nil
	})
	if err != nil {
		return DepositResult{}, err
	}
	s.log.Info("deposit submitted", "account_id", accountID, "deposit_id", dep.ID, "pkr", pkrAmount.String(), "credit", credit.String())
	return DepositResult{Result: Result{Account: acct}, Deposit: dep}, nil
}

// SettleDeposit approves or rejects a pending deposit. Approval credits the
// converted amount as a completed deposit transaction; rejection drops the
// request without touching the balance.
func (s *Service) SettleDeposit(ctx context.Context, accountID, depositID string, approve bool) (Result, error) {
	depositID = strings.TrimSpace(depositID)
	acct, tx, err := s.ledger.Mutate(ctx, accountID, func(a *ledger.Account) (*ledger.Entry, error) {
		idx := -1
		for i, pd := range a.PendingDeposits {
			if pd.ID == depositID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: pending deposit %q", economy.ErrNotFound, depositID)
		}
		dep := a.PendingDeposits[idx]
		a.PendingDeposits = append(a.PendingDeposits[:idx], a.PendingDeposits[idx+1:]...)
		if !approve {
			return nil, nil
		}
		return &ledger.Entry{
			Type:     ledger.TxDeposit,
			Amount:   dep.Credit,
			Status:   ledger.StatusCompleted,
			ProofURL: dep.ProofURL,
			Note:     fmt.Sprintf("PKR %s at %s", dep.PKRAmount.String(), s.pkrRate.String()),
		}, nil
	})
	if err != nil {
		return Result{}, err
	}
	s.log.Info("deposit settled", "account_id", accountID, "deposit_id", depositID, "approved", approve)
	return Result{Account: acct, Transaction: tx}, nil
}

func (s *Service) UploadProof(ctx context.Context, accountID, contentType string, r io.Reader) (string, error) {
	if s.proofs == nil {
		return "", fmt.Errorf("%w: proof uploads are not configured", ErrUnavailable)
	}
	return s.proofs.Put(ctx, accountID, contentType, r)
}

// Withdraw debits the full amount now; the payout of amount minus fee stays
// pending until it is settled off-platform.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, destination string) (WithdrawResult, error) {
	if err := economy.ValidatePositive(amount); err != nil {
		return WithdrawResult{}, err
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return WithdrawResult{}, fmt.Errorf("%w: destination is required", economy.ErrInvalidInput)
	}
	net, fee, err := economy.WithdrawalNet(amount, s.feeRate)
	if err != nil {
		return WithdrawResult{}, err
	}
	acct, tx, err := s.ledger.ApplyDelta(ctx, accountID, ledger.Entry{
		Type:   ledger.TxWithdraw,
		Amount: amount.Neg(),
		Status: ledger.StatusPending,
		Note:   fmt.Sprintf("net %s fee %s to %s", net.String(), fee.String(), destination),
	})
	if err != nil {
		return WithdrawResult{}, err
	}
	s.log.Info("withdrawal requested", "account_id", accountID, "amount", amount.String(), "net", net.String())
	return WithdrawResult{Result: Result{Account: acct, Transaction: &tx}, Net: net, Fee: fee}, nil
}

// currentBoard is the board as of now. A board from an earlier day is rolled
// over in the returned copy only; nothing is persisted.
func (s *Service) currentBoard(acct ledger.Account, now time.Time) (economy.TaskBoard, *economy.Package, error) {
	pkg, err := s.ownedPackage(acct)
	if err != nil {
		return economy.TaskBoard{}, nil, err
	}
	if pkg == nil {
		return economy.TaskBoard{}, nil, ErrNoPackage
	}
	board := acct.Tasks.Clone()
	if board.PackageID != pkg.ID || len(board.Tasks) == 0 {
		board = economy.NewTaskBoard(*pkg, economy.DayKey(now))
	} else if board.Stale(now) {
		board.Rollover(*pkg, now)
	}
	return board, pkg, nil
}

func boardView(board economy.TaskBoard, now time.Time) TaskBoardView {
	out := TaskBoardView{Day: board.Day, PackageID: board.PackageID, InFlight: -1, Tasks: make([]TaskView, 0, len(board.Tasks))}
	if i, ok := board.InFlight(now); ok {
		out.InFlight = i
	}
	for _, t := range board.Tasks {
		out.Tasks = append(out.Tasks, TaskView{
			DailyTask:        t,
			EffectiveStatus:  t.StatusAt(now),
			RemainingSeconds: int64(t.Remaining(now).Round(time.Second) / time.Second),
		})
	}
	return out
}

func (s *Service) Tasks(ctx context.Context, accountID string) (TaskBoardView, error) {
	acct, err := s.ledger.Load(ctx, accountID)
	if err != nil {
		return TaskBoardView{}, err
	}
	now := s.now()
	board, _, err := s.currentBoard(acct, now)
	if err != nil {
		return TaskBoardView{}, err
	}
	return boardView(board, now), nil
}

func (s *Service) StartTask(ctx context.Context, accountID string, index int) (TaskBoardView, error) {
	var view TaskBoardView
	_, _, err := s.ledger.Mutate(ctx, accountID, func(a *ledger.Account) (*ledger.Entry, error) {
		now := s.now()
		board, _, err := s.currentBoard(*a, now)
		if err != nil {
			return nil, err
		}
		if err := board.Start(index, now); err != nil {
			return nil, err
		}
		a.Tasks = board
		view = boardView(board, now)
		return nil, nil
	})
	if err != nil {
		return TaskBoardView{}, err
	}
	return view, nil
}

func (s *Service) ClaimTask(ctx context.Context, accountID string, index int) (TaskClaimResult, error) {
	var reward decimal.Decimal
	acct, tx, err := s.ledger.Mutate(ctx, accountID, func(a *ledger.Account) (*ledger.Entry, error) {
		now := s.now()
		board, pkg, err := s.currentBoard(*a, now)
		if err != nil {
			return nil, err
		}
		reward, err = board.Claim(index, now)
		if err != nil {
			return nil, err
		}
		a.Tasks = board
		return &ledger.Entry{
			Type:   ledger.TxTaskReward,
			Amount: reward,
			Note:   fmt.Sprintf("%s task %d: %s", pkg.ID, index, board.Tasks[index].Description),
		}, nil
	})
	if err != nil {
		return TaskClaimResult{}, err
	}
	s.log.Info("task reward claimed", "account_id", accountID, "task", index, "reward", reward.String())
	return TaskClaimResult{Result: Result{Account: acct, Transaction: tx}, Reward: reward}, nil
}

func tradeView(t *economy.ActiveTrade, now time.Time) TradeView {
	v := TradeView{Trade: t, Status: t.Status(now)}
	if t == nil {
		return v
	}
	payout := t.Payout()
	v.Payout = &payout
	if v.Status == economy.TradeRunning {
		v.RemainingSeconds = int64(t.EndTime.Sub(now).Round(time.Second) / time.Second)
	}
	return v
}

func (s *Service) Trade(ctx context.Context, accountID string) (TradeView, error) {
	acct, err := s.ledger.Load(ctx, accountID)
	if err != nil {
		return TradeView{}, err
	}
	return tradeView(acct.ActiveTrade, s.now()), nil
}

func (s *Service) StartTrade(ctx context.Context, accountID, tierID string, amount decimal.Decimal) (TradeResult, error) {
	tier, err := s.catalog.TradeTier(tierID)
	if err != nil {
		return TradeResult{}, err
	}
	var view TradeView
	acct, tx, err := s.ledger.Mutate(ctx, accountID, func(a *ledger.Account) (*ledger.Entry, error) {
		now := s.now()
		trade, err := economy.OpenTrade(a.ActiveTrade, tier, amount, a.Balance, now)
		if err != nil {
			return nil, err
		}
		a.ActiveTrade = &trade
		view = tradeView(&trade, now)
		return &ledger.Entry{Type: ledger.TxInvest, Amount: amount.Neg(), Note: "trade " + tier.ID}, nil
	})
	if err != nil {
		return TradeResult{}, err
	}
	s.log.Info("trade opened", "account_id", accountID, "tier", tier.ID, "principal", amount.String())
	return TradeResult{Result: Result{Account: acct, Transaction: tx}, Trade: view}, nil
}

func (s *Service) ClaimTrade(ctx context.Context, accountID string) (TradeResult, error) {
	var payout decimal.Decimal
	acct, tx, err := s.ledger.Mutate(ctx, accountID, func(a *ledger.Account) (*ledger.Entry, error) {
		var err error
		payout, err = economy.ClaimTrade(a.ActiveTrade, s.now())
		if err != nil {
			return nil, err
		}
		note := "trade " + a.ActiveTrade.TierID + " matured"
		a.ActiveTrade = nil
		return &ledger.Entry{Type: ledger.TxTradeProfit, Amount: payout, Note: note}, nil
	})
	if err != nil {
		return TradeResult{}, err
	}
	s.log.Info("trade claimed", "account_id", accountID, "payout", payout.String())
	return TradeResult{Result: Result{Account: acct, Transaction: tx}, Trade: TradeView{Status: economy.TradeNone}}, nil
}

// Spin consumes one key of tier and credits the prize. Without a key nothing changes.
func (s *Service) Spin(ctx context.Context, accountID string, tier economy.KeyTier) (SpinOutcome, error) {
	wheel, err := s.catalog.Wheel(tier)
	if err != nil {
		return SpinOutcome{}, err
	}
	var res economy.SpinResult
	acct, tx, err := s.ledger.Mutate(ctx, accountID, func(a *ledger.Account) (*ledger.Entry, error) {
		var err error
		res, err = s.spinner.Spin(wheel.Prizes, a.Keys[tier] > 0)
		if err != nil {
			return nil, err
		}
		a.Keys[tier]--
		return &ledger.Entry{Type: ledger.TxReward, Amount: res.Prize, Note: fmt.Sprintf("%s wheel segment %d", tier, res.Index)}, nil
	})
	if err != nil {
		return SpinOutcome{}, err
	}
	s.log.Info("wheel spun", "account_id", accountID, "tier", string(tier), "prize", res.Prize.String())
	return SpinOutcome{
		Result:   Result{Account: acct, Transaction: tx},
		Tier:     tier,
		Spin:     res,
		KeysLeft: acct.Keys[tier],
	}, nil
}

// GrantKeys adds wheel keys. Balance is untouched so no transaction is recorded.
func (s *Service) GrantKeys(ctx context.Context, accountID string, tier economy.KeyTier, count int) (ledger.Account, error) {
	if count < 1 || count > maxKeyGrant {
		return ledger.Account{}, fmt.Errorf("%w: key count must be 1..%d", economy.ErrInvalidInput, maxKeyGrant)
	}
	acct, _, err := s.ledger.Mutate(ctx, accountID, func(a *ledger.Account) (*ledger.Entry, error) {
		a.Keys[tier] += count
		return nil, nil
	})
	if err != nil {
		return ledger.Account{}, err
	}
	s.log.Info("keys granted", "account_id", accountID, "tier", string(tier), "count", count)
	return acct, nil
}

func (s *Service) referralSummary(acct ledger.Account) ReferralSummary {
	table := s.catalog.SalaryTiers
	out := ReferralSummary{
		InviteCode:    acct.InviteCode,
		ReferralCount: acct.ReferralCount,
		Unlocked:      economy.UnlockedTiers(acct.ReferralCount, table),
		Progress:      economy.ProgressToNext(acct.ReferralCount, table),
		Claimed:       acct.SalaryClaims,
		Period:        economy.SalaryPeriod(s.now()),
	}
	if next, ok := economy.NextTier(acct.ReferralCount, table); ok {
		out.Next = &next
	}
	return out
}

func (s *Service) Referrals(ctx context.Context, accountID string) (ReferralSummary, error) {
	acct, err := s.ledger.Load(ctx, accountID)
	if err != nil {
		return ReferralSummary{}, err
	}
	return s.referralSummary(acct), nil
}

// RedeemInvite records that accountID joined through inviteCode and credits
// the inviter with one referral. An account can be referred once.
func (s *Service) RedeemInvite(ctx context.Context, accountID, inviteCode string) (ReferralSummary, error) {
	inviter, err := s.ledger.FindByInviteCode(ctx, normalizeInviteCode(inviteCode))
	if err != nil {
		return ReferralSummary{}, err
	}
	if inviter.ID == accountID {
		return ReferralSummary{}, fmt.Errorf("%w: %w", economy.ErrInvalidInput, ErrSelfReferral)
	}

	_, _, err = s.ledger.Mutate(ctx, accountID, func(a *ledger.Account) (*ledger.Entry, error) {
		if a.ReferredBy != "" {
			return nil, fmt.Errorf("%w: already referred", economy.ErrAlreadyClaimed)
		}
		a.ReferredBy = inviter.ID
		return nil, nil
	})
	if err != nil {
		return ReferralSummary{}, err
	}

	updated, _, err := s.ledger.Mutate(ctx, inviter.ID, func(a *ledger.Account) (*ledger.Entry, error) {
		a.ReferralCount++
		return nil, nil
	})
	if err != nil {
		// Undo the referee side so the invite can be redeemed again.
		if _, _, uerr := s.ledger.Mutate(ctx, accountID, func(a *ledger.Account) (*ledger.Entry, error) {
			a.ReferredBy = ""
			return nil, nil
		}); uerr != nil {
			s.log.Error("undo referral failed", "err", uerr, "account_id", accountID, "inviter", inviter.ID)
		}
		return ReferralSummary{}, err
	}
	s.log.Info("referral recorded", "account_id", accountID, "inviter", inviter.ID, "count", updated.ReferralCount)
	return s.referralSummary(updated), nil
}

// ClaimSalary pays an unlocked tier's salary once per calendar month.
func (s *Service) ClaimSalary(ctx context.Context, accountID string, level int) (Result, error) {
	acct, tx, err := s.ledger.Mutate(ctx, accountID, func(a *ledger.Account) (*ledger.Entry, error) {
		tier, unlocked := economy.TierUnlocked(a.ReferralCount, level, s.catalog.SalaryTiers)
		if tier.Level == 0 {
			return nil, fmt.Errorf("%w: salary tier %d", economy.ErrNotFound, level)
		}
		if !unlocked {
			return nil, fmt.Errorf("%w: tier %d needs %d referrals, have %d", economy.ErrSalaryLocked, level, tier.RequiredReferrals, a.ReferralCount)
		}
		period := economy.SalaryPeriod(s.now())
		if a.SalaryClaims[level] == period {
			return nil, fmt.Errorf("%w: tier %d salary for %s", economy.ErrAlreadyClaimed, level, period)
		}
		if a.SalaryClaims == nil {
			a.SalaryClaims = map[int]string{}
		}
		a.SalaryClaims[level] = period
		return &ledger.Entry{Type: ledger.TxSalary, Amount: tier.Salary, Note: fmt.Sprintf("tier %d salary %s", level, period)}, nil
	})
	if err != nil {
		return Result{}, err
	}
	s.log.Info("salary claimed", "account_id", accountID, "level", level)
	return Result{Account: acct, Transaction: tx}, nil
}

// RolloverAll rebuilds stale task boards. Each account is handled under its own
// lock; one failure does not stop the rest.
func (s *Service) RolloverAll(ctx context.Context) (int, error) {
	ids, err := s.ledger.AccountIDs(ctx)
	if err != nil {
		return 0, err
	}
	rolled := 0
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rolled, err
		}
		_, _, err := s.ledger.Mutate(ctx, id, func(a *ledger.Account) (*ledger.Entry, error) {
			if a.ActivePackageID == "" || !a.Tasks.Stale(s.now()) {
				return nil, errNoChange
			}
			board, _, err := s.currentBoard(*a, s.now())
			if err != nil {
				return nil, err
			}
			a.Tasks = board
			return nil, nil
		})
		switch {
		case err == nil:
			rolled++
		case errors.Is(err, errNoChange):
		default:
			s.log.Warn("rollover failed", "err", err, "account_id", id)
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return rolled, errors.Join(errs...)
}
