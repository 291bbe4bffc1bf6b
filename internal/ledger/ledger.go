// Package ledger is the only way an account changes. Every balance change is
// paired with exactly one transaction record and persisted in one commit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cashforge/internal/economy"

	"github.com/google/uuid"
)

var (
	ErrAccountExists = errors.New("account already exists")
	// ErrConflict means the stored account moved on since it was loaded.
	ErrConflict = errors.New("account was modified concurrently")
)

type Store interface {
	CreateAccount(ctx context.Context, acct Account) error
	LoadAccount(ctx context.Context, id string) (Account, error)
	FindByInviteCode(ctx context.Context, code string) (Account, error)
	// Commit writes acct and, when tx is non-nil, appends tx atomically. It
	// fails with ErrConflict unless the stored version equals acct.Version-1.
	Commit(ctx context.Context, acct Account, tx *Transaction) error
	ListTransactions(ctx context.Context, accountID string, limit int) ([]Transaction, error)
	ListAccountIDs(ctx context.Context) ([]string, error)
}

type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type Publisher interface {
	Publish(ctx context.Context, tx Transaction) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Transaction) error { return nil }

// MutateFunc edits a private copy of the account and returns the balance
// change to apply, or nil for a change that does not touch the balance.
type MutateFunc func(acct *Account) (*Entry, error)

type Options struct {
	Locker    Locker
	Publisher Publisher
	Clock     economy.Clock
	Logger    *slog.Logger
}

type Ledger struct {
	store  Store
	locker Locker
	pub    Publisher
	clock  economy.Clock
	log    *slog.Logger
}

func New(store Store, opts Options) *Ledger {
	if opts.Locker == nil {
		opts.Locker = NewKeyedMutex()
	}
	if opts.Publisher == nil {
		opts.Publisher = NoopPublisher{}
	}
	if opts.Clock == nil {
		opts.Clock = economy.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ledger{store: store, locker: opts.Locker, pub: opts.Publisher, clock: opts.Clock, log: opts.Logger}
}

func (l *Ledger) Now() time.Time {
	return l.clock.Now()
}

func (l *Ledger) Create(ctx context.Context, acct Account) error {
	return l.store.CreateAccount(ctx, acct)
}

func (l *Ledger) Load(ctx context.Context, id string) (Account, error) {
	return l.store.LoadAccount(ctx, id)
}

func (l *Ledger) FindByInviteCode(ctx context.Context, code string) (Account, error) {
	return l.store.FindByInviteCode(ctx, code)
}

func (l *Ledger) History(ctx context.Context, id string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.store.ListTransactions(ctx, id, limit)
}

func (l *Ledger) AccountIDs(ctx context.Context) ([]string, error) {
	return l.store.ListAccountIDs(ctx)
}

// ApplyDelta changes the balance by e.Amount and records one transaction.
func (l *Ledger) ApplyDelta(ctx context.Context, accountID string, e Entry) (Account, Transaction, error) {
	acct, tx, err := l.Mutate(ctx, accountID, func(*Account) (*Entry, error) {
		return &e, nil
	})
	if err != nil {
		return Account{}, Transaction{}, err
	}
	return acct, *tx, nil
}

// Mutate runs fn under the account lock. The account is committed only when
// fn succeeds and the resulting balance stays non-negative.
func (l *Ledger) Mutate(ctx context.Context, accountID string, fn MutateFunc) (Account, *Transaction, error) {
	unlock, err := l.locker.Lock(ctx, accountID)
	if err != nil {
		return Account{}, nil, fmt.Errorf("lock account: %w", err)
	}
	defer unlock()

	const maxAttempts = 5
	retryDelay := 25 * time.Millisecond
	for attempt := 0; ; attempt++ {
		acct, tx, err := l.mutateOnce(ctx, accountID, fn)
		if err == nil {
			if tx != nil {
				if perr := l.pub.Publish(ctx, *tx); perr != nil {
					l.log.Warn("publish transaction failed", "err", perr, "account_id", accountID, "tx_id", tx.ID)
				}
			}
			return acct, tx, nil
		}
		if !errors.Is(err, ErrConflict) || attempt == maxAttempts-1 {
			return Account{}, nil, err
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return Account{}, nil, err
		}
		retryDelay *= 2
	}
}

func (l *Ledger) mutateOnce(ctx context.Context, accountID string, fn MutateFunc) (Account, *Transaction, error) {
	stored, err := l.store.LoadAccount(ctx, accountID)
	if err != nil {
		return Account{}, nil, err
	}
	work := stored.Clone()
	entry, err := fn(&work)
	if err != nil {
		return Account{}, nil, err
	}
	// fn works on a copy and must not rebind the identity.
	work.ID = stored.ID
	work.Version = stored.Version + 1
	now := l.clock.Now()
	work.UpdatedAt = now

	var tx *Transaction
	if entry != nil {
		if err := economy.ValidatePrecision(entry.Amount); err != nil {
			return Account{}, nil, err
		}
		next := stored.Balance.Add(entry.Amount)
		if next.IsNegative() {
			return Account{}, nil, fmt.Errorf("%w: balance %s cannot cover %s", economy.ErrInsufficientFunds, stored.Balance.String(), entry.Amount.Neg().String())
		}
		work.Balance = next
		status := entry.Status
		if status == "" {
			status = StatusCompleted
		}
		tx = &Transaction{
			ID:           uuid.NewString(),
			AccountID:    accountID,
			Type:         entry.Type,
			Amount:       entry.Amount,
			BalanceAfter: next,
			Status:       status,
			ProofURL:     entry.ProofURL,
			Note:         entry.Note,
			CreatedAt:    now,
		}
	} else {
		work.Balance = stored.Balance
	}

	if err := l.store.Commit(ctx, work, tx); err != nil {
		return Account{}, nil, err
	}
	return work, tx, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
