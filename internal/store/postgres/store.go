// Package postgres stores accounts and transactions in PostgreSQL through pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"cashforge/internal/db"
	"cashforge/internal/economy"
	"cashforge/internal/ledger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

var ErrTxConflict = errors.New("transaction conflict, retry")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Migrate(ctx context.Context) error {
	return db.ApplySchema(ctx, s.pool, schema)
}

const accountColumns = `
	id, email, username, COALESCE(invite_code, ''), referred_by, balance::text,
	vip_level, active_package_id, referral_count, state, version, created_at, updated_at`

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) error {
	state, err := acct.MarshalState()
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO cashforge.accounts
			(id, email, username, invite_code, referred_by, balance, vip_level, active_package_id,
			 referral_count, state, version, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6::numeric, $7, $8, $9, $10::jsonb, $11, $12, $13)
		ON CONFLICT DO NOTHING
	`, acct.ID, acct.Email, acct.Username, acct.InviteCode, acct.ReferredBy, acct.Balance.String(),
		acct.VIPLevel, acct.ActivePackageID, acct.ReferralCount, string(state), acct.Version,
		acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrAccountExists, acct.ID)
	}
	return nil
}

func (s *Store) LoadAccount(ctx context.Context, id string) (ledger.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM cashforge.accounts WHERE id = $1`, id)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: account %s", economy.ErrNotFound, id)
	}
	return acct, err
}

func (s *Store) FindByInviteCode(ctx context.Context, code string) (ledger.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM cashforge.accounts WHERE invite_code = $1`, code)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: invite code %s", economy.ErrNotFound, code)
	}
	return acct, err
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		acct    ledger.Account
		balance string
		state   []byte
	)
	if err := row.Scan(&acct.ID, &acct.Email, &acct.Username, &acct.InviteCode, &acct.ReferredBy, &balance,
		&acct.VIPLevel, &acct.ActivePackageID, &acct.ReferralCount, &state, &acct.Version,
		&acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return ledger.Account{}, err
	}
	var err error
	if acct.Balance, err = decimal.NewFromString(balance); err != nil {
		return ledger.Account{}, fmt.Errorf("account %s balance: %w", acct.ID, err)
	}
	if err := acct.UnmarshalState(state); err != nil {
		return ledger.Account{}, fmt.Errorf("account %s state: %w", acct.ID, err)
	}
	acct.CreatedAt = acct.CreatedAt.UTC()
	acct.UpdatedAt = acct.UpdatedAt.UTC()
	return acct, nil
}

// Commit writes the account and its transaction in one serializable
// transaction, retrying serialization failures with backoff.
func (s *Store) Commit(ctx context.Context, acct ledger.Account, tx *ledger.Transaction) error {
	state, err := acct.MarshalState()
	if err != nil {
		return err
	}

	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.commitOnce(ctx, acct, state, tx)
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			return ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

func (s *Store) commitOnce(ctx context.Context, acct ledger.Account, state []byte, rec *ledger.Transaction) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE cashforge.accounts
		SET email = $2, username = $3, referred_by = $4, balance = $5::numeric, vip_level = $6,
		    active_package_id = $7, referral_count = $8, state = $9::jsonb, version = $10, updated_at = $11
		WHERE id = $1 AND version = $12
	`, acct.ID, acct.Email, acct.Username, acct.ReferredBy, acct.Balance.String(), acct.VIPLevel,
		acct.ActivePackageID, acct.ReferralCount, string(state), acct.Version, acct.UpdatedAt, acct.Version-1)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrConflict, acct.ID)
	}

	if rec != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO cashforge.transactions
				(id, account_id, type, amount, balance_after, status, proof_url, note, created_at)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9)
		`, rec.ID, rec.AccountID, string(rec.Type), rec.Amount.String(), rec.BalanceAfter.String(),
			string(rec.Status), rec.ProofURL, rec.Note, rec.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, limit int) ([]ledger.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, account_id, type, amount::text, balance_after::text, status, proof_url, note, created_at
		FROM cashforge.transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ledger.Transaction, 0, limit)
	for rows.Next() {
		var (
			t             ledger.Transaction
			typ, status   string
			amount, after string
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &typ, &amount, &after, &status, &t.ProofURL, &t.Note, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = ledger.TxType(typ)
		t.Status = ledger.TxStatus(status)
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if t.BalanceAfter, err = decimal.NewFromString(after); err != nil {
			return nil, err
		}
		t.CreatedAt = t.CreatedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM cashforge.accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
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
