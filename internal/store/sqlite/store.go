// Package sqlite is a single-node account store on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cashforge/internal/economy"
	"cashforge/internal/ledger"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database file in WAL mode and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; sqlite serializes writes anyway.
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s := New(conn)
	if err := s.Migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id                TEXT PRIMARY KEY,
			email             TEXT NOT NULL DEFAULT '',
			username          TEXT NOT NULL DEFAULT '',
			invite_code       TEXT UNIQUE,
			referred_by       TEXT NOT NULL DEFAULT '',
			balance           TEXT NOT NULL DEFAULT '0',
			vip_level         INTEGER NOT NULL DEFAULT 0,
			active_package_id TEXT NOT NULL DEFAULT '',
			referral_count    INTEGER NOT NULL DEFAULT 0,
			state             TEXT NOT NULL DEFAULT '{}',
			version           INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			id            TEXT NOT NULL UNIQUE,
			account_id    TEXT NOT NULL REFERENCES accounts (id),
			type          TEXT NOT NULL,
			amount        TEXT NOT NULL,
			balance_after TEXT NOT NULL,
			status        TEXT NOT NULL,
			proof_url     TEXT NOT NULL DEFAULT '',
			note          TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions (account_id, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) error {
	state, err := acct.MarshalState()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO accounts
			(id, email, username, invite_code, referred_by, balance, vip_level, active_package_id,
			 referral_count, state, version, created_at, updated_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acct.ID, acct.Email, acct.Username, acct.InviteCode, acct.ReferredBy, acct.Balance.String(),
		acct.VIPLevel, acct.ActivePackageID, acct.ReferralCount, string(state), acct.Version,
		formatTime(acct.CreatedAt), formatTime(acct.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrAccountExists, acct.ID)
	}
	return nil
}

const accountColumns = `id, email, username, COALESCE(invite_code, ''), referred_by, balance,
	vip_level, active_package_id, referral_count, state, version, created_at, updated_at`

func (s *Store) LoadAccount(ctx context.Context, id string) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: account %s", economy.ErrNotFound, id)
	}
	return acct, err
}

func (s *Store) FindByInviteCode(ctx context.Context, code string) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE invite_code = ?`, code)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: invite code %s", economy.ErrNotFound, code)
	}
	return acct, err
}

func scanAccount(row *sql.Row) (ledger.Account, error) {
	var (
		acct                 ledger.Account
		balance, state       string
		createdAt, updatedAt string
	)
	if err := row.Scan(&acct.ID, &acct.Email, &acct.Username, &acct.InviteCode, &acct.ReferredBy, &balance,
		&acct.VIPLevel, &acct.ActivePackageID, &acct.ReferralCount, &state, &acct.Version,
		&createdAt, &updatedAt); err != nil {
		return ledger.Account{}, err
	}
	var err error
	if acct.Balance, err = decimal.NewFromString(balance); err != nil {
		return ledger.Account{}, fmt.Errorf("account %s balance: %w", acct.ID, err)
	}
	if err := acct.UnmarshalState([]byte(state)); err != nil {
		return ledger.Account{}, fmt.Errorf("account %s state: %w", acct.ID, err)
	}
	if acct.CreatedAt, err = parseTime(createdAt); err != nil {
		return ledger.Account{}, err
	}
	if acct.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ledger.Account{}, err
	}
	return acct, nil
}

func (s *Store) Commit(ctx context.Context, acct ledger.Account, rec *ledger.Transaction) error {
	state, err := acct.MarshalState()
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET email = ?, username = ?, referred_by = ?, balance = ?, vip_level = ?, active_package_id = ?,
		    referral_count = ?, state = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		acct.Email, acct.Username, acct.ReferredBy, acct.Balance.String(), acct.VIPLevel, acct.ActivePackageID,
		acct.ReferralCount, string(state), acct.Version, formatTime(acct.UpdatedAt), acct.ID, acct.Version-1)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrConflict, acct.ID)
	}

	if rec != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (id, account_id, type, amount, balance_after, status, proof_url, note, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.AccountID, string(rec.Type), rec.Amount.String(), rec.BalanceAfter.String(),
			string(rec.Status), rec.ProofURL, rec.Note, formatTime(rec.CreatedAt)); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, limit int) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, type, amount, balance_after, status, proof_url, note, created_at
		FROM transactions
		WHERE account_id = ?
		ORDER BY seq DESC
		LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var (
			t                          ledger.Transaction
			typ, status, amount, after string
			createdAt                  string
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &typ, &amount, &after, &status, &t.ProofURL, &t.Note, &createdAt); err != nil {
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
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
