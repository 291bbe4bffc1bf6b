package game

import (
	"cashforge/internal/economy"
	"cashforge/internal/ledger"

	"github.com/shopspring/decimal"
)

type Dashboard struct {
	Account ledger.Account   `json:"account"`
	Package *economy.Package `json:"package,omitempty"`
	Trade   TradeView        `json:"trade"`
}

type TaskView struct {
	economy.DailyTask
	EffectiveStatus  economy.TaskStatus `json:"effective_status"`
	RemainingSeconds int64              `json:"remaining_seconds"`
}

type TaskBoardView struct {
	Day       string     `json:"day"`
	PackageID string     `json:"package_id"`
	Tasks     []TaskView `json:"tasks"`
	// InFlight is the index holding the single active slot, or -1.
	InFlight int `json:"in_flight"`
}

type TradeView struct {
	Trade            *economy.ActiveTrade `json:"trade,omitempty"`
	Status           economy.TradeStatus  `json:"status"`
	RemainingSeconds int64                `json:"remaining_seconds"`
	Payout           *decimal.Decimal     `json:"payout,omitempty"`
}

// Result is returned by every operation that moves the balance.
type Result struct {
	Account     ledger.Account      `json:"account"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
}

type PurchaseResult struct {
	Result
	Package economy.Package `json:"package"`
	Quote   economy.Quote   `json:"quote"`
}

type WithdrawResult struct {
	Result
	Net decimal.Decimal `json:"net"`
	Fee decimal.Decimal `json:"fee"`
}

type DepositResult struct {
	Result
	Deposit ledger.PendingDeposit `json:"deposit"`
}

type TaskClaimResult struct {
	Result
	Reward decimal.Decimal `json:"reward"`
}

type TradeResult struct {
	Result
	Trade TradeView `json:"trade"`
}

type SpinOutcome struct {
	Result
	Tier     economy.KeyTier    `json:"tier"`
	Spin     economy.SpinResult `json:"spin"`
	KeysLeft int                `json:"keys_left"`
}

type ReferralSummary struct {
	InviteCode    string               `json:"invite_code"`
	ReferralCount int                  `json:"referral_count"`
	Unlocked      []economy.SalaryTier `json:"unlocked"`
	Next          *economy.SalaryTier  `json:"next,omitempty"`
	Progress      float64              `json:"progress"`
	// Claimed maps tier level to the last period its salary was paid for.
	Claimed map[int]string `json:"claimed,omitempty"`
	Period  string         `json:"period"`
}
