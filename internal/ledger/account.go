package ledger

import (
	"encoding/json"
	"time"

	"cashforge/internal/economy"

	"github.com/shopspring/decimal"
)

type TxType string

const (
	TxDeposit     TxType = "deposit"
	TxWithdraw    TxType = "withdraw"
	TxInvest      TxType = "invest"
	TxTradeProfit TxType = "trade_profit"
	TxTaskReward  TxType = "task_reward"
	TxReward      TxType = "reward"
	TxSalary      TxType = "salary"
)

type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusCompleted TxStatus = "completed"
)

// Transaction is an immutable record of one balance change.
type Transaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	Type         TxType          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Status       TxStatus        `json:"status"`
	ProofURL     string          `json:"proof_url,omitempty"`
	Note         string          `json:"note,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Entry describes the balance change a mutation wants to make. Amount is signed.
type Entry struct {
	Type     TxType
	Amount   decimal.Decimal
	Status   TxStatus
	ProofURL string
	Note     string
}

// PendingDeposit is a deposit waiting for an operator to check its proof.
// It does not touch the balance until it is approved.
type PendingDeposit struct {
	ID          string          `json:"id"`
	PKRAmount   decimal.Decimal `json:"pkr_amount"`
	Credit      decimal.Decimal `json:"credit"`
	ProofURL    string          `json:"proof_url"`
	RequestedAt time.Time       `json:"requested_at"`
}

type Account struct {
	ID              string                  `json:"id"`
	Email           string                  `json:"email"`
	Username        string                  `json:"username"`
	InviteCode      string                  `json:"invite_code"`
	ReferredBy      string                  `json:"referred_by,omitempty"`
	Balance         decimal.Decimal         `json:"balance"`
	VIPLevel        int                     `json:"vip_level"`
	ActivePackageID string                  `json:"active_package_id,omitempty"`
	Keys            map[economy.KeyTier]int `json:"keys"`
	ReferralCount   int                     `json:"referral_count"`
	ActiveTrade     *economy.ActiveTrade    `json:"active_trade,omitempty"`
	Tasks           economy.TaskBoard       `json:"tasks"`
	SalaryClaims    map[int]string          `json:"salary_claims,omitempty"`
	PendingDeposits []PendingDeposit        `json:"pending_deposits,omitempty"`
	Version         int64                   `json:"version"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

func NewAccount(id, email, username, inviteCode string, now time.Time) Account {
	return Account{
		ID:         id,
		Email:      email,
		Username:   username,
		InviteCode: inviteCode,
		Balance:    decimal.Zero,
		Keys:       map[economy.KeyTier]int{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (a Account) Clone() Account {
	out := a
	out.Keys = make(map[economy.KeyTier]int, len(a.Keys))
	for k, v := range a.Keys {
		out.Keys[k] = v
	}
	if a.SalaryClaims != nil {
		out.SalaryClaims = make(map[int]string, len(a.SalaryClaims))
		for k, v := range a.SalaryClaims {
			out.SalaryClaims[k] = v
		}
	}
	if a.ActiveTrade != nil {
		trade := *a.ActiveTrade
		out.ActiveTrade = &trade
	}
	out.Tasks = a.Tasks.Clone()
	out.PendingDeposits = append([]PendingDeposit(nil), a.PendingDeposits...)
	return out
}

// accountState is the session part of an account the SQL stores keep as one JSON column.
type accountState struct {
	Keys         map[economy.KeyTier]int `json:"keys"`
	ActiveTrade  *economy.ActiveTrade    `json:"active_trade,omitempty"`
	Tasks        economy.TaskBoard       `json:"tasks"`
	SalaryClaims map[int]string          `json:"salary_claims,omitempty"`
	Deposits     []PendingDeposit        `json:"pending_deposits,omitempty"`
}

func (a Account) MarshalState() ([]byte, error) {
	return json.Marshal(accountState{
		Keys:         a.Keys,
		ActiveTrade:  a.ActiveTrade,
		Tasks:        a.Tasks,
		SalaryClaims: a.SalaryClaims,
		Deposits:     a.PendingDeposits,
	})
}

func (a *Account) UnmarshalState(data []byte) error {
	var st accountState
	if len(data) > 0 {
		if err := json.Unmarshal(data, &st); err != nil {
			return err
		}
	}
	a.Keys = st.Keys
	if a.Keys == nil {
		a.Keys = map[economy.KeyTier]int{}
	}
	a.ActiveTrade = st.ActiveTrade
	a.Tasks = st.Tasks
	a.SalaryClaims = st.SalaryClaims
	a.PendingDeposits = st.Deposits
	return nil
}
