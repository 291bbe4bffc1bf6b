package economy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TradeStatus string

const (
	TradeNone      TradeStatus = "none"
	TradeRunning   TradeStatus = "running"
	TradeClaimable TradeStatus = "claimable"
)

type ActiveTrade struct {
	TierID         string          `json:"tier_id"`
	Principal      decimal.Decimal `json:"principal"`
	ReturnFraction decimal.Decimal `json:"return_fraction"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
}

// Status is a pure read; polling never changes the stored trade.
func (t *ActiveTrade) Status(now time.Time) TradeStatus {
	if t == nil {
		return TradeNone
	}
	if now.Before(t.EndTime) {
		return TradeRunning
	}
	return TradeClaimable
}

// Payout is principal × (1 + returnFraction), uncapped, rounded to StablePlaces.
func (t ActiveTrade) Payout() decimal.Decimal {
	return t.Principal.Mul(decimal.NewFromInt(1).Add(t.ReturnFraction)).Round(StablePlaces)
}

func OpenTrade(active *ActiveTrade, tier TradeTier, amount, balance decimal.Decimal, now time.Time) (ActiveTrade, error) {
	if err := ValidatePositive(amount); err != nil {
		return ActiveTrade{}, err
	}
	if active != nil {
		return ActiveTrade{}, fmt.Errorf("%w: a %s trade is open until %s", ErrAlreadyActive, active.TierID, active.EndTime.Format(time.RFC3339))
	}
	if amount.GreaterThan(balance) {
		return ActiveTrade{}, fmt.Errorf("%w: balance %s below %s", ErrInsufficientFunds, balance.String(), amount.String())
	}
	if amount.LessThan(tier.Min) || amount.GreaterThan(tier.Max) {
		return ActiveTrade{}, fmt.Errorf("%w: %s accepts %s to %s", ErrAmountOutOfRange, tier.Name, tier.Min.String(), tier.Max.String())
	}
	return ActiveTrade{
		TierID:         tier.ID,
		Principal:      amount,
		ReturnFraction: tier.ReturnFraction,
		StartTime:      now,
		EndTime:        now.Add(tier.Duration()),
	}, nil
}

func ClaimTrade(active *ActiveTrade, now time.Time) (decimal.Decimal, error) {
	switch active.Status(now) {
	case TradeNone:
		return decimal.Zero, fmt.Errorf("%w: no open trade", ErrNotClaimable)
	case TradeRunning:
		return decimal.Zero, fmt.Errorf("%w: trade matures at %s", ErrNotClaimable, active.EndTime.Format(time.RFC3339))
	}
	return active.Payout(), nil
}
