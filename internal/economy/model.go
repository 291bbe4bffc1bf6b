package economy

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// CentsPlaces is the precision task rewards are split at.
	CentsPlaces = int32(2)
	// StablePlaces is the precision of converted stable-coin amounts.
	StablePlaces = int32(6)
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyActive     = errors.New("already active")
	ErrNotClaimable      = errors.New("not claimable")
	ErrAmountOutOfRange  = errors.New("amount out of range")
	ErrNoKey             = errors.New("no key for this wheel")
	ErrNotFound          = errors.New("not found")
	ErrNotUpgrade        = errors.New("target package is not an upgrade")
	ErrSalaryLocked      = errors.New("salary tier locked")
	ErrAlreadyClaimed    = errors.New("already claimed for this period")
)

// Clock is the single source of time for every timed rule.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ValidateAmount rejects negative amounts and amounts finer than StablePlaces.
func ValidateAmount(v decimal.Decimal) error {
	if v.IsNegative() {
		return fmt.Errorf("%w: amount %s is negative", ErrInvalidInput, v.String())
	}
	return ValidatePrecision(v)
}

// ValidatePositive rejects zero, negative and over-precise amounts.
func ValidatePositive(v decimal.Decimal) error {
	if !v.IsPositive() {
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidInput)
	}
	return ValidatePrecision(v)
}

// ValidatePrecision rejects amounts with more than StablePlaces decimals,
// which the stores cannot hold without rounding.
func ValidatePrecision(v decimal.Decimal) error {
	if !v.Equal(v.Round(StablePlaces)) {
		return fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidInput, v.String(), StablePlaces)
	}
	return nil
}

func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: amount is required", ErrInvalidInput)
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidInput, s)
	}
	if err := ValidateAmount(v); err != nil {
		return decimal.Zero, err
	}
	return v, nil
}

// AmountFromFloat converts CLI and JSON floats; NaN and infinities are rejected
// because decimal.NewFromFloat panics on them.
func AmountFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("%w: amount is not a finite number", ErrInvalidInput)
	}
	v := decimal.NewFromFloat(f)
	if err := ValidateAmount(v); err != nil {
		return decimal.Zero, err
	}
	return v, nil
}

type KeyTier string

const (
	KeyBronze  KeyTier = "bronze"
	KeyGold    KeyTier = "gold"
	KeyDiamond KeyTier = "diamond"
)

var KeyTiers = []KeyTier{KeyBronze, KeyGold, KeyDiamond}

func ParseKeyTier(s string) (KeyTier, error) {
	tier := KeyTier(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range KeyTiers {
		if t == tier {
			return tier, nil
		}
	}
	return "", fmt.Errorf("%w: unknown key tier %q", ErrInvalidInput, s)
}

type TaskSpec struct {
	Description string        `json:"description"`
	Duration    time.Duration `json:"duration"`
}

type Package struct {
	ID             string          `json:"id"`
	Level          int             `json:"level"`
	Name           string          `json:"name"`
	InvestmentCost decimal.Decimal `json:"investment_cost"`
	DailyIncome    decimal.Decimal `json:"daily_income"`
	Tasks          []TaskSpec      `json:"tasks"`
}

type TradeTier struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Min            decimal.Decimal `json:"min"`
	Max            decimal.Decimal `json:"max"`
	DurationHours  int             `json:"duration_hours"`
	ReturnFraction decimal.Decimal `json:"return_fraction"`
}

func (t TradeTier) Duration() time.Duration {
	return time.Duration(t.DurationHours) * time.Hour
}

type SalaryTier struct {
	Level             int             `json:"level"`
	RequiredReferrals int             `json:"required_referrals"`
	Salary            decimal.Decimal `json:"salary"`
}

type Wheel struct {
	Tier   KeyTier           `json:"tier"`
	Prizes []decimal.Decimal `json:"prizes"`
}
