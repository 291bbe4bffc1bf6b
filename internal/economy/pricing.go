package economy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultWithdrawalFeeRate is the fee kept on every withdrawal.
var DefaultWithdrawalFeeRate = decimal.RequireFromString("0.07")

type Quote struct {
	Payable decimal.Decimal `json:"payable"`
	Credit  decimal.Decimal `json:"credit"`
}

// UpgradeCost credits the full cost of the package already owned against the target.
func UpgradeCost(target Package, current *Package) Quote {
	credit := decimal.Zero
	if current != nil {
		credit = current.InvestmentCost
	}
	payable := target.InvestmentCost.Sub(credit)
	if payable.IsNegative() {
		payable = decimal.Zero
	}
	return Quote{Payable: payable, Credit: credit}
}

func WithdrawalNet(amount, feeRate decimal.Decimal) (net, fee decimal.Decimal, err error) {
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if feeRate.IsNegative() || feeRate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: fee rate %s outside [0,1]", ErrInvalidInput, feeRate.String())
	}
	fee = amount.Mul(feeRate)
	return amount.Sub(fee), fee, nil
}

func DepositToStable(pkrAmount, rate decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateAmount(pkrAmount); err != nil {
		return decimal.Zero, err
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: conversion rate must be > 0", ErrInvalidInput)
	}
	return pkrAmount.DivRound(rate, StablePlaces), nil
}
