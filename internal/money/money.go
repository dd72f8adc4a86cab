// Package money holds the claim payout arithmetic. All amounts are integer
// cents; rates are exact decimals so that a 20% commission never drifts.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrRateOutOfRange = errors.New("commission rate must be between 0 and 1")
)

var one = decimal.NewFromInt(1)

// SplitPayout returns the host's share of approvedAmount after the platform
// commission, rounded half-up to the nearest cent.
func SplitPayout(approvedAmount int64, commissionRate decimal.Decimal) (int64, error) {
	if approvedAmount < 0 {
		return 0, fmt.Errorf("%w: approved amount %d", ErrNegativeAmount, approvedAmount)
	}
	if err := checkRate(commissionRate); err != nil {
		return 0, err
	}
	net := decimal.NewFromInt(approvedAmount).Mul(one.Sub(commissionRate))
	// Round is half away from zero, which is half-up for non-negative values.
	return net.Round(0).IntPart(), nil
}

// ComputeFinancialImpact returns what the guest could owe beyond the deposit
// already held: max(0, deductible - depositHeld).
func ComputeFinancialImpact(deductible, depositHeld int64) int64 {
	if charge := deductible - depositHeld; charge > 0 {
		return charge
	}
	return 0
}

// Settlement splits a guest's responsibility between the held deposit and a
// fresh charge, and works out what is handed back.
type Settlement struct {
	FromDeposit      int64
	AdditionalCharge int64
	DepositRefund    int64
}

// SettleDeposit offsets responsibility against depositHeld. Both inputs must
// be non-negative.
func SettleDeposit(responsibility, depositHeld int64) (Settlement, error) {
	if responsibility < 0 || depositHeld < 0 {
		return Settlement{}, fmt.Errorf("%w: responsibility %d, deposit %d", ErrNegativeAmount, responsibility, depositHeld)
	}
	fromDeposit := min(responsibility, depositHeld)
	return Settlement{
		FromDeposit:      fromDeposit,
		AdditionalCharge: responsibility - fromDeposit,
		DepositRefund:    depositHeld - fromDeposit,
	}, nil
}

// ParseRate parses a decimal commission rate such as "0.20".
func ParseRate(s string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse commission rate %q: %w", s, err)
	}
	if err := checkRate(rate); err != nil {
		return decimal.Zero, err
	}
	return rate, nil
}

func checkRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(one) {
		return fmt.Errorf("%w: %s", ErrRateOutOfRange, rate.String())
	}
	return nil
}
