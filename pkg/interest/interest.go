// Package interest computes the tiered obligation of a pawn loan. It is the
// only place rates and interest are derived; every service calls Calculate.
package interest

import (
	"time"

	"github.com/mcclellann/pawnledger/pkg/apperror"
	"github.com/mcclellann/pawnledger/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	EarlyTierMaxDays = 15 // last day billed at EarlyRate
	EarlyRate        = 5  // percent
	LateRate         = 10 // percent, never increases past the tenor
)

var hundred = decimal.NewFromInt(100)

// Result is the obligation of a loan as of a given date.
type Result struct {
	DaysUsed       int               `json:"days_used"`
	Rate           int               `json:"rate"`
	InterestAmount int64             `json:"interest_amount"`
	TotalDue       int64             `json:"total_due"`
	Status         models.LoanStatus `json:"status"`
}

// Calculate returns the obligation of principal borrowed on start, evaluated
// on asOf. Days are whole calendar days between the two dates, time of day
// ignored, never less than one. The calendar date of each argument is read in
// its own location; callers convert to the business time zone first.
func Calculate(principal int64, start, asOf time.Time) (Result, error) {
	if principal <= 0 {
		return Result{}, apperror.Validation("principal must be greater than 0")
	}

	days := DaysUsed(start, asOf)
	res := Result{DaysUsed: days, Status: models.LoanStatusActive}
	switch {
	case days <= EarlyTierMaxDays:
		res.Rate = EarlyRate
	case days <= models.TenorDays:
		res.Rate = LateRate
	default:
		res.Rate = LateRate
		res.Status = models.LoanStatusOverdue
	}
	res.InterestAmount = PercentOf(principal, res.Rate)
	res.TotalDue = principal + res.InterestAmount
	return res, nil
}

// DaysUsed counts calendar days from start to asOf with a minimum of one.
func DaysUsed(start, asOf time.Time) int {
	s := midnight(start)
	a := midnight(asOf)
	days := int(a.Sub(s).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// PercentOf returns floor(amount * pct / 100).
func PercentOf(amount int64, pct int) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(int64(pct))).
		Div(hundred).
		Floor().
		IntPart()
}

// EarlyInterestThreshold is the interest a customer must have paid within
// the early tier for the auction snapshot to flag the loan as serviced early.
func EarlyInterestThreshold(principal int64) int64 {
	return PercentOf(principal, EarlyRate)
}

// DueDate is the end of the fixed tenor.
func DueDate(start time.Time) time.Time {
	return start.AddDate(0, 0, models.TenorDays)
}

// midnight maps t to 00:00 UTC of its own calendar date so that subtraction
// is free of DST shifts.
func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
