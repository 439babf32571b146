package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"shelfmaster/pos/internal/domain"
)

// Epsilon absorbs rounding when deciding whether a total is covered.
var Epsilon = decimal.New(1, -2)

// Settlement is the reconciliation of tendered payments against a total.
type Settlement struct {
	Total     decimal.Decimal `json:"total"`
	Tendered  decimal.Decimal `json:"tendered"`
	Remaining decimal.Decimal `json:"remaining"`
	Change    decimal.Decimal `json:"change"`
	Settled   bool            `json:"settled"`
	Warnings  []string        `json:"warnings,omitempty"`
}

// Reconcile sums the tendered amounts and decides completion. Transfers
// without a bank name or reference produce a warning but do not block.
func Reconcile(total decimal.Decimal, payments []domain.Payment) Settlement {
	tendered := decimal.Zero
	var warnings []string
	for i, p := range payments {
		tendered = tendered.Add(p.Amount)
		if p.Method == domain.PaymentTransfer {
			if strings.TrimSpace(p.BankName) == "" || strings.TrimSpace(p.Reference) == "" {
				warnings = append(warnings, fmt.Sprintf("payment %d: transfer without bank name or reference", i+1))
			}
		}
	}

	return Settlement{
		Total:     total,
		Tendered:  tendered,
		Remaining: decimal.Max(decimal.Zero, total.Sub(tendered)),
		Change:    decimal.Max(decimal.Zero, tendered.Sub(total)),
		Settled:   tendered.GreaterThanOrEqual(total.Sub(Epsilon)),
		Warnings:  warnings,
	}
}

// Validate rejects unknown methods and non-positive amounts.
func Validate(payments []domain.Payment) error {
	if len(payments) == 0 {
		return fmt.Errorf("%w: at least one payment required", domain.ErrInvalidPayment)
	}
	for i, p := range payments {
		switch p.Method {
		case domain.PaymentCash, domain.PaymentCard, domain.PaymentTransfer:
		default:
			return fmt.Errorf("%w: payment %d has unknown method %q", domain.ErrInvalidPayment, i+1, p.Method)
		}
		if !p.Amount.IsPositive() {
			return fmt.Errorf("%w: payment %d amount must be positive", domain.ErrInvalidPayment, i+1)
		}
	}
	return nil
}

// ParseMethod accepts method names case-insensitively.
func ParseMethod(raw string) (domain.PaymentMethod, error) {
	method := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(raw)))
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentTransfer:
		return method, nil
	}
	return "", fmt.Errorf("%w: unknown method %q", domain.ErrInvalidPayment, raw)
}

// CashTendered sums the CASH payments.
func CashTendered(payments []domain.Payment) decimal.Decimal {
	cash := decimal.Zero
	for _, p := range payments {
		if p.Method == domain.PaymentCash {
			cash = cash.Add(p.Amount)
		}
	}
	return cash
}

// CashRetained is the cash that stays in the drawer: cash tendered less the
// change handed back, never below zero.
func CashRetained(s Settlement, payments []domain.Payment) decimal.Decimal {
	return decimal.Max(decimal.Zero, CashTendered(payments).Sub(s.Change))
}
