package checkout

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/payment"
	"shelfmaster/pos/internal/store"
	"shelfmaster/pos/internal/xid"
)

// Refund records a reversing transaction for transactionID. The original is
// left untouched, its base units go back on the shelf unless it was a
// training sale, and the cash it brought in leaves the refunder's drawer.
func (c *Committer) Refund(ctx context.Context, actor domain.User, transactionID string) (*Result, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: refunds require an admin", domain.ErrForbidden)
	}

	txs, err := c.ledger.ListTransactions(ctx)
	if err != nil {
		return nil, err
	}
	var original *domain.Transaction
	for i := range txs {
		if txs[i].ReversalOf == transactionID {
			return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyRefunded, transactionID)
		}
		if txs[i].ID == transactionID {
			original = &txs[i]
		}
	}
	if original == nil {
		return nil, fmt.Errorf("%w: transaction %s", store.ErrNotFound, transactionID)
	}
	if original.Type == domain.TxTypeRefund {
		return nil, fmt.Errorf("%w: %s is itself a refund", store.ErrInvalidRecord, transactionID)
	}

	reversal := reverse(*original)
	reversal.ID = xid.New("rf")
	reversal.CreatedAt = c.now().UTC()
	reversal.CashierID = actor.ID
	reversal.CashierName = actor.Name

	saved, err := c.ledger.CreateTransaction(ctx, reversal)
	if err != nil {
		return nil, err
	}

	settlement := payment.Reconcile(original.Total, original.Payments)
	result := &Result{Transaction: *saved, Settlement: settlement, Status: StatusCommitted}
	if original.IsTraining {
		return result, nil
	}

	for i, line := range original.Items {
		result.applyStock(ctx, c.ledger, lineKey(saved.ID, i), line.ProductID, line.Quantity)
	}

	cash := payment.CashRetained(settlement, original.Payments)
	if cash.IsPositive() {
		active, err := c.shifts.Active(ctx, actor.ID)
		switch {
		case errors.Is(err, domain.ErrNoActiveShift):
			c.logger.Warn("refund paid out without an open shift",
				zap.String("transaction_id", saved.ID),
				zap.String("cash", cash.StringFixed(2)))
		case err != nil:
			result.ShiftErr = err
		default:
			if _, err := c.shifts.RecordCashSale(ctx, active.ID, cash.Neg()); err != nil {
				result.ShiftErr = err
			}
		}
	}

	c.report(result)
	return result, nil
}

func reverse(tx domain.Transaction) domain.Transaction {
	out := tx
	out.Type = domain.TxTypeRefund
	out.ReversalOf = tx.ID
	out.Subtotal = tx.Subtotal.Neg()
	out.Tax = tx.Tax.Neg()
	out.Discount = tx.Discount.Neg()
	out.Total = tx.Total.Neg()

	out.Items = make([]domain.TransactionLine, len(tx.Items))
	for i, line := range tx.Items {
		line.Quantity = -line.Quantity
		line.Total = line.Total.Neg()
		out.Items[i] = line
	}
	out.Payments = make([]domain.Payment, len(tx.Payments))
	for i, p := range tx.Payments {
		p.Amount = p.Amount.Neg()
		out.Payments[i] = p
	}
	return out
}
