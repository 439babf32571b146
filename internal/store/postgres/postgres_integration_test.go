package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("POS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestConcurrentStockAdjustmentsDoNotLoseUpdates(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	id := fmt.Sprintf("prod-it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	})
	if _, err := s.UpsertProduct(ctx, domain.Product{ID: id, Name: "Integration Water", SellingPrice: decimal.NewFromInt(500), Quantity: 100}); err != nil {
		t.Fatalf("upsert product: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AdjustStock(ctx, id, -3); err != nil {
				t.Errorf("adjust stock: %v", err)
			}
		}()
	}
	wg.Wait()

	p, err := s.GetProduct(ctx, id)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.Quantity != 70 {
		t.Fatalf("expected 70 left after 10 concurrent sales of 3, got %d", p.Quantity)
	}
}

func TestKeyedStockAdjustmentAppliesOnce(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	id := fmt.Sprintf("prod-key-%d", time.Now().UnixNano())
	key := id + "#0"
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_adjustments WHERE key = $1`, key)
	})
	if _, err := s.UpsertProduct(ctx, domain.Product{ID: id, Name: "Keyed Water", SellingPrice: decimal.NewFromInt(500), Quantity: 20}); err != nil {
		t.Fatalf("upsert product: %v", err)
	}

	keyed := store.WithAdjustmentKey(ctx, key)
	for i := 0; i < 3; i++ {
		p, err := s.AdjustStock(keyed, id, -5)
		if err != nil {
			t.Fatalf("adjust stock %d: %v", i, err)
		}
		if p.Quantity != 15 {
			t.Fatalf("delivery %d: expected 15, got %d", i, p.Quantity)
		}
	}
}

func TestOneOpenShiftPerUserAndSingleClose(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	userID := fmt.Sprintf("user-it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shifts WHERE user_id = $1`, userID)
	})

	first, err := s.CreateShift(ctx, domain.Shift{UserID: userID, StartTime: time.Now().UTC(), StartCash: decimal.NewFromInt(5000), ExpectedCash: decimal.NewFromInt(5000)})
	if err != nil {
		t.Fatalf("create shift: %v", err)
	}
	if _, err := s.CreateShift(ctx, domain.Shift{UserID: userID, StartTime: time.Now().UTC()}); !errors.Is(err, domain.ErrDuplicateActiveShift) {
		t.Fatalf("expected duplicate active shift, got %v", err)
	}

	end := time.Now().UTC()
	counted := decimal.NewFromInt(6900)
	closed, err := s.UpdateShift(ctx, first.ID, domain.ShiftPatch{EndTime: &end, EndCash: &counted})
	if err != nil {
		t.Fatalf("close shift: %v", err)
	}
	if closed.IsOpen() {
		t.Fatalf("expected closed shift")
	}
	if _, err := s.UpdateShift(ctx, first.ID, domain.ShiftPatch{EndTime: &end}); !errors.Is(err, domain.ErrStaleShiftClose) {
		t.Fatalf("expected stale close, got %v", err)
	}
	if _, err := s.CreateShift(ctx, domain.Shift{UserID: userID, StartTime: time.Now().UTC()}); err != nil {
		t.Fatalf("a new shift after close must be allowed: %v", err)
	}
}

func TestSingleReversalPerTransaction(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	saleID := fmt.Sprintf("tx-it-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1 OR reversal_of = $1`, saleID)
	})

	line := []domain.TransactionLine{{ProductID: "101", Quantity: 1}}
	if _, err := s.CreateTransaction(ctx, domain.Transaction{ID: saleID, Items: line, Type: domain.TxTypeSale}); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := s.CreateTransaction(ctx, domain.Transaction{ID: saleID, Items: line, Type: domain.TxTypeSale}); err != nil {
		t.Fatalf("replaying the same sale must be idempotent: %v", err)
	}
	if _, err := s.CreateTransaction(ctx, domain.Transaction{ID: fmt.Sprintf("rf-it-%d", stamp), Items: line, Type: domain.TxTypeRefund, ReversalOf: saleID}); err != nil {
		t.Fatalf("create refund: %v", err)
	}
	_, err := s.CreateTransaction(ctx, domain.Transaction{ID: fmt.Sprintf("rf-it2-%d", stamp), Items: line, Type: domain.TxTypeRefund, ReversalOf: saleID})
	if !errors.Is(err, domain.ErrAlreadyRefunded) {
		t.Fatalf("expected already refunded, got %v", err)
	}

	if _, err := s.GetProduct(ctx, fmt.Sprintf("missing-%d", stamp)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
