package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"shelfmaster/pos/internal/cart"
	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/store/mirror"
)

var errorsByName = map[string]error{
	"InsufficientStock":    domain.ErrInsufficientStock,
	"IncompletePayment":    domain.ErrIncompletePayment,
	"NoActiveShift":        domain.ErrNoActiveShift,
	"DuplicateActiveShift": domain.ErrDuplicateActiveShift,
	"StaleShiftClose":      domain.ErrStaleShiftClose,
	"AuthFailure":          domain.ErrAuthFailure,
}

type acceptanceContext struct {
	ctx      context.Context
	seed     mirror.Seed
	remoteUp bool
	h        *harness

	lastErr  error
	lastScan *ScanResult
	closed   *domain.Shift
}

func (a *acceptanceContext) reset() {
	a.ctx = context.Background()
	a.seed = mirror.Seed{Users: testUsers}
	a.remoteUp = true
	if a.h != nil {
		a.h.svc.Close()
	}
	a.h = nil
	a.lastErr = nil
	a.lastScan = nil
	a.closed = nil
}

func (a *acceptanceContext) harness() (*harness, error) {
	if a.h == nil {
		return nil, fmt.Errorf("no session yet; log in first")
	}
	return a.h, nil
}

func (a *acceptanceContext) theTaxRateIsPercent(rate string) error {
	tax, err := decimal.NewFromString(rate)
	if err != nil {
		return err
	}
	a.seed.Settings.TaxRate = tax
	return nil
}

func (a *acceptanceContext) theCatalogHasProduct(id, barcode string, price, qty int) error {
	a.seed.Products = append(a.seed.Products, domain.Product{
		ID:           id,
		Name:         id,
		Barcode:      barcode,
		SellingPrice: decimal.NewFromInt(int64(price)),
		Quantity:     qty,
	})
	return nil
}

func (a *acceptanceContext) productSellsAUnit(id, unit string, multiplier, price int, barcode string) error {
	for i := range a.seed.Products {
		if a.seed.Products[i].ID == id {
			a.seed.Products[i].Units = append(a.seed.Products[i].Units, domain.ProductUnit{
				Name:       unit,
				Multiplier: multiplier,
				Price:      decimal.NewFromInt(int64(price)),
				Barcode:    barcode,
			})
			return nil
		}
	}
	return fmt.Errorf("product %s not declared", id)
}

func (a *acceptanceContext) theRemoteServiceIsUnreachable() error {
	a.remoteUp = false
	return nil
}

func (a *acceptanceContext) iAmLoggedInAs(username, pin string) error {
	if a.h == nil {
		a.h = newHarness(a.remoteUp, a.seed)
	}
	_, err := a.h.svc.Login(a.ctx, username, pin)
	return err
}

func (a *acceptanceContext) iOpenAShiftWith(amount int) error {
	h, err := a.harness()
	if err != nil {
		return err
	}
	_, err = h.svc.OpenShift(a.ctx, decimal.NewFromInt(int64(amount)))
	return err
}

func (a *acceptanceContext) trainingModeIsOn() error {
	h, err := a.harness()
	if err != nil {
		return err
	}
	return h.svc.SetTrainingMode(true)
}

func (a *acceptanceContext) iAddOfProduct(qty int, unit, productID string) error {
	h, err := a.harness()
	if err != nil {
		return err
	}
	_, a.lastErr = h.svc.AddProduct(a.ctx, productID, unit, qty)
	return nil
}

func (a *acceptanceContext) iScanWithQuantity(code string, qty int) error {
	h, err := a.harness()
	if err != nil {
		return err
	}
	a.lastScan, a.lastErr = h.svc.Scan(a.ctx, code, qty)
	return nil
}

func (a *acceptanceContext) iPayInCash(amount string) error {
	h, err := a.harness()
	if err != nil {
		return err
	}
	paid, err := decimal.NewFromString(amount)
	if err != nil {
		return err
	}
	_, err = h.svc.Checkout(a.ctx, []domain.Payment{{Method: domain.PaymentCash, Amount: paid}})
	return err
}

func (a *acceptanceContext) iCloseTheShiftCounting(counted int, note string) error {
	h, err := a.harness()
	if err != nil {
		return err
	}
	a.closed, err = h.svc.CloseShift(a.ctx, decimal.NewFromInt(int64(counted)), note)
	return err
}

func (a *acceptanceContext) iCreateProduct(id string, price, qty int) error {
	h, err := a.harness()
	if err != nil {
		return err
	}
	_, err = h.svc.SaveProduct(a.ctx, domain.Product{
		ID:           id,
		Name:         id,
		SellingPrice: decimal.NewFromInt(int64(price)),
		Quantity:     qty,
	})
	return err
}

func (a *acceptanceContext) theLineHasQuantityAndTotal(unit, productID string, qty, total int) error {
	h, err := a.harness()
	if err != nil {
		return err
	}
	want := cart.LineKey{ProductID: productID, UnitName: unit}
	for _, item := range h.svc.CartItems() {
		if cart.KeyOf(item) != want {
			continue
		}
		if item.CartQuantity != qty {
			return fmt.Errorf("expected quantity %d, got %d", qty, item.CartQuantity)
		}
		if got := cart.LineTotal(item); !got.Equal(decimal.NewFromInt(int64(total))) {
			return fmt.Errorf("expected line total %d, got %s", total, got)
		}
		return nil
	}
	return fmt.Errorf("no %s line for product %s in cart", unit, productID)
}

func (a *acceptanceContext) theStockOfProductIs(productID string, qty int) error {
	h, err := a.harness()
	if err != nil {
		return err
	}
	p, err := h.gw.GetProduct(a.ctx, productID)
	if err != nil {
		return err
	}
	if p.Quantity != qty {
		return fmt.Errorf("expected stock %d, got %d", qty, p.Quantity)
	}
	return nil
}

func (a *acceptanceContext) theLastOperationFailsWith(name string) error {
	want, ok := errorsByName[name]
	if !ok {
		return fmt.Errorf("unknown error name %q", name)
	}
	if !errors.Is(a.lastErr, want) {
		return fmt.Errorf("expected %s, got %v", name, a.lastErr)
	}
	return nil
}

func (a *acceptanceContext) theScanResolvedUnit(unit string) error {
	if a.lastErr != nil {
		return a.lastErr
	}
	if a.lastScan.Unit == nil || a.lastScan.Unit.Name != unit {
		return fmt.Errorf("expected unit %s, got %+v", unit, a.lastScan.Unit)
	}
	return nil
}

func (a *acceptanceContext) theScanResolvedTheBaseUnit() error {
	if a.lastErr != nil {
		return a.lastErr
	}
	if a.lastScan.Unit != nil {
		return fmt.Errorf("expected the base unit, got %s", a.lastScan.Unit.Name)
	}
	return nil
}

func (a *acceptanceContext) theDrawerExpects(amount int) error {
	h, err := a.harness()
	if err != nil {
		return err
	}
	active, err := h.svc.ActiveShift(a.ctx)
	if err != nil {
		return err
	}
	if !active.ExpectedCash.Equal(decimal.NewFromInt(int64(amount))) {
		return fmt.Errorf("expected drawer %d, got %s", amount, active.ExpectedCash)
	}
	return nil
}

func (a *acceptanceContext) theShiftDifferenceIs(diff int) error {
	if a.closed == nil || a.closed.Difference == nil {
		return fmt.Errorf("no closed shift")
	}
	if !a.closed.Difference.Equal(decimal.NewFromInt(int64(diff))) {
		return fmt.Errorf("expected difference %d, got %s", diff, a.closed.Difference)
	}
	return nil
}

func (a *acceptanceContext) theTransactionListContainsATrainingSale() error {
	h, err := a.harness()
	if err != nil {
		return err
	}
	txs, err := h.gw.ListTransactions(a.ctx)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if tx.IsTraining {
			return nil
		}
	}
	return fmt.Errorf("no training sale among %d transactions", len(txs))
}

func (a *acceptanceContext) theTerminalIsInDegradedMode() error {
	h, err := a.harness()
	if err != nil {
		return err
	}
	if !h.svc.Health(a.ctx).Degraded {
		return fmt.Errorf("terminal is online")
	}
	return nil
}

func (a *acceptanceContext) theCatalogListsProducts(n int) error {
	h, err := a.harness()
	if err != nil {
		return err
	}
	products, err := h.svc.ListProducts(a.ctx)
	if err != nil {
		return err
	}
	if len(products) != n {
		return fmt.Errorf("expected %d products, got %d", n, len(products))
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	a := &acceptanceContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		a.reset()
		return ctx, nil
	})
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		a.reset()
		return ctx, nil
	})

	// Given
	ctx.Step(`^the tax rate is (\d+(?:\.\d+)?) percent$`, a.theTaxRateIsPercent)
	ctx.Step(`^the catalog has product "([^"]*)" with barcode "([^"]*)" priced (\d+) with (\d+) in stock$`, a.theCatalogHasProduct)
	ctx.Step(`^product "([^"]*)" sells a "([^"]*)" of (\d+) for (\d+)(?: with barcode "([^"]*)")?$`, a.productSellsAUnit)
	ctx.Step(`^the remote service is unreachable$`, a.theRemoteServiceIsUnreachable)
	ctx.Step(`^I am logged in as "([^"]*)" with PIN "([^"]*)"$`, a.iAmLoggedInAs)
	ctx.Step(`^I open a shift with (\d+) in the drawer$`, a.iOpenAShiftWith)
	ctx.Step(`^training mode is on$`, a.trainingModeIsOn)

	// When
	ctx.Step(`^I add (\d+) "([^"]*)" of product "([^"]*)"$`, a.iAddOfProduct)
	ctx.Step(`^I scan "([^"]*)" with quantity (\d+)$`, a.iScanWithQuantity)
	ctx.Step(`^I pay (\d+(?:\.\d+)?) in cash$`, a.iPayInCash)
	ctx.Step(`^I close the shift counting (\d+) with note "([^"]*)"$`, a.iCloseTheShiftCounting)
	ctx.Step(`^I create product "([^"]*)" priced (\d+) with (\d+) in stock$`, a.iCreateProduct)

	// Then
	ctx.Step(`^the "([^"]*)" line of product "([^"]*)" has quantity (\d+) and total (\d+)$`, a.theLineHasQuantityAndTotal)
	ctx.Step(`^the stock of product "([^"]*)" is (\d+)$`, a.theStockOfProductIs)
	ctx.Step(`^the last operation fails with "([^"]*)"$`, a.theLastOperationFailsWith)
	ctx.Step(`^the scan resolved unit "([^"]*)"$`, a.theScanResolvedUnit)
	ctx.Step(`^the scan resolved the base unit$`, a.theScanResolvedTheBaseUnit)
	ctx.Step(`^the drawer expects (\d+)$`, a.theDrawerExpects)
	ctx.Step(`^the shift difference is (-?\d+)$`, a.theShiftDifferenceIs)
	ctx.Step(`^the transaction list contains a training sale$`, a.theTransactionListContainsATrainingSale)
	ctx.Step(`^the terminal is in degraded mode$`, a.theTerminalIsInDegradedMode)
	ctx.Step(`^the catalog lists (\d+) products$`, a.theCatalogListsProducts)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
