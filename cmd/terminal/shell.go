package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"shelfmaster/pos/internal/cart"
	"shelfmaster/pos/internal/checkout"
	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/payment"
	"shelfmaster/pos/internal/service"
)

var errQuit = errors.New("quit")

// shell is the line-oriented cashier console. One command per line; the
// first word picks the command.
type shell struct {
	svc *service.Service
	out io.Writer
}

type command struct {
	usage string
	run   func(ctx context.Context, sh *shell, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"login":    {"login <username> <pin>", cmdLogin},
		"logout":   {"logout", cmdLogout},
		"scan":     {"scan <barcode> [qty]", cmdScan},
		"add":      {"add <product-id> [unit] [qty]", cmdAdd},
		"qty":      {"qty <product-id> <unit|-> <delta>", cmdQty},
		"rm":       {"rm <product-id> [unit]", cmdRemove},
		"cart":     {"cart", cmdCart},
		"clear":    {"clear", cmdClear},
		"customer": {"customer <id>", cmdCustomer},
		"training": {"training on|off", cmdTraining},
		"pay":      {"pay <method>:<amount>[:bank:reference] ...", cmdPay},
		"refund":   {"refund <transaction-id>", cmdRefund},
		"shift":    {"shift [open <cash> | close <counted> [notes]]", cmdShift},
		"park":     {"park [note]", cmdPark},
		"parked":   {"parked", cmdParked},
		"retrieve": {"retrieve <parked-id>", cmdRetrieve},
		"discard":  {"discard <parked-id>", cmdDiscard},
		"products": {"products", cmdProducts},
		"low":      {"low", cmdLowStock},
		"stats":    {"stats", cmdStats},
		"status":   {"status", cmdStatus},
		"resync":   {"resync", cmdResync},
		"help":     {"help", cmdHelp},
		"quit":     {"quit", func(context.Context, *shell, []string) error { return errQuit }},
	}
}

func (sh *shell) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(sh.out, format, args...)
}

// run reads commands until EOF or quit. Command errors are printed and the
// loop continues.
func (sh *shell) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	sh.printf("> ")
	for scanner.Scan() {
		if err := sh.exec(ctx, scanner.Text()); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			sh.printf("error: %v\n", err)
		}
		sh.printf("> ")
	}
	return scanner.Err()
}

func (sh *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := commands[strings.ToLower(fields[0])]
	if !ok {
		return fmt.Errorf("unknown command %q, try help", fields[0])
	}
	return cmd.run(ctx, sh, fields[1:])
}

func usage(name string) error {
	return fmt.Errorf("usage: %s", commands[name].usage)
}

func parseQty(args []string, idx int) (int, error) {
	if len(args) <= idx {
		return 1, nil
	}
	qty, err := strconv.Atoi(args[idx])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidQuantity, args[idx])
	}
	return qty, nil
}

func lineKey(args []string) cart.LineKey {
	key := cart.LineKey{ProductID: args[0]}
	if len(args) > 1 && args[1] != "-" {
		key.UnitName = args[1]
	}
	return key
}

func cmdLogin(ctx context.Context, sh *shell, args []string) error {
	if len(args) != 2 {
		return usage("login")
	}
	user, err := sh.svc.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	sh.printf("signed in as %s (%s)\n", user.Name, user.Role)
	if items := sh.svc.CartItems(); len(items) > 0 {
		sh.printf("restored cart with %d line(s)\n", len(items))
	}
	return nil
}

func cmdLogout(_ context.Context, sh *shell, _ []string) error {
	sh.svc.Logout()
	sh.printf("signed out\n")
	return nil
}

func cmdScan(ctx context.Context, sh *shell, args []string) error {
	if len(args) < 1 {
		return usage("scan")
	}
	qty, err := parseQty(args, 1)
	if err != nil {
		return err
	}
	res, err := sh.svc.Scan(ctx, args[0], qty)
	if err != nil {
		return err
	}
	sh.printLine(res.Line)
	return nil
}

func cmdAdd(ctx context.Context, sh *shell, args []string) error {
	if len(args) < 1 {
		return usage("add")
	}
	unit := ""
	qtyIdx := 1
	if len(args) > 1 {
		if _, err := strconv.Atoi(args[1]); err != nil {
			unit = args[1]
			qtyIdx = 2
		}
	}
	qty, err := parseQty(args, qtyIdx)
	if err != nil {
		return err
	}
	res, err := sh.svc.AddProduct(ctx, args[0], unit, qty)
	if err != nil {
		return err
	}
	sh.printLine(res.Line)
	return nil
}

func cmdQty(ctx context.Context, sh *shell, args []string) error {
	if len(args) != 3 {
		return usage("qty")
	}
	delta, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidQuantity, args[2])
	}
	return sh.svc.AdjustLine(ctx, lineKey(args), delta)
}

func cmdRemove(ctx context.Context, sh *shell, args []string) error {
	if len(args) < 1 {
		return usage("rm")
	}
	return sh.svc.RemoveLine(ctx, lineKey(args))
}

func cmdCart(ctx context.Context, sh *shell, _ []string) error {
	items := sh.svc.CartItems()
	if len(items) == 0 {
		sh.printf("cart is empty\n")
		return nil
	}
	for _, item := range items {
		sh.printLine(item)
	}
	totals, err := sh.svc.CartTotals(ctx)
	if err != nil {
		return err
	}
	sh.printf("subtotal %s  tax %s  total %s\n", totals.Subtotal.StringFixed(2), totals.Tax.StringFixed(2), totals.Total.StringFixed(2))
	if c := sh.svc.SelectedCustomer(); c != nil {
		sh.printf("customer %s\n", c.Name)
	}
	if sh.svc.TrainingMode() {
		sh.printf("TRAINING MODE\n")
	}
	return nil
}

func (sh *shell) printLine(item domain.CartItem) {
	unit := item.UnitName()
	if unit == "" {
		unit = domain.DefaultUnitName
	}
	sh.printf("%-6s %-24s %3d x %-8s %10s\n", item.Product.ID, item.Product.Name, item.CartQuantity, unit, cart.LineTotal(item).StringFixed(2))
}

func cmdClear(_ context.Context, sh *shell, _ []string) error {
	sh.svc.ClearCart()
	return nil
}

func cmdCustomer(ctx context.Context, sh *shell, args []string) error {
	if len(args) != 1 {
		return usage("customer")
	}
	c, err := sh.svc.SelectCustomer(ctx, args[0])
	if err != nil {
		return err
	}
	sh.printf("customer %s selected\n", c.Name)
	return nil
}

func cmdTraining(_ context.Context, sh *shell, args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return usage("training")
	}
	return sh.svc.SetTrainingMode(args[0] == "on")
}

// parsePayments reads tokens like cash:5000 or transfer:2500:BCA:REF123.
func parsePayments(args []string) ([]domain.Payment, error) {
	payments := make([]domain.Payment, 0, len(args))
	for _, raw := range args {
		parts := strings.Split(raw, ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPayment, raw)
		}
		method, err := payment.ParseMethod(parts[0])
		if err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: amount %q", domain.ErrInvalidPayment, parts[1])
		}
		p := domain.Payment{Method: method, Amount: amount}
		if len(parts) > 2 {
			p.BankName = parts[2]
		}
		if len(parts) > 3 {
			p.Reference = strings.Join(parts[3:], ":")
		}
		payments = append(payments, p)
	}
	return payments, nil
}

func cmdPay(ctx context.Context, sh *shell, args []string) error {
	if len(args) == 0 {
		return usage("pay")
	}
	payments, err := parsePayments(args)
	if err != nil {
		return err
	}
	res, err := sh.svc.Checkout(ctx, payments)
	if err != nil {
		return err
	}
	sh.printResult(res)
	return nil
}

func (sh *shell) printResult(res *checkout.Result) {
	tx := res.Transaction
	sh.printf("%s %s total %s", tx.Type, tx.ID, tx.Total.StringFixed(2))
	if res.Settlement.Change.IsPositive() {
		sh.printf("  change %s", res.Settlement.Change.StringFixed(2))
	}
	sh.printf("\n")
	for _, w := range res.Settlement.Warnings {
		sh.printf("warning: %s\n", w)
	}
	if res.Status == checkout.StatusPartiallyCommitted {
		sh.printf("warning: transaction recorded but %d stock update(s) failed", len(res.StockFailures))
		if res.ShiftErr != nil {
			sh.printf(" and the drawer was not updated (%v)", res.ShiftErr)
		}
		sh.printf("\n")
	}
}

func cmdRefund(ctx context.Context, sh *shell, args []string) error {
	if len(args) != 1 {
		return usage("refund")
	}
	res, err := sh.svc.Refund(ctx, args[0])
	if err != nil {
		return err
	}
	sh.printResult(res)
	return nil
}

func cmdShift(ctx context.Context, sh *shell, args []string) error {
	if len(args) == 0 {
		active, err := sh.svc.ActiveShift(ctx)
		if err != nil {
			return err
		}
		sh.printf("shift %s open since %s, expected cash %s\n", active.ID, active.StartTime.Local().Format("15:04"), active.ExpectedCash.StringFixed(2))
		return nil
	}
	if len(args) < 2 {
		return usage("shift")
	}
	amount, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[1])
	}
	switch args[0] {
	case "open":
		opened, err := sh.svc.OpenShift(ctx, amount)
		if err != nil {
			return err
		}
		sh.printf("shift %s opened with %s\n", opened.ID, opened.StartCash.StringFixed(2))
	case "close":
		closed, err := sh.svc.CloseShift(ctx, amount, strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		diff := decimal.Zero
		if closed.Difference != nil {
			diff = *closed.Difference
		}
		sh.printf("shift %s closed: expected %s counted %s difference %s\n", closed.ID, closed.ExpectedCash.StringFixed(2), amount.StringFixed(2), diff.StringFixed(2))
	default:
		return usage("shift")
	}
	return nil
}

func cmdPark(ctx context.Context, sh *shell, args []string) error {
	parked, err := sh.svc.ParkCart(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	sh.printf("parked %s (%s)\n", parked.ID, parked.Note)
	return nil
}

func cmdParked(ctx context.Context, sh *shell, _ []string) error {
	parked, err := sh.svc.ListParked(ctx)
	if err != nil {
		return err
	}
	if len(parked) == 0 {
		sh.printf("no parked carts\n")
	}
	for _, p := range parked {
		sh.printf("%s  %-16s %d line(s)  %s\n", p.ID, p.Note, len(p.Items), p.ParkedAt.Local().Format("15:04"))
	}
	return nil
}

func cmdRetrieve(ctx context.Context, sh *shell, args []string) error {
	if len(args) != 1 {
		return usage("retrieve")
	}
	parked, err := sh.svc.RetrieveParked(ctx, args[0])
	if err != nil {
		return err
	}
	sh.printf("retrieved %s\n", parked.Note)
	return nil
}

func cmdDiscard(ctx context.Context, sh *shell, args []string) error {
	if len(args) != 1 {
		return usage("discard")
	}
	return sh.svc.DiscardParked(ctx, args[0])
}

func cmdProducts(ctx context.Context, sh *shell, _ []string) error {
	products, err := sh.svc.ListProducts(ctx)
	if err != nil {
		return err
	}
	for _, p := range products {
		sh.printf("%-6s %-14s %-24s %10s  stock %d\n", p.ID, p.Barcode, p.Name, p.SellingPrice.StringFixed(2), p.Quantity)
	}
	return nil
}

func cmdLowStock(ctx context.Context, sh *shell, _ []string) error {
	products, err := sh.svc.LowStock(ctx)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		sh.printf("no products at or below minimum stock\n")
	}
	for _, p := range products {
		sh.printf("%-6s %-24s stock %d (min %d)\n", p.ID, p.Name, p.Quantity, p.MinStock)
	}
	return nil
}

func cmdStats(ctx context.Context, sh *shell, _ []string) error {
	user, ok := sh.svc.CurrentUser()
	if !ok {
		return domain.ErrAuthFailure
	}
	stats, err := sh.svc.CashierDailyStats(ctx, user.ID)
	if err != nil {
		return err
	}
	sh.printf("today: %d sale(s), total %s, %d item(s) scanned\n", stats.Count, stats.Total.StringFixed(2), stats.ItemsScanned)
	return nil
}

func cmdStatus(ctx context.Context, sh *shell, _ []string) error {
	status := sh.svc.Health(ctx)
	if !status.Degraded {
		sh.printf("online, %d pending write(s)\n", status.PendingWrites)
		return nil
	}
	sh.printf("OFFLINE since %s, %d pending write(s): %s\n", status.Since.Local().Format("15:04:05"), status.PendingWrites, status.LastError)
	return nil
}

func cmdResync(ctx context.Context, sh *shell, _ []string) error {
	report, err := sh.svc.Resync(ctx)
	sh.printf("replayed %d, rejected %d, remaining %d\n", report.Replayed, len(report.Rejected), report.Remaining)
	return err
}

func cmdHelp(_ context.Context, sh *shell, _ []string) error {
	names := []string{"login", "logout", "scan", "add", "qty", "rm", "cart", "clear", "customer", "training", "pay",
		"refund", "shift", "park", "parked", "retrieve", "discard", "products", "low", "stats", "status", "resync", "quit"}
	for _, name := range names {
		sh.printf("  %s\n", commands[name].usage)
	}
	return nil
}
