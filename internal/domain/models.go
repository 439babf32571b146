package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

// DefaultUnitName labels lines sold in the product's base unit.
const DefaultUnitName = "Single"

type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Barcode      string          `json:"barcode"`
	Category     string          `json:"category"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	Quantity     int             `json:"quantity"`
	MinStock     int             `json:"min_stock"`
	LastUpdated  time.Time       `json:"last_updated"`
	Batches      []Batch         `json:"batches,omitempty"`
	Units        []ProductUnit   `json:"units,omitempty"`
	PriceHistory []PriceChange   `json:"price_history,omitempty"`
}

// Unit returns the named alternate unit, or nil when the product has none by that name.
func (p Product) Unit(name string) *ProductUnit {
	for i := range p.Units {
		if p.Units[i].Name == name {
			unit := p.Units[i]
			return &unit
		}
	}
	return nil
}

type Batch struct {
	ID          string     `json:"id"`
	BatchNumber string     `json:"batch_number"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	Quantity    int        `json:"quantity"`
}

// ProductUnit is an alternate sale unit worth Multiplier base units.
// A zero Price means the unit sells at SellingPrice x Multiplier.
type ProductUnit struct {
	Name       string          `json:"name"`
	Multiplier int             `json:"multiplier"`
	Barcode    string          `json:"barcode,omitempty"`
	Price      decimal.Decimal `json:"price"`
}

type PriceChange struct {
	ChangedAt time.Time       `json:"changed_at"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	ChangedBy string          `json:"changed_by"`
}

// CartItem counts CartQuantity in the selected unit, not in base units.
type CartItem struct {
	Product      Product      `json:"product"`
	CartQuantity int          `json:"cart_quantity"`
	SelectedUnit *ProductUnit `json:"selected_unit,omitempty"`
}

func (c CartItem) UnitName() string {
	if c.SelectedUnit == nil {
		return ""
	}
	return c.SelectedUnit.Name
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentCard     PaymentMethod = "CARD"
	PaymentTransfer PaymentMethod = "TRANSFER"
)

type Payment struct {
	Method    PaymentMethod   `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	BankName  string          `json:"bank_name,omitempty"`
	Reference string          `json:"reference,omitempty"`
}

// TransactionLine is the sold-line snapshot. Quantity is in base units.
type TransactionLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitName  string          `json:"unit_name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
}

type TransactionType string

const (
	TxTypeSale   TransactionType = "sale"
	TxTypeRefund TransactionType = "refund"
)

type Transaction struct {
	ID            string            `json:"id"`
	CreatedAt     time.Time         `json:"created_at"`
	TerminalID    string            `json:"terminal_id,omitempty"`
	CashierID     string            `json:"cashier_id"`
	CashierName   string            `json:"cashier_name"`
	Items         []TransactionLine `json:"items"`
	Subtotal      decimal.Decimal   `json:"subtotal"`
	Tax           decimal.Decimal   `json:"tax"`
	Discount      decimal.Decimal   `json:"discount"`
	Total         decimal.Decimal   `json:"total"`
	Payments      []Payment         `json:"payments"`
	CustomerID    string            `json:"customer_id,omitempty"`
	CustomerName  string            `json:"customer_name,omitempty"`
	CustomerPhone string            `json:"customer_phone,omitempty"`
	Type          TransactionType   `json:"type"`
	ReversalOf    string            `json:"reversal_of,omitempty"`
	IsTraining    bool              `json:"is_training"`
}

type Shift struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	UserName     string           `json:"user_name"`
	StartTime    time.Time        `json:"start_time"`
	EndTime      *time.Time       `json:"end_time,omitempty"`
	StartCash    decimal.Decimal  `json:"start_cash"`
	ExpectedCash decimal.Decimal  `json:"expected_cash"`
	EndCash      *decimal.Decimal `json:"end_cash,omitempty"`
	Difference   *decimal.Decimal `json:"difference,omitempty"`
	Notes        string           `json:"notes,omitempty"`
}

func (s Shift) IsOpen() bool {
	return s.EndTime == nil
}

// ShiftPatch carries the fields updateShift may change. Nil fields are left untouched.
type ShiftPatch struct {
	ExpectedCash *decimal.Decimal `json:"expected_cash,omitempty"`
	EndCash      *decimal.Decimal `json:"end_cash,omitempty"`
	Difference   *decimal.Decimal `json:"difference,omitempty"`
	EndTime      *time.Time       `json:"end_time,omitempty"`
	Notes        *string          `json:"notes,omitempty"`
}

func (p ShiftPatch) Apply(shift Shift) Shift {
	if p.ExpectedCash != nil {
		shift.ExpectedCash = *p.ExpectedCash
	}
	if p.EndCash != nil {
		endCash := *p.EndCash
		shift.EndCash = &endCash
	}
	if p.Difference != nil {
		diff := *p.Difference
		shift.Difference = &diff
	}
	if p.EndTime != nil {
		endTime := p.EndTime.UTC()
		shift.EndTime = &endTime
	}
	if p.Notes != nil {
		shift.Notes = *p.Notes
	}
	return shift
}

// Closes reports whether applying the patch ends the shift.
func (p ShiftPatch) Closes() bool {
	return p.EndTime != nil
}

type Customer struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Phone     string          `json:"phone,omitempty"`
	Email     string          `json:"email,omitempty"`
	Address   string          `json:"address,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	LastVisit *time.Time      `json:"last_visit,omitempty"`
}

type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	PINHash     string `json:"pin_hash,omitempty"`
	IsSuspended bool   `json:"is_suspended"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Public drops credential material before a user leaves the trust boundary.
func (u User) Public() User {
	u.PINHash = ""
	return u
}

type LoginResult struct {
	User         User   `json:"user"`
	SessionToken string `json:"session_token"`
}

// Actor is the authenticated caller attached to a request context.
type Actor struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type AuditAction string

const (
	AuditLogin           AuditAction = "LOGIN"
	AuditSale            AuditAction = "SALE"
	AuditInventoryUpdate AuditAction = "INVENTORY_UPDATE"
	AuditPriceChange     AuditAction = "PRICE_CHANGE"
	AuditDeleteProduct   AuditAction = "DELETE_PRODUCT"
	AuditShiftOpen       AuditAction = "SHIFT_OPEN"
	AuditShiftClose      AuditAction = "SHIFT_CLOSE"
	AuditRefund          AuditAction = "REFUND"
	AuditUserManagement  AuditAction = "USER_MGMT"
)

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

type AuditEntry struct {
	ID       string      `json:"id"`
	At       time.Time   `json:"at"`
	UserID   string      `json:"user_id"`
	UserName string      `json:"user_name"`
	Action   AuditAction `json:"action"`
	Details  string      `json:"details"`
	Severity Severity    `json:"severity"`
}

// Settings holds store-wide values. TaxRate is a percentage (7.5 means 7.5%).
type Settings struct {
	StoreName     string          `json:"store_name"`
	Address       string          `json:"address"`
	Phone         string          `json:"phone"`
	Currency      string          `json:"currency"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	ReceiptFooter string          `json:"receipt_footer"`
	WifiSSID      string          `json:"wifi_ssid,omitempty"`
	Branches      []string        `json:"branches,omitempty"`
}

type ParkedCart struct {
	ID           string     `json:"id"`
	Items        []CartItem `json:"items"`
	Note         string     `json:"note"`
	ParkedAt     time.Time  `json:"parked_at"`
	CashierID    string     `json:"cashier_id"`
	CustomerID   string     `json:"customer_id,omitempty"`
	CustomerName string     `json:"customer_name,omitempty"`
}

type CashierStats struct {
	Count        int             `json:"count"`
	Total        decimal.Decimal `json:"total"`
	ItemsScanned int             `json:"items_scanned"`
}
