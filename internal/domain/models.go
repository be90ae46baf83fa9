package domain

import "time"

type Item struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	CategoryID    string    `json:"category_id"`
	MinStockLevel int       `json:"min_stock_level"`
	LastCostCents int64     `json:"last_cost_cents"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ItemCreateRequest struct {
	Name          string `json:"name" validate:"required,max=160"`
	CategoryID    string `json:"category_id" validate:"required,max=64"`
	MinStockLevel int    `json:"min_stock_level" validate:"gte=0"`
}

type ItemUpdateRequest struct {
	Name          *string `json:"name,omitempty" validate:"omitempty,max=160"`
	CategoryID    *string `json:"category_id,omitempty" validate:"omitempty,max=64"`
	MinStockLevel *int    `json:"min_stock_level,omitempty" validate:"omitempty,gte=0"`
	Active        *bool   `json:"active,omitempty"`
}

// PurchaseRecord is one stock receipt. Each active purchase is also the cost
// lot that sales draw from, so Remaining is owned by the ledger.
type PurchaseRecord struct {
	ID               string    `json:"id"`
	ItemID           string    `json:"item_id"`
	Quantity         int       `json:"quantity"`
	Remaining        int       `json:"remaining"`
	CostPerUnitCents int64     `json:"cost_per_unit_cents"`
	TotalCostCents   int64     `json:"total_cost_cents"`
	PurchasedAt      time.Time `json:"purchased_at"`
	Supplier         string    `json:"supplier,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RecomputeTotal keeps TotalCostCents in line with quantity and unit cost.
func (p *PurchaseRecord) RecomputeTotal() {
	p.TotalCostCents = int64(p.Quantity) * p.CostPerUnitCents
}

// Lot returns the ledger view of the purchase.
func (p PurchaseRecord) Lot() CostLot {
	return CostLot{
		PurchaseID:       p.ID,
		ItemID:           p.ItemID,
		Quantity:         p.Quantity,
		Remaining:        p.Remaining,
		CostPerUnitCents: p.CostPerUnitCents,
		PurchasedAt:      p.PurchasedAt,
	}
}

type PurchaseCreateRequest struct {
	ItemID           string     `json:"item_id" validate:"required"`
	Quantity         int        `json:"quantity" validate:"gt=0"`
	CostPerUnitCents int64      `json:"cost_per_unit_cents" validate:"gte=0"`
	PurchasedAt      *time.Time `json:"purchased_at,omitempty"`
	Supplier         string     `json:"supplier,omitempty" validate:"max=160"`
	Notes            string     `json:"notes,omitempty" validate:"max=500"`
}

// PurchaseUpdateRequest is a patch. Quantity and cost are accepted on the
// wire only so that an attempt to change them can be rejected explicitly.
type PurchaseUpdateRequest struct {
	Quantity         *int       `json:"quantity,omitempty"`
	CostPerUnitCents *int64     `json:"cost_per_unit_cents,omitempty"`
	PurchasedAt      *time.Time `json:"purchased_at,omitempty"`
	Supplier         *string    `json:"supplier,omitempty" validate:"omitempty,max=160"`
	Notes            *string    `json:"notes,omitempty" validate:"omitempty,max=500"`
}

type CostLot struct {
	PurchaseID       string    `json:"purchase_id"`
	ItemID           string    `json:"item_id"`
	Quantity         int       `json:"quantity"`
	Remaining        int       `json:"remaining"`
	CostPerUnitCents int64     `json:"cost_per_unit_cents"`
	PurchasedAt      time.Time `json:"purchased_at"`
}

type LotAllocation struct {
	PurchaseID       string `json:"purchase_id"`
	Quantity         int    `json:"quantity"`
	CostPerUnitCents int64  `json:"cost_per_unit_cents"`
}

type SaleRecord struct {
	ID                string          `json:"id"`
	ItemID            string          `json:"item_id"`
	Quantity          int             `json:"quantity"`
	CostPerUnitCents  int64           `json:"cost_per_unit_cents"`
	CostTotalCents    int64           `json:"cost_total_cents"`
	PricePerUnitCents int64           `json:"price_per_unit_cents"`
	TotalCents        int64           `json:"total_cents"`
	ProfitCents       int64           `json:"profit_cents"`
	SoldAt            time.Time       `json:"sold_at"`
	PaymentChannel    string          `json:"payment_channel"`
	Notes             string          `json:"notes,omitempty"`
	Active            bool            `json:"active"`
	Allocations       []LotAllocation `json:"allocations"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// RecomputeTotals derives total and profit from price, quantity and the
// realized cost already on the record.
func (s *SaleRecord) RecomputeTotals() {
	s.TotalCents = s.PricePerUnitCents * int64(s.Quantity)
	s.ProfitCents = s.TotalCents - s.CostTotalCents
}

type SaleCreateRequest struct {
	ItemID            string     `json:"item_id" validate:"required"`
	Quantity          int        `json:"quantity" validate:"gt=0"`
	PricePerUnitCents int64      `json:"selling_price_per_unit_cents" validate:"gte=0"`
	SoldAt            *time.Time `json:"sold_at,omitempty"`
	PaymentChannel    string     `json:"payment_channel" validate:"omitempty,oneof=cash mobile_wallet bank"`
	CostFilterCents   *int64     `json:"cost_filter_cents,omitempty" validate:"omitempty,gte=0"`
	Notes             string     `json:"notes,omitempty" validate:"max=500"`
}

// SaleUpdateRequest is a patch. ItemID and Quantity are rejected when set
// because a committed sale's stock effect is never re-applied.
type SaleUpdateRequest struct {
	ItemID            *string `json:"item_id,omitempty"`
	Quantity          *int    `json:"quantity,omitempty"`
	PricePerUnitCents *int64  `json:"selling_price_per_unit_cents,omitempty" validate:"omitempty,gte=0"`
	PaymentChannel    *string `json:"payment_channel,omitempty" validate:"omitempty,oneof=cash mobile_wallet bank"`
	Notes             *string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

type StockLevel struct {
	ItemID       string `json:"item_id"`
	CurrentStock int    `json:"current_stock"`
}

type DailyTransfer struct {
	Date              string    `json:"date"`
	CashCents         int64     `json:"cash_cents"`
	MobileWalletCents int64     `json:"mobile_wallet_cents"`
	BankCents         int64     `json:"bank_cents"`
	Note              string    `json:"note,omitempty"`
	TotalCents        int64     `json:"total_cents"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// RecomputeTotal derives TotalCents from the per-channel amounts.
func (t *DailyTransfer) RecomputeTotal() {
	t.TotalCents = t.CashCents + t.MobileWalletCents + t.BankCents
}

type TransferSaveRequest struct {
	CashCents         int64  `json:"cash_cents" validate:"gte=0"`
	MobileWalletCents int64  `json:"mobile_wallet_cents" validate:"gte=0"`
	BankCents         int64  `json:"bank_cents" validate:"gte=0"`
	Note              string `json:"note,omitempty" validate:"max=500"`
}

type TransferReconciliation struct {
	Date            string        `json:"date"`
	Transfer        DailyTransfer `json:"transfer"`
	TotalSalesCents int64         `json:"total_sales_cents"`
	RemainingCents  int64         `json:"remaining_cents"`
}

type InventoryRow struct {
	ItemID         string     `json:"item_id"`
	Name           string     `json:"name"`
	CategoryID     string     `json:"category_id"`
	CurrentStock   int        `json:"current_stock"`
	MinStockLevel  int        `json:"min_stock_level"`
	LowStock       bool       `json:"low_stock"`
	OutOfStock     bool       `json:"out_of_stock"`
	CostBasisCents int64      `json:"cost_basis_cents"`
	LastCostCents  int64      `json:"last_cost_cents"`
	PurchaseCount  int        `json:"purchase_count"`
	LastPurchaseAt *time.Time `json:"last_purchase_at,omitempty"`
}

type InventorySnapshot struct {
	GeneratedAt         time.Time      `json:"generated_at"`
	Items               []InventoryRow `json:"items"`
	TotalItems          int            `json:"total_items"`
	LowStockItems       int            `json:"low_stock_items"`
	OutOfStockItems     int            `json:"out_of_stock_items"`
	TotalCostBasisCents int64          `json:"total_cost_basis_cents"`
}

type ClosingItem struct {
	ItemID               string `json:"item_id"`
	Name                 string `json:"name"`
	SoldQuantity         int    `json:"sold_quantity"`
	SaleCount            int    `json:"sale_count"`
	RevenueCents         int64  `json:"revenue_cents"`
	CostOfSalesCents     int64  `json:"cost_of_sales_cents"`
	ProfitCents          int64  `json:"profit_cents"`
	AvgSellingPriceCents int64  `json:"avg_selling_price_cents"`
	AvgSaleCostCents     int64  `json:"avg_sale_cost_cents"`
	PurchasedQuantity    int    `json:"purchased_quantity"`
	PurchaseCount        int    `json:"purchase_count"`
	PurchaseCostCents    int64  `json:"purchase_cost_cents"`
	AvgPurchaseCostCents int64  `json:"avg_purchase_cost_cents"`
}

type ChannelTotal struct {
	PaymentChannel string `json:"payment_channel"`
	Sales          int    `json:"sales"`
	TotalCents     int64  `json:"total_cents"`
}

type DailyClosing struct {
	Date               string         `json:"date"`
	Items              []ClosingItem  `json:"items"`
	ByChannel          []ChannelTotal `json:"by_channel"`
	SaleCount          int            `json:"sale_count"`
	PurchaseCount      int            `json:"purchase_count"`
	TotalRevenueCents  int64          `json:"total_revenue_cents"`
	TotalCostCents     int64          `json:"total_cost_cents"`
	TotalProfitCents   int64          `json:"total_profit_cents"`
	TotalPurchaseCents int64          `json:"total_purchase_cents"`
}

type ProductSalesRow struct {
	ItemID        string  `json:"item_id"`
	Name          string  `json:"name"`
	Quantity      int     `json:"quantity"`
	SaleCount     int     `json:"sale_count"`
	RevenueCents  int64   `json:"revenue_cents"`
	CostCents     int64   `json:"cost_cents"`
	ProfitCents   int64   `json:"profit_cents"`
	MarginPercent float64 `json:"margin_percent"`
}

type ProductSalesReport struct {
	From          string            `json:"from"`
	To            string            `json:"to"`
	Products      []ProductSalesRow `json:"products"`
	TotalQuantity int               `json:"total_quantity"`
	RevenueCents  int64             `json:"revenue_cents"`
	CostCents     int64             `json:"cost_cents"`
	ProfitCents   int64             `json:"profit_cents"`
	MarginPercent float64           `json:"margin_percent"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	ChannelCash         = "cash"
	ChannelMobileWallet = "mobile_wallet"
	ChannelBank         = "bank"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

// PaymentChannels lists the supported channels in report order.
var PaymentChannels = []string{ChannelCash, ChannelMobileWallet, ChannelBank}
