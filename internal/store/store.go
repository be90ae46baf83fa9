package store

import (
	"context"
	"errors"
	"time"

	"tokoledger/backend/internal/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInactiveEntity       = errors.New("inactive entity")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrStockMismatch        = errors.New("stock mismatch")
	ErrInvalidInput         = errors.New("invalid input")
	ErrTransferExceedsSales = errors.New("transfer exceeds sales")
)

// Error carries one of the sentinel kinds above plus a caller-facing message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func Errorf(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

// KindOf names the error kind for API envelopes.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInactiveEntity):
		return "inactive_entity"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrStockMismatch):
		return "stock_mismatch"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrTransferExceedsSales):
		return "transfer_exceeds_sales"
	default:
		return "internal"
	}
}

// SaleDraft is what the service hands to CreateSale. The store owns lot
// selection so that reservation and persistence happen in one atomic unit.
type SaleDraft struct {
	Sale            domain.SaleRecord
	PinnedCostCents *int64
}

// SalesDay is the local calendar day a sale counts toward. Edits and deletes
// that lower the day's sales are refused while the saved transfer for Date
// would exceed what is left. A zero value skips the check.
type SalesDay struct {
	Date string
	From time.Time
	To   time.Time
}

type Repository interface {
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	ListItems(ctx context.Context, activeOnly bool) ([]domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)

	CreatePurchase(ctx context.Context, purchase domain.PurchaseRecord) (*domain.PurchaseRecord, error)
	GetPurchase(ctx context.Context, id string) (*domain.PurchaseRecord, error)
	ListPurchasesByItem(ctx context.Context, itemID string, activeOnly bool) ([]domain.PurchaseRecord, error)
	ListPurchasesByDateRange(ctx context.Context, from time.Time, to time.Time, activeOnly bool) ([]domain.PurchaseRecord, error)
	UpdatePurchase(ctx context.Context, id string, patch domain.PurchaseUpdateRequest) (*domain.PurchaseRecord, error)
	SoftDeletePurchase(ctx context.Context, id string) (*domain.PurchaseRecord, error)

	CreateSale(ctx context.Context, draft SaleDraft) (*domain.SaleRecord, error)
	GetSale(ctx context.Context, id string) (*domain.SaleRecord, error)
	ListSalesByItem(ctx context.Context, itemID string, activeOnly bool) ([]domain.SaleRecord, error)
	ListSalesByDateRange(ctx context.Context, from time.Time, to time.Time, activeOnly bool) ([]domain.SaleRecord, error)
	UpdateSale(ctx context.Context, id string, patch domain.SaleUpdateRequest, day SalesDay) (*domain.SaleRecord, error)
	SoftDeleteSale(ctx context.Context, id string, day SalesDay) (*domain.SaleRecord, error)

	ListLots(ctx context.Context, itemID string) ([]domain.CostLot, error)
	ListAllLots(ctx context.Context) (map[string][]domain.CostLot, error)

	GetTransfer(ctx context.Context, date string) (*domain.DailyTransfer, error)
	UpsertTransfer(ctx context.Context, transfer domain.DailyTransfer, maxTotalCents int64) (*domain.DailyTransfer, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	Close() error
}
