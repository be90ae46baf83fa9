package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"tokoledger/backend/internal/cache"
	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/ledger"
	"tokoledger/backend/internal/lock"
	"tokoledger/backend/internal/report"
	"tokoledger/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Locker   lock.Locker
	Cache    cache.ReportCache
	CacheTTL time.Duration
	Logger   *logrus.Logger
	Policy   ledger.Policy
	Location *time.Location
	Now      func() time.Time
}

type Service struct {
	repo     store.Repository
	locker   lock.Locker
	cache    cache.ReportCache
	cacheTTL time.Duration
	logger   *logrus.Logger
	policy   ledger.Policy
	loc      *time.Location
	now      func() time.Time
	validate *validator.Validate
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopReportCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	return &Service{
		repo:     repo,
		locker:   opts.Locker,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		logger:   opts.Logger,
		policy:   opts.Policy,
		loc:      opts.Location,
		now:      opts.Now,
		validate: validate,
	}
}

func (s *Service) Policy() ledger.Policy {
	return s.policy
}

func (s *Service) Location() *time.Location {
	return s.loc
}

// Items

func (s *Service) ListItems(ctx context.Context, includeInactive bool) ([]domain.Item, error) {
	return s.repo.ListItems(ctx, !includeInactive)
}

func (s *Service) GetItem(ctx context.Context, id string) (domain.Item, error) {
	item, err := s.repo.GetItem(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Item{}, err
	}
	return *item, nil
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.CategoryID = strings.TrimSpace(req.CategoryID)
	if err := s.validateStruct(req); err != nil {
		return domain.Item{}, err
	}

	created, err := s.repo.CreateItem(ctx, domain.Item{
		Name:          req.Name,
		CategoryID:    req.CategoryID,
		MinStockLevel: req.MinStockLevel,
		Active:        true,
	})
	if err != nil {
		return domain.Item{}, err
	}

	s.invalidateReports(ctx)
	s.logEvent(ctx, "CreateItem", logrus.Fields{"item_id": created.ID}, "item created")
	return *created, nil
}

func (s *Service) UpdateItem(ctx context.Context, id string, req domain.ItemUpdateRequest) (domain.Item, error) {
	if err := s.validateStruct(req); err != nil {
		return domain.Item{}, err
	}

	var updated *domain.Item
	err := s.withLock(ctx, lock.ItemKey(id), func() error {
		existing, err := s.repo.GetItem(ctx, id)
		if err != nil {
			return err
		}

		item := *existing
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return store.Errorf(store.ErrInvalidInput, "name is required")
			}
			item.Name = name
		}
		if req.CategoryID != nil {
			category := strings.TrimSpace(*req.CategoryID)
			if category == "" {
				return store.Errorf(store.ErrInvalidInput, "category_id is required")
			}
			item.CategoryID = category
		}
		if req.MinStockLevel != nil {
			item.MinStockLevel = *req.MinStockLevel
		}
		if req.Active != nil {
			item.Active = *req.Active
		}

		updated, err = s.repo.UpdateItem(ctx, item)
		return err
	})
	if err != nil {
		return domain.Item{}, err
	}

	s.invalidateReports(ctx)
	s.logEvent(ctx, "UpdateItem", logrus.Fields{"item_id": id, "active": updated.Active}, "item updated")
	return *updated, nil
}

func (s *Service) CurrentStock(ctx context.Context, itemID string) (domain.StockLevel, error) {
	if _, err := s.repo.GetItem(ctx, itemID); err != nil {
		return domain.StockLevel{}, err
	}
	lots, err := s.repo.ListLots(ctx, itemID)
	if err != nil {
		return domain.StockLevel{}, err
	}
	return domain.StockLevel{ItemID: itemID, CurrentStock: ledger.CurrentStock(lots)}, nil
}

func (s *Service) ListLots(ctx context.Context, itemID string) ([]domain.CostLot, error) {
	if _, err := s.repo.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.repo.ListLots(ctx, itemID)
}

// Purchases

func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseCreateRequest) (domain.PurchaseRecord, error) {
	req.ItemID = strings.TrimSpace(req.ItemID)
	if err := s.validateStruct(req); err != nil {
		return domain.PurchaseRecord{}, err
	}

	purchase := domain.PurchaseRecord{
		ItemID:           req.ItemID,
		Quantity:         req.Quantity,
		CostPerUnitCents: req.CostPerUnitCents,
		PurchasedAt:      s.timestampOrNow(req.PurchasedAt),
		Supplier:         strings.TrimSpace(req.Supplier),
		Notes:            strings.TrimSpace(req.Notes),
	}

	var created *domain.PurchaseRecord
	err := s.withLock(ctx, lock.ItemKey(req.ItemID), func() error {
		if _, err := s.activeItem(ctx, req.ItemID); err != nil {
			return err
		}
		var err error
		created, err = s.repo.CreatePurchase(ctx, purchase)
		return err
	})
	if err != nil {
		return domain.PurchaseRecord{}, err
	}

	s.invalidateReports(ctx)
	s.logEvent(ctx, "CreatePurchase", logrus.Fields{
		"purchase_id": created.ID,
		"item_id":     created.ItemID,
		"quantity":    created.Quantity,
		"cost_cents":  created.CostPerUnitCents,
	}, "purchase recorded")
	return *created, nil
}

func (s *Service) GetPurchase(ctx context.Context, id string) (domain.PurchaseRecord, error) {
	purchase, err := s.repo.GetPurchase(ctx, id)
	if err != nil {
		return domain.PurchaseRecord{}, err
	}
	return *purchase, nil
}

// ListPurchases returns the item's purchases when itemID is set, otherwise
// the purchases dated on the given local day (today when empty).
func (s *Service) ListPurchases(ctx context.Context, itemID string, date string, includeInactive bool) ([]domain.PurchaseRecord, error) {
	if itemID = strings.TrimSpace(itemID); itemID != "" {
		return s.repo.ListPurchasesByItem(ctx, itemID, !includeInactive)
	}
	day, err := s.ParseDay(date)
	if err != nil {
		return nil, err
	}
	start, end := report.DayBounds(day, s.loc)
	return s.repo.ListPurchasesByDateRange(ctx, start, end, !includeInactive)
}

func (s *Service) UpdatePurchase(ctx context.Context, id string, req domain.PurchaseUpdateRequest) (domain.PurchaseRecord, error) {
	if err := s.validateStruct(req); err != nil {
		return domain.PurchaseRecord{}, err
	}
	existing, err := s.repo.GetPurchase(ctx, id)
	if err != nil {
		return domain.PurchaseRecord{}, err
	}

	var updated *domain.PurchaseRecord
	err = s.withLock(ctx, lock.ItemKey(existing.ItemID), func() error {
		var err error
		updated, err = s.repo.UpdatePurchase(ctx, id, req)
		return err
	})
	if err != nil {
		return domain.PurchaseRecord{}, err
	}

	s.invalidateReports(ctx)
	s.logEvent(ctx, "UpdatePurchase", logrus.Fields{"purchase_id": id}, "purchase updated")
	return *updated, nil
}

func (s *Service) DeletePurchase(ctx context.Context, id string) (domain.PurchaseRecord, error) {
	existing, err := s.repo.GetPurchase(ctx, id)
	if err != nil {
		return domain.PurchaseRecord{}, err
	}

	var deleted *domain.PurchaseRecord
	err = s.withLock(ctx, lock.ItemKey(existing.ItemID), func() error {
		var err error
		deleted, err = s.repo.SoftDeletePurchase(ctx, id)
		return err
	})
	if err != nil {
		return domain.PurchaseRecord{}, err
	}

	s.invalidateReports(ctx)
	s.logEvent(ctx, "DeletePurchase", logrus.Fields{"purchase_id": id, "item_id": deleted.ItemID}, "purchase deleted")
	return *deleted, nil
}

// Sales

// CreateSale commits a sale against the item's lots. The stock check,
// lot deduction and sale record are one atomic store operation, and the item
// lock keeps other writers for the same item out while it runs.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleRecord, error) {
	req.ItemID = strings.TrimSpace(req.ItemID)
	req.PaymentChannel = strings.TrimSpace(req.PaymentChannel)
	if req.PaymentChannel == "" {
		req.PaymentChannel = domain.ChannelCash
	}
	if err := s.validateStruct(req); err != nil {
		return domain.SaleRecord{}, err
	}
	if s.policy == ledger.CostPinned && req.CostFilterCents == nil {
		return domain.SaleRecord{}, store.Errorf(store.ErrInvalidInput, "cost_filter_cents is required")
	}

	draft := store.SaleDraft{
		Sale: domain.SaleRecord{
			ItemID:            req.ItemID,
			Quantity:          req.Quantity,
			PricePerUnitCents: req.PricePerUnitCents,
			SoldAt:            s.timestampOrNow(req.SoldAt),
			PaymentChannel:    req.PaymentChannel,
			Notes:             strings.TrimSpace(req.Notes),
		},
		PinnedCostCents: req.CostFilterCents,
	}

	var created *domain.SaleRecord
	err := s.withLock(ctx, lock.ItemKey(req.ItemID), func() error {
		if _, err := s.activeItem(ctx, req.ItemID); err != nil {
			return err
		}
		var err error
		created, err = s.repo.CreateSale(ctx, draft)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) || errors.Is(err, store.ErrStockMismatch) {
			s.logger.WithFields(logrus.Fields{
				"module":   "service",
				"funcName": "CreateSale",
				"item_id":  req.ItemID,
				"quantity": req.Quantity,
			}).Info(err.Error())
		}
		return domain.SaleRecord{}, err
	}

	s.invalidateReports(ctx)
	s.logEvent(ctx, "CreateSale", logrus.Fields{
		"sale_id":      created.ID,
		"item_id":      created.ItemID,
		"quantity":     created.Quantity,
		"total_cents":  created.TotalCents,
		"profit_cents": created.ProfitCents,
	}, "sale recorded")
	return *created, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.SaleRecord, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.SaleRecord{}, err
	}
	return *sale, nil
}

// ListSales mirrors ListPurchases.
func (s *Service) ListSales(ctx context.Context, itemID string, date string, includeInactive bool) ([]domain.SaleRecord, error) {
	if itemID = strings.TrimSpace(itemID); itemID != "" {
		return s.repo.ListSalesByItem(ctx, itemID, !includeInactive)
	}
	day, err := s.ParseDay(date)
	if err != nil {
		return nil, err
	}
	start, end := report.DayBounds(day, s.loc)
	return s.repo.ListSalesByDateRange(ctx, start, end, !includeInactive)
}

func (s *Service) UpdateSale(ctx context.Context, id string, req domain.SaleUpdateRequest) (domain.SaleRecord, error) {
	if err := s.validateStruct(req); err != nil {
		return domain.SaleRecord{}, err
	}
	existing, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.SaleRecord{}, err
	}

	day := s.salesDay(existing.SoldAt)
	var updated *domain.SaleRecord
	err = s.withLock(ctx, lock.ItemKey(existing.ItemID), func() error {
		return s.withLock(ctx, lock.TransferKey(day.Date), func() error {
			var err error
			updated, err = s.repo.UpdateSale(ctx, id, req, day)
			return err
		})
	})
	if err != nil {
		return domain.SaleRecord{}, err
	}

	s.invalidateReports(ctx)
	s.logEvent(ctx, "UpdateSale", logrus.Fields{"sale_id": id, "total_cents": updated.TotalCents}, "sale updated")
	return *updated, nil
}

// DeleteSale deactivates the sale and returns its quantities to the lots it
// drew from.
func (s *Service) DeleteSale(ctx context.Context, id string) (domain.SaleRecord, error) {
	existing, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.SaleRecord{}, err
	}

	day := s.salesDay(existing.SoldAt)
	var deleted *domain.SaleRecord
	err = s.withLock(ctx, lock.ItemKey(existing.ItemID), func() error {
		return s.withLock(ctx, lock.TransferKey(day.Date), func() error {
			var err error
			deleted, err = s.repo.SoftDeleteSale(ctx, id, day)
			return err
		})
	})
	if err != nil {
		return domain.SaleRecord{}, err
	}

	s.invalidateReports(ctx)
	s.logEvent(ctx, "DeleteSale", logrus.Fields{"sale_id": id, "item_id": deleted.ItemID}, "sale deleted")
	return *deleted, nil
}

// Reports

func (s *Service) InventorySnapshot(ctx context.Context) (domain.InventorySnapshot, error) {
	if cached, ok, err := s.cache.GetInventory(ctx); err != nil {
		s.logWarn("InventorySnapshot", err)
	} else if ok && cached != nil {
		return *cached, nil
	}

	generation, genErr := s.cache.Generation(ctx)
	if genErr != nil {
		s.logWarn("InventorySnapshot", genErr)
	}

	items, err := s.repo.ListItems(ctx, true)
	if err != nil {
		return domain.InventorySnapshot{}, err
	}
	lots, err := s.repo.ListAllLots(ctx)
	if err != nil {
		return domain.InventorySnapshot{}, err
	}

	snapshot := report.InventorySnapshot(items, lots, s.now())
	if genErr == nil {
		if err := s.cache.SetInventory(ctx, &snapshot, generation, s.cacheTTL); err != nil {
			s.logWarn("InventorySnapshot", err)
		}
	}
	return snapshot, nil
}

func (s *Service) DailyClosing(ctx context.Context, date string) (domain.DailyClosing, error) {
	day, err := s.ParseDay(date)
	if err != nil {
		return domain.DailyClosing{}, err
	}
	start, end := report.DayBounds(day, s.loc)

	items, err := s.repo.ListItems(ctx, false)
	if err != nil {
		return domain.DailyClosing{}, err
	}
	sales, err := s.repo.ListSalesByDateRange(ctx, start, end, true)
	if err != nil {
		return domain.DailyClosing{}, err
	}
	purchases, err := s.repo.ListPurchasesByDateRange(ctx, start, end, true)
	if err != nil {
		return domain.DailyClosing{}, err
	}

	return report.DailyClosing(day, s.loc, items, sales, purchases), nil
}

// ProductSalesReport covers the local days from..to inclusive. An empty to
// means the same day as from.
func (s *Service) ProductSalesReport(ctx context.Context, from string, to string) (domain.ProductSalesReport, error) {
	fromDay, err := s.ParseDay(from)
	if err != nil {
		return domain.ProductSalesReport{}, err
	}
	toDay := fromDay
	if strings.TrimSpace(to) != "" {
		if toDay, err = s.ParseDay(to); err != nil {
			return domain.ProductSalesReport{}, err
		}
	}
	if toDay.Before(fromDay) {
		return domain.ProductSalesReport{}, store.Errorf(store.ErrInvalidInput, "to must not be before from")
	}

	start, _ := report.DayBounds(fromDay, s.loc)
	_, end := report.DayBounds(toDay, s.loc)

	items, err := s.repo.ListItems(ctx, false)
	if err != nil {
		return domain.ProductSalesReport{}, err
	}
	sales, err := s.repo.ListSalesByDateRange(ctx, start, end, true)
	if err != nil {
		return domain.ProductSalesReport{}, err
	}

	return report.ProductSales(items, sales, start.Format(report.DateLayout), end.Format(report.DateLayout)), nil
}

// Transfers

// SaveTransfer records how much of the day's takings were moved per channel.
// Saves for one date are serialized so the sales total checked is the one the
// record is written against.
func (s *Service) SaveTransfer(ctx context.Context, date string, req domain.TransferSaveRequest) (domain.TransferReconciliation, error) {
	if err := s.validateStruct(req); err != nil {
		return domain.TransferReconciliation{}, err
	}
	day, err := s.ParseDay(date)
	if err != nil {
		return domain.TransferReconciliation{}, err
	}
	label := day.Format(report.DateLayout)

	var result domain.TransferReconciliation
	err = s.withLock(ctx, lock.TransferKey(label), func() error {
		total, err := s.salesTotal(ctx, day)
		if err != nil {
			return err
		}

		saved, err := s.repo.UpsertTransfer(ctx, domain.DailyTransfer{
			Date:              label,
			CashCents:         req.CashCents,
			MobileWalletCents: req.MobileWalletCents,
			BankCents:         req.BankCents,
			Note:              strings.TrimSpace(req.Note),
		}, total)
		if err != nil {
			return err
		}
		result = report.Reconcile(label, *saved, total)
		return nil
	})
	if err != nil {
		return domain.TransferReconciliation{}, err
	}

	s.logEvent(ctx, "SaveTransfer", logrus.Fields{
		"date":            label,
		"total_cents":     result.Transfer.TotalCents,
		"remaining_cents": result.RemainingCents,
	}, "transfer saved")
	return result, nil
}

func (s *Service) TransferReconciliation(ctx context.Context, date string) (domain.TransferReconciliation, error) {
	day, err := s.ParseDay(date)
	if err != nil {
		return domain.TransferReconciliation{}, err
	}
	label := day.Format(report.DateLayout)

	transfer := domain.DailyTransfer{Date: label}
	saved, err := s.repo.GetTransfer(ctx, label)
	switch {
	case err == nil:
		transfer = *saved
	case !errors.Is(err, store.ErrNotFound):
		return domain.TransferReconciliation{}, err
	}

	total, err := s.salesTotal(ctx, day)
	if err != nil {
		return domain.TransferReconciliation{}, err
	}
	return report.Reconcile(label, transfer, total), nil
}

// ParseDay reads a YYYY-MM-DD date in the configured location. An empty
// value means today.
func (s *Service) ParseDay(date string) (time.Time, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		start, _ := report.DayBounds(s.now(), s.loc)
		return start, nil
	}
	day, err := time.ParseInLocation(report.DateLayout, date, s.loc)
	if err != nil {
		return time.Time{}, store.Errorf(store.ErrInvalidInput, fmt.Sprintf("date must be %s", report.DateLayout))
	}
	return day, nil
}

// salesDay names the local day a sale was made on. Sale edits lock it after
// the item so they never interleave with SaveTransfer for that day.
func (s *Service) salesDay(soldAt time.Time) store.SalesDay {
	start, end := report.DayBounds(soldAt, s.loc)
	return store.SalesDay{Date: start.Format(report.DateLayout), From: start, To: end}
}

func (s *Service) salesTotal(ctx context.Context, day time.Time) (int64, error) {
	start, end := report.DayBounds(day, s.loc)
	sales, err := s.repo.ListSalesByDateRange(ctx, start, end, true)
	if err != nil {
		return 0, err
	}
	return report.TotalSales(sales), nil
}

func (s *Service) activeItem(ctx context.Context, itemID string) (*domain.Item, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.Active {
		return nil, store.Errorf(store.ErrInactiveEntity, "item "+itemID+" is inactive")
	}
	return item, nil
}

func (s *Service) withLock(ctx context.Context, key string, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (s *Service) timestampOrNow(t *time.Time) time.Time {
	if t == nil || t.IsZero() {
		return s.now().UTC()
	}
	return t.UTC()
}

func (s *Service) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return store.Errorf(store.ErrInvalidInput, err.Error())
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
	}
	sort.Strings(msgs)
	return store.Errorf(store.ErrInvalidInput, strings.Join(msgs, "; "))
}

func (s *Service) invalidateReports(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logWarn("invalidateReports", err)
	}
}

func (s *Service) logEvent(ctx context.Context, funcName string, fields logrus.Fields, msg string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	fields["module"] = "service"
	fields["funcName"] = funcName
	fields["actor"] = actor.Username
	s.logger.WithFields(fields).Info(msg)
}

func (s *Service) logWarn(funcName string, err error) {
	s.logger.WithFields(logrus.Fields{
		"module":   "service",
		"funcName": funcName,
	}).Warn(err.Error())
}
