package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/ledger"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	items           map[string]domain.Item
	purchasesByID   map[string]domain.PurchaseRecord
	purchasesByItem map[string][]string
	salesByID       map[string]domain.SaleRecord
	salesByItem     map[string][]string
	transfersByDate map[string]domain.DailyTransfer
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// hardcoded dev defaults are used when unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logrus.WithField("module", "memory-store").Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithField("module", "memory-store").Fatalf("failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store without user accounts.
func New() *Store {
	return &Store{
		items:           make(map[string]domain.Item),
		purchasesByID:   make(map[string]domain.PurchaseRecord),
		purchasesByItem: make(map[string][]string),
		salesByID:       make(map[string]domain.SaleRecord),
		salesByItem:     make(map[string][]string),
		transfersByDate: make(map[string]domain.DailyTransfer),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with the dev user accounts and a small catalog.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	for _, item := range []domain.Item{
		{ID: "item-brake-pad", Name: "Brake Pad", CategoryID: "brakes", MinStockLevel: 5},
		{ID: "item-oil-filter", Name: "Oil Filter", CategoryID: "filters", MinStockLevel: 10},
		{ID: "item-spark-plug", Name: "Spark Plug", CategoryID: "ignition", MinStockLevel: 20},
		{ID: "item-engine-oil", Name: "Engine Oil 1L", CategoryID: "lubricants", MinStockLevel: 12},
	} {
		item.Active = true
		item.CreatedAt = now
		item.UpdatedAt = now
		s.items[item.ID] = item
	}
	return s
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	if strings.TrimSpace(item.Name) == "" || item.MinStockLevel < 0 {
		return nil, store.ErrInvalidInput
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	item.Active = true

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; exists {
		return nil, store.Errorf(store.ErrInvalidInput, "item "+item.ID+" already exists")
	}
	s.items[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) ListItems(_ context.Context, activeOnly bool) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		if activeOnly && !item.Active {
			continue
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		if c := strings.Compare(a.CategoryID, b.CategoryID); c != 0 {
			return c
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return items, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	if strings.TrimSpace(item.Name) == "" || item.MinStockLevel < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	item.CreatedAt = existing.CreatedAt
	item.LastCostCents = existing.LastCostCents
	item.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = item
	updated := item
	return &updated, nil
}

func (s *Store) CreatePurchase(_ context.Context, purchase domain.PurchaseRecord) (*domain.PurchaseRecord, error) {
	if purchase.ItemID == "" || purchase.Quantity < 1 || purchase.CostPerUnitCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	now := time.Now().UTC()
	if purchase.PurchasedAt.IsZero() {
		purchase.PurchasedAt = now
	}
	purchase.Remaining = purchase.Quantity
	purchase.Active = true
	purchase.CreatedAt = now
	purchase.UpdatedAt = now
	purchase.RecomputeTotal()

	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.activeItemLocked(purchase.ItemID)
	if err != nil {
		return nil, err
	}

	s.purchasesByID[purchase.ID] = purchase
	s.purchasesByItem[purchase.ItemID] = append(s.purchasesByItem[purchase.ItemID], purchase.ID)
	item.LastCostCents = purchase.CostPerUnitCents
	item.UpdatedAt = now
	s.items[item.ID] = item

	created := purchase
	return &created, nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (*domain.PurchaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchase, ok := s.purchasesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &purchase, nil
}

func (s *Store) ListPurchasesByItem(_ context.Context, itemID string, activeOnly bool) ([]domain.PurchaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.purchasesByItem[itemID]
	result := make([]domain.PurchaseRecord, 0, len(ids))
	for _, id := range ids {
		purchase := s.purchasesByID[id]
		if activeOnly && !purchase.Active {
			continue
		}
		result = append(result, purchase)
	}
	slices.SortFunc(result, comparePurchase)
	return result, nil
}

func (s *Store) ListPurchasesByDateRange(_ context.Context, from time.Time, to time.Time, activeOnly bool) ([]domain.PurchaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PurchaseRecord, 0, 64)
	for _, purchase := range s.purchasesByID {
		if activeOnly && !purchase.Active {
			continue
		}
		if !withinRange(purchase.PurchasedAt, from, to) {
			continue
		}
		result = append(result, purchase)
	}
	slices.SortFunc(result, comparePurchase)
	return result, nil
}

func (s *Store) UpdatePurchase(_ context.Context, id string, patch domain.PurchaseUpdateRequest) (*domain.PurchaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purchase, ok := s.purchasesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := store.ApplyPurchasePatch(&purchase, patch, time.Now().UTC()); err != nil {
		return nil, err
	}
	s.purchasesByID[id] = purchase

	updated := purchase
	return &updated, nil
}

func (s *Store) SoftDeletePurchase(_ context.Context, id string) (*domain.PurchaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purchase, ok := s.purchasesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !purchase.Active {
		return nil, store.Errorf(store.ErrInactiveEntity, "purchase "+id+" already deleted")
	}
	if purchase.Remaining != purchase.Quantity {
		return nil, store.Errorf(store.ErrInvalidInput, "purchase "+id+" has sold units; delete those sales first")
	}
	purchase.Active = false
	purchase.UpdatedAt = time.Now().UTC()
	s.purchasesByID[id] = purchase

	deleted := purchase
	return &deleted, nil
}

func (s *Store) CreateSale(_ context.Context, draft store.SaleDraft) (*domain.SaleRecord, error) {
	sale := draft.Sale
	if sale.ItemID == "" || sale.Quantity < 1 || sale.PricePerUnitCents < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.activeItemLocked(sale.ItemID); err != nil {
		return nil, err
	}

	lots := s.lotsLocked(sale.ItemID)
	allocations, err := ledger.Reserve(lots, sale.Quantity, ledger.Options{PinnedCostCents: draft.PinnedCostCents})
	if err != nil {
		return nil, err
	}
	updated, err := ledger.Apply(lots, allocations)
	if err != nil {
		return nil, err
	}

	sale = ledger.BuildSale(sale, allocations)
	now := time.Now().UTC()
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.SoldAt.IsZero() {
		sale.SoldAt = now
	}
	sale.Active = true
	sale.CreatedAt = now
	sale.UpdatedAt = now

	s.writeLotsLocked(updated, now)
	s.salesByID[sale.ID] = sale
	s.salesByItem[sale.ItemID] = append(s.salesByItem[sale.ItemID], sale.ID)

	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneSale(sale)
	return &found, nil
}

func (s *Store) ListSalesByItem(_ context.Context, itemID string, activeOnly bool) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.salesByItem[itemID]
	result := make([]domain.SaleRecord, 0, len(ids))
	for _, id := range ids {
		sale := s.salesByID[id]
		if activeOnly && !sale.Active {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	slices.SortFunc(result, compareSale)
	return result, nil
}

func (s *Store) ListSalesByDateRange(_ context.Context, from time.Time, to time.Time, activeOnly bool) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SaleRecord, 0, 64)
	for _, sale := range s.salesByID {
		if activeOnly && !sale.Active {
			continue
		}
		if !withinRange(sale.SoldAt, from, to) {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	slices.SortFunc(result, compareSale)
	return result, nil
}

func (s *Store) UpdateSale(_ context.Context, id string, patch domain.SaleUpdateRequest, day store.SalesDay) (*domain.SaleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := store.ApplySalePatch(&sale, patch, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.transferCoveredLocked(day, sale); err != nil {
		return nil, err
	}
	s.salesByID[id] = sale

	updated := cloneSale(sale)
	return &updated, nil
}

func (s *Store) SoftDeleteSale(_ context.Context, id string, day store.SalesDay) (*domain.SaleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !sale.Active {
		return nil, store.Errorf(store.ErrInactiveEntity, "sale "+id+" already deleted")
	}

	restored, err := ledger.Restore(s.lotsLocked(sale.ItemID), sale.Allocations)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sale.Active = false
	sale.UpdatedAt = now
	if err := s.transferCoveredLocked(day, sale); err != nil {
		return nil, err
	}
	s.writeLotsLocked(restored, now)
	s.salesByID[id] = sale

	deleted := cloneSale(sale)
	return &deleted, nil
}

func (s *Store) ListLots(_ context.Context, itemID string) ([]domain.CostLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lots := s.lotsLocked(itemID)
	ledger.SortLIFO(lots)
	return lots, nil
}

func (s *Store) ListAllLots(_ context.Context) (map[string][]domain.CostLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]domain.CostLot, len(s.purchasesByItem))
	for itemID := range s.purchasesByItem {
		lots := s.lotsLocked(itemID)
		if len(lots) == 0 {
			continue
		}
		ledger.SortLIFO(lots)
		result[itemID] = lots
	}
	return result, nil
}

func (s *Store) GetTransfer(_ context.Context, date string) (*domain.DailyTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfer, ok := s.transfersByDate[date]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &transfer, nil
}

func (s *Store) UpsertTransfer(_ context.Context, transfer domain.DailyTransfer, maxTotalCents int64) (*domain.DailyTransfer, error) {
	if transfer.Date == "" || transfer.CashCents < 0 || transfer.MobileWalletCents < 0 || transfer.BankCents < 0 {
		return nil, store.ErrInvalidInput
	}
	transfer.RecomputeTotal()
	if transfer.TotalCents > maxTotalCents {
		return nil, store.ErrTransferExceedsSales
	}
	transfer.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.transfersByDate[transfer.Date] = transfer
	saved := transfer
	return &saved, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" || strings.TrimSpace(user.Role) == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidInput
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) activeItemLocked(itemID string) (domain.Item, error) {
	item, ok := s.items[itemID]
	if !ok {
		return domain.Item{}, store.Errorf(store.ErrNotFound, "item "+itemID)
	}
	if !item.Active {
		return domain.Item{}, store.Errorf(store.ErrInactiveEntity, "item "+itemID+" is inactive")
	}
	return item, nil
}

func (s *Store) lotsLocked(itemID string) []domain.CostLot {
	ids := s.purchasesByItem[itemID]
	lots := make([]domain.CostLot, 0, len(ids))
	for _, id := range ids {
		purchase := s.purchasesByID[id]
		if !purchase.Active {
			continue
		}
		lots = append(lots, purchase.Lot())
	}
	return lots
}

func (s *Store) writeLotsLocked(lots []domain.CostLot, at time.Time) {
	for _, lot := range lots {
		purchase, ok := s.purchasesByID[lot.PurchaseID]
		if !ok || purchase.Remaining == lot.Remaining {
			continue
		}
		purchase.Remaining = lot.Remaining
		purchase.UpdatedAt = at
		s.purchasesByID[lot.PurchaseID] = purchase
	}
}

// transferCoveredLocked sums the day's active sales with changed in place of
// its stored version and checks them against the day's saved transfer.
func (s *Store) transferCoveredLocked(day store.SalesDay, changed domain.SaleRecord) error {
	if day.Date == "" {
		return nil
	}
	transfer, ok := s.transfersByDate[day.Date]
	if !ok {
		return nil
	}
	var total int64
	for id, sale := range s.salesByID {
		if id == changed.ID {
			sale = changed
		}
		if sale.Active && withinRange(sale.SoldAt, day.From, day.To) {
			total += sale.TotalCents
		}
	}
	return store.CheckTransferCovered(day.Date, transfer.TotalCents, total)
}

func withinRange(t time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

func comparePurchase(a domain.PurchaseRecord, b domain.PurchaseRecord) int {
	if c := a.PurchasedAt.Compare(b.PurchasedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func compareSale(a domain.SaleRecord, b domain.SaleRecord) int {
	if c := a.SoldAt.Compare(b.SoldAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func cloneSale(src domain.SaleRecord) domain.SaleRecord {
	dup := src
	dup.Allocations = slices.Clone(src.Allocations)
	return dup
}
