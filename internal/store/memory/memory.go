package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"lalune/backend/internal/domain"
	"lalune/backend/internal/store"
	"lalune/backend/internal/xid"
)

type Store struct {
	mu                  sync.RWMutex
	reservations        map[string]domain.Reservation
	menuItems           map[string]domain.MenuItem
	schedulesByStaff    map[string]domain.Schedule
	vouchersByCode      map[string]domain.Voucher
	ordersByID          map[int64]*domain.Order
	nextOrderID         int64
	paymentsByID        map[string]domain.Payment
	paymentIDByCode     map[string]string
	registersByID       map[string]domain.CashRegister
	openRegisterByStaff map[string]string
	history             []domain.PaymentHistory
	usersByUsername     map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory staff accounts for dev/demo mode.
// Credentials are read from SEED_MANAGER_PASSWORD and SEED_STAFF_PASSWORD;
// hardcoded dev defaults are used with a warning when unset. Production
// deployments use PostgreSQL (DATABASE_URL) and never touch these.
func seedUsers() map[string]domain.UserAccount {
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_MANAGER_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"manager", managerPwd, "manager"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
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

func NewSeeded() *Store {
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	menuItems := []domain.MenuItem{
		{ID: "dish-spring-rolls", Name: "Goi Cuon", Price: decimal.NewFromInt(10000), NeedsPreparation: true, Available: true},
		{ID: "dish-grilled-pork", Name: "Bun Thit Nuong", Price: decimal.NewFromInt(20000), NeedsPreparation: true, Available: true},
		{ID: "dish-pho-bo", Name: "Pho Bo", Price: decimal.NewFromInt(45000), NeedsPreparation: true, Available: true},
		{ID: "dish-banh-mi", Name: "Banh Mi", Price: decimal.NewFromInt(25000), NeedsPreparation: false, Available: true},
		{ID: "drink-iced-tea", Name: "Tra Da", Price: decimal.NewFromInt(5000), NeedsPreparation: false, Available: true},
		{ID: "drink-coffee", Name: "Ca Phe Sua Da", Price: decimal.NewFromInt(18000), NeedsPreparation: false, Available: true},
	}
	menuMap := make(map[string]domain.MenuItem, len(menuItems))
	for _, item := range menuItems {
		menuMap[item.ID] = item
	}

	reservations := map[string]domain.Reservation{
		"res-1001": {ID: "res-1001", TableName: "T1", Status: domain.ReservationStatusConfirmed, CreatedAt: now},
		"res-1002": {ID: "res-1002", TableName: "T2", Status: domain.ReservationStatusConfirmed, CreatedAt: now},
		"res-1003": {ID: "res-1003", TableName: "T5", Status: domain.ReservationStatusConfirmed, CreatedAt: now},
	}

	schedules := map[string]domain.Schedule{
		"manager": {ID: "sch-manager", StaffUsername: "manager", WorkDate: today, CheckedIn: true},
		"staff":   {ID: "sch-staff", StaffUsername: "staff", WorkDate: today, CheckedIn: true},
	}

	vouchers := map[string]domain.Voucher{
		"WELCOME10": {
			Code: "WELCOME10", DiscountType: domain.VoucherTypePercent, Value: decimal.NewFromInt(10),
			ValidFrom: now.Add(-30 * 24 * time.Hour), ValidUntil: now.Add(30 * 24 * time.Hour), Active: true,
		},
		"LUNCH20K": {
			Code: "LUNCH20K", DiscountType: domain.VoucherTypeFixed, Value: decimal.NewFromInt(20000),
			ValidFrom: now.Add(-30 * 24 * time.Hour), ValidUntil: now.Add(30 * 24 * time.Hour), Active: true,
		},
		"EXPIRED5": {
			Code: "EXPIRED5", DiscountType: domain.VoucherTypePercent, Value: decimal.NewFromInt(5),
			ValidFrom: now.Add(-60 * 24 * time.Hour), ValidUntil: now.Add(-30 * 24 * time.Hour), Active: true,
		},
	}

	return &Store{
		reservations:        reservations,
		menuItems:           menuMap,
		schedulesByStaff:    schedules,
		vouchersByCode:      vouchers,
		ordersByID:          make(map[int64]*domain.Order),
		nextOrderID:         1,
		paymentsByID:        make(map[string]domain.Payment),
		paymentIDByCode:     make(map[string]string),
		registersByID:       make(map[string]domain.CashRegister),
		openRegisterByStaff: make(map[string]string),
		history:             make([]domain.PaymentHistory, 0, 128),
		usersByUsername:     seedUsers(),
	}
}

func (s *Store) GetReservation(_ context.Context, id string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.reservations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyRes := res
	return &copyRes, nil
}

func (s *Store) UpdateReservationStatus(_ context.Context, id string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok {
		return store.ErrNotFound
	}
	res.Status = status
	s.reservations[id] = res
	return nil
}

func (s *Store) GetMenuItem(_ context.Context, id string) (*domain.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.menuItems[id]
	if !ok || !item.Available {
		return nil, store.ErrNotFound
	}
	copyItem := item
	return &copyItem, nil
}

func (s *Store) GetCurrentSchedule(_ context.Context, staffUsername string) (*domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedule, ok := s.schedulesByStaff[staffUsername]
	if !ok {
		return nil, store.ErrNotFound
	}
	copySchedule := schedule
	return &copySchedule, nil
}

func (s *Store) GetVoucherByCode(_ context.Context, code string) (*domain.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	voucher, ok := s.vouchersByCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyVoucher := voucher
	return &copyVoucher, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if order.ReservationID == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[order.ReservationID]; !ok {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	order.ID = s.nextOrderID
	s.nextOrderID++
	order.Status = domain.OrderStatusPending
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Items {
		if order.Items[i].Quantity < 1 {
			return nil, store.ErrInvalidArgument
		}
		if order.Items[i].ID == "" {
			order.Items[i].ID = xid.New("item")
		}
		order.Items[i].OrderID = order.ID
		if order.Items[i].Status == "" {
			order.Items[i].Status = domain.ItemStatusPending
		}
		order.Items[i].CreatedAt = now
		order.Items[i].UpdatedAt = now
	}

	stored := cloneOrder(order)
	s.ordersByID[order.ID] = &stored
	created := cloneOrder(stored)
	return &created, nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyOrder := cloneOrder(*order)
	return &copyOrder, nil
}

func (s *Store) ListOrdersByReservation(_ context.Context, reservationID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, 4)
	for _, order := range s.ordersByID {
		if order.ReservationID == reservationID {
			orders = append(orders, cloneOrder(*order))
		}
	}
	slices.SortFunc(orders, func(a, b domain.Order) int {
		return int(a.ID - b.ID)
	})
	return orders, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, orderID int64, next string) (*domain.Order, error) {
	if !domain.ValidOrderStatus(next) {
		return nil, store.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !domain.OrderTransitionAllowed(order.Status, next) {
		return nil, store.ErrRuleViolation
	}
	if next == domain.OrderStatusCancelled {
		if !domain.CanCancelOrder(order.Items) {
			return nil, store.ErrRuleViolation
		}
		now := time.Now().UTC()
		for i := range order.Items {
			if order.Items[i].Status == domain.ItemStatusPending {
				order.Items[i].Status = domain.ItemStatusCancelled
				order.Items[i].UpdatedAt = now
			}
		}
	}
	order.Status = next
	order.UpdatedAt = time.Now().UTC()

	updated := cloneOrder(*order)
	return &updated, nil
}

func (s *Store) UpdateOrderItemStatus(_ context.Context, itemID string, next string, force bool) (*domain.OrderItem, error) {
	if !domain.ValidItemStatus(next) {
		return nil, store.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, idx := s.findItemLocked(itemID)
	if order == nil {
		return nil, store.ErrNotFound
	}
	item := &order.Items[idx]
	if !force && !domain.ItemTransitionAllowed(item.Status, next) {
		return nil, store.ErrRuleViolation
	}
	item.Status = next
	item.UpdatedAt = time.Now().UTC()

	updated := *item
	return &updated, nil
}

func (s *Store) SplitOrder(_ context.Context, sourceOrderID int64, lines []domain.SplitLine, staffUsername string) (*domain.Order, error) {
	if len(lines) == 0 {
		return nil, store.ErrRuleViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.ordersByID[sourceOrderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if domain.OrderIsTerminal(source.Status) {
		return nil, store.ErrRuleViolation
	}

	now := time.Now().UTC()
	newOrder := domain.Order{
		ID:            s.nextOrderID,
		ReservationID: source.ReservationID,
		StaffUsername: staffUsername,
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Validate every line before mutating anything.
	moveIdx := make(map[string]int, len(lines))
	for _, line := range lines {
		idx := -1
		for i := range source.Items {
			if source.Items[i].ID == line.ItemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, store.ErrNotFound
		}
		if line.Quantity < 1 || line.Quantity > source.Items[idx].Quantity {
			return nil, store.ErrInvalidArgument
		}
		if _, dup := moveIdx[line.ItemID]; dup {
			return nil, store.ErrInvalidArgument
		}
		moveIdx[line.ItemID] = idx
	}

	for _, line := range lines {
		src := &source.Items[moveIdx[line.ItemID]]
		// Moved quantities were already served, so the sibling order's
		// items are born delivered.
		newOrder.Items = append(newOrder.Items, domain.OrderItem{
			ID:         xid.New("item"),
			OrderID:    newOrder.ID,
			MenuItemID: src.MenuItemID,
			Quantity:   line.Quantity,
			UnitPrice:  src.UnitPrice,
			Status:     domain.ItemStatusDelivered,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		src.Quantity -= line.Quantity
		src.UpdatedAt = now
	}

	remaining := source.Items[:0]
	for _, item := range source.Items {
		if item.Quantity > 0 {
			remaining = append(remaining, item)
		}
	}
	source.Items = remaining
	source.UpdatedAt = now

	s.nextOrderID++
	stored := cloneOrder(newOrder)
	s.ordersByID[newOrder.ID] = &stored
	created := cloneOrder(stored)
	return &created, nil
}

func (s *Store) MergeOrders(_ context.Context, orderIDs []int64, reservationID string, staffUsername string) (*domain.Order, error) {
	if len(orderIDs) < 2 {
		return nil, store.ErrRuleViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sources := make([]*domain.Order, 0, len(orderIDs))
	seen := make(map[int64]bool, len(orderIDs))
	for _, id := range orderIDs {
		if seen[id] {
			return nil, store.ErrInvalidArgument
		}
		seen[id] = true
		order, ok := s.ordersByID[id]
		if !ok {
			return nil, store.ErrNotFound
		}
		if order.ReservationID != reservationID {
			return nil, store.ErrRuleViolation
		}
		if domain.OrderIsTerminal(order.Status) {
			return nil, store.ErrRuleViolation
		}
		sources = append(sources, order)
	}

	now := time.Now().UTC()
	merged := domain.Order{
		ID:            s.nextOrderID,
		ReservationID: reservationID,
		StaffUsername: staffUsername,
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Union items by menu item and snapshotted price, summing the quantities
	// that are still live. Sources that captured different prices for the
	// same dish keep separate lines so the merged value equals the sum of
	// the sources.
	qtyByLine := make(map[string]int)
	menuItemByLine := make(map[string]string)
	priceByLine := make(map[string]decimal.Decimal)
	lineOrder := make([]string, 0, 8)
	for _, source := range sources {
		for _, item := range source.Items {
			if item.Status == domain.ItemStatusCancelled {
				continue
			}
			key := item.MenuItemID + "@" + item.UnitPrice.String()
			if _, ok := qtyByLine[key]; !ok {
				lineOrder = append(lineOrder, key)
				menuItemByLine[key] = item.MenuItemID
				priceByLine[key] = item.UnitPrice
			}
			qtyByLine[key] += item.Quantity
		}
	}
	if len(lineOrder) == 0 {
		return nil, store.ErrRuleViolation
	}
	for _, key := range lineOrder {
		merged.Items = append(merged.Items, domain.OrderItem{
			ID:         xid.New("item"),
			OrderID:    merged.ID,
			MenuItemID: menuItemByLine[key],
			Quantity:   qtyByLine[key],
			UnitPrice:  priceByLine[key],
			Status:     domain.ItemStatusDelivered,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	for _, source := range sources {
		source.Status = domain.OrderStatusCancelled
		source.UpdatedAt = now
		for i := range source.Items {
			source.Items[i].Status = domain.ItemStatusCancelled
			source.Items[i].UpdatedAt = now
		}
	}

	s.nextOrderID++
	stored := cloneOrder(merged)
	s.ordersByID[merged.ID] = &stored
	created := cloneOrder(stored)
	return &created, nil
}

func (s *Store) DeleteOrderItem(_ context.Context, itemID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, idx := s.findItemLocked(itemID)
	if order == nil {
		return false, store.ErrNotFound
	}
	item := order.Items[idx]
	if !domain.ItemDeletable(item.Status) {
		return false, store.ErrRuleViolation
	}
	if len(order.Items) == 1 {
		if item.Status == domain.ItemStatusCancelled {
			delete(s.ordersByID, order.ID)
			return true, nil
		}
		// An order must retain at least one item; removing the last live
		// one would leave an empty, billable order behind.
		return false, store.ErrIllegalState
	}

	order.Items = append(order.Items[:idx], order.Items[idx+1:]...)
	order.UpdatedAt = time.Now().UTC()
	return false, nil
}

func (s *Store) DeleteOrder(_ context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return store.ErrNotFound
	}
	if !domain.OrderDeletable(order.Items) {
		return store.ErrRuleViolation
	}
	delete(s.ordersByID, orderID)
	return nil
}

func (s *Store) CreatePayment(_ context.Context, payment domain.Payment) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ordersByID[payment.OrderID]; !ok {
		return nil, store.ErrNotFound
	}
	for id, existing := range s.paymentsByID {
		if existing.OrderID != payment.OrderID {
			continue
		}
		if existing.Status == domain.PaymentStatusPaid {
			return nil, store.ErrRuleViolation
		}
		delete(s.paymentsByID, id)
		delete(s.paymentIDByCode, existing.Code)
	}

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.Code == "" {
		payment.Code = domain.PaymentCode(payment.OrderID)
	}
	payment.Status = domain.PaymentStatusPending
	payment.CreatedAt = time.Now().UTC()

	s.paymentsByID[payment.ID] = payment
	s.paymentIDByCode[payment.Code] = payment.ID
	created := payment
	return &created, nil
}

func (s *Store) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payment, ok := s.paymentsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyPayment := payment
	return &copyPayment, nil
}

func (s *Store) GetPaymentByCode(_ context.Context, code string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.paymentIDByCode[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	payment := s.paymentsByID[id]
	copyPayment := payment
	return &copyPayment, nil
}

func (s *Store) SettlePayment(_ context.Context, paymentID string, receivedAmount decimal.Decimal, paidAt time.Time) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.paymentsByID[paymentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if payment.Status != domain.PaymentStatusPending {
		return nil, store.ErrRuleViolation
	}

	payment.Status = domain.PaymentStatusPaid
	payment.ReceivedAmount = receivedAmount
	payment.PaymentDate = &paidAt
	s.paymentsByID[paymentID] = payment

	if order, ok := s.ordersByID[payment.OrderID]; ok {
		order.Status = domain.OrderStatusCompleted
		order.UpdatedAt = paidAt
		s.reconcileReservationLocked(order.ReservationID)
	}

	settled := payment
	return &settled, nil
}

func (s *Store) CancelPayment(_ context.Context, paymentID string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.paymentsByID[paymentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if payment.Status != domain.PaymentStatusPending {
		return nil, store.ErrRuleViolation
	}

	now := time.Now().UTC()
	payment.Status = domain.PaymentStatusCancelled
	s.paymentsByID[paymentID] = payment

	if order, ok := s.ordersByID[payment.OrderID]; ok {
		order.Status = domain.OrderStatusConfirmed
		order.UpdatedAt = now
		if res, ok := s.reservations[order.ReservationID]; ok {
			res.Status = domain.ReservationStatusConfirmed
			s.reservations[order.ReservationID] = res
		}
	}

	cancelled := payment
	return &cancelled, nil
}

func (s *Store) ExpirePayment(_ context.Context, paymentID string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.paymentsByID[paymentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if payment.Status != domain.PaymentStatusPending {
		return nil, store.ErrRuleViolation
	}

	payment.Status = domain.PaymentStatusFailed
	s.paymentsByID[paymentID] = payment

	if order, ok := s.ordersByID[payment.OrderID]; ok {
		order.Status = domain.OrderStatusConfirmed
		order.UpdatedAt = time.Now().UTC()
	}

	expired := payment
	return &expired, nil
}

func (s *Store) ListStalePendingPayments(_ context.Context, method string, cutoff time.Time, limit int) ([]domain.Payment, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stale := make([]domain.Payment, 0, 8)
	for _, payment := range s.paymentsByID {
		if method != "" && payment.Method != method {
			continue
		}
		if payment.Status == domain.PaymentStatusPending && payment.CreatedAt.Before(cutoff) {
			stale = append(stale, payment)
		}
	}
	slices.SortFunc(stale, func(a, b domain.Payment) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *Store) CreateRegister(_ context.Context, register domain.CashRegister) (*domain.CashRegister, error) {
	if register.StaffUsername == "" || register.InitialAmount.IsNegative() {
		return nil, store.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, open := s.openRegisterByStaff[register.StaffUsername]; open {
		return nil, store.ErrRuleViolation
	}
	// One register row per shift, open or closed.
	if register.ScheduleID != "" {
		for _, existing := range s.registersByID {
			if existing.ScheduleID == register.ScheduleID {
				return nil, store.ErrRuleViolation
			}
		}
	}

	if register.ID == "" {
		register.ID = xid.New("reg")
	}
	if register.ShiftStart.IsZero() {
		register.ShiftStart = time.Now().UTC()
	}
	register.CurrentAmount = register.InitialAmount
	register.ShiftEnd = nil

	s.registersByID[register.ID] = register
	s.openRegisterByStaff[register.StaffUsername] = register.ID
	created := register
	return &created, nil
}

func (s *Store) GetRegister(_ context.Context, id string) (*domain.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	register, ok := s.registersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyRegister := register
	return &copyRegister, nil
}

func (s *Store) GetOpenRegisterByStaff(_ context.Context, staffUsername string) (*domain.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.openRegisterByStaff[staffUsername]
	if !ok {
		return nil, store.ErrNotFound
	}
	register := s.registersByID[id]
	copyRegister := register
	return &copyRegister, nil
}

func (s *Store) CloseRegister(_ context.Context, registerID string, finalAmount decimal.Decimal, notes string, closedAt time.Time) (*domain.CashRegister, error) {
	if finalAmount.IsNegative() {
		return nil, store.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	register, ok := s.registersByID[registerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if register.ShiftEnd != nil {
		return nil, store.ErrRuleViolation
	}

	register.ShiftEnd = &closedAt
	// The closing count is audited as-is, not derived from history.
	register.CurrentAmount = finalAmount
	register.Notes = appendNote(register.Notes, notes)

	s.registersByID[registerID] = register
	delete(s.openRegisterByStaff, register.StaffUsername)
	closed := register
	return &closed, nil
}

func (s *Store) RecordPaymentHistory(_ context.Context, entry domain.PaymentHistory) (*domain.PaymentHistory, error) {
	if !entry.Amount.IsPositive() {
		return nil, store.ErrInvalidArgument
	}
	if entry.PaymentType != domain.PaymentTypeIn && entry.PaymentType != domain.PaymentTypeOut {
		return nil, store.ErrInvalidArgument
	}
	if entry.TransferType != domain.TransferTypeCash && entry.TransferType != domain.TransferTypeBanking {
		return nil, store.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.TransferType == domain.TransferTypeCash {
		register, ok := s.registersByID[entry.RegisterID]
		if !ok {
			return nil, store.ErrNotFound
		}
		if register.ShiftEnd != nil {
			return nil, store.ErrRuleViolation
		}
		if entry.PaymentType == domain.PaymentTypeOut {
			if register.CurrentAmount.LessThan(entry.Amount) {
				return nil, store.ErrInsufficientFunds
			}
			register.CurrentAmount = register.CurrentAmount.Sub(entry.Amount)
		} else {
			register.CurrentAmount = register.CurrentAmount.Add(entry.Amount)
		}
		if entry.Note != "" {
			register.Notes = appendNote(register.Notes, entry.Note)
		}
		s.registersByID[entry.RegisterID] = register
	}

	if entry.ID == "" {
		entry.ID = xid.New("ph")
	}
	if entry.TransactionDate.IsZero() {
		entry.TransactionDate = time.Now().UTC()
	}
	s.history = append(s.history, entry)
	created := entry
	return &created, nil
}

func (s *Store) ListPaymentHistory(_ context.Context, registerID string, from time.Time, to time.Time, limit int) ([]domain.PaymentHistory, error) {
	if limit < 1 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.PaymentHistory, 0, limit)
	for _, entry := range s.history {
		if registerID != "" && entry.RegisterID != registerID {
			continue
		}
		if entry.TransactionDate.Before(from) || !entry.TransactionDate.Before(to) {
			continue
		}
		entries = append(entries, entry)
		if len(entries) == limit {
			break
		}
	}
	return entries, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidArgument
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrRuleViolation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
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
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// reconcileReservationLocked mirrors the payment completion cascade: the
// reservation completes only when every one of its orders is terminal.
func (s *Store) reconcileReservationLocked(reservationID string) {
	res, ok := s.reservations[reservationID]
	if !ok {
		return
	}
	for _, order := range s.ordersByID {
		if order.ReservationID == reservationID && !domain.OrderIsTerminal(order.Status) {
			res.Status = domain.ReservationStatusConfirmed
			s.reservations[reservationID] = res
			return
		}
	}
	res.Status = domain.ReservationStatusCompleted
	s.reservations[reservationID] = res
}

func (s *Store) findItemLocked(itemID string) (*domain.Order, int) {
	for _, order := range s.ordersByID {
		for i := range order.Items {
			if order.Items[i].ID == itemID {
				return order, i
			}
		}
	}
	return nil, -1
}

func cloneOrder(order domain.Order) domain.Order {
	copyOrder := order
	copyOrder.Items = slices.Clone(order.Items)
	return copyOrder
}

func appendNote(existing string, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return existing
	}
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
