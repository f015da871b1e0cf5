package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"lalune/backend/internal/domain"
	"lalune/backend/internal/store"
	"lalune/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	var res domain.Reservation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, table_name, status, created_at
		FROM reservations
		WHERE id = $1
	`, id).Scan(&res.ID, &res.TableName, &res.Status, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	res.CreatedAt = res.CreatedAt.UTC()
	return &res, nil
}

func (s *Store) UpdateReservationStatus(ctx context.Context, id string, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reservations
		SET status = $2
		WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetMenuItem(ctx context.Context, id string) (*domain.MenuItem, error) {
	var item domain.MenuItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, needs_preparation, available
		FROM menu_items
		WHERE id = $1 AND available = true
	`, id).Scan(&item.ID, &item.Name, &item.Price, &item.NeedsPreparation, &item.Available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetCurrentSchedule(ctx context.Context, staffUsername string) (*domain.Schedule, error) {
	var schedule domain.Schedule
	err := s.db.QueryRowContext(ctx, `
		SELECT id, staff_username, work_date, checked_in
		FROM schedules
		WHERE staff_username = $1 AND work_date = CURRENT_DATE
		ORDER BY work_date DESC
		LIMIT 1
	`, staffUsername).Scan(&schedule.ID, &schedule.StaffUsername, &schedule.WorkDate, &schedule.CheckedIn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	schedule.WorkDate = schedule.WorkDate.UTC()
	return &schedule, nil
}

func (s *Store) GetVoucherByCode(ctx context.Context, code string) (*domain.Voucher, error) {
	var voucher domain.Voucher
	err := s.db.QueryRowContext(ctx, `
		SELECT code, discount_type, value, valid_from, valid_until, active
		FROM vouchers
		WHERE code = $1
	`, code).Scan(&voucher.Code, &voucher.DiscountType, &voucher.Value, &voucher.ValidFrom, &voucher.ValidUntil, &voucher.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	voucher.ValidFrom = voucher.ValidFrom.UTC()
	voucher.ValidUntil = voucher.ValidUntil.UTC()
	return &voucher, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ReservationID == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidArgument
	}
	now := time.Now().UTC()
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	order.CreatedAt = now
	order.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (reservation_id, staff_username, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, order.ReservationID, order.StaffUsername, order.Status, order.CreatedAt, order.UpdatedAt).Scan(&order.ID)
	if err != nil {
		return nil, err
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		if item.Status == "" {
			item.Status = domain.ItemStatusPending
		}
		item.OrderID = order.ID
		item.CreatedAt = now
		item.UpdatedAt = now
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, menu_item_id, quantity, unit_price, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, item.ID, item.OrderID, item.MenuItemID, item.Quantity, item.UnitPrice, item.Status, item.CreatedAt, item.UpdatedAt)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := order
	return &created, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	var order domain.Order
	err := s.db.QueryRowContext(ctx, `
		SELECT id, reservation_id, staff_username, status, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.ReservationID, &order.StaffUsername, &order.Status, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	items, err := s.loadOrderItems(ctx, s.db.QueryContext, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

func (s *Store) ListOrdersByReservation(ctx context.Context, reservationID string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reservation_id, staff_username, status, created_at, updated_at
		FROM orders
		WHERE reservation_id = $1
		ORDER BY id ASC
	`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 8)
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.ReservationID, &order.StaffUsername, &order.Status, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, err
		}
		order.CreatedAt = order.CreatedAt.UTC()
		order.UpdatedAt = order.UpdatedAt.UTC()
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := s.loadOrderItems(ctx, s.db.QueryContext, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, next string) (*domain.Order, error) {
	if !domain.ValidOrderStatus(next) {
		return nil, store.ErrInvalidArgument
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !domain.OrderTransitionAllowed(order.Status, next) {
		return nil, store.ErrRuleViolation
	}

	now := time.Now().UTC()
	if next == domain.OrderStatusCancelled {
		if !domain.CanCancelOrder(order.Items) {
			return nil, store.ErrRuleViolation
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE order_items
			SET status = $2, updated_at = $3
			WHERE order_id = $1 AND status = $4
		`, orderID, domain.ItemStatusCancelled, now, domain.ItemStatusPending)
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, updated_at = $3
		WHERE id = $1
	`, orderID, next, now)
	if err != nil {
		return nil, err
	}

	items, err := s.loadOrderItems(ctx, tx.QueryContext, orderID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	order.Status = next
	order.UpdatedAt = now
	order.Items = items
	return order, nil
}

func (s *Store) UpdateOrderItemStatus(ctx context.Context, itemID string, next string, force bool) (*domain.OrderItem, error) {
	if !domain.ValidItemStatus(next) {
		return nil, store.ErrInvalidArgument
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var item domain.OrderItem
	err = tx.QueryRowContext(ctx, `
		SELECT id, order_id, menu_item_id, quantity, unit_price, status, created_at, updated_at
		FROM order_items
		WHERE id = $1
		FOR UPDATE
	`, itemID).Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Quantity, &item.UnitPrice, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if !force && !domain.ItemTransitionAllowed(item.Status, next) {
		return nil, store.ErrRuleViolation
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE order_items
		SET status = $2, updated_at = $3
		WHERE id = $1
	`, itemID, next, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	item.Status = next
	item.UpdatedAt = now
	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}

func (s *Store) SplitOrder(ctx context.Context, sourceOrderID int64, lines []domain.SplitLine, staffUsername string) (*domain.Order, error) {
	if len(lines) == 0 {
		return nil, store.ErrRuleViolation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	source, err := lockOrder(ctx, tx, sourceOrderID)
	if err != nil {
		return nil, err
	}
	if domain.OrderIsTerminal(source.Status) {
		return nil, store.ErrRuleViolation
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

	now := time.Now().UTC()
	newOrder := domain.Order{
		ReservationID: source.ReservationID,
		StaffUsername: staffUsername,
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (reservation_id, staff_username, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, newOrder.ReservationID, newOrder.StaffUsername, newOrder.Status, now, now).Scan(&newOrder.ID)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		src := source.Items[moveIdx[line.ItemID]]
		// Moved quantities were already served, so the sibling order's
		// items are born delivered.
		moved := domain.OrderItem{
			ID:         xid.New("item"),
			OrderID:    newOrder.ID,
			MenuItemID: src.MenuItemID,
			Quantity:   line.Quantity,
			UnitPrice:  src.UnitPrice,
			Status:     domain.ItemStatusDelivered,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, menu_item_id, quantity, unit_price, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, moved.ID, moved.OrderID, moved.MenuItemID, moved.Quantity, moved.UnitPrice, moved.Status, moved.CreatedAt, moved.UpdatedAt)
		if err != nil {
			return nil, err
		}
		newOrder.Items = append(newOrder.Items, moved)

		remaining := src.Quantity - line.Quantity
		if remaining == 0 {
			_, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE id = $1`, src.ID)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE order_items
				SET quantity = $2, updated_at = $3
				WHERE id = $1
			`, src.ID, remaining, now)
		}
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET updated_at = $2 WHERE id = $1
	`, sourceOrderID, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := newOrder
	return &created, nil
}

func (s *Store) MergeOrders(ctx context.Context, orderIDs []int64, reservationID string, staffUsername string) (*domain.Order, error) {
	if len(orderIDs) < 2 {
		return nil, store.ErrRuleViolation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sources := make([]*domain.Order, 0, len(orderIDs))
	seen := make(map[int64]bool, len(orderIDs))
	for _, id := range orderIDs {
		if seen[id] {
			return nil, store.ErrInvalidArgument
		}
		seen[id] = true
		order, err := lockOrder(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if order.ReservationID != reservationID {
			return nil, store.ErrRuleViolation
		}
		if domain.OrderIsTerminal(order.Status) {
			return nil, store.ErrRuleViolation
		}
		sources = append(sources, order)
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

	now := time.Now().UTC()
	merged := domain.Order{
		ReservationID: reservationID,
		StaffUsername: staffUsername,
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (reservation_id, staff_username, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, merged.ReservationID, merged.StaffUsername, merged.Status, now, now).Scan(&merged.ID)
	if err != nil {
		return nil, err
	}

	for _, key := range lineOrder {
		item := domain.OrderItem{
			ID:         xid.New("item"),
			OrderID:    merged.ID,
			MenuItemID: menuItemByLine[key],
			Quantity:   qtyByLine[key],
			UnitPrice:  priceByLine[key],
			Status:     domain.ItemStatusDelivered,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, menu_item_id, quantity, unit_price, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, item.ID, item.OrderID, item.MenuItemID, item.Quantity, item.UnitPrice, item.Status, item.CreatedAt, item.UpdatedAt)
		if err != nil {
			return nil, err
		}
		merged.Items = append(merged.Items, item)
	}

	for _, source := range sources {
		_, err = tx.ExecContext(ctx, `
			UPDATE order_items
			SET status = $2, updated_at = $3
			WHERE order_id = $1
		`, source.ID, domain.ItemStatusCancelled, now)
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $2, updated_at = $3
			WHERE id = $1
		`, source.ID, domain.OrderStatusCancelled, now)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := merged
	return &created, nil
}

func (s *Store) DeleteOrderItem(ctx context.Context, itemID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var orderID int64
	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT order_id, status
		FROM order_items
		WHERE id = $1
		FOR UPDATE
	`, itemID).Scan(&orderID, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, store.ErrNotFound
		}
		return false, err
	}
	if !domain.ItemDeletable(status) {
		return false, store.ErrRuleViolation
	}

	var siblingCount int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM order_items WHERE order_id = $1
	`, orderID).Scan(&siblingCount)
	if err != nil {
		return false, err
	}

	orderRemoved := false
	if siblingCount == 1 {
		if status != domain.ItemStatusCancelled {
			// An order must retain at least one item; removing the last
			// live one would leave an empty, billable order behind.
			return false, store.ErrIllegalState
		}
		orderRemoved = true
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE id = $1`, itemID)
	if err != nil {
		return false, err
	}
	if orderRemoved {
		_, err = tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE orders SET updated_at = $2 WHERE id = $1`, orderID, time.Now().UTC())
	}
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return orderRemoved, nil
}

func (s *Store) DeleteOrder(ctx context.Context, orderID int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if !domain.OrderDeletable(order.Items) {
		return store.ErrRuleViolation
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockOrder(ctx, tx, payment.OrderID); err != nil {
		return nil, err
	}

	var paidCount int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM payments WHERE order_id = $1 AND status = $2
	`, payment.OrderID, domain.PaymentStatusPaid).Scan(&paidCount)
	if err != nil {
		return nil, err
	}
	if paidCount > 0 {
		return nil, store.ErrRuleViolation
	}

	// Discard any earlier attempt that never settled.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM payments WHERE order_id = $1 AND status <> $2
	`, payment.OrderID, domain.PaymentStatusPaid)
	if err != nil {
		return nil, err
	}

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.Code == "" {
		payment.Code = domain.PaymentCode(payment.OrderID)
	}
	payment.Status = domain.PaymentStatusPending
	payment.CreatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (
			id, order_id, code, method, status, amount_paid, received_amount,
			voucher_value, vat_percent, payment_date, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULL,$10)
	`, payment.ID, payment.OrderID, payment.Code, payment.Method, payment.Status,
		payment.AmountPaid, payment.ReceivedAmount, payment.VoucherValue, payment.VATPercent, payment.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrRuleViolation
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := payment
	return &created, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.findPayment(ctx, "id", id)
}

func (s *Store) GetPaymentByCode(ctx context.Context, code string) (*domain.Payment, error) {
	return s.findPayment(ctx, "code", code)
}

func (s *Store) findPayment(ctx context.Context, column string, value string) (*domain.Payment, error) {
	if column != "id" && column != "code" {
		return nil, store.ErrInvalidArgument
	}

	var payment domain.Payment
	var paymentDate sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, code, method, status, amount_paid, received_amount,
			voucher_value, vat_percent, payment_date, created_at
		FROM payments
		WHERE `+column+` = $1
	`, value).Scan(
		&payment.ID, &payment.OrderID, &payment.Code, &payment.Method, &payment.Status,
		&payment.AmountPaid, &payment.ReceivedAmount, &payment.VoucherValue, &payment.VATPercent,
		&paymentDate, &payment.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if paymentDate.Valid {
		at := paymentDate.Time.UTC()
		payment.PaymentDate = &at
	}
	payment.CreatedAt = payment.CreatedAt.UTC()
	return &payment, nil
}

func (s *Store) SettlePayment(ctx context.Context, paymentID string, receivedAmount decimal.Decimal, paidAt time.Time) (*domain.Payment, error) {
	return s.closePayment(ctx, paymentID, domain.PaymentStatusPaid, receivedAmount, &paidAt)
}

func (s *Store) CancelPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.closePayment(ctx, paymentID, domain.PaymentStatusCancelled, decimal.Zero, nil)
}

func (s *Store) ExpirePayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.closePayment(ctx, paymentID, domain.PaymentStatusFailed, decimal.Zero, nil)
}

// closePayment takes a pending payment to a terminal status and runs the
// matching order/reservation cascade in the same transaction. Settling
// completes the order; cancelling or failing reopens it as confirmed.
func (s *Store) closePayment(ctx context.Context, paymentID string, nextStatus string, receivedAmount decimal.Decimal, paidAt *time.Time) (*domain.Payment, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var payment domain.Payment
	err = tx.QueryRowContext(ctx, `
		SELECT id, order_id, code, method, status, amount_paid, received_amount,
			voucher_value, vat_percent, created_at
		FROM payments
		WHERE id = $1
		FOR UPDATE
	`, paymentID).Scan(
		&payment.ID, &payment.OrderID, &payment.Code, &payment.Method, &payment.Status,
		&payment.AmountPaid, &payment.ReceivedAmount, &payment.VoucherValue, &payment.VATPercent,
		&payment.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if payment.Status != domain.PaymentStatusPending {
		return nil, store.ErrRuleViolation
	}

	now := time.Now().UTC()
	if nextStatus == domain.PaymentStatusPaid {
		payment.ReceivedAmount = receivedAmount
		payment.PaymentDate = paidAt
		_, err = tx.ExecContext(ctx, `
			UPDATE payments
			SET status = $2, received_amount = $3, payment_date = $4
			WHERE id = $1
		`, paymentID, nextStatus, receivedAmount, paidAt)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE payments
			SET status = $2
			WHERE id = $1
		`, paymentID, nextStatus)
	}
	if err != nil {
		return nil, err
	}

	var reservationID string
	err = tx.QueryRowContext(ctx, `
		SELECT reservation_id FROM orders WHERE id = $1 FOR UPDATE
	`, payment.OrderID).Scan(&reservationID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err == nil {
		orderStatus := domain.OrderStatusConfirmed
		if nextStatus == domain.PaymentStatusPaid {
			orderStatus = domain.OrderStatusCompleted
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
		`, payment.OrderID, orderStatus, now)
		if err != nil {
			return nil, err
		}

		if nextStatus == domain.PaymentStatusPaid {
			// The reservation completes only when every one of its orders
			// is terminal.
			var openCount int
			err = tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM orders
				WHERE reservation_id = $1 AND status NOT IN ($2, $3)
			`, reservationID, domain.OrderStatusCompleted, domain.OrderStatusCancelled).Scan(&openCount)
			if err != nil {
				return nil, err
			}
			resStatus := domain.ReservationStatusCompleted
			if openCount > 0 {
				resStatus = domain.ReservationStatusConfirmed
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE reservations SET status = $2 WHERE id = $1
			`, reservationID, resStatus)
		} else if nextStatus == domain.PaymentStatusCancelled {
			_, err = tx.ExecContext(ctx, `
				UPDATE reservations SET status = $2 WHERE id = $1
			`, reservationID, domain.ReservationStatusConfirmed)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	payment.Status = nextStatus
	payment.CreatedAt = payment.CreatedAt.UTC()
	return &payment, nil
}

func (s *Store) ListStalePendingPayments(ctx context.Context, method string, cutoff time.Time, limit int) ([]domain.Payment, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, code, method, status, amount_paid, received_amount,
			voucher_value, vat_percent, created_at
		FROM payments
		WHERE status = $1 AND ($2 = '' OR method = $2) AND created_at < $3
		ORDER BY created_at ASC
		LIMIT $4
	`, domain.PaymentStatusPending, method, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stale := make([]domain.Payment, 0, limit)
	for rows.Next() {
		var payment domain.Payment
		if err := rows.Scan(
			&payment.ID, &payment.OrderID, &payment.Code, &payment.Method, &payment.Status,
			&payment.AmountPaid, &payment.ReceivedAmount, &payment.VoucherValue, &payment.VATPercent,
			&payment.CreatedAt,
		); err != nil {
			return nil, err
		}
		payment.CreatedAt = payment.CreatedAt.UTC()
		stale = append(stale, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stale, nil
}

func (s *Store) CreateRegister(ctx context.Context, register domain.CashRegister) (*domain.CashRegister, error) {
	if register.StaffUsername == "" || register.InitialAmount.IsNegative() {
		return nil, store.ErrInvalidArgument
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// One open register per staff, and one register row per shift even after
	// it closes.
	var conflicts int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cash_registers
		WHERE (staff_username = $1 AND shift_end IS NULL)
		   OR ($2 <> '' AND schedule_id = $2)
	`, register.StaffUsername, register.ScheduleID).Scan(&conflicts)
	if err != nil {
		return nil, err
	}
	if conflicts > 0 {
		return nil, store.ErrRuleViolation
	}

	if register.ID == "" {
		register.ID = xid.New("reg")
	}
	if register.ShiftStart.IsZero() {
		register.ShiftStart = time.Now().UTC()
	}
	register.CurrentAmount = register.InitialAmount
	register.ShiftEnd = nil

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cash_registers (
			id, staff_username, schedule_id, initial_amount, current_amount,
			shift_start, shift_end, notes
		)
		VALUES ($1,$2,$3,$4,$5,$6,NULL,$7)
	`, register.ID, register.StaffUsername, register.ScheduleID, register.InitialAmount,
		register.CurrentAmount, register.ShiftStart, register.Notes)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := register
	return &created, nil
}

func (s *Store) GetRegister(ctx context.Context, id string) (*domain.CashRegister, error) {
	return s.findRegister(ctx, `
		SELECT id, staff_username, schedule_id, initial_amount, current_amount,
			shift_start, shift_end, notes
		FROM cash_registers
		WHERE id = $1
	`, id)
}

func (s *Store) GetOpenRegisterByStaff(ctx context.Context, staffUsername string) (*domain.CashRegister, error) {
	return s.findRegister(ctx, `
		SELECT id, staff_username, schedule_id, initial_amount, current_amount,
			shift_start, shift_end, notes
		FROM cash_registers
		WHERE staff_username = $1 AND shift_end IS NULL
		ORDER BY shift_start DESC
		LIMIT 1
	`, staffUsername)
}

func (s *Store) findRegister(ctx context.Context, query string, arg string) (*domain.CashRegister, error) {
	var register domain.CashRegister
	var shiftEnd sql.NullTime
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&register.ID, &register.StaffUsername, &register.ScheduleID,
		&register.InitialAmount, &register.CurrentAmount,
		&register.ShiftStart, &shiftEnd, &register.Notes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	register.ShiftStart = register.ShiftStart.UTC()
	if shiftEnd.Valid {
		at := shiftEnd.Time.UTC()
		register.ShiftEnd = &at
	}
	return &register, nil
}

func (s *Store) CloseRegister(ctx context.Context, registerID string, finalAmount decimal.Decimal, notes string, closedAt time.Time) (*domain.CashRegister, error) {
	if finalAmount.IsNegative() {
		return nil, store.ErrInvalidArgument
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var register domain.CashRegister
	var shiftEnd sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT id, staff_username, schedule_id, initial_amount, current_amount,
			shift_start, shift_end, notes
		FROM cash_registers
		WHERE id = $1
		FOR UPDATE
	`, registerID).Scan(
		&register.ID, &register.StaffUsername, &register.ScheduleID,
		&register.InitialAmount, &register.CurrentAmount,
		&register.ShiftStart, &shiftEnd, &register.Notes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if shiftEnd.Valid {
		return nil, store.ErrRuleViolation
	}

	// The closing count is audited as-is, not derived from history.
	register.ShiftEnd = &closedAt
	register.CurrentAmount = finalAmount
	register.Notes = appendNote(register.Notes, notes)

	_, err = tx.ExecContext(ctx, `
		UPDATE cash_registers
		SET current_amount = $2, shift_end = $3, notes = $4
		WHERE id = $1
	`, registerID, register.CurrentAmount, closedAt, register.Notes)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	register.ShiftStart = register.ShiftStart.UTC()
	closed := register
	return &closed, nil
}

func (s *Store) RecordPaymentHistory(ctx context.Context, entry domain.PaymentHistory) (*domain.PaymentHistory, error) {
	if !entry.Amount.IsPositive() {
		return nil, store.ErrInvalidArgument
	}
	if entry.PaymentType != domain.PaymentTypeIn && entry.PaymentType != domain.PaymentTypeOut {
		return nil, store.ErrInvalidArgument
	}
	if entry.TransferType != domain.TransferTypeCash && entry.TransferType != domain.TransferTypeBanking {
		return nil, store.ErrInvalidArgument
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if entry.TransferType == domain.TransferTypeCash {
		var current decimal.Decimal
		var notes string
		var shiftEnd sql.NullTime
		err = tx.QueryRowContext(ctx, `
			SELECT current_amount, notes, shift_end
			FROM cash_registers
			WHERE id = $1
			FOR UPDATE
		`, entry.RegisterID).Scan(&current, &notes, &shiftEnd)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		if shiftEnd.Valid {
			return nil, store.ErrRuleViolation
		}

		if entry.PaymentType == domain.PaymentTypeOut {
			if current.LessThan(entry.Amount) {
				return nil, store.ErrInsufficientFunds
			}
			current = current.Sub(entry.Amount)
		} else {
			current = current.Add(entry.Amount)
		}
		notes = appendNote(notes, entry.Note)

		_, err = tx.ExecContext(ctx, `
			UPDATE cash_registers
			SET current_amount = $2, notes = $3
			WHERE id = $1
		`, entry.RegisterID, current, notes)
		if err != nil {
			return nil, err
		}
	}

	if entry.ID == "" {
		entry.ID = xid.New("ph")
	}
	if entry.TransactionDate.IsZero() {
		entry.TransactionDate = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_history (
			id, payment_id, register_id, payment_type, transfer_type, amount, note, transaction_date
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, nullIfEmpty(entry.PaymentID), nullIfEmpty(entry.RegisterID),
		entry.PaymentType, entry.TransferType, entry.Amount, entry.Note, entry.TransactionDate)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := entry
	return &created, nil
}

func (s *Store) ListPaymentHistory(ctx context.Context, registerID string, from time.Time, to time.Time, limit int) ([]domain.PaymentHistory, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(payment_id,''), COALESCE(register_id,''), payment_type,
			transfer_type, amount, note, transaction_date
		FROM payment_history
		WHERE ($1 = '' OR register_id = $1)
			AND transaction_date >= $2
			AND transaction_date < $3
		ORDER BY transaction_date ASC
		LIMIT $4
	`, registerID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.PaymentHistory, 0, limit)
	for rows.Next() {
		var entry domain.PaymentHistory
		if err := rows.Scan(
			&entry.ID, &entry.PaymentID, &entry.RegisterID, &entry.PaymentType,
			&entry.TransferType, &entry.Amount, &entry.Note, &entry.TransactionDate,
		); err != nil {
			return nil, err
		}
		entry.TransactionDate = entry.TransactionDate.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidArgument
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrRuleViolation
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (s *Store) loadOrderItems(ctx context.Context, query queryFunc, orderID int64) ([]domain.OrderItem, error) {
	rows, err := query(ctx, `
		SELECT id, order_id, menu_item_id, quantity, unit_price, status, created_at, updated_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Quantity, &item.UnitPrice, &item.Status, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		item.UpdatedAt = item.UpdatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func lockOrder(ctx context.Context, tx *sql.Tx, orderID int64) (*domain.Order, error) {
	var order domain.Order
	err := tx.QueryRowContext(ctx, `
		SELECT id, reservation_id, staff_username, status, created_at, updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(&order.ID, &order.ReservationID, &order.StaffUsername, &order.Status, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, order_id, menu_item_id, quantity, unit_price, status, created_at, updated_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
		FOR UPDATE
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Quantity, &item.UnitPrice, &item.Status, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		item.UpdatedAt = item.UpdatedAt.UTC()
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &order, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
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
