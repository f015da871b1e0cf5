package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"lalune/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrRuleViolation     = errors.New("rule violation")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrIllegalState      = errors.New("illegal state")
)

// Repository is the persistence boundary for the order/payment/ledger core.
// Operations that change state re-read the current row, validate the
// transition and write inside one transaction, so a rejected transition
// leaves every entity untouched.
type Repository interface {
	// Collaborator lookups (reservation, menu, schedule, voucher stores).
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id string, status string) error
	GetMenuItem(ctx context.Context, id string) (*domain.MenuItem, error)
	GetCurrentSchedule(ctx context.Context, staffUsername string) (*domain.Schedule, error)
	GetVoucherByCode(ctx context.Context, code string) (*domain.Voucher, error)

	// Orders.
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	ListOrdersByReservation(ctx context.Context, reservationID string) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, next string) (*domain.Order, error)
	UpdateOrderItemStatus(ctx context.Context, itemID string, next string, force bool) (*domain.OrderItem, error)
	SplitOrder(ctx context.Context, sourceOrderID int64, lines []domain.SplitLine, staffUsername string) (*domain.Order, error)
	MergeOrders(ctx context.Context, orderIDs []int64, reservationID string, staffUsername string) (*domain.Order, error)
	DeleteOrderItem(ctx context.Context, itemID string) (orderRemoved bool, err error)
	DeleteOrder(ctx context.Context, orderID int64) error

	// Payments. CreatePayment discards any prior non-paid payment for the
	// order and fails with ErrRuleViolation when a paid one exists.
	// SettlePayment, CancelPayment and ExpirePayment each run the full
	// payment+order+reservation cascade in one transaction.
	CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	GetPaymentByCode(ctx context.Context, code string) (*domain.Payment, error)
	SettlePayment(ctx context.Context, paymentID string, receivedAmount decimal.Decimal, paidAt time.Time) (*domain.Payment, error)
	CancelPayment(ctx context.Context, paymentID string) (*domain.Payment, error)
	ExpirePayment(ctx context.Context, paymentID string) (*domain.Payment, error)
	// ListStalePendingPayments filters by method (empty means any) before
	// applying the limit, oldest first.
	ListStalePendingPayments(ctx context.Context, method string, cutoff time.Time, limit int) ([]domain.Payment, error)

	// Cash registers and ledger history. RecordPaymentHistory applies the
	// paired register delta for cash entries in the same transaction;
	// banking entries are audit-only.
	CreateRegister(ctx context.Context, register domain.CashRegister) (*domain.CashRegister, error)
	GetRegister(ctx context.Context, id string) (*domain.CashRegister, error)
	GetOpenRegisterByStaff(ctx context.Context, staffUsername string) (*domain.CashRegister, error)
	CloseRegister(ctx context.Context, registerID string, finalAmount decimal.Decimal, notes string, closedAt time.Time) (*domain.CashRegister, error)
	RecordPaymentHistory(ctx context.Context, entry domain.PaymentHistory) (*domain.PaymentHistory, error)
	ListPaymentHistory(ctx context.Context, registerID string, from time.Time, to time.Time, limit int) ([]domain.PaymentHistory, error)

	// Auth credentials.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
