package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID            int64       `json:"id"`
	ReservationID string      `json:"reservation_id"`
	StaffUsername string      `json:"staff_username"`
	Status        string      `json:"status"`
	Items         []OrderItem `json:"items"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type OrderItem struct {
	ID         string          `json:"id"`
	OrderID    int64           `json:"order_id"`
	MenuItemID string          `json:"menu_item_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Payment struct {
	ID             string          `json:"id"`
	OrderID        int64           `json:"order_id"`
	Code           string          `json:"code"`
	Method         string          `json:"method"`
	Status         string          `json:"status"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
	VoucherValue   decimal.Decimal `json:"voucher_value"`
	VATPercent     decimal.Decimal `json:"vat_percent"`
	PaymentDate    *time.Time      `json:"payment_date,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type PaymentHistory struct {
	ID              string          `json:"id"`
	PaymentID       string          `json:"payment_id"`
	RegisterID      string          `json:"register_id,omitempty"`
	PaymentType     string          `json:"payment_type"`
	TransferType    string          `json:"transfer_type"`
	Amount          decimal.Decimal `json:"amount"`
	Note            string          `json:"note,omitempty"`
	TransactionDate time.Time       `json:"transaction_date"`
}

type CashRegister struct {
	ID            string          `json:"id"`
	StaffUsername string          `json:"staff_username"`
	ScheduleID    string          `json:"schedule_id"`
	InitialAmount decimal.Decimal `json:"initial_amount"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	ShiftStart    time.Time       `json:"shift_start"`
	ShiftEnd      *time.Time      `json:"shift_end,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

type Reservation struct {
	ID        string    `json:"id"`
	TableName string    `json:"table_name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type MenuItem struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	NeedsPreparation bool            `json:"needs_preparation"`
	Available        bool            `json:"available"`
}

type Schedule struct {
	ID            string    `json:"id"`
	StaffUsername string    `json:"staff_username"`
	WorkDate      time.Time `json:"work_date"`
	CheckedIn     bool      `json:"checked_in"`
}

type Voucher struct {
	Code         string          `json:"code"`
	DiscountType string          `json:"discount_type"`
	Value        decimal.Decimal `json:"value"`
	ValidFrom    time.Time       `json:"valid_from"`
	ValidUntil   time.Time       `json:"valid_until"`
	Active       bool            `json:"active"`
}

// ValidAt reports whether the voucher can be redeemed at the given instant.
func (v Voucher) ValidAt(t time.Time) bool {
	if !v.Active {
		return false
	}
	if t.Before(v.ValidFrom) || t.After(v.ValidUntil) {
		return false
	}
	return true
}

type Actor struct {
	Username string
	Role     string
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

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type OrderLineRequest struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
}

type OrderCreateRequest struct {
	ReservationID string             `json:"reservation_id"`
	Items         []OrderLineRequest `json:"items"`
}

type OrderStatusRequest struct {
	Status string `json:"status"`
}

type OrderItemStatusRequest struct {
	Status string `json:"status"`
	Force  bool   `json:"force,omitempty"`
}

type SplitLine struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type OrderSplitRequest struct {
	Lines []SplitLine `json:"lines"`
}

type OrderMergeRequest struct {
	OrderIDs      []int64 `json:"order_ids"`
	ReservationID string  `json:"reservation_id"`
}

type PaymentQuoteRequest struct {
	OrderID     int64  `json:"order_id"`
	VoucherCode string `json:"voucher_code,omitempty"`
}

type PaymentQuoteResponse struct {
	OrderID      int64           `json:"order_id"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	VoucherValue decimal.Decimal `json:"voucher_value"`
	Payable      decimal.Decimal `json:"payable"`
}

type PaymentCreateRequest struct {
	OrderID     int64  `json:"order_id"`
	Method      string `json:"method"`
	VATPercent  string `json:"vat_percent,omitempty"`
	VoucherCode string `json:"voucher_code,omitempty"`
}

type CashPaymentRequest struct {
	ReceivedAmount decimal.Decimal `json:"received_amount"`
}

type CashPaymentResponse struct {
	Payment Payment         `json:"payment"`
	Change  decimal.Decimal `json:"change"`
}

type WebhookRequest struct {
	Code           string          `json:"code"`
	TransferAmount decimal.Decimal `json:"transferAmount"`
}

type PaymentQRResponse struct {
	PaymentID     string          `json:"payment_id"`
	Bank          string          `json:"bank"`
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	PayloadBase64 string          `json:"payload_base64"`
}

type RegisterOpenRequest struct {
	InitialAmount decimal.Decimal `json:"initial_amount"`
	Notes         string          `json:"notes,omitempty"`
}

type RegisterCloseRequest struct {
	FinalAmount decimal.Decimal `json:"final_amount"`
	Notes       string          `json:"notes,omitempty"`
}

type WithdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes"`
}

const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

const (
	ItemStatusPending   = "pending"
	ItemStatusDoing     = "doing"
	ItemStatusCompleted = "completed"
	ItemStatusDelivered = "delivered"
	ItemStatusCancelled = "cancelled"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusPaid      = "paid"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
)

const (
	PaymentMethodCash    = "cash"
	PaymentMethodBanking = "banking"
)

const (
	PaymentTypeIn  = "in"
	PaymentTypeOut = "out"
)

const (
	TransferTypeCash    = "cash"
	TransferTypeBanking = "banking"
)

const (
	ReservationStatusPending   = "pending"
	ReservationStatusConfirmed = "confirmed"
	ReservationStatusCompleted = "completed"
	ReservationStatusCancelled = "cancelled"
)

const (
	VoucherTypePercent = "percent"
	VoucherTypeFixed   = "fixed"
)
