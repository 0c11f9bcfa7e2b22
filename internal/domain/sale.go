package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	MethodCash PaymentMethod = "cash"
	MethodCard PaymentMethod = "card"
	MethodPix  PaymentMethod = "pix"
)

// PaymentMethods is the closed set accepted for new payments. Stored rows may
// still carry legacy methods.
var PaymentMethods = []PaymentMethod{MethodCash, MethodCard, MethodPix}

func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	return method, method.Valid()
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodPix:
		return true
	}
	return false
}

type Sale struct {
	ID             int64      `json:"id"`
	Number         string     `json:"number"`
	OperatorID     int64      `json:"operator_id"`
	Status         string     `json:"status"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	Lines          []SaleLine `json:"lines"`
	Payments       []Payment  `json:"payments"`
}

type SaleLine struct {
	ID        int64           `json:"id"`
	SaleID    int64           `json:"sale_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (l SaleLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Payment struct {
	ID     int64           `json:"id"`
	SaleID int64           `json:"sale_id"`
	Method PaymentMethod   `json:"method"`
	Amount decimal.Decimal `json:"amount" validate:"gt=0,cents"`
	PaidAt time.Time       `json:"paid_at"`
}

// Total, Paid and Change are always derived from the owned lines and payments.
func (s Sale) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.Lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

func (s Sale) Paid() decimal.Decimal {
	paid := decimal.Zero
	for _, payment := range s.Payments {
		paid = paid.Add(payment.Amount)
	}
	return paid
}

func (s Sale) Change() decimal.Decimal {
	change := s.Paid().Sub(s.Total())
	if change.IsNegative() {
		return decimal.Zero
	}
	return change
}

func (s Sale) IsCancelled() bool {
	return s.Status == SaleStatusCancelled
}

// PaymentCovers reports whether paid reaches total once both are rounded to cents.
func PaymentCovers(total, paid decimal.Decimal) bool {
	return !paid.Round(2).LessThan(total.Round(2))
}

// WholeCents reports whether amount has at most two decimal places, the
// precision every stored money column keeps.
func WholeCents(amount decimal.Decimal) bool {
	return amount.Equal(amount.Round(2))
}

func SaleNumber(id int64) string {
	return strconv.FormatInt(id, 10)
}

type CartLine struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

type PaymentInput struct {
	Method string          `json:"method" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type SettleRequest struct {
	OperatorID     int64          `json:"-"`
	IdempotencyKey string         `json:"idempotency_key,omitempty" validate:"max=128"`
	Lines          []CartLine     `json:"lines" validate:"dive"`
	Payments       []PaymentInput `json:"payments" validate:"dive"`
}

type SettleResult struct {
	SaleID     int64           `json:"sale_id"`
	SaleNumber string          `json:"sale_number"`
	Total      decimal.Decimal `json:"total"`
	Paid       decimal.Decimal `json:"paid"`
	Change     decimal.Decimal `json:"change"`
	Duplicate  bool            `json:"duplicate"`
}

func (r SettleResult) Rounded() SettleResult {
	r.Total = r.Total.Round(2)
	r.Paid = r.Paid.Round(2)
	r.Change = r.Change.Round(2)
	return r
}

// SaleDraft is what the settlement engine hands to a repository. Unit prices
// are resolved inside the repository transaction.
type SaleDraft struct {
	OperatorID     int64
	IdempotencyKey string
	Lines          []CartLine
	Payments       []Payment
	CreatedAt      time.Time
}

type SaleView struct {
	Sale
	Total  decimal.Decimal `json:"total"`
	Paid   decimal.Decimal `json:"paid"`
	Change decimal.Decimal `json:"change"`
}

func NewSaleView(sale Sale) SaleView {
	return SaleView{
		Sale:   sale,
		Total:  sale.Total().Round(2),
		Paid:   sale.Paid().Round(2),
		Change: sale.Change().Round(2),
	}
}

type CancelSaleResponse struct {
	SaleID      int64  `json:"sale_id"`
	SaleNumber  string `json:"sale_number"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at"`
}

type PaymentCorrectionRequest struct {
	Method     string `json:"method" validate:"required"`
	ManagerPIN string `json:"manager_pin" validate:"required"`
}

type CancelSaleRequest struct {
	ManagerPIN string `json:"manager_pin" validate:"required"`
}

type PaymentCorrection struct {
	SaleID     int64           `json:"sale_id"`
	SaleNumber string          `json:"sale_number"`
	PaymentID  int64           `json:"payment_id"`
	OldMethod  PaymentMethod   `json:"old_method"`
	NewMethod  PaymentMethod   `json:"new_method"`
	OldAmount  decimal.Decimal `json:"old_amount"`
	NewAmount  decimal.Decimal `json:"new_amount"`
}

// CorrectedAmount applies the cash clamp: a cash payment moved to another
// method keeps at most the sale total, the excess having been handed back as change.
func CorrectedAmount(oldMethod PaymentMethod, amount, saleTotal decimal.Decimal) decimal.Decimal {
	if oldMethod == MethodCash && amount.GreaterThan(saleTotal) {
		return saleTotal
	}
	return amount
}
