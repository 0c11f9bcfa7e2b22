package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"caixa/backend/internal/domain"
)

// SessionClose is the outcome of closing a cash session: the persisted
// session and the cash collected inside its window.
type SessionClose struct {
	Session       domain.CashSession
	CashCollected decimal.Decimal
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	FindProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	CatalogSummary(ctx context.Context) (domain.CatalogSummary, error)

	SettleSale(ctx context.Context, draft domain.SaleDraft) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, operatorID int64, key string) (*domain.Sale, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	CancelSale(ctx context.Context, id int64, at time.Time) (*domain.Sale, error)
	CorrectPaymentMethod(ctx context.Context, saleID int64, method domain.PaymentMethod) (*domain.PaymentCorrection, error)

	OpenCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error)
	CloseCashSession(ctx context.Context, operatorID int64, closingBalance decimal.Decimal, closedAt time.Time) (*SessionClose, error)
	GetOpenCashSession(ctx context.Context, operatorID int64) (*domain.CashSession, error)
	GetLatestCashSession(ctx context.Context, operatorID int64) (*domain.CashSession, error)
	ListOpenSessionsBefore(ctx context.Context, before time.Time) ([]domain.CashSession, error)
	SumPaymentsByMethod(ctx context.Context, window domain.PaymentWindow) ([]domain.MethodTotal, error)
	CountFinalizedSales(ctx context.Context, window domain.PaymentWindow) (int64, error)

	GetReportData(ctx context.Context, filter domain.ReportFilter) (domain.ReportData, error)

	CreateOperator(ctx context.Context, operator domain.Operator) (*domain.Operator, error)
	GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error)
	ListOperators(ctx context.Context) ([]domain.Operator, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
