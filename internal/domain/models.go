package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        int64           `json:"id"`
	Barcode   string          `json:"barcode"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	SalePrice decimal.Decimal `json:"sale_price"`
	CostPrice decimal.Decimal `json:"cost_price"`
	Stock     int             `json:"stock"`
	MinStock  int             `json:"min_stock"`
	Active    bool            `json:"active"`
}

type ProductCreateRequest struct {
	Barcode      string          `json:"barcode" validate:"required,max=64"`
	Name         string          `json:"name" validate:"required,max=160"`
	Category     string          `json:"category" validate:"max=80"`
	SalePrice    decimal.Decimal `json:"sale_price" validate:"gt=0,cents"`
	CostPrice    decimal.Decimal `json:"cost_price" validate:"gte=0,cents"`
	InitialStock int             `json:"initial_stock" validate:"gte=0"`
	MinStock     int             `json:"min_stock" validate:"gte=0"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	OperatorID  int64  `json:"operator_id"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated caller attached to a request context.
type Actor struct {
	OperatorID int64  `json:"operator_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
}

// Operator is an internal persistence model for cashiers and admins.
type Operator struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type CashSession struct {
	ID             int64            `json:"id"`
	OperatorID     int64            `json:"operator_id"`
	OpenedAt       time.Time        `json:"opened_at"`
	OpeningBalance decimal.Decimal  `json:"opening_balance"`
	Status         string           `json:"status"`
	ClosedAt       *time.Time       `json:"closed_at,omitempty"`
	ClosingBalance *decimal.Decimal `json:"closing_balance,omitempty"`
}

func (s CashSession) IsOpen() bool {
	return s.Status == SessionStatusOpen
}

type SessionOpenRequest struct {
	OpeningBalance decimal.Decimal `json:"opening_balance" validate:"gte=0,cents"`
}

type SessionCloseRequest struct {
	ClosingBalance decimal.Decimal `json:"closing_balance" validate:"gte=0,cents"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	SaleStatusFinalized = "finalized"
	SaleStatusCancelled = "cancelled"

	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"

	RoleOperator = "operator"
	RoleAdmin    = "admin"
)
