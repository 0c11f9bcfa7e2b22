package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaterialVariance is the smallest absolute difference between declared and
// expected cash treated as a real discrepancy.
var MaterialVariance = decimal.New(1, -3)

type MethodTotal struct {
	Method PaymentMethod   `json:"method"`
	Total  decimal.Decimal `json:"total"`
	Count  int64           `json:"count"`
}

// PaymentWindow selects ledger rows for one operator's finalized sales paid
// within [From, To].
type PaymentWindow struct {
	OperatorID int64
	From       time.Time
	To         time.Time
}

type Reconciliation struct {
	Session       CashSession      `json:"session"`
	CashCollected decimal.Decimal  `json:"cash_collected"`
	ExpectedCash  decimal.Decimal  `json:"expected_cash"`
	DeclaredCash  *decimal.Decimal `json:"declared_cash,omitempty"`
	Variance      *decimal.Decimal `json:"variance,omitempty"`
	Material      bool             `json:"material"`
}

// Reconcile compares the declared closing balance with opening balance plus
// cash collected. Variance is only present once the session has a declared
// closing balance.
func Reconcile(session CashSession, cashCollected decimal.Decimal) Reconciliation {
	expected := session.OpeningBalance.Add(cashCollected)
	rec := Reconciliation{
		Session:       session,
		CashCollected: cashCollected,
		ExpectedCash:  expected,
	}
	if session.ClosingBalance != nil {
		declared := *session.ClosingBalance
		variance := declared.Sub(expected)
		rec.DeclaredCash = &declared
		rec.Variance = &variance
		rec.Material = variance.Abs().GreaterThan(MaterialVariance)
	}
	return rec
}

func (r Reconciliation) Rounded() Reconciliation {
	out := r
	out.CashCollected = r.CashCollected.Round(2)
	out.ExpectedCash = r.ExpectedCash.Round(2)
	if r.DeclaredCash != nil {
		declared := r.DeclaredCash.Round(2)
		out.DeclaredCash = &declared
	}
	if r.Variance != nil {
		variance := r.Variance.Round(2)
		out.Variance = &variance
	}
	return out
}

type SessionStatus struct {
	OperatorID     int64           `json:"operator_id"`
	OperatorName   string          `json:"operator_name,omitempty"`
	NeverOpened    bool            `json:"never_opened"`
	Forgotten      bool            `json:"forgotten"`
	Reconciliation *Reconciliation `json:"reconciliation,omitempty"`
}

func (s SessionStatus) Rounded() SessionStatus {
	if s.Reconciliation != nil {
		rec := s.Reconciliation.Rounded()
		s.Reconciliation = &rec
	}
	return s
}

type SessionsOverview struct {
	Operators []SessionStatus `json:"operators"`
	Forgotten []CashSession   `json:"forgotten"`
}

func (o SessionsOverview) Rounded() SessionsOverview {
	operators := make([]SessionStatus, 0, len(o.Operators))
	for _, status := range o.Operators {
		operators = append(operators, status.Rounded())
	}
	o.Operators = operators
	return o
}

// ClosingSlip is the live summary printed for an open session before it is closed.
type ClosingSlip struct {
	Session      CashSession     `json:"session"`
	GeneratedAt  time.Time       `json:"generated_at"`
	SaleCount    int64           `json:"sale_count"`
	Cash         decimal.Decimal `json:"cash"`
	Card         decimal.Decimal `json:"card"`
	Pix          decimal.Decimal `json:"pix"`
	Other        decimal.Decimal `json:"other"`
	Total        decimal.Decimal `json:"total"`
	ExpectedCash decimal.Decimal `json:"expected_cash"`
}

func NewClosingSlip(session CashSession, at time.Time, saleCount int64, totals []MethodTotal) ClosingSlip {
	slip := ClosingSlip{
		Session:     session,
		GeneratedAt: at,
		SaleCount:   saleCount,
	}
	for _, row := range totals {
		switch row.Method {
		case MethodCash:
			slip.Cash = slip.Cash.Add(row.Total)
		case MethodCard:
			slip.Card = slip.Card.Add(row.Total)
		case MethodPix:
			slip.Pix = slip.Pix.Add(row.Total)
		default:
			slip.Other = slip.Other.Add(row.Total)
		}
		slip.Total = slip.Total.Add(row.Total)
	}
	slip.ExpectedCash = session.OpeningBalance.Add(slip.Cash)
	return slip
}

func (s ClosingSlip) Rounded() ClosingSlip {
	s.Cash = s.Cash.Round(2)
	s.Card = s.Card.Round(2)
	s.Pix = s.Pix.Round(2)
	s.Other = s.Other.Round(2)
	s.Total = s.Total.Round(2)
	s.ExpectedCash = s.ExpectedCash.Round(2)
	return s
}

// LocalMidnight returns the start of the day containing t in loc.
func LocalMidnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
