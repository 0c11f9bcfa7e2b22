package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultBestSellerLimit = 10

type ReportFilter struct {
	From       time.Time     `json:"from"`
	To         time.Time     `json:"to"`
	OperatorID int64         `json:"operator_id,omitempty"`
	Method     PaymentMethod `json:"method,omitempty"`
	TopN       int           `json:"top_n"`
}

type OperatorMethodTotal struct {
	OperatorID   int64
	OperatorName string
	Method       PaymentMethod
	Total        decimal.Decimal
}

type ProductSales struct {
	ProductID int64           `json:"product_id"`
	Barcode   string          `json:"barcode"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// ReportData holds the raw aggregates a repository computes for a filter.
type ReportData struct {
	Revenue        decimal.Decimal
	SaleCount      int64
	ByMethod       []MethodTotal
	OperatorMethod []OperatorMethodTotal
	BestSellers    []ProductSales
}

type ReceiptTotals struct {
	Cash  decimal.Decimal `json:"cash"`
	Card  decimal.Decimal `json:"card"`
	Pix   decimal.Decimal `json:"pix"`
	Other decimal.Decimal `json:"other"`
	Total decimal.Decimal `json:"total"`
}

func (t *ReceiptTotals) add(method PaymentMethod, amount decimal.Decimal) {
	switch method {
	case MethodCash:
		t.Cash = t.Cash.Add(amount)
	case MethodCard:
		t.Card = t.Card.Add(amount)
	case MethodPix:
		t.Pix = t.Pix.Add(amount)
	default:
		t.Other = t.Other.Add(amount)
	}
	t.Total = t.Total.Add(amount)
}

func (t ReceiptTotals) rounded() ReceiptTotals {
	return ReceiptTotals{
		Cash:  t.Cash.Round(2),
		Card:  t.Card.Round(2),
		Pix:   t.Pix.Round(2),
		Other: t.Other.Round(2),
		Total: t.Total.Round(2),
	}
}

type OperatorReceipts struct {
	OperatorID   int64  `json:"operator_id"`
	OperatorName string `json:"operator_name"`
	ReceiptTotals
	// Legacy lists the non-standard methods folded into Other.
	Legacy []MethodTotal `json:"legacy,omitempty"`
}

type ReconciliationReport struct {
	From          time.Time          `json:"from"`
	To            time.Time          `json:"to"`
	OperatorID    int64              `json:"operator_id,omitempty"`
	Method        PaymentMethod      `json:"method,omitempty"`
	Revenue       decimal.Decimal    `json:"revenue"`
	SaleCount     int64              `json:"sale_count"`
	AverageTicket decimal.Decimal    `json:"average_ticket"`
	ByMethod      []MethodTotal      `json:"by_method"`
	ByOperator    []OperatorReceipts `json:"by_operator"`
	Receipts      ReceiptTotals      `json:"receipts"`
	BestSellers   []ProductSales     `json:"best_sellers"`
}

// BuildReport folds repository aggregates into the presented report. Amounts
// stay exact; call Rounded for display.
func BuildReport(filter ReportFilter, data ReportData) ReconciliationReport {
	report := ReconciliationReport{
		From:        filter.From,
		To:          filter.To,
		OperatorID:  filter.OperatorID,
		Method:      filter.Method,
		Revenue:     data.Revenue,
		SaleCount:   data.SaleCount,
		ByMethod:    append([]MethodTotal(nil), data.ByMethod...),
		BestSellers: append([]ProductSales(nil), data.BestSellers...),
	}
	if data.SaleCount > 0 {
		report.AverageTicket = data.Revenue.Div(decimal.NewFromInt(data.SaleCount))
	}
	sort.Slice(report.ByMethod, func(i, j int) bool {
		return report.ByMethod[i].Method < report.ByMethod[j].Method
	})
	report.ByOperator, report.Receipts = FoldReceipts(data.OperatorMethod)
	return report
}

// FoldReceipts groups (operator, method) totals per operator, sorted by name.
func FoldReceipts(rows []OperatorMethodTotal) ([]OperatorReceipts, ReceiptTotals) {
	var grand ReceiptTotals
	byOperator := make(map[int64]*OperatorReceipts)
	order := make([]int64, 0, 8)
	for _, row := range rows {
		entry, ok := byOperator[row.OperatorID]
		if !ok {
			entry = &OperatorReceipts{OperatorID: row.OperatorID, OperatorName: row.OperatorName}
			byOperator[row.OperatorID] = entry
			order = append(order, row.OperatorID)
		}
		entry.add(row.Method, row.Total)
		grand.add(row.Method, row.Total)
		if !row.Method.Valid() {
			entry.Legacy = append(entry.Legacy, MethodTotal{Method: row.Method, Total: row.Total})
		}
	}

	receipts := make([]OperatorReceipts, 0, len(order))
	for _, id := range order {
		receipts = append(receipts, *byOperator[id])
	}
	sort.SliceStable(receipts, func(i, j int) bool {
		if receipts[i].OperatorName == receipts[j].OperatorName {
			return receipts[i].OperatorID < receipts[j].OperatorID
		}
		return receipts[i].OperatorName < receipts[j].OperatorName
	})
	return receipts, grand
}

func (r ReconciliationReport) Rounded() ReconciliationReport {
	out := r
	out.Revenue = r.Revenue.Round(2)
	out.AverageTicket = r.AverageTicket.Round(2)
	out.ByMethod = make([]MethodTotal, 0, len(r.ByMethod))
	for _, row := range r.ByMethod {
		row.Total = row.Total.Round(2)
		out.ByMethod = append(out.ByMethod, row)
	}
	out.ByOperator = make([]OperatorReceipts, 0, len(r.ByOperator))
	for _, row := range r.ByOperator {
		row.ReceiptTotals = row.ReceiptTotals.rounded()
		legacy := make([]MethodTotal, 0, len(row.Legacy))
		for _, extra := range row.Legacy {
			extra.Total = extra.Total.Round(2)
			legacy = append(legacy, extra)
		}
		row.Legacy = legacy
		out.ByOperator = append(out.ByOperator, row)
	}
	out.Receipts = r.Receipts.rounded()
	out.BestSellers = make([]ProductSales, 0, len(r.BestSellers))
	for _, row := range r.BestSellers {
		row.Revenue = row.Revenue.Round(2)
		out.BestSellers = append(out.BestSellers, row)
	}
	return out
}

type CatalogSummary struct {
	ActiveProducts int `json:"active_products"`
	LowStock       int `json:"low_stock"`
}

type Dashboard struct {
	Date         string           `json:"date"`
	TodayRevenue decimal.Decimal  `json:"today_revenue"`
	TodaySales   int64            `json:"today_sales"`
	Catalog      CatalogSummary   `json:"catalog"`
	Sessions     SessionsOverview `json:"sessions"`
}

func (d Dashboard) Rounded() Dashboard {
	d.TodayRevenue = d.TodayRevenue.Round(2)
	d.Sessions = d.Sessions.Rounded()
	return d
}
