package service

import (
	"context"
	"fmt"
	"time"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
)

// CancelSale returns every line of a finalized sale to stock and marks it
// cancelled. Its payments stay on record and drop out of reconciliation
// through the status filter.
func (s *Service) CancelSale(ctx context.Context, saleID int64) (domain.CancelSaleResponse, error) {
	if saleID < 1 {
		return domain.CancelSaleResponse{}, store.ErrSaleNotFound
	}

	sale, err := s.repo.CancelSale(ctx, saleID, s.now())
	if err != nil {
		return domain.CancelSaleResponse{}, err
	}

	s.invalidateReports(ctx)
	s.logAudit(ctx, "sale_cancel", "sale", sale.Number,
		fmt.Sprintf("total=%s,lines=%d", sale.Total().StringFixed(2), len(sale.Lines)))

	resp := domain.CancelSaleResponse{
		SaleID:     sale.ID,
		SaleNumber: sale.Number,
		Status:     sale.Status,
	}
	if sale.CancelledAt != nil {
		resp.CancelledAt = sale.CancelledAt.Format(time.RFC3339)
	}
	return resp, nil
}

func (s *Service) CorrectPaymentMethod(ctx context.Context, saleID int64, rawMethod string) (domain.PaymentCorrection, error) {
	method, ok := domain.ParsePaymentMethod(rawMethod)
	if !ok {
		return domain.PaymentCorrection{}, store.InvalidPaymentMethod(rawMethod)
	}
	if saleID < 1 {
		return domain.PaymentCorrection{}, store.ErrSaleNotFound
	}

	correction, err := s.repo.CorrectPaymentMethod(ctx, saleID, method)
	if err != nil {
		return domain.PaymentCorrection{}, err
	}

	s.invalidateReports(ctx)
	s.logAudit(ctx, "payment_method_correct", "sale", correction.SaleNumber,
		fmt.Sprintf("payment=%d,%s->%s,amount=%s->%s",
			correction.PaymentID, correction.OldMethod, correction.NewMethod,
			correction.OldAmount.StringFixed(2), correction.NewAmount.StringFixed(2)))
	return *correction, nil
}
