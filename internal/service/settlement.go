package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
)

// Settle turns a cart and its payments into a finalized sale. Every stock
// decrement, line and payment is written by one repository call, so a
// failure leaves nothing behind.
func (s *Service) Settle(ctx context.Context, req domain.SettleRequest) (domain.SettleResult, error) {
	if _, err := s.repo.GetOpenCashSession(ctx, req.OperatorID); err != nil {
		if errors.Is(err, store.ErrNoOpenSession) {
			return domain.SettleResult{}, store.ErrSessionClosed
		}
		return domain.SettleResult{}, err
	}
	if len(req.Lines) == 0 {
		return domain.SettleResult{}, store.ErrEmptyCart
	}
	if len(req.Payments) == 0 {
		return domain.SettleResult{}, store.ErrNoPayment
	}

	for _, line := range req.Lines {
		if line.Quantity < 1 {
			return domain.SettleResult{}, store.InvalidInput("quantity must be positive for product %d", line.ProductID)
		}
	}

	now := s.now()
	payments := make([]domain.Payment, 0, len(req.Payments))
	for _, p := range req.Payments {
		method, ok := domain.ParsePaymentMethod(p.Method)
		if !ok {
			return domain.SettleResult{}, store.InvalidPaymentMethod(p.Method)
		}
		if !p.Amount.IsPositive() {
			return domain.SettleResult{}, store.InvalidInput("payment amount must be positive")
		}
		if !domain.WholeCents(p.Amount) {
			return domain.SettleResult{}, store.InvalidInput("payment amount %s has more than two decimal places", p.Amount)
		}
		payments = append(payments, domain.Payment{Method: method, Amount: p.Amount, PaidAt: now})
	}

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey != "" {
		existing, err := s.repo.FindSaleByIdempotency(ctx, req.OperatorID, req.IdempotencyKey)
		if err == nil {
			return settleResult(existing, true), nil
		}
		if !errors.Is(err, store.ErrSaleNotFound) {
			return domain.SettleResult{}, err
		}
	}

	sale, err := s.repo.SettleSale(ctx, domain.SaleDraft{
		OperatorID:     req.OperatorID,
		IdempotencyKey: req.IdempotencyKey,
		Lines:          req.Lines,
		Payments:       payments,
		CreatedAt:      now,
	})
	if errors.Is(err, store.ErrIdempotencyReplay) {
		// a concurrent request with the same key won the insert
		existing, lookupErr := s.repo.FindSaleByIdempotency(ctx, req.OperatorID, req.IdempotencyKey)
		if lookupErr != nil {
			return domain.SettleResult{}, lookupErr
		}
		return settleResult(existing, true), nil
	}
	if err != nil {
		return domain.SettleResult{}, err
	}

	s.invalidateReports(ctx)
	result := settleResult(sale, false)
	s.logAudit(ctx, "sale_settle", "sale", sale.Number,
		fmt.Sprintf("total=%s,paid=%s,lines=%d,payments=%d",
			result.Total.StringFixed(2), result.Paid.StringFixed(2), len(sale.Lines), len(sale.Payments)))
	s.logger.Info("sale settled",
		zap.Int64("sale_id", sale.ID),
		zap.Int64("operator_id", sale.OperatorID),
		zap.String("total", result.Total.StringFixed(2)),
	)

	return result, nil
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.SaleView, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.SaleView{}, err
	}
	return domain.NewSaleView(*sale), nil
}

func settleResult(sale *domain.Sale, duplicate bool) domain.SettleResult {
	return domain.SettleResult{
		SaleID:     sale.ID,
		SaleNumber: sale.Number,
		Total:      sale.Total(),
		Paid:       sale.Paid(),
		Change:     sale.Change(),
		Duplicate:  duplicate,
	}
}
