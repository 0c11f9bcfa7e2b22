package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
)

func (s *Service) OpenSession(ctx context.Context, operatorID int64, openingBalance decimal.Decimal) (domain.CashSession, error) {
	if openingBalance.IsNegative() {
		return domain.CashSession{}, store.InvalidInput("opening balance cannot be negative")
	}
	if !domain.WholeCents(openingBalance) {
		return domain.CashSession{}, store.InvalidInput("opening balance %s has more than two decimal places", openingBalance)
	}

	session, err := s.repo.OpenCashSession(ctx, domain.CashSession{
		OperatorID:     operatorID,
		OpenedAt:       s.now(),
		OpeningBalance: openingBalance,
		Status:         domain.SessionStatusOpen,
	})
	if err != nil {
		return domain.CashSession{}, err
	}

	s.logAudit(ctx, "session_open", "cash_session", strconv.FormatInt(session.ID, 10),
		fmt.Sprintf("operator=%d,opening=%s", operatorID, openingBalance.StringFixed(2)))
	return *session, nil
}

// CloseSession fixes closedAt once and reconciles the declared balance
// against opening balance plus cash taken inside [openedAt, closedAt].
func (s *Service) CloseSession(ctx context.Context, operatorID int64, closingBalance decimal.Decimal) (domain.Reconciliation, error) {
	if closingBalance.IsNegative() {
		return domain.Reconciliation{}, store.InvalidInput("closing balance cannot be negative")
	}
	if !domain.WholeCents(closingBalance) {
		return domain.Reconciliation{}, store.InvalidInput("closing balance %s has more than two decimal places", closingBalance)
	}

	closedAt := s.now()
	closed, err := s.repo.CloseCashSession(ctx, operatorID, closingBalance, closedAt)
	if err != nil {
		return domain.Reconciliation{}, err
	}

	rec := domain.Reconcile(closed.Session, closed.CashCollected)
	s.logAudit(ctx, "session_close", "cash_session", strconv.FormatInt(closed.Session.ID, 10),
		fmt.Sprintf("expected=%s,declared=%s,variance=%s",
			rec.ExpectedCash.StringFixed(2), closingBalance.StringFixed(2), rec.Variance.StringFixed(2)))
	if rec.Material {
		s.logger.Warn("cash session closed with variance",
			zap.Int64("operator_id", operatorID),
			zap.Int64("session_id", closed.Session.ID),
			zap.String("variance", rec.Variance.StringFixed(2)),
		)
	}
	return rec, nil
}

// SessionStatus reports the operator's most recent session. An open session
// is reconciled up to now and carries no variance.
func (s *Service) SessionStatus(ctx context.Context, operatorID int64) (domain.SessionStatus, error) {
	status := domain.SessionStatus{OperatorID: operatorID}

	session, err := s.repo.GetLatestCashSession(ctx, operatorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			status.NeverOpened = true
			return status, nil
		}
		return status, err
	}

	now := s.now()
	to := now
	if !session.IsOpen() && session.ClosedAt != nil {
		to = *session.ClosedAt
	}
	totals, err := s.repo.SumPaymentsByMethod(ctx, domain.PaymentWindow{
		OperatorID: operatorID,
		From:       session.OpenedAt,
		To:         to,
	})
	if err != nil {
		return status, err
	}

	rec := domain.Reconcile(*session, cashTotal(totals))
	status.Reconciliation = &rec
	status.Forgotten = session.IsOpen() && session.OpenedAt.Before(domain.LocalMidnight(now, s.location))
	return status, nil
}

// SessionsOverview lists every active operator's status plus the open
// sessions left over from a previous day.
func (s *Service) SessionsOverview(ctx context.Context) (domain.SessionsOverview, error) {
	var overview domain.SessionsOverview

	operators, err := s.repo.ListOperators(ctx)
	if err != nil {
		return overview, err
	}
	overview.Operators = make([]domain.SessionStatus, 0, len(operators))
	for _, operator := range operators {
		if !operator.Active {
			continue
		}
		status, err := s.SessionStatus(ctx, operator.ID)
		if err != nil {
			return overview, err
		}
		status.OperatorName = operator.Name
		overview.Operators = append(overview.Operators, status)
	}

	overview.Forgotten, err = s.repo.ListOpenSessionsBefore(ctx, domain.LocalMidnight(s.now(), s.location))
	if err != nil {
		return overview, err
	}
	return overview, nil
}

// ClosingSlip summarises the open session as it stands right now.
func (s *Service) ClosingSlip(ctx context.Context, operatorID int64) (domain.ClosingSlip, error) {
	session, err := s.repo.GetOpenCashSession(ctx, operatorID)
	if err != nil {
		return domain.ClosingSlip{}, err
	}

	now := s.now()
	window := domain.PaymentWindow{OperatorID: operatorID, From: session.OpenedAt, To: now}
	totals, err := s.repo.SumPaymentsByMethod(ctx, window)
	if err != nil {
		return domain.ClosingSlip{}, err
	}
	count, err := s.repo.CountFinalizedSales(ctx, window)
	if err != nil {
		return domain.ClosingSlip{}, err
	}
	return domain.NewClosingSlip(*session, now, count, totals), nil
}

func cashTotal(totals []domain.MethodTotal) decimal.Decimal {
	for _, row := range totals {
		if row.Method == domain.MethodCash {
			return row.Total
		}
	}
	return decimal.Zero
}
