package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"caixa/backend/internal/cache"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
	"caixa/backend/internal/store/memory"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc      *Service
	repo     *memory.Store
	clock    *testClock
	ana      *domain.Operator
	bruno    *domain.Operator
	admin    *domain.Operator
	coffee   *domain.Product // 10.00, stock 5
	rice     *domain.Product // 30.00, stock 10
	candy    *domain.Product // 9.75, stock 100
	adminCtx context.Context
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := memory.New()
	clock := &testClock{t: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)}

	mkOperator := func(username, name, role string) *domain.Operator {
		op, err := repo.CreateOperator(ctx, domain.Operator{Username: username, Name: name, PasswordHash: "x", Role: role, Active: true})
		require.NoError(t, err)
		return op
	}
	mkProduct := func(barcode, name, price string, stock int) *domain.Product {
		p, err := repo.CreateProduct(ctx, domain.Product{Barcode: barcode, Name: name, SalePrice: dec(price), Stock: stock, MinStock: 2, Active: true})
		require.NoError(t, err)
		return p
	}

	f := &fixture{
		repo:   repo,
		clock:  clock,
		ana:    mkOperator("ana", "Ana", domain.RoleOperator),
		bruno:  mkOperator("bruno", "Bruno", domain.RoleOperator),
		admin:  mkOperator("admin", "Zelia", domain.RoleAdmin),
		coffee: mkProduct("7890000000010", "Cafe", "10.00", 5),
		rice:   mkProduct("7890000000030", "Arroz", "30.00", 10),
		candy:  mkProduct("7890000000975", "Bala", "9.75", 100),
	}
	f.adminCtx = WithActor(ctx, domain.Actor{OperatorID: f.admin.ID, Username: "admin", Role: domain.RoleAdmin})

	base := []Option{WithClock(clock.Now), WithLocation(time.UTC)}
	f.svc = New(repo, zap.NewNop(), append(base, opts...)...)
	return f
}

func (f *fixture) open(t *testing.T, operatorID int64, opening string) domain.CashSession {
	t.Helper()
	session, err := f.svc.OpenSession(context.Background(), operatorID, dec(opening))
	require.NoError(t, err)
	return session
}

func (f *fixture) settle(t *testing.T, operatorID int64, lines []domain.CartLine, payments ...domain.PaymentInput) domain.SettleResult {
	t.Helper()
	result, err := f.svc.Settle(context.Background(), domain.SettleRequest{OperatorID: operatorID, Lines: lines, Payments: payments})
	require.NoError(t, err)
	return result
}

func (f *fixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	p, err := f.repo.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func cash(amount string) domain.PaymentInput {
	return domain.PaymentInput{Method: "cash", Amount: dec(amount)}
}

func TestSettleComputesChangeAndDecrementsStock(t *testing.T) {
	f := newFixture(t)
	f.open(t, f.ana.ID, "50.00")

	result := f.settle(t, f.ana.ID, []domain.CartLine{{ProductID: f.coffee.ID, Quantity: 2}}, cash("25.00"))

	assert.Equal(t, "20.00", result.Total.StringFixed(2))
	assert.Equal(t, "25.00", result.Paid.StringFixed(2))
	assert.Equal(t, "5.00", result.Change.StringFixed(2))
	assert.Equal(t, strconv.FormatInt(result.SaleID, 10), result.SaleNumber)
	assert.False(t, result.Duplicate)
	assert.Equal(t, 3, f.stock(t, f.coffee.ID))
}

func TestSettleExactPaymentHasNoChange(t *testing.T) {
	f := newFixture(t)
	f.open(t, f.ana.ID, "0")

	result := f.settle(t, f.ana.ID, []domain.CartLine{{ProductID: f.rice.ID, Quantity: 1}},
		domain.PaymentInput{Method: "card", Amount: dec("10.00")},
		domain.PaymentInput{Method: "PIX", Amount: dec("20.00")},
	)
	assert.True(t, result.Change.IsZero())

	sale, err := f.svc.GetSale(context.Background(), result.SaleID)
	require.NoError(t, err)
	require.Len(t, sale.Payments, 2)
	assert.Equal(t, domain.MethodPix, sale.Payments[1].Method)
	assert.Equal(t, "30.00", sale.Total.StringFixed(2))
}

func TestSettleInsufficientStockLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.open(t, f.ana.ID, "0")

	_, err := f.svc.Settle(context.Background(), domain.SettleRequest{
		OperatorID: f.ana.ID,
		Lines:      []domain.CartLine{{ProductID: f.coffee.ID, Quantity: 6}},
		Payments:   []domain.PaymentInput{cash("60.00")},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	var typed *store.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, 5, typed.Available)
	assert.Equal(t, 6, typed.Requested)
	assert.Equal(t, f.coffee.ID, typed.ProductID)
	assert.Equal(t, 5, f.stock(t, f.coffee.ID))

	_, err = f.svc.GetSale(context.Background(), 1)
	assert.ErrorIs(t, err, store.ErrSaleNotFound)
}

func TestSettleIsAllOrNothingAcrossLines(t *testing.T) {
	f := newFixture(t)
	f.open(t, f.ana.ID, "0")

	_, err := f.svc.Settle(context.Background(), domain.SettleRequest{
		OperatorID: f.ana.ID,
		Lines: []domain.CartLine{
			{ProductID: f.coffee.ID, Quantity: 1},
			{ProductID: f.rice.ID, Quantity: 11},
		},
		Payments: []domain.PaymentInput{cash("400.00")},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 5, f.stock(t, f.coffee.ID))
	assert.Equal(t, 10, f.stock(t, f.rice.ID))
}

func TestSettleCountsRepeatedProductAgainstStock(t *testing.T) {
	f := newFixture(t)
	f.open(t, f.ana.ID, "0")

	_, err := f.svc.Settle(context.Background(), domain.SettleRequest{
		OperatorID: f.ana.ID,
		Lines: []domain.CartLine{
			{ProductID: f.coffee.ID, Quantity: 3},
			{ProductID: f.coffee.ID, Quantity: 3},
		},
		Payments: []domain.PaymentInput{cash("60.00")},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 5, f.stock(t, f.coffee.ID))
}

func TestSettleInsufficientPayment(t *testing.T) {
	f := newFixture(t)
	f.open(t, f.ana.ID, "0")

	_, err := f.svc.Settle(context.Background(), domain.SettleRequest{
		OperatorID: f.ana.ID,
		Lines:      []domain.CartLine{{ProductID: f.rice.ID, Quantity: 1}},
		Payments:   []domain.PaymentInput{cash("29.99")},
	})
	require.ErrorIs(t, err, store.ErrInsufficientPayment)

	var typed *store.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "0.01", typed.Shortfall().StringFixed(2))
	assert.Equal(t, 10, f.stock(t, f.rice.ID))
}

func TestSettleRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name    string
		open    bool
		req     func(f *fixture) domain.SettleRequest
		wantErr error
	}{
		{
			name: "no open session",
			req: func(f *fixture) domain.SettleRequest {
				return domain.SettleRequest{OperatorID: f.ana.ID, Lines: []domain.CartLine{{ProductID: f.coffee.ID, Quantity: 1}}, Payments: []domain.PaymentInput{cash("10")}}
			},
			wantErr: store.ErrSessionClosed,
		},
		{
			name: "empty cart",
			open: true,
			req: func(f *fixture) domain.SettleRequest {
				return domain.SettleRequest{OperatorID: f.ana.ID, Payments: []domain.PaymentInput{cash("10")}}
			},
			wantErr: store.ErrEmptyCart,
		},
		{
			name: "no payment",
			open: true,
			req: func(f *fixture) domain.SettleRequest {
				return domain.SettleRequest{OperatorID: f.ana.ID, Lines: []domain.CartLine{{ProductID: f.coffee.ID, Quantity: 1}}}
			},
			wantErr: store.ErrNoPayment,
		},
		{
			name: "unknown method",
			open: true,
			req: func(f *fixture) domain.SettleRequest {
				return domain.SettleRequest{OperatorID: f.ana.ID, Lines: []domain.CartLine{{ProductID: f.coffee.ID, Quantity: 1}},
					Payments: []domain.PaymentInput{{Method: "cheque", Amount: dec("10")}}}
			},
			wantErr: store.ErrInvalidPaymentMethod,
		},
		{
			name: "zero quantity",
			open: true,
			req: func(f *fixture) domain.SettleRequest {
				return domain.SettleRequest{OperatorID: f.ana.ID, Lines: []domain.CartLine{{ProductID: f.coffee.ID, Quantity: 0}}, Payments: []domain.PaymentInput{cash("10")}}
			},
			wantErr: store.ErrInvalidInput,
		},
		{
			name: "negative payment",
			open: true,
			req: func(f *fixture) domain.SettleRequest {
				return domain.SettleRequest{OperatorID: f.ana.ID, Lines: []domain.CartLine{{ProductID: f.coffee.ID, Quantity: 1}}, Payments: []domain.PaymentInput{cash("-10")}}
			},
			wantErr: store.ErrInvalidInput,
		},
		{
			name: "unknown product",
			open: true,
			req: func(f *fixture) domain.SettleRequest {
				return domain.SettleRequest{OperatorID: f.ana.ID, Lines: []domain.CartLine{{ProductID: 999, Quantity: 1}}, Payments: []domain.PaymentInput{cash("10")}}
			},
			wantErr: store.ErrProductNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.open {
				f.open(t, f.ana.ID, "0")
			}
			_, err := f.svc.Settle(context.Background(), tt.req(f))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 5, f.stock(t, f.coffee.ID))
		})
	}
}

func TestSettleIdempotencyKeyReturnsOriginalSale(t *testing.T) {
	f := newFixture(t)
	f.open(t, f.ana.ID, "0")

	req := domain.SettleRequest{
		OperatorID:     f.ana.ID,
		IdempotencyKey: "register-1-0001",
		Lines:          []domain.CartLine{{ProductID: f.coffee.ID, Quantity: 1}},
		Payments:       []domain.PaymentInput{cash("10.00")},
	}
	first, err := f.svc.Settle(context.Background(), req)
	require.NoError(t, err)
	second, err := f.svc.Settle(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.SaleID, second.SaleID)
	assert.Equal(t, 4, f.stock(t, f.coffee.ID))
}

// lookupMisses hides existing sales from the first n idempotency lookups,
// the window in which two requests with one key both pass the pre-check.
type lookupMisses struct {
	store.Repository
	n int
}

func (r *lookupMisses) FindSaleByIdempotency(ctx context.Context, operatorID int64, key string) (*domain.Sale, error) {
	if r.n > 0 {
		r.n--
		return nil, store.ErrSaleNotFound
	}
	return r.Repository.FindSaleByIdempotency(ctx, operatorID, key)
}

func TestSettleReplayLosingTheInsertIsReportedAsDuplicate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	reports := cache.NewMockReportCache(ctrl)
	reports.EXPECT().Invalidate(gomock.Any()).Return(nil).Times(1)

	f := newFixture(t)
	f.open(t, f.ana.ID, "0")
	svc := New(&lookupMisses{Repository: f.repo, n: 2}, zap.NewNop(),
		WithClock(f.clock.Now), WithLocation(time.UTC), WithReportCache(reports, time.Minute))

	req := domain.SettleRequest{
		OperatorID:     f.ana.ID,
		IdempotencyKey: "register-1-0002",
		Lines:          []domain.CartLine{{ProductID: f.coffee.ID, Quantity: 1}},
		Payments:       []domain.PaymentInput{cash("10.00")},
	}
	first, err := svc.Settle(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := svc.Settle(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.SaleID, second.SaleID)
	assert.Equal(t, 4, f.stock(t, f.coffee.ID))

	day := domain.LocalMidnight(f.clock.Now(), time.UTC)
	logs, err := f.repo.ListAuditLogs(context.Background(), day, day.AddDate(0, 0, 1), 100)
	require.NoError(t, err)
	settles := 0
	for _, entry := range logs {
		if entry.Action == "sale_settle" {
			settles++
		}
	}
	assert.Equal(t, 1, settles)
}

func TestSettleIdempotencyKeyIsPerOperator(t *testing.T) {
	f := newFixture(t)
	f.open(t, f.ana.ID, "0")
	f.open(t, f.bruno.ID, "0")

	settle := func(operatorID int64) domain.SettleResult {
		result, err := f.svc.Settle(context.Background(), domain.SettleRequest{
			OperatorID:     operatorID,
			IdempotencyKey: "register-1-0003",
			Lines:          []domain.CartLine{{ProductID: f.coffee.ID, Quantity: 1}},
			Payments:       []domain.PaymentInput{cash("10.00")},
		})
		require.NoError(t, err)
		return result
	}
	ana := settle(f.ana.ID)
	bruno := settle(f.bruno.ID)

	assert.False(t, bruno.Duplicate)
	assert.NotEqual(t, ana.SaleID, bruno.SaleID)
	assert.Equal(t, 3, f.stock(t, f.coffee.ID))

	sale, err := f.svc.GetSale(context.Background(), bruno.SaleID)
	require.NoError(t, err)
	assert.Equal(t, f.bruno.ID, sale.OperatorID)
}

func TestSubCentAmountsAreRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.OpenSession(ctx, f.ana.ID, dec("10.005"))
	assert.ErrorIs(t, err, store.ErrInvalidInput)
	f.open(t, f.ana.ID, "10.00")

	_, err = f.svc.Settle(ctx, domain.SettleRequest{
		OperatorID: f.ana.ID,
		Lines:      []domain.CartLine{{ProductID: f.rice.ID, Quantity: 1}},
		Payments:   []domain.PaymentInput{cash("30.00"), {Method: "card", Amount: dec("0.004")}},
	})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
	assert.Equal(t, 10, f.stock(t, f.rice.ID))

	_, err = f.svc.CreateProduct(f.adminCtx, domain.ProductCreateRequest{Barcode: "1", Name: "Oleo", SalePrice: dec("7.999")})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = f.svc.CloseSession(ctx, f.ana.ID, dec("10.001"))
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	rec, err := f.svc.CloseSession(ctx, f.ana.ID, dec("10.00"))
	require.NoError(t, err, "the session is still open after a rejected close")
	assert.False(t, rec.Material)
}

func TestConcurrentSettleNeverOversells(t *testing.T) {
	f := newFixture(t)
	f.open(t, f.ana.ID, "0")

	const buyers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Settle(context.Background(), domain.SettleRequest{
				OperatorID: f.ana.ID,
				Lines:      []domain.CartLine{{ProductID: f.coffee.ID, Quantity: 1}},
				Payments:   []domain.PaymentInput{cash("10.00")},
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, store.ErrInsufficientStock)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 0, f.stock(t, f.coffee.ID))
}

func TestCloseSessionExpectedCash(t *testing.T) {
	f := newFixture(t)
	f.open(t, f.ana.ID, "50.00")

	line := []domain.CartLine{{ProductID: f.candy.ID, Quantity: 1}}
	f.settle(t, f.ana.ID, line, cash("20.00"))
	f.settle(t, f.ana.ID, line, cash("15.50"))
	f.settle(t, f.ana.ID, line, cash("9.75"))
	f.settle(t, f.ana.ID, line, domain.PaymentInput{Method: "card", Amount: dec("9.75")})

	// Another operator's cash never counts towards Ana's drawer.
	f.open(t, f.bruno.ID, "0")
	f.settle(t, f.bruno.ID, line, cash("100.00"))

	f.clock.Advance(time.Hour)
	rec, err := f.svc.CloseSession(context.Background(), f.ana.ID, dec("95.25"))
	require.NoError(t, err)

	assert.Equal(t, "45.25", rec.CashCollected.StringFixed(2))
	assert.Equal(t, "95.25", rec.ExpectedCash.StringFixed(2))
	require.NotNil(t, rec.Variance)
	assert.True(t, rec.Variance.IsZero())
	assert.False(t, rec.Material)
	assert.Equal(t, domain.SessionStatusClosed, rec.Session.Status)
	require.NotNil(t, rec.Session.ClosedAt)
	assert.Equal(t, f.clock.Now(), *rec.Session.ClosedAt)
}

func TestCloseSessionFlagsMaterialVariance(t *testing.T) {
	f := newFixture(t)
	f.open(t, f.ana.ID, "50.00")
	f.settle(t, f.ana.ID, []domain.CartLine{{ProductID: f.coffee.ID, Quantity: 1}}, cash("10.00"))

	rec, err := f.svc.CloseSession(context.Background(), f.ana.ID, dec("58.00"))
	require.NoError(t, err)
	assert.Equal(t, "-2.00", rec.Variance.StringFixed(2))
	assert.True(t, rec.Material)
}

func TestCancelledSalesDropOutOfExpectedCash(t *testing.T) {
	f := newFixture(t)
	f.open(t, f.ana.ID, "10.00")
	kept := f.settle(t, f.ana.ID, []domain.CartLine{{ProductID: f.coffee.ID, Quantity: 1}}, cash("10.00"))
	voided := f.settle(t, f.ana.ID, []domain.CartLine{{ProductID: f.coffee.ID, Quantity: 2}}, cash("20.00"))
	require.NotEqual(t, kept.SaleID, voided.SaleID)

	_, err := f.svc.CancelSale(f.adminCtx, voided.SaleID)
	require.NoError(t, err)

	rec, err := f.svc.CloseSession(context.Background(), f.ana.ID, dec("20.00"))
	require.NoError(t, err)
	assert.Equal(t, "20.00", rec.ExpectedCash.StringFixed(2))
}

func TestSessionExclusivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CloseSession(ctx, f.ana.ID, dec("0"))
	assert.ErrorIs(t, err, store.ErrNoOpenSession)

	f.open(t, f.ana.ID, "10.00")
	_, err = f.svc.OpenSession(ctx, f.ana.ID, dec("20.00"))
	assert.ErrorIs(t, err, store.ErrSessionAlreadyOpen)

	f.open(t, f.bruno.ID, "0")

	_, err = f.svc.CloseSession(ctx, f.ana.ID, dec("10.00"))
	require.NoError(t, err)
	_, err = f.svc.CloseSession(ctx, f.ana.ID, dec("10.00"))
	assert.ErrorIs(t, err, store.ErrNoOpenSession)

	f.open(t, f.ana.ID, "5.00")

	_, err = f.svc.OpenSession(ctx, f.ana.ID, dec("-1"))
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestSessionStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	status, err := f.svc.SessionStatus(ctx, f.ana.ID)
	require.NoError(t, err)
	assert.True(t, status.NeverOpened)
	assert.Nil(t, status.Reconciliation)

	f.open(t, f.ana.ID, "50.00")
	f.settle(t, f.ana.ID, []domain.CartLine{{ProductID: f.coffee.ID, Quantity: 1}}, cash("10.00"))

	status, err = f.svc.SessionStatus(ctx, f.ana.ID)
	require.NoError(t, err)
	assert.False(t, status.NeverOpened)
	assert.False(t, status.Forgotten)
	require.NotNil(t, status.Reconciliation)
	assert.Equal(t, "60.00", status.Reconciliation.ExpectedCash.StringFixed(2))
	assert.Nil(t, status.Reconciliation.Variance)

	f.clock.Advance(18 * time.Hour)
	status, err = f.svc.SessionStatus(ctx, f.ana.ID)
	require.NoError(t, err)
	assert.True(t, status.Forgotten)

	overview, err := f.svc.SessionsOverview(ctx)
	require.NoError(t, err)
	require.Len(t, overview.Forgotten, 1)
	assert.Equal(t, f.ana.ID, overview.Forgotten[0].OperatorID)
	require.Len(t, overview.Operators, 3)
	assert.Equal(t, "Ana", overview.Operators[0].OperatorName)
	assert.True(t, overview.Operators[1].NeverOpened)

	_, err = f.svc.CloseSession(ctx, f.ana.ID, dec("60.00"))
	require.NoError(t, err)
	status, err = f.svc.SessionStatus(ctx, f.ana.ID)
	require.NoError(t, err)
	assert.False(t, status.Forgotten)
	require.NotNil(t, status.Reconciliation.Variance)
	assert.True(t, status.Reconciliation.Variance.IsZero())
}

func TestClosingSlip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ClosingSlip(ctx, f.ana.ID)
	assert.ErrorIs(t, err, store.ErrNoOpenSession)

	f.open(t, f.ana.ID, "100.00")
	sale := f.settle(t, f.ana.ID, []domain.CartLine{{ProductID: f.coffee.ID, Quantity: 1}}, cash("10.00"))
	f.settle(t, f.ana.ID, []domain.CartLine{{ProductID: f.rice.ID, Quantity: 1}},
		domain.PaymentInput{Method: "card", Amount: dec("20.00")},
		domain.PaymentInput{Method: "pix", Amount: dec("10.00")},
	)
	require.NoError(t, f.repo.RecordLegacyPayment(sale.SaleID, "voucher", dec("5.00"), f.clock.Now()))

	slip, err := f.svc.ClosingSlip(ctx, f.ana.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), slip.SaleCount)
	assert.Equal(t, "10.00", slip.Cash.StringFixed(2))
	assert.Equal(t, "20.00", slip.Card.StringFixed(2))
	assert.Equal(t, "10.00", slip.Pix.StringFixed(2))
	assert.Equal(t, "5.00", slip.Other.StringFixed(2))
	assert.Equal(t, "45.00", slip.Total.StringFixed(2))
	assert.Equal(t, "110.00", slip.ExpectedCash.StringFixed(2))
}

func TestCancelSaleRestoresStockAndKeepsPayments(t *testing.T) {
	f := newFixture(t)
	f.open(t, f.ana.ID, "0")
	result := f.settle(t, f.ana.ID, []domain.CartLine{
		{ProductID: f.coffee.ID, Quantity: 2},
		{ProductID: f.rice.ID, Quantity: 3},
	}, cash("110.00"))
	require.Equal(t, 3, f.stock(t, f.coffee.ID))
	require.Equal(t, 7, f.stock(t, f.rice.ID))

	resp, err := f.svc.CancelSale(f.adminCtx, result.SaleID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCancelled, resp.Status)
	assert.NotEmpty(t, resp.CancelledAt)
	assert.Equal(t, 5, f.stock(t, f.coffee.ID))
	assert.Equal(t, 10, f.stock(t, f.rice.ID))

	sale, err := f.svc.GetSale(context.Background(), result.SaleID)
	require.NoError(t, err)
	assert.Len(t, sale.Payments, 1)
	assert.True(t, sale.IsCancelled())

	_, err = f.svc.CancelSale(f.adminCtx, result.SaleID)
	assert.ErrorIs(t, err, store.ErrAlreadyCancelled)
	assert.Equal(t, 5, f.stock(t, f.coffee.ID))

	_, err = f.svc.CancelSale(f.adminCtx, 999)
	assert.ErrorIs(t, err, store.ErrSaleNotFound)

	logs, err := f.svc.ListAuditLogs(context.Background(), "", 50)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
	}
	assert.Contains(t, actions, "sale_cancel")
}

func TestCorrectPaymentMethod(t *testing.T) {
	f := newFixture(t)
	f.open(t, f.ana.ID, "0")
	ctx := f.adminCtx

	split := f.settle(t, f.ana.ID, []domain.CartLine{{ProductID: f.rice.ID, Quantity: 1}},
		domain.PaymentInput{Method: "cash", Amount: dec("10.00")},
		domain.PaymentInput{Method: "card", Amount: dec("20.00")},
	)
	_, err := f.svc.CorrectPaymentMethod(ctx, split.SaleID, "pix")
	var typed *store.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, store.KindMultiplePaymentsPresent, typed.Kind)
	assert.Equal(t, 2, typed.PaymentCount)

	overpaid := f.settle(t, f.ana.ID, []domain.CartLine{{ProductID: f.rice.ID, Quantity: 1}}, cash("50.00"))
	correction, err := f.svc.CorrectPaymentMethod(ctx, overpaid.SaleID, "pix")
	require.NoError(t, err)
	assert.Equal(t, domain.MethodCash, correction.OldMethod)
	assert.Equal(t, domain.MethodPix, correction.NewMethod)
	assert.Equal(t, "50.00", correction.OldAmount.StringFixed(2))
	assert.Equal(t, "30.00", correction.NewAmount.StringFixed(2))

	sale, err := f.svc.GetSale(context.Background(), overpaid.SaleID)
	require.NoError(t, err)
	assert.Equal(t, domain.MethodPix, sale.Payments[0].Method)
	assert.True(t, sale.Change.IsZero())

	card := f.settle(t, f.ana.ID, []domain.CartLine{{ProductID: f.rice.ID, Quantity: 1}}, domain.PaymentInput{Method: "card", Amount: dec("35.00")})
	correction, err = f.svc.CorrectPaymentMethod(ctx, card.SaleID, "cash")
	require.NoError(t, err)
	assert.Equal(t, "35.00", correction.NewAmount.StringFixed(2))

	_, err = f.svc.CorrectPaymentMethod(ctx, card.SaleID, "boleto")
	assert.ErrorIs(t, err, store.ErrInvalidPaymentMethod)

	_, err = f.svc.CancelSale(ctx, card.SaleID)
	require.NoError(t, err)
	_, err = f.svc.CorrectPaymentMethod(ctx, card.SaleID, "pix")
	assert.ErrorIs(t, err, store.ErrSaleCancelled)

	_, err = f.svc.CorrectPaymentMethod(ctx, 999, "pix")
	assert.ErrorIs(t, err, store.ErrSaleNotFound)
}

func TestLookupProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.LookupProduct(ctx, f.ana.ID, f.coffee.Barcode)
	assert.ErrorIs(t, err, store.ErrSessionClosed)

	f.open(t, f.ana.ID, "0")
	byBarcode, err := f.svc.LookupProduct(ctx, f.ana.ID, f.coffee.Barcode)
	require.NoError(t, err)
	assert.Equal(t, f.coffee.ID, byBarcode.ID)

	byID, err := f.svc.LookupProduct(ctx, f.ana.ID, strconv.FormatInt(f.rice.ID, 10))
	require.NoError(t, err)
	assert.Equal(t, f.rice.ID, byID.ID)

	_, err = f.svc.LookupProduct(ctx, f.ana.ID, "no-such-code")
	assert.ErrorIs(t, err, store.ErrProductNotFound)
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	req := domain.ProductCreateRequest{Barcode: "123", Name: "Feijao", SalePrice: dec("8.90"), InitialStock: 4}

	_, err := f.svc.CreateProduct(context.Background(), req)
	assert.ErrorIs(t, err, ErrAdminRequired)

	created, err := f.svc.CreateProduct(f.adminCtx, req)
	require.NoError(t, err)
	assert.Equal(t, 4, created.Stock)
	assert.True(t, created.Active)

	_, err = f.svc.CreateProduct(f.adminCtx, req)
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}
