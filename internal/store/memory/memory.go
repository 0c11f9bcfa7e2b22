package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
	"caixa/backend/internal/xid"
)

// idempotencyKey scopes a client key to the operator that sent it.
type idempotencyKey struct {
	operatorID int64
	key        string
}

type Store struct {
	mu                  sync.RWMutex
	products            map[int64]domain.Product
	productsByBarcode   map[string]int64
	sales               map[int64]*domain.Sale
	salesByIdem         map[idempotencyKey]int64
	sessions            map[int64]domain.CashSession
	openSessionByOp     map[int64]int64
	operators           map[int64]domain.Operator
	operatorsByUsername map[string]int64
	auditLogs           []domain.AuditLog

	nextProductID  int64
	nextSaleID     int64
	nextLineID     int64
	nextPaymentID  int64
	nextSessionID  int64
	nextOperatorID int64
}

func New() *Store {
	return &Store{
		products:            make(map[int64]domain.Product),
		productsByBarcode:   make(map[string]int64),
		sales:               make(map[int64]*domain.Sale),
		salesByIdem:         make(map[idempotencyKey]int64),
		sessions:            make(map[int64]domain.CashSession),
		openSessionByOp:     make(map[int64]int64),
		operators:           make(map[int64]domain.Operator),
		operatorsByUsername: make(map[string]int64),
		auditLogs:           make([]domain.AuditLog, 0, 128),
	}
}

// NewSeeded returns a store with a demo catalog and two operators for dev mode.
// Passwords come from SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()

	products := []domain.Product{
		{Barcode: "7891000100103", Name: "Cafe Torrado 500g", Category: "mercearia", SalePrice: decimal.RequireFromString("18.90"), CostPrice: decimal.RequireFromString("12.40"), Stock: 40, MinStock: 5},
		{Barcode: "7891910000197", Name: "Acucar Refinado 1kg", Category: "mercearia", SalePrice: decimal.RequireFromString("5.49"), CostPrice: decimal.RequireFromString("3.80"), Stock: 60, MinStock: 10},
		{Barcode: "7896004000015", Name: "Leite Integral 1L", Category: "laticinios", SalePrice: decimal.RequireFromString("4.99"), CostPrice: decimal.RequireFromString("3.60"), Stock: 80, MinStock: 12},
		{Barcode: "7891150037786", Name: "Sabonete 90g", Category: "higiene", SalePrice: decimal.RequireFromString("2.75"), CostPrice: decimal.RequireFromString("1.50"), Stock: 100, MinStock: 20},
		{Barcode: "7894900011517", Name: "Refrigerante 2L", Category: "bebidas", SalePrice: decimal.RequireFromString("9.99"), CostPrice: decimal.RequireFromString("6.20"), Stock: 30, MinStock: 6},
		{Barcode: "7896102000115", Name: "Pao de Forma", Category: "padaria", SalePrice: decimal.RequireFromString("8.50"), CostPrice: decimal.RequireFromString("5.10"), Stock: 4, MinStock: 5},
	}
	for _, p := range products {
		p.Active = true
		_, _ = s.CreateProduct(context.Background(), p)
	}

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	operatorPwd := envOr("SEED_OPERATOR_PASSWORD", "caixa123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OPERATOR_PASSWORD") == "" {
		logger.Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD to override")
	}
	for _, u := range []struct {
		username string
		name     string
		password string
		role     string
	}{
		{"admin", "Administrador", adminPwd, domain.RoleAdmin},
		{"caixa1", "Caixa 1", operatorPwd, domain.RoleOperator},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		_, _ = s.CreateOperator(context.Background(), domain.Operator{
			Username:     u.username,
			Name:         u.name,
			PasswordHash: string(hash),
			Role:         u.role,
			Active:       true,
		})
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Active {
			products = append(products, p)
		}
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ProductNotFound(id)
	}
	return &p, nil
}

func (s *Store) FindProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.productsByBarcode[barcode]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	p := s.products[id]
	return &p, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Barcode == "" || product.Name == "" || product.Stock < 0 || !product.SalePrice.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productsByBarcode[product.Barcode]; exists {
		return nil, store.InvalidInput("barcode %s already registered", product.Barcode)
	}
	s.nextProductID++
	product.ID = s.nextProductID
	s.products[product.ID] = product
	s.productsByBarcode[product.Barcode] = product.ID
	return &product, nil
}

func (s *Store) CatalogSummary(_ context.Context) (domain.CatalogSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summary domain.CatalogSummary
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		summary.ActiveProducts++
		if p.Stock <= p.MinStock {
			summary.LowStock++
		}
	}
	return summary, nil
}

// SettleSale validates every line and payment against a working copy of stock
// and only mutates state once the whole sale is known to be valid.
func (s *Store) SettleSale(_ context.Context, draft domain.SaleDraft) (*domain.Sale, error) {
	if len(draft.Lines) == 0 {
		return nil, store.ErrEmptyCart
	}
	if len(draft.Payments) == 0 {
		return nil, store.ErrNoPayment
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, open := s.openSessionByOp[draft.OperatorID]; !open {
		return nil, store.ErrSessionClosed
	}
	if draft.IdempotencyKey != "" {
		if _, exists := s.salesByIdem[idempotencyKey{draft.OperatorID, draft.IdempotencyKey}]; exists {
			return nil, store.ErrIdempotencyReplay
		}
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now().UTC()
	}

	remaining := make(map[int64]int, len(draft.Lines))
	lines := make([]domain.SaleLine, 0, len(draft.Lines))
	total := decimal.Zero
	for _, item := range draft.Lines {
		if item.Quantity < 1 {
			return nil, store.InvalidInput("quantity must be positive for product %d", item.ProductID)
		}
		product, ok := s.products[item.ProductID]
		if !ok || !product.Active {
			return nil, store.ProductNotFound(item.ProductID)
		}
		available, seen := remaining[product.ID]
		if !seen {
			available = product.Stock
		}
		if available < item.Quantity {
			return nil, store.InsufficientStock(product.ID, product.Name, available, item.Quantity)
		}
		remaining[product.ID] = available - item.Quantity

		line := domain.SaleLine{ProductID: product.ID, Quantity: item.Quantity, UnitPrice: product.SalePrice}
		total = total.Add(line.Subtotal())
		lines = append(lines, line)
	}

	payments := make([]domain.Payment, 0, len(draft.Payments))
	paid := decimal.Zero
	for _, p := range draft.Payments {
		if !p.Method.Valid() {
			return nil, store.InvalidPaymentMethod(string(p.Method))
		}
		if !p.Amount.IsPositive() || !domain.WholeCents(p.Amount) {
			return nil, store.InvalidInput("payment amount must be positive with at most two decimal places")
		}
		if p.PaidAt.IsZero() {
			p.PaidAt = draft.CreatedAt
		}
		paid = paid.Add(p.Amount)
		payments = append(payments, p)
	}
	if !domain.PaymentCovers(total, paid) {
		return nil, store.InsufficientPayment(total, paid)
	}

	for productID, qty := range remaining {
		product := s.products[productID]
		product.Stock = qty
		s.products[productID] = product
	}

	s.nextSaleID++
	sale := &domain.Sale{
		ID:             s.nextSaleID,
		Number:         domain.SaleNumber(s.nextSaleID),
		OperatorID:     draft.OperatorID,
		Status:         domain.SaleStatusFinalized,
		IdempotencyKey: draft.IdempotencyKey,
		CreatedAt:      draft.CreatedAt,
	}
	for _, line := range lines {
		s.nextLineID++
		line.ID = s.nextLineID
		line.SaleID = sale.ID
		sale.Lines = append(sale.Lines, line)
	}
	for _, payment := range payments {
		s.nextPaymentID++
		payment.ID = s.nextPaymentID
		payment.SaleID = sale.ID
		sale.Payments = append(sale.Payments, payment)
	}
	s.sales[sale.ID] = sale
	if sale.IdempotencyKey != "" {
		s.salesByIdem[idempotencyKey{sale.OperatorID, sale.IdempotencyKey}] = sale.ID
	}

	return cloneSale(sale), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, operatorID int64, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByIdem[idempotencyKey{operatorID, key}]
	if !ok {
		return nil, store.ErrSaleNotFound
	}
	return cloneSale(s.sales[id]), nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrSaleNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) CancelSale(_ context.Context, id int64, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrSaleNotFound
	}
	if sale.IsCancelled() {
		return nil, store.ErrAlreadyCancelled
	}

	for _, line := range sale.Lines {
		product, exists := s.products[line.ProductID]
		if !exists {
			continue
		}
		product.Stock += line.Quantity
		s.products[line.ProductID] = product
	}
	sale.Status = domain.SaleStatusCancelled
	cancelledAt := at
	sale.CancelledAt = &cancelledAt

	return cloneSale(sale), nil
}

func (s *Store) CorrectPaymentMethod(_ context.Context, saleID int64, method domain.PaymentMethod) (*domain.PaymentCorrection, error) {
	if !method.Valid() {
		return nil, store.InvalidPaymentMethod(string(method))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return nil, store.ErrSaleNotFound
	}
	if sale.IsCancelled() {
		return nil, store.ErrSaleCancelled
	}
	if len(sale.Payments) != 1 {
		return nil, store.MultiplePaymentsPresent(len(sale.Payments))
	}

	payment := &sale.Payments[0]
	correction := &domain.PaymentCorrection{
		SaleID:     sale.ID,
		SaleNumber: sale.Number,
		PaymentID:  payment.ID,
		OldMethod:  payment.Method,
		NewMethod:  method,
		OldAmount:  payment.Amount,
	}
	payment.Amount = domain.CorrectedAmount(payment.Method, payment.Amount, sale.Total())
	payment.Method = method
	correction.NewAmount = payment.Amount

	return correction, nil
}

func (s *Store) OpenCashSession(_ context.Context, session domain.CashSession) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, open := s.openSessionByOp[session.OperatorID]; open {
		return nil, store.ErrSessionAlreadyOpen
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	s.nextSessionID++
	session.ID = s.nextSessionID
	session.Status = domain.SessionStatusOpen
	session.ClosedAt = nil
	session.ClosingBalance = nil

	s.sessions[session.ID] = session
	s.openSessionByOp[session.OperatorID] = session.ID
	return &session, nil
}

func (s *Store) CloseCashSession(_ context.Context, operatorID int64, closingBalance decimal.Decimal, closedAt time.Time) (*store.SessionClose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID, open := s.openSessionByOp[operatorID]
	if !open {
		return nil, store.ErrNoOpenSession
	}
	session := s.sessions[sessionID]

	cash := decimal.Zero
	for _, row := range s.sumPaymentsLocked(domain.PaymentWindow{OperatorID: operatorID, From: session.OpenedAt, To: closedAt}) {
		if row.Method == domain.MethodCash {
			cash = row.Total
		}
	}

	at := closedAt
	balance := closingBalance
	session.Status = domain.SessionStatusClosed
	session.ClosedAt = &at
	session.ClosingBalance = &balance
	s.sessions[sessionID] = session
	delete(s.openSessionByOp, operatorID)

	return &store.SessionClose{Session: session, CashCollected: cash}, nil
}

func (s *Store) GetOpenCashSession(_ context.Context, operatorID int64) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionID, open := s.openSessionByOp[operatorID]
	if !open {
		return nil, store.ErrNoOpenSession
	}
	session := s.sessions[sessionID]
	return &session, nil
}

func (s *Store) GetLatestCashSession(_ context.Context, operatorID int64) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.CashSession
	for _, session := range s.sessions {
		if session.OperatorID != operatorID {
			continue
		}
		if latest == nil || session.OpenedAt.After(latest.OpenedAt) ||
			(session.OpenedAt.Equal(latest.OpenedAt) && session.ID > latest.ID) {
			candidate := session
			latest = &candidate
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (s *Store) ListOpenSessionsBefore(_ context.Context, before time.Time) ([]domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashSession, 0, 4)
	for _, sessionID := range s.openSessionByOp {
		session := s.sessions[sessionID]
		if session.OpenedAt.Before(before) {
			result = append(result, session)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAt.After(result[j].OpenedAt)
	})
	return result, nil
}

func (s *Store) SumPaymentsByMethod(_ context.Context, window domain.PaymentWindow) ([]domain.MethodTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sumPaymentsLocked(window), nil
}

// sumPaymentsLocked totals payments of finalized sales by window.OperatorID
// whose PaidAt falls in the closed interval [From, To].
func (s *Store) sumPaymentsLocked(window domain.PaymentWindow) []domain.MethodTotal {
	totals := make(map[domain.PaymentMethod]*domain.MethodTotal)
	for _, sale := range s.sales {
		if sale.OperatorID != window.OperatorID || sale.Status != domain.SaleStatusFinalized {
			continue
		}
		for _, p := range sale.Payments {
			if p.PaidAt.Before(window.From) || p.PaidAt.After(window.To) {
				continue
			}
			row, ok := totals[p.Method]
			if !ok {
				row = &domain.MethodTotal{Method: p.Method}
				totals[p.Method] = row
			}
			row.Total = row.Total.Add(p.Amount)
			row.Count++
		}
	}
	return sortedMethodTotals(totals)
}

func (s *Store) CountFinalizedSales(_ context.Context, window domain.PaymentWindow) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, sale := range s.sales {
		if sale.OperatorID != window.OperatorID || sale.Status != domain.SaleStatusFinalized {
			continue
		}
		if sale.CreatedAt.Before(window.From) || sale.CreatedAt.After(window.To) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Store) GetReportData(_ context.Context, filter domain.ReportFilter) (domain.ReportData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inRange := func(t time.Time) bool {
		return !t.Before(filter.From) && t.Before(filter.To)
	}
	operatorMatches := func(sale *domain.Sale) bool {
		return filter.OperatorID == 0 || sale.OperatorID == filter.OperatorID
	}

	data := domain.ReportData{Revenue: decimal.Zero}
	byMethod := make(map[domain.PaymentMethod]*domain.MethodTotal)
	type opKey struct {
		operatorID int64
		method     domain.PaymentMethod
	}
	byOperator := make(map[opKey]decimal.Decimal)
	type productAgg struct {
		qty     int64
		revenue decimal.Decimal
	}
	byProduct := make(map[int64]*productAgg)

	for _, sale := range s.sales {
		if sale.Status != domain.SaleStatusFinalized || !operatorMatches(sale) {
			continue
		}

		for _, p := range sale.Payments {
			if inRange(p.PaidAt) {
				key := opKey{operatorID: sale.OperatorID, method: p.Method}
				byOperator[key] = byOperator[key].Add(p.Amount)
			}
		}

		if !inRange(sale.CreatedAt) {
			continue
		}
		data.Revenue = data.Revenue.Add(sale.Total())
		data.SaleCount++

		hasMethod := filter.Method == ""
		for _, p := range sale.Payments {
			if filter.Method != "" && p.Method != filter.Method {
				continue
			}
			hasMethod = true
			row, ok := byMethod[p.Method]
			if !ok {
				row = &domain.MethodTotal{Method: p.Method}
				byMethod[p.Method] = row
			}
			row.Total = row.Total.Add(p.Amount)
			row.Count++
		}
		if !hasMethod {
			continue
		}
		for _, line := range sale.Lines {
			agg, ok := byProduct[line.ProductID]
			if !ok {
				agg = &productAgg{}
				byProduct[line.ProductID] = agg
			}
			agg.qty += int64(line.Quantity)
			agg.revenue = agg.revenue.Add(line.Subtotal())
		}
	}

	data.ByMethod = sortedMethodTotals(byMethod)

	for key, total := range byOperator {
		data.OperatorMethod = append(data.OperatorMethod, domain.OperatorMethodTotal{
			OperatorID:   key.operatorID,
			OperatorName: s.operators[key.operatorID].Name,
			Method:       key.method,
			Total:        total,
		})
	}
	sort.Slice(data.OperatorMethod, func(i, j int) bool {
		a, b := data.OperatorMethod[i], data.OperatorMethod[j]
		if a.OperatorName != b.OperatorName {
			return a.OperatorName < b.OperatorName
		}
		return a.Method < b.Method
	})

	for productID, agg := range byProduct {
		product := s.products[productID]
		data.BestSellers = append(data.BestSellers, domain.ProductSales{
			ProductID: productID,
			Barcode:   product.Barcode,
			Name:      product.Name,
			Quantity:  agg.qty,
			Revenue:   agg.revenue,
		})
	}
	sort.Slice(data.BestSellers, func(i, j int) bool {
		a, b := data.BestSellers[i], data.BestSellers[j]
		if a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		return a.ProductID < b.ProductID
	})
	limit := filter.TopN
	if limit < 1 {
		limit = domain.DefaultBestSellerLimit
	}
	if len(data.BestSellers) > limit {
		data.BestSellers = data.BestSellers[:limit]
	}

	return data, nil
}

func (s *Store) CreateOperator(_ context.Context, operator domain.Operator) (*domain.Operator, error) {
	username := strings.ToLower(strings.TrimSpace(operator.Username))
	if username == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.operatorsByUsername[username]; exists {
		return nil, store.InvalidInput("username %s already exists", username)
	}
	s.nextOperatorID++
	operator.ID = s.nextOperatorID
	operator.Username = username
	if operator.CreatedAt.IsZero() {
		operator.CreatedAt = time.Now().UTC()
	}
	s.operators[operator.ID] = operator
	s.operatorsByUsername[username] = operator.ID
	return &operator, nil
}

func (s *Store) GetOperatorByUsername(_ context.Context, username string) (*domain.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.operatorsByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	operator := s.operators[id]
	return &operator, nil
}

func (s *Store) ListOperators(_ context.Context) ([]domain.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Operator, 0, len(s.operators))
	for _, operator := range s.operators {
		result = append(result, operator)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name == result[j].Name {
			return result[i].ID < result[j].ID
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

// SetStock overwrites a product's stock counter. Test helper for fixtures.
func (s *Store) SetStock(productID int64, qty int) error {
	if qty < 0 {
		return fmt.Errorf("stock cannot be negative: %d", qty)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return store.ProductNotFound(productID)
	}
	product.Stock = qty
	s.products[productID] = product
	return nil
}

// RecordLegacyPayment appends a payment with an arbitrary method to an
// existing sale, the way rows imported from older versions look.
func (s *Store) RecordLegacyPayment(saleID int64, method string, amount decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return store.ErrSaleNotFound
	}
	s.nextPaymentID++
	sale.Payments = append(sale.Payments, domain.Payment{
		ID:     s.nextPaymentID,
		SaleID: saleID,
		Method: domain.PaymentMethod(method),
		Amount: amount,
		PaidAt: at,
	})
	return nil
}

func sortedMethodTotals(totals map[domain.PaymentMethod]*domain.MethodTotal) []domain.MethodTotal {
	result := make([]domain.MethodTotal, 0, len(totals))
	for _, row := range totals {
		result = append(result, *row)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Method < result[j].Method
	})
	return result
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Lines = append([]domain.SaleLine(nil), src.Lines...)
	dst.Payments = append([]domain.Payment(nil), src.Payments...)
	if src.CancelledAt != nil {
		at := *src.CancelledAt
		dst.CancelledAt = &at
	}
	return &dst
}
