package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
	"caixa/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection pool.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

const productColumns = `id, barcode, name, category, sale_price, cost_price, stock, min_stock, active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Barcode, &p.Name, &p.Category, &p.SalePrice, &p.CostPrice, &p.Stock, &p.MinStock, &p.Active)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, storage(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, storage(err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storage(err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ProductNotFound(id)
		}
		return nil, storage(err)
	}
	return &p, nil
}

func (s *Store) FindProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE barcode = $1
	`, barcode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProductNotFound
		}
		return nil, storage(err)
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Barcode == "" || product.Name == "" || product.Stock < 0 || !product.SalePrice.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (barcode, name, category, sale_price, cost_price, stock, min_stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
		RETURNING id
	`, product.Barcode, product.Name, product.Category, product.SalePrice, product.CostPrice,
		product.Stock, product.MinStock, product.Active).Scan(&product.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.InvalidInput("barcode %s already registered", product.Barcode)
		}
		return nil, storage(err)
	}
	return &product, nil
}

func (s *Store) CatalogSummary(ctx context.Context) (domain.CatalogSummary, error) {
	var summary domain.CatalogSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE active),
			COUNT(*) FILTER (WHERE active AND stock <= min_stock)
		FROM products
	`).Scan(&summary.ActiveProducts, &summary.LowStock)
	if err != nil {
		return summary, storage(err)
	}
	return summary, nil
}

// SettleSale persists a sale, its lines and payments and decrements stock in
// one transaction. Product rows are locked in id order before any check so
// concurrent sales of the same product queue on the lock and then see the
// committed stock; the conditional decrement still refuses to go negative.
// A key already used by the same operator returns ErrIdempotencyReplay.
func (s *Store) SettleSale(ctx context.Context, draft domain.SaleDraft) (*domain.Sale, error) {
	if len(draft.Lines) == 0 {
		return nil, store.ErrEmptyCart
	}
	if len(draft.Payments) == 0 {
		return nil, store.ErrNoPayment
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, storage(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	var sessionID int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT id
		FROM cash_sessions
		WHERE operator_id = $1 AND status = 'open'
		FOR SHARE
	`, draft.OperatorID).Scan(&sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSessionClosed
		}
		return nil, storage(err)
	}

	ids := uniqueProductIDs(draft.Lines)
	productRows, err := pgTx.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, storage(err)
	}
	productMap := make(map[int64]domain.Product, len(ids))
	for productRows.Next() {
		p, err := scanProduct(productRows)
		if err != nil {
			_ = productRows.Close()
			return nil, storage(err)
		}
		productMap[p.ID] = p
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return nil, storage(err)
	}
	_ = productRows.Close()

	remaining := make(map[int64]int, len(ids))
	requested := make(map[int64]int, len(ids))
	lines := make([]domain.SaleLine, 0, len(draft.Lines))
	total := decimal.Zero
	for _, item := range draft.Lines {
		if item.Quantity < 1 {
			return nil, store.InvalidInput("quantity must be positive for product %d", item.ProductID)
		}
		product, exists := productMap[item.ProductID]
		if !exists || !product.Active {
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
		requested[product.ID] += item.Quantity

		line := domain.SaleLine{ProductID: product.ID, Quantity: item.Quantity, UnitPrice: product.SalePrice}
		total = total.Add(line.Subtotal())
		lines = append(lines, line)
	}

	paid := decimal.Zero
	payments := make([]domain.Payment, 0, len(draft.Payments))
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

	for _, productID := range ids {
		qty := requested[productID]
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $1, updated_at = now()
			WHERE id = $2 AND stock >= $1
		`, qty, productID)
		if err != nil {
			return nil, storage(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, storage(err)
		}
		if affected == 0 {
			product := productMap[productID]
			return nil, store.InsufficientStock(productID, product.Name, product.Stock, qty)
		}
	}

	sale := &domain.Sale{
		OperatorID:     draft.OperatorID,
		Status:         domain.SaleStatusFinalized,
		IdempotencyKey: draft.IdempotencyKey,
		CreatedAt:      draft.CreatedAt,
	}
	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO sales (operator_id, status, idempotency_key, created_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, sale.OperatorID, sale.Status, nullIfEmpty(sale.IdempotencyKey), sale.CreatedAt).Scan(&sale.ID)
	if err != nil {
		if isUniqueViolation(err) && draft.IdempotencyKey != "" {
			return nil, store.ErrIdempotencyReplay
		}
		return nil, storage(err)
	}

	sale.Number = domain.SaleNumber(sale.ID)
	if _, err := pgTx.ExecContext(ctx, `UPDATE sales SET sale_number = id::text WHERE id = $1`, sale.ID); err != nil {
		return nil, storage(err)
	}

	for _, line := range lines {
		line.SaleID = sale.ID
		err := pgTx.QueryRowContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, quantity, unit_price)
			VALUES ($1,$2,$3,$4)
			RETURNING id
		`, line.SaleID, line.ProductID, line.Quantity, line.UnitPrice).Scan(&line.ID)
		if err != nil {
			return nil, storage(err)
		}
		sale.Lines = append(sale.Lines, line)
	}

	for _, payment := range payments {
		payment.SaleID = sale.ID
		err := pgTx.QueryRowContext(ctx, `
			INSERT INTO payments (sale_id, method, amount, paid_at)
			VALUES ($1,$2,$3,$4)
			RETURNING id
		`, payment.SaleID, string(payment.Method), payment.Amount, payment.PaidAt).Scan(&payment.ID)
		if err != nil {
			return nil, storage(err)
		}
		sale.Payments = append(sale.Payments, payment)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, storage(err)
	}
	return sale, nil
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, operatorID int64, key string) (*domain.Sale, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id
		FROM sales
		WHERE operator_id = $1 AND idempotency_key = $2
	`, operatorID, key).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSaleNotFound
		}
		return nil, storage(err)
	}
	return loadSale(ctx, s.db, id)
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return loadSale(ctx, s.db, id)
}

func loadSale(ctx context.Context, q queryer, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	var number, idempotencyKey sql.NullString
	var cancelledAt sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT id, sale_number, operator_id, status, idempotency_key, created_at, cancelled_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &number, &sale.OperatorID, &sale.Status, &idempotencyKey, &sale.CreatedAt, &cancelledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSaleNotFound
		}
		return nil, storage(err)
	}
	sale.Number = number.String
	if sale.Number == "" {
		sale.Number = domain.SaleNumber(sale.ID)
	}
	sale.IdempotencyKey = idempotencyKey.String
	if cancelledAt.Valid {
		at := cancelledAt.Time
		sale.CancelledAt = &at
	}

	itemRows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, quantity, unit_price
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, storage(err)
	}
	for itemRows.Next() {
		var line domain.SaleLine
		if err := itemRows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.Quantity, &line.UnitPrice); err != nil {
			_ = itemRows.Close()
			return nil, storage(err)
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, storage(err)
	}
	_ = itemRows.Close()

	paymentRows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, method, amount, paid_at
		FROM payments
		WHERE sale_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, storage(err)
	}
	defer paymentRows.Close()
	for paymentRows.Next() {
		var payment domain.Payment
		var method string
		if err := paymentRows.Scan(&payment.ID, &payment.SaleID, &method, &payment.Amount, &payment.PaidAt); err != nil {
			return nil, storage(err)
		}
		payment.Method = domain.PaymentMethod(method)
		sale.Payments = append(sale.Payments, payment)
	}
	if err := paymentRows.Err(); err != nil {
		return nil, storage(err)
	}

	return &sale, nil
}

// CancelSale flips a finalized sale to cancelled and returns every line's
// quantity to stock. Payments are kept.
func (s *Store) CancelSale(ctx context.Context, id int64, at time.Time) (*domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, storage(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSaleNotFound
		}
		return nil, storage(err)
	}
	if status == domain.SaleStatusCancelled {
		return nil, store.ErrAlreadyCancelled
	}

	// same lock order as SettleSale
	_, err = pgTx.ExecContext(ctx, `
		SELECT id
		FROM products
		WHERE id IN (SELECT product_id FROM sale_items WHERE sale_id = $1)
		ORDER BY id
		FOR UPDATE
	`, id)
	if err != nil {
		return nil, storage(err)
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE products p
		SET stock = p.stock + i.qty, updated_at = now()
		FROM (
			SELECT product_id, SUM(quantity) AS qty
			FROM sale_items
			WHERE sale_id = $1
			GROUP BY product_id
		) i
		WHERE p.id = i.product_id
	`, id)
	if err != nil {
		return nil, storage(err)
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, cancelled_at = $3
		WHERE id = $1
	`, id, domain.SaleStatusCancelled, at)
	if err != nil {
		return nil, storage(err)
	}

	sale, err := loadSale(ctx, pgTx, id)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, storage(err)
	}
	return sale, nil
}

func (s *Store) CorrectPaymentMethod(ctx context.Context, saleID int64, method domain.PaymentMethod) (*domain.PaymentCorrection, error) {
	if !method.Valid() {
		return nil, store.InvalidPaymentMethod(string(method))
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, storage(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	var number sql.NullString
	err = pgTx.QueryRowContext(ctx, `
		SELECT status, sale_number
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, saleID).Scan(&status, &number)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSaleNotFound
		}
		return nil, storage(err)
	}
	if status == domain.SaleStatusCancelled {
		return nil, store.ErrSaleCancelled
	}

	rows, err := pgTx.QueryContext(ctx, `
		SELECT id, method, amount
		FROM payments
		WHERE sale_id = $1
		ORDER BY id
		FOR UPDATE
	`, saleID)
	if err != nil {
		return nil, storage(err)
	}
	payments := make([]domain.Payment, 0, 2)
	for rows.Next() {
		var p domain.Payment
		var m string
		if err := rows.Scan(&p.ID, &m, &p.Amount); err != nil {
			_ = rows.Close()
			return nil, storage(err)
		}
		p.Method = domain.PaymentMethod(m)
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, storage(err)
	}
	_ = rows.Close()
	if len(payments) != 1 {
		return nil, store.MultiplePaymentsPresent(len(payments))
	}

	var total decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity * unit_price), 0)
		FROM sale_items
		WHERE sale_id = $1
	`, saleID).Scan(&total)
	if err != nil {
		return nil, storage(err)
	}

	payment := payments[0]
	correction := &domain.PaymentCorrection{
		SaleID:     saleID,
		SaleNumber: number.String,
		PaymentID:  payment.ID,
		OldMethod:  payment.Method,
		NewMethod:  method,
		OldAmount:  payment.Amount,
		NewAmount:  domain.CorrectedAmount(payment.Method, payment.Amount, total),
	}
	if correction.SaleNumber == "" {
		correction.SaleNumber = domain.SaleNumber(saleID)
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE payments
		SET method = $2, amount = $3
		WHERE id = $1
	`, payment.ID, string(method), correction.NewAmount)
	if err != nil {
		return nil, storage(err)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, storage(err)
	}
	return correction, nil
}

const sessionColumns = `id, operator_id, opened_at, opening_balance, status, closed_at, closing_balance`

func scanSession(row rowScanner) (domain.CashSession, error) {
	var session domain.CashSession
	var closedAt sql.NullTime
	var closing decimal.NullDecimal
	if err := row.Scan(&session.ID, &session.OperatorID, &session.OpenedAt, &session.OpeningBalance,
		&session.Status, &closedAt, &closing); err != nil {
		return session, err
	}
	if closedAt.Valid {
		at := closedAt.Time
		session.ClosedAt = &at
	}
	if closing.Valid {
		balance := closing.Decimal
		session.ClosingBalance = &balance
	}
	return session, nil
}

// OpenCashSession checks for an open session and inserts the new one in the
// same transaction. The partial unique index catches a concurrent opener.
func (s *Store) OpenCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusOpen
	session.ClosedAt = nil
	session.ClosingBalance = nil

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, storage(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	var alreadyOpen bool
	if err := pgTx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM cash_sessions WHERE operator_id = $1 AND status = 'open'
		)
	`, session.OperatorID).Scan(&alreadyOpen); err != nil {
		return nil, storage(err)
	}
	if alreadyOpen {
		return nil, store.ErrSessionAlreadyOpen
	}

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO cash_sessions (operator_id, opened_at, opening_balance, status)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, session.OperatorID, session.OpenedAt, session.OpeningBalance, session.Status).Scan(&session.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrSessionAlreadyOpen
		}
		return nil, storage(err)
	}
	if err := pgTx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrSessionAlreadyOpen
		}
		return nil, storage(err)
	}
	return &session, nil
}

// CloseCashSession locks the operator's open session, totals the cash taken
// inside [opened_at, closedAt] and closes it in the same transaction.
func (s *Store) CloseCashSession(ctx context.Context, operatorID int64, closingBalance decimal.Decimal, closedAt time.Time) (*store.SessionClose, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, storage(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	session, err := scanSession(pgTx.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE operator_id = $1 AND status = 'open'
		FOR UPDATE
	`, operatorID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoOpenSession
		}
		return nil, storage(err)
	}

	var cash decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(p.amount), 0)
		FROM payments p
		JOIN sales s ON s.id = p.sale_id
		WHERE s.operator_id = $1
			AND s.status = 'finalized'
			AND p.method = 'cash'
			AND p.paid_at >= $2
			AND p.paid_at <= $3
	`, operatorID, session.OpenedAt, closedAt).Scan(&cash)
	if err != nil {
		return nil, storage(err)
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE cash_sessions
		SET status = $2, closed_at = $3, closing_balance = $4
		WHERE id = $1
	`, session.ID, domain.SessionStatusClosed, closedAt, closingBalance)
	if err != nil {
		return nil, storage(err)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, storage(err)
	}

	at := closedAt
	balance := closingBalance
	session.Status = domain.SessionStatusClosed
	session.ClosedAt = &at
	session.ClosingBalance = &balance
	return &store.SessionClose{Session: session, CashCollected: cash}, nil
}

func (s *Store) GetOpenCashSession(ctx context.Context, operatorID int64) (*domain.CashSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE operator_id = $1 AND status = 'open'
	`, operatorID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoOpenSession
		}
		return nil, storage(err)
	}
	return &session, nil
}

func (s *Store) GetLatestCashSession(ctx context.Context, operatorID int64) (*domain.CashSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE operator_id = $1
		ORDER BY opened_at DESC, id DESC
		LIMIT 1
	`, operatorID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storage(err)
	}
	return &session, nil
}

func (s *Store) ListOpenSessionsBefore(ctx context.Context, before time.Time) ([]domain.CashSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE status = 'open' AND opened_at < $1
		ORDER BY opened_at DESC
	`, before)
	if err != nil {
		return nil, storage(err)
	}
	defer rows.Close()

	sessions := make([]domain.CashSession, 0, 4)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, storage(err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, storage(err)
	}
	return sessions, nil
}

func (s *Store) SumPaymentsByMethod(ctx context.Context, window domain.PaymentWindow) ([]domain.MethodTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.method, COALESCE(SUM(p.amount), 0), COUNT(*)
		FROM payments p
		JOIN sales s ON s.id = p.sale_id
		WHERE s.operator_id = $1
			AND s.status = 'finalized'
			AND p.paid_at >= $2
			AND p.paid_at <= $3
		GROUP BY p.method
		ORDER BY p.method
	`, window.OperatorID, window.From, window.To)
	if err != nil {
		return nil, storage(err)
	}
	return scanMethodTotals(rows)
}

func scanMethodTotals(rows *sql.Rows) ([]domain.MethodTotal, error) {
	defer rows.Close()

	totals := make([]domain.MethodTotal, 0, 4)
	for rows.Next() {
		var row domain.MethodTotal
		var method string
		if err := rows.Scan(&method, &row.Total, &row.Count); err != nil {
			return nil, storage(err)
		}
		row.Method = domain.PaymentMethod(method)
		totals = append(totals, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storage(err)
	}
	return totals, nil
}

func (s *Store) CountFinalizedSales(ctx context.Context, window domain.PaymentWindow) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM sales
		WHERE operator_id = $1
			AND status = 'finalized'
			AND created_at >= $2
			AND created_at <= $3
	`, window.OperatorID, window.From, window.To).Scan(&count)
	if err != nil {
		return 0, storage(err)
	}
	return count, nil
}

// GetReportData runs the report aggregates in a read-only snapshot. Revenue,
// method totals and best sellers select sales by creation date; operator
// receipts select payments by payment date.
func (s *Store) GetReportData(ctx context.Context, filter domain.ReportFilter) (domain.ReportData, error) {
	data := domain.ReportData{Revenue: decimal.Zero}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return data, storage(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	method := string(filter.Method)
	limit := filter.TopN
	if limit < 1 {
		limit = domain.DefaultBestSellerLimit
	}

	err = pgTx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(t.total), 0)
		FROM (
			SELECT s.id, COALESCE(SUM(i.quantity * i.unit_price), 0) AS total
			FROM sales s
			LEFT JOIN sale_items i ON i.sale_id = s.id
			WHERE s.status = 'finalized'
				AND s.created_at >= $1
				AND s.created_at < $2
				AND ($3::bigint = 0 OR s.operator_id = $3)
			GROUP BY s.id
		) t
	`, filter.From, filter.To, filter.OperatorID).Scan(&data.SaleCount, &data.Revenue)
	if err != nil {
		return data, storage(err)
	}

	methodRows, err := pgTx.QueryContext(ctx, `
		SELECT p.method, COALESCE(SUM(p.amount), 0), COUNT(*)
		FROM payments p
		JOIN sales s ON s.id = p.sale_id
		WHERE s.status = 'finalized'
			AND s.created_at >= $1
			AND s.created_at < $2
			AND ($3::bigint = 0 OR s.operator_id = $3)
			AND ($4 = '' OR p.method = $4)
		GROUP BY p.method
		ORDER BY p.method
	`, filter.From, filter.To, filter.OperatorID, method)
	if err != nil {
		return data, storage(err)
	}
	if data.ByMethod, err = scanMethodTotals(methodRows); err != nil {
		return data, err
	}

	receiptRows, err := pgTx.QueryContext(ctx, `
		SELECT s.operator_id, o.name, p.method, COALESCE(SUM(p.amount), 0)
		FROM payments p
		JOIN sales s ON s.id = p.sale_id
		JOIN operators o ON o.id = s.operator_id
		WHERE s.status = 'finalized'
			AND p.paid_at >= $1
			AND p.paid_at < $2
			AND ($3::bigint = 0 OR s.operator_id = $3)
		GROUP BY s.operator_id, o.name, p.method
		ORDER BY o.name, p.method
	`, filter.From, filter.To, filter.OperatorID)
	if err != nil {
		return data, storage(err)
	}
	for receiptRows.Next() {
		var row domain.OperatorMethodTotal
		var m string
		if err := receiptRows.Scan(&row.OperatorID, &row.OperatorName, &m, &row.Total); err != nil {
			_ = receiptRows.Close()
			return data, storage(err)
		}
		row.Method = domain.PaymentMethod(m)
		data.OperatorMethod = append(data.OperatorMethod, row)
	}
	if err := receiptRows.Err(); err != nil {
		_ = receiptRows.Close()
		return data, storage(err)
	}
	_ = receiptRows.Close()

	productRows, err := pgTx.QueryContext(ctx, `
		SELECT pr.id, pr.barcode, pr.name, SUM(i.quantity), SUM(i.quantity * i.unit_price)
		FROM sale_items i
		JOIN sales s ON s.id = i.sale_id
		JOIN products pr ON pr.id = i.product_id
		WHERE s.status = 'finalized'
			AND s.created_at >= $1
			AND s.created_at < $2
			AND ($3::bigint = 0 OR s.operator_id = $3)
			AND ($4 = '' OR EXISTS (
				SELECT 1 FROM payments p WHERE p.sale_id = s.id AND p.method = $4
			))
		GROUP BY pr.id, pr.barcode, pr.name
		ORDER BY SUM(i.quantity) DESC, pr.id
		LIMIT $5
	`, filter.From, filter.To, filter.OperatorID, method, limit)
	if err != nil {
		return data, storage(err)
	}
	defer productRows.Close()
	for productRows.Next() {
		var row domain.ProductSales
		if err := productRows.Scan(&row.ProductID, &row.Barcode, &row.Name, &row.Quantity, &row.Revenue); err != nil {
			return data, storage(err)
		}
		data.BestSellers = append(data.BestSellers, row)
	}
	if err := productRows.Err(); err != nil {
		return data, storage(err)
	}

	return data, nil
}

func (s *Store) CreateOperator(ctx context.Context, operator domain.Operator) (*domain.Operator, error) {
	operator.Username = strings.ToLower(strings.TrimSpace(operator.Username))
	if operator.Username == "" || operator.PasswordHash == "" {
		return nil, store.ErrInvalidInput
	}
	if operator.Role == "" {
		operator.Role = domain.RoleOperator
	}
	if operator.CreatedAt.IsZero() {
		operator.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO operators (username, name, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, operator.Username, operator.Name, operator.PasswordHash, operator.Role, operator.Active, operator.CreatedAt).Scan(&operator.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.InvalidInput("username %s already exists", operator.Username)
		}
		return nil, storage(err)
	}
	return &operator, nil
}

func (s *Store) GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	var operator domain.Operator
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, name, password_hash, role, active, created_at
		FROM operators
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(&operator.ID, &operator.Username, &operator.Name,
		&operator.PasswordHash, &operator.Role, &operator.Active, &operator.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storage(err)
	}
	return &operator, nil
}

func (s *Store) ListOperators(ctx context.Context) ([]domain.Operator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, name, password_hash, role, active, created_at
		FROM operators
		ORDER BY name, id
	`)
	if err != nil {
		return nil, storage(err)
	}
	defer rows.Close()

	operators := make([]domain.Operator, 0, 16)
	for rows.Next() {
		var operator domain.Operator
		if err := rows.Scan(&operator.ID, &operator.Username, &operator.Name, &operator.PasswordHash,
			&operator.Role, &operator.Active, &operator.CreatedAt); err != nil {
			return nil, storage(err)
		}
		operators = append(operators, operator)
	}
	if err := rows.Err(); err != nil {
		return nil, storage(err)
	}
	return operators, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, actor_username, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, nullIfZero(entry.ActorID), entry.ActorUsername, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return storage(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(actor_id, 0), actor_username, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, storage(err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.ActorUsername, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, storage(err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storage(err)
	}
	return logs, nil
}

func uniqueProductIDs(lines []domain.CartLine) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// storage wraps a driver error. Serialization failures and deadlocks abort
// the whole transaction and surface as ConcurrentUpdate.
func storage(err error) error {
	if isSerializationFailure(err) {
		return store.ConcurrentUpdate(err)
	}
	return store.Storage(err)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullIfZero(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
