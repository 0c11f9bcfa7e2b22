package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

// LookupProduct resolves a scanned code for the register: barcode first, then
// numeric id. The operator must be working an open session.
func (s *Service) LookupProduct(ctx context.Context, operatorID int64, code string) (domain.Product, error) {
	if _, err := s.repo.GetOpenCashSession(ctx, operatorID); err != nil {
		if errors.Is(err, store.ErrNoOpenSession) {
			return domain.Product{}, store.ErrSessionClosed
		}
		return domain.Product{}, err
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Product{}, store.InvalidInput("product code is required")
	}

	product, err := s.repo.FindProductByBarcode(ctx, code)
	if err == nil {
		if !product.Active {
			return domain.Product{}, store.ErrProductNotFound
		}
		return *product, nil
	}
	if !errors.Is(err, store.ErrProductNotFound) {
		return domain.Product{}, err
	}

	id, convErr := strconv.ParseInt(code, 10, 64)
	if convErr != nil || id < 1 {
		return domain.Product{}, err
	}
	product, err = s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if !product.Active {
		return domain.Product{}, store.ProductNotFound(id)
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.Barcode = strings.TrimSpace(req.Barcode)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Barcode == "" || req.Name == "" {
		return domain.Product{}, store.InvalidInput("barcode and name are required")
	}
	if !req.SalePrice.IsPositive() || req.CostPrice.IsNegative() {
		return domain.Product{}, store.InvalidInput("sale price must be positive and cost price not negative")
	}
	if !domain.WholeCents(req.SalePrice) || !domain.WholeCents(req.CostPrice) {
		return domain.Product{}, store.InvalidInput("prices cannot have more than two decimal places")
	}
	if req.InitialStock < 0 || req.MinStock < 0 {
		return domain.Product{}, store.InvalidInput("stock values cannot be negative")
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Barcode:   req.Barcode,
		Name:      req.Name,
		Category:  req.Category,
		SalePrice: req.SalePrice,
		CostPrice: req.CostPrice,
		Stock:     req.InitialStock,
		MinStock:  req.MinStock,
		Active:    true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", strconv.FormatInt(created.ID, 10),
		fmt.Sprintf("barcode=%s,price=%s,stock=%d", created.Barcode, created.SalePrice.StringFixed(2), created.Stock))
	return *created, nil
}
