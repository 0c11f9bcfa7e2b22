package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
)

const (
	defaultReportDays = 7
	maxBestSellers    = 100
)

// ReconciliationReport aggregates finalized sales for the filter. Results are
// exact; cached copies are keyed by the normalised filter.
func (s *Service) ReconciliationReport(ctx context.Context, filter domain.ReportFilter) (domain.ReconciliationReport, error) {
	filter, err := s.normalizeFilter(filter)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}

	key := reportKey(filter)
	version, err := s.reports.Version(ctx)
	cacheable := err == nil
	if err != nil {
		s.logger.Warn("report cache version read failed", zap.Error(err))
	}
	if cacheable {
		cached, hit, err := s.reports.Get(ctx, version, key)
		if err != nil {
			s.logger.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
		} else if hit && cached != nil {
			return *cached, nil
		}
	}

	data, err := s.repo.GetReportData(ctx, filter)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}
	report := domain.BuildReport(filter, data)

	if cacheable {
		if err := s.reports.Set(ctx, version, key, &report, s.reportTTL); err != nil {
			s.logger.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return report, nil
}

func (s *Service) normalizeFilter(filter domain.ReportFilter) (domain.ReportFilter, error) {
	today := domain.LocalMidnight(s.now(), s.location)
	if filter.To.IsZero() {
		filter.To = today.AddDate(0, 0, 1)
	}
	if filter.From.IsZero() {
		filter.From = filter.To.AddDate(0, 0, -defaultReportDays)
	}
	if !filter.From.Before(filter.To) {
		return filter, store.InvalidInput("report range start must be before its end")
	}
	if filter.OperatorID < 0 {
		return filter, store.InvalidInput("operator id cannot be negative")
	}
	if filter.Method != "" {
		method, ok := domain.ParsePaymentMethod(string(filter.Method))
		if !ok {
			return filter, store.InvalidPaymentMethod(string(filter.Method))
		}
		filter.Method = method
	}
	if filter.TopN < 1 {
		filter.TopN = domain.DefaultBestSellerLimit
	}
	if filter.TopN > maxBestSellers {
		filter.TopN = maxBestSellers
	}
	return filter, nil
}

func reportKey(filter domain.ReportFilter) string {
	return strings.Join([]string{
		fmt.Sprint(filter.From.UTC().Unix()),
		fmt.Sprint(filter.To.UTC().Unix()),
		fmt.Sprint(filter.OperatorID),
		string(filter.Method),
		fmt.Sprint(filter.TopN),
	}, ":")
}

// Dashboard is the admin landing view: today's takings, catalog health and
// who is working a register.
func (s *Service) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	today := domain.LocalMidnight(s.now(), s.location)

	data, err := s.repo.GetReportData(ctx, domain.ReportFilter{
		From: today,
		To:   today.AddDate(0, 0, 1),
		TopN: 1,
	})
	if err != nil {
		return domain.Dashboard{}, err
	}
	catalog, err := s.repo.CatalogSummary(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}
	sessions, err := s.SessionsOverview(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}

	return domain.Dashboard{
		Date:         today.Format("2006-01-02"),
		TodayRevenue: data.Revenue,
		TodaySales:   data.SaleCount,
		Catalog:      catalog,
		Sessions:     sessions,
	}, nil
}
