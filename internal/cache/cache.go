package cache

import (
	"context"
	"time"

	"caixa/backend/internal/domain"
)

// ReportCache stores computed reconciliation reports. Invalidate drops every
// cached report at once; callers invoke it after any ledger write.
//
// Entries are addressed by a version taken once, before the report is read
// from the ledger. A report computed while an invalidation lands is written
// under the version it was read at and is never served again.
//
//go:generate mockgen -source=cache.go -destination=cache_mock.go -package=cache
type ReportCache interface {
	Version(ctx context.Context) (int64, error)
	Get(ctx context.Context, version int64, key string) (*domain.ReconciliationReport, bool, error)
	Set(ctx context.Context, version int64, key string, value *domain.ReconciliationReport, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopReportCache struct{}

func (NoopReportCache) Version(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopReportCache) Get(_ context.Context, _ int64, _ string) (*domain.ReconciliationReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ int64, _ string, _ *domain.ReconciliationReport, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context) error {
	return nil
}
