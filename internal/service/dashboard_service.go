package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"payments-portal/internal/domain"
)

const (
	recentPendingLimit = 5
	summaryCacheKey    = "dashboard:summary"
)

// SummaryCache stores the computed dashboard between requests.
type SummaryCache interface {
	Get(ctx context.Context, key string) (*DashboardSummary, bool)
	Set(ctx context.Context, key string, value *DashboardSummary)
	Delete(ctx context.Context, key string)
}

type DashboardStats struct {
	PendingTransactions  int `json:"pending_transactions"`
	VerifiedTransactions int `json:"verified_transactions"`
	SubmittedToday       int `json:"submitted_today"`
}

// RecentTransaction is the reduced projection shown for recent pending items.
type RecentTransaction struct {
	ReferenceNumber string          `json:"reference_number"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	BeneficiaryName string          `json:"beneficiary_name"`
	CreatedAt       time.Time       `json:"created_at"`
}

type DashboardSummary struct {
	Stats         DashboardStats      `json:"stats"`
	RecentPending []RecentTransaction `json:"recent_pending"`
}

// DashboardService computes read-only rollups over the transaction store.
// Concurrent callers share one computation; a cache, when configured,
// serves repeats until its TTL lapses or a lifecycle change invalidates it.
type DashboardService struct {
	store    domain.UnitOfWork
	cache    SummaryCache
	inflight singleflight.Group
	logger   *slog.Logger
	now      func() time.Time
}

func NewDashboardService(store domain.UnitOfWork, cache SummaryCache, logger *slog.Logger) *DashboardService {
	return &DashboardService{
		store:  store,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

func (s *DashboardService) Summary(ctx context.Context) (*DashboardSummary, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, summaryCacheKey); ok {
			return cached, nil
		}
	}

	// The shared computation outlives any one caller's cancellation.
	detached := context.WithoutCancel(ctx)
	ch := s.inflight.DoChan(summaryCacheKey, func() (interface{}, error) {
		summary, err := s.compute(detached)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Set(detached, summaryCacheKey, summary)
		}
		return summary, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			s.logger.Error("Failed to compute dashboard", "error", res.Err)
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug("Dashboard computation shared")
		}
		return res.Val.(*DashboardSummary), nil
	}
}

// Invalidate drops the cached summary.
func (s *DashboardService) Invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Delete(ctx, summaryCacheKey)
	}
}

func (s *DashboardService) compute(ctx context.Context) (*DashboardSummary, error) {
	txs := s.store.Transactions()

	pending, err := txs.CountByStatus(ctx, domain.StatusPending)
	if err != nil {
		return nil, err
	}
	verified, err := txs.CountByStatus(ctx, domain.StatusVerified)
	if err != nil {
		return nil, err
	}
	submittedToday, err := txs.CountSubmittedSince(ctx, startOfDay(s.now()))
	if err != nil {
		return nil, err
	}

	recent, err := txs.ListByStatus(ctx, domain.StatusPending, domain.ListQuery{
		Limit:      recentPendingLimit,
		SortField:  domain.SortByCreatedAt,
		Descending: true,
	})
	if err != nil {
		return nil, err
	}

	summary := &DashboardSummary{
		Stats: DashboardStats{
			PendingTransactions:  pending,
			VerifiedTransactions: verified,
			SubmittedToday:       submittedToday,
		},
		RecentPending: make([]RecentTransaction, 0, len(recent)),
	}
	for _, tx := range recent {
		summary.RecentPending = append(summary.RecentPending, RecentTransaction{
			ReferenceNumber: tx.ReferenceNumber,
			Amount:          tx.Amount,
			Currency:        tx.Currency,
			BeneficiaryName: tx.BeneficiaryName,
			CreatedAt:       tx.CreatedAt,
		})
	}
	return summary, nil
}

// startOfDay is local midnight of t's day in the server's time zone.
func startOfDay(t time.Time) time.Time {
	local := t.Local()
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}
