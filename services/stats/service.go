package stats

import (
	"context"
	"errors"
	"time"

	"ppv-trustcore/pkg/errutil"
	"ppv-trustcore/services/account"
	"ppv-trustcore/services/campaign"
	"ppv-trustcore/services/commission"
	"ppv-trustcore/services/event"
	"ppv-trustcore/services/ledger"

	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("ppv-trustcore/services/stats")

const activeWindow = 30 * 24 * time.Hour

// Service computes aggregates on demand. Nothing is cached between calls.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

type ServiceParams struct {
	fx.In

	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:  p.DB,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (s *Service) sumCommissions(ctx context.Context, since time.Time, recipientID string) (aggregate, error) {
	var out aggregate
	q := s.db.WithContext(ctx).Model(&commission.Commission{}).
		Select("COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("status = ? AND created_at >= ?", commission.StatusApproved, since)
	if recipientID != "" {
		q = q.Where("recipient_id = ?", recipientID)
	}
	err := q.Scan(&out).Error
	return out, err
}

// Summary reports platform activity: accounts with ledger activity in the
// last 30 days, approved commissions since midnight UTC and event totals.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	ctx, span := tracer.Start(ctx, "stats.Summary")
	defer span.End()

	now := s.now()
	out := &Summary{GeneratedAt: now}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&ledger.LedgerEntry{}).
			Where("created_at >= ?", now.Add(-activeWindow)).
			Distinct("account_id").
			Count(&out.ActiveAccounts).Error
	})
	g.Go(func() error {
		agg, err := s.sumCommissions(gctx, startOfDay(now), "")
		out.CommissionsToday, out.CommissionCount = agg.Total, agg.Count
		return err
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&event.ViewEvent{}).Count(&out.TotalViews).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&event.ViewEvent{}).Where("is_valid = ?", true).Count(&out.ValidViews).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&event.ClickEvent{}).Count(&out.TotalClicks).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&event.ClickEvent{}).Where("is_valid = ?", true).Count(&out.ValidClicks).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&campaign.Campaign{}).
			Where("status = ?", campaign.CampaignStatusActive).
			Count(&out.ActiveCampaigns).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&campaign.Campaign{}).
			Where("status = ?", campaign.CampaignStatusCompleted).
			Count(&out.CompletedCampaigns).Error
	})

	if err := g.Wait(); err != nil {
		zap.L().Error("failed to compute summary", zap.Error(err))
		return nil, err
	}
	return out, nil
}

// Dashboard reports an account's balance and its activity since the start of
// the current month.
func (s *Service) Dashboard(ctx context.Context, accountID string) (*Dashboard, error) {
	ctx, span := tracer.Start(ctx, "stats.Dashboard")
	defer span.End()

	var acc account.Account
	err := s.db.WithContext(ctx).Where("id = ?", accountID).Take(&acc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("account not found", nil)
		}
		return nil, err
	}

	month := startOfMonth(s.now())
	out := &Dashboard{
		AccountID:      acc.ID,
		Balance:        acc.Balance,
		LifetimeEarned: acc.LifetimeEarned,
		Tier:           acc.Tier,
		TierName:       acc.Tier.String(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		agg, err := s.sumCommissions(gctx, month, accountID)
		out.MonthlyCommissions, out.CommissionCount = agg.Total, agg.Count
		return err
	})
	g.Go(func() error {
		links := s.db.WithContext(gctx).Model(&campaign.TrackingLink{}).Select("id").Where("account_id = ?", accountID)
		return s.db.WithContext(gctx).Model(&event.ClickEvent{}).
			Where("link_id IN (?) AND is_valid = ? AND created_at >= ?", links, true, month).
			Count(&out.MonthlyClicks).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&event.ViewEvent{}).
			Where("account_id = ? AND is_valid = ? AND created_at >= ?", accountID, true, month).
			Count(&out.MonthlyViews).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&campaign.TrackingLink{}).
			Where("account_id = ?", accountID).
			Count(&out.Links).Error
	})

	if err := g.Wait(); err != nil {
		zap.L().Error("failed to compute dashboard", zap.String("account_id", accountID), zap.Error(err))
		return nil, err
	}
	return out, nil
}
