package validation

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"ppv-trustcore/pkg/config"
	"ppv-trustcore/pkg/db/option"
	"ppv-trustcore/pkg/metrics"
	"ppv-trustcore/pkg/repository"
	"ppv-trustcore/services/campaign"
	"ppv-trustcore/services/commission"
	"ppv-trustcore/services/event"
	"ppv-trustcore/services/link"
	"ppv-trustcore/services/signal"
	"ppv-trustcore/services/trust"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("ppv-trustcore/services/validation")

type LinkResolver interface {
	Resolve(ctx context.Context, token string) (*link.Resolved, error)
	Get(ctx context.Context, linkID string) (*link.Resolved, error)
}

type Signals interface {
	Observe(ctx context.Context, p signal.Visit) error
	CountClicks(ctx context.Context, linkID, address string, since time.Time) (int64, error)
	CountViewsBetween(ctx context.Context, linkID, address string, since, until time.Time, excludeID string) (int64, error)
}

type Scorer interface {
	Evaluate(ctx context.Context, req trust.Request) (trust.Assessment, error)
	Threshold() float64
}

type Distributor interface {
	Distribute(ctx context.Context, tx *gorm.DB, viewID string) ([]*commission.Commission, error)
}

type CompletionChecker interface {
	CheckCompletion(ctx context.Context, campaignID string) (bool, error)
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	cfg  *config.Config

	links      LinkResolver
	signals    Signals
	scorer     Scorer
	commission Distributor
	completion CompletionChecker

	campaigns repository.Repository[campaign.Campaign]
	clicks    repository.Repository[event.ClickEvent]
	views     repository.Repository[event.ViewEvent]
	now       func() time.Time
}

type ServiceParams struct {
	fx.In

	DB         *gorm.DB
	Node       *snowflake.Node
	Config     *config.Config
	Links      LinkResolver
	Signals    Signals
	Scorer     Scorer
	Commission Distributor
	Completion CompletionChecker
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:         p.DB,
		node:       p.Node,
		cfg:        p.Config,
		links:      p.Links,
		signals:    p.Signals,
		scorer:     p.Scorer,
		commission: p.Commission,
		completion: p.Completion,
		campaigns:  repository.ProvideStore[campaign.Campaign](p.DB),
		clicks:     repository.ProvideStore[event.ClickEvent](p.DB),
		views:      repository.ProvideStore[event.ViewEvent](p.DB),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) rules() config.Validation {
	r := s.cfg.Validation
	if r.ClickMinuteLimit <= 0 {
		r.ClickMinuteLimit = 3
	}
	if r.ClickDailyLimit <= 0 {
		r.ClickDailyLimit = 10
	}
	if r.MinWatchTime <= 0 {
		r.MinWatchTime = 30
	}
	if r.ShortWatchTime <= 0 {
		r.ShortWatchTime = 60
	}
	if r.ViewDailyLimit <= 0 {
		r.ViewDailyLimit = 5
	}
	if r.ViewRepeatLimit <= 0 {
		r.ViewRepeatLimit = 2
	}
	if r.ReevaluateAfter <= 0 {
		r.ReevaluateAfter = 24 * time.Hour
	}
	return r
}

func (s *Service) threshold() float64 {
	if s.scorer != nil {
		return s.scorer.Threshold()
	}
	return defaultThreshold
}

func (s *Service) observe(ctx context.Context, p signal.Visit) {
	if err := s.signals.Observe(ctx, p); err != nil {
		zap.L().Warn("failed to record request", zap.String("address", p.Address), zap.Error(err))
	}
}

// RecordClick gates, scores and stores a click on a tracking link. Clicks over
// the per-minute or per-day ceiling are rejected without being stored.
func (s *Service) RecordClick(ctx context.Context, in ClickInput) (*ClickResult, error) {
	ctx, span := tracer.Start(ctx, "validation.RecordClick")
	defer span.End()

	resolved, err := s.links.Resolve(ctx, in.Token)
	if err != nil {
		return nil, err
	}
	if !resolved.Campaign.IsActive() {
		return nil, ErrCampaignInactive
	}

	l := resolved.Link
	addr := in.Request.Address
	zapLog := zap.L().With(zap.String("link_id", l.ID), zap.String("address", addr))

	s.observe(ctx, in.Request.Visit)

	rules := s.rules()
	now := s.now()

	recent, err := s.signals.CountClicks(ctx, l.ID, addr, now.Add(-time.Minute))
	if err != nil {
		return nil, fmt.Errorf("count recent clicks: %w", err)
	}
	if recent >= int64(rules.ClickMinuteLimit) {
		metrics.Verdicts.WithLabelValues("click", string(VerdictRateLimited)).Inc()
		zapLog.Info("click rejected by minute ceiling", zap.Int64("recent", recent))
		return nil, ErrClickRateLimited
	}

	daily, err := s.signals.CountClicks(ctx, l.ID, addr, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count daily clicks: %w", err)
	}
	if daily >= int64(rules.ClickDailyLimit) {
		metrics.Verdicts.WithLabelValues("click", string(VerdictRateLimited)).Inc()
		zapLog.Info("click rejected by daily ceiling", zap.Int64("daily", daily))
		return nil, ErrClickRateLimited
	}

	score, valid := ScoreFailOpen, true
	assessment, err := s.scorer.Evaluate(ctx, in.Request)
	if err != nil {
		zapLog.Warn("click scoring failed, accepting with neutral score", zap.Error(err))
	} else {
		score, valid = assessment.Score, assessment.Valid
	}

	ev := &event.ClickEvent{
		ID:        s.node.Generate().String(),
		LinkID:    l.ID,
		Address:   addr,
		UserAgent: in.Request.UserAgent,
		Referrer:  in.Request.Referrer,
		RiskScore: score,
		IsValid:   valid,
		CreatedAt: now,
	}
	if err := s.clicks.Create(ctx, ev); err != nil {
		return nil, fmt.Errorf("store click: %w", err)
	}

	verdict := verdictOf(valid)
	metrics.Verdicts.WithLabelValues("click", string(verdict)).Inc()
	metrics.RiskScore.WithLabelValues("click").Observe(score)
	span.SetAttributes(attribute.String("click.verdict", string(verdict)), attribute.Float64("click.score", score))

	return &ClickResult{
		Event:       ev,
		Valid:       valid,
		RedirectURL: resolved.Campaign.VideoURL,
	}, nil
}

// RecordView scores and stores a view. A valid view is paid out in the same
// transaction and then checked against its campaign's target.
func (s *Service) RecordView(ctx context.Context, in ViewInput) (*ViewResult, error) {
	ctx, span := tracer.Start(ctx, "validation.RecordView")
	defer span.End()

	resolved, err := s.links.Get(ctx, in.LinkID)
	if err != nil {
		return nil, err
	}
	if !resolved.Campaign.IsActive() {
		return nil, ErrCampaignInactive
	}

	s.observe(ctx, in.Request.Visit)

	now := s.now()
	view := &event.ViewEvent{
		ID:         s.node.Generate().String(),
		LinkID:     resolved.Link.ID,
		CampaignID: resolved.Campaign.ID,
		AccountID:  resolved.Link.AccountID,
		Address:    in.Request.Address,
		UserAgent:  in.Request.UserAgent,
		WatchTime:  in.WatchTime,
		CreatedAt:  now,
	}

	score, valid, err := s.scoreView(ctx, view, false)
	if err != nil {
		metrics.Verdicts.WithLabelValues("view", string(VerdictRateLimited)).Inc()
		return nil, err
	}
	view.RiskScore = score
	view.IsValid = valid
	if valid {
		view.ValidatedAt = &now
	}

	closed := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		open, err := s.admit(ctx, tx, view.CampaignID)
		if err != nil {
			return err
		}
		if !open {
			closed = true
			return nil
		}
		if err := s.views.WithTrx(tx).Create(ctx, view); err != nil {
			return fmt.Errorf("store view: %w", err)
		}
		if !valid {
			return nil
		}
		_, err = s.commission.Distribute(ctx, tx, view.ID)
		return err
	})
	if err != nil {
		zap.L().Error("failed to record view", zap.String("link_id", view.LinkID), zap.Error(err))
		return nil, err
	}
	if closed {
		return nil, ErrCampaignInactive
	}

	verdict := verdictOf(valid)
	metrics.Verdicts.WithLabelValues("view", string(verdict)).Inc()
	metrics.RiskScore.WithLabelValues("view").Observe(score)
	span.SetAttributes(attribute.String("view.verdict", string(verdict)), attribute.Float64("view.score", score))

	result := &ViewResult{Event: view, Valid: valid, Campaign: resolved.Campaign}
	if valid {
		result.Completed = s.checkCompletion(ctx, view.CampaignID)
	}
	return result, nil
}

// admit locks the campaign row for the rest of tx and reports whether it still
// takes views: it must be active and below its target of valid views.
func (s *Service) admit(ctx context.Context, tx *gorm.DB, campaignID string) (bool, error) {
	c, err := s.campaigns.WithTrx(tx).FindOne(ctx, &campaign.Campaign{},
		option.ApplyOperator(option.Condition{Field: "id", Operator: option.EQ, Value: campaignID}),
		option.WithLockingUpdate(),
	)
	if err != nil {
		return false, fmt.Errorf("lock campaign: %w", err)
	}
	if c == nil || !c.IsActive() {
		return false, nil
	}

	var valid int64
	err = tx.WithContext(ctx).Model(&event.ViewEvent{}).
		Where("campaign_id = ? AND is_valid = ?", campaignID, true).
		Count(&valid).Error
	if err != nil {
		return false, fmt.Errorf("count valid views: %w", err)
	}
	return valid < c.TargetViews, nil
}

func (s *Service) checkCompletion(ctx context.Context, campaignID string) bool {
	done, err := s.completion.CheckCompletion(ctx, campaignID)
	if err != nil {
		// The completion sweep picks the campaign up later.
		zap.L().Error("campaign completion check failed", zap.String("campaign_id", campaignID), zap.Error(err))
		return false
	}
	return done
}

// scoreView applies the view rules. Outside the sweep, a view over the daily
// ceiling is rejected with ErrViewRateLimited; inside it, it is marked invalid.
// A failed lookup accepts the view with a neutral score.
func (s *Service) scoreView(ctx context.Context, v *event.ViewEvent, sweep bool) (float64, bool, error) {
	rules := s.rules()

	if v.WatchTime < rules.MinWatchTime {
		return ScoreTooShort, false, nil
	}

	dayStart := v.CreatedAt.UTC().Truncate(24 * time.Hour)
	sameDay, err := s.signals.CountViewsBetween(ctx, v.LinkID, v.Address, dayStart, dayStart.Add(24*time.Hour), v.ID)
	if err != nil {
		zap.L().Warn("view scoring failed, accepting with neutral score", zap.String("view_id", v.ID), zap.Error(err))
		return ScoreFailOpen, true, nil
	}

	if sameDay >= int64(rules.ViewDailyLimit) {
		if sweep {
			return ScoreDailyLimit, false, nil
		}
		return ScoreDailyLimit, false, ErrViewRateLimited
	}

	score := 0.0
	if v.WatchTime < rules.ShortWatchTime {
		score += penaltyShort
	}
	if sameDay > int64(rules.ViewRepeatLimit) {
		score += penaltyRepeat
	}
	if signal.ClassifyAddress(v.Address).IsReserved() {
		score += penaltyReserved
	}
	if score > 1 {
		score = 1
	}

	return score, score < s.threshold(), nil
}

// RunDeferredValidationSweep re-evaluates invalid views that have waited past
// the grace period. Each view is re-evaluated at most once.
func (s *Service) RunDeferredValidationSweep(ctx context.Context) (SweepResult, error) {
	ctx, span := tracer.Start(ctx, "validation.RunDeferredValidationSweep")
	defer span.End()

	rules := s.rules()
	cutoff := s.now().Add(-rules.ReevaluateAfter)

	pageSize := s.cfg.Sweep.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	concurrency := s.cfg.Sweep.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	var (
		processed, flipped, skipped int64
		lastID                      string
	)

	for {
		page, err := s.views.Find(ctx, &event.ViewEvent{},
			option.ApplyOperator(
				option.Condition{Field: "is_valid", Operator: option.EQ, Value: false},
				option.Condition{Field: "validated_at", Operator: option.IS, Value: "NULL"},
				option.Condition{Field: "created_at", Operator: option.LT, Value: cutoff},
				option.Condition{Field: "id", Operator: option.GT, Value: lastID},
			),
			option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc"}),
			option.WithLimit(pageSize),
		)
		if err != nil {
			return s.sweepResult(processed, flipped, skipped), fmt.Errorf("load pending views: %w", err)
		}
		if len(page) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for _, v := range page {
			g.Go(func() error {
				applied, valid, err := s.reevaluate(gctx, v)
				if err != nil {
					metrics.SweepProcessed.WithLabelValues("validation", "error").Inc()
					return err
				}
				switch {
				case !applied:
					atomic.AddInt64(&skipped, 1)
					metrics.SweepProcessed.WithLabelValues("validation", "skipped").Inc()
				case valid:
					atomic.AddInt64(&processed, 1)
					atomic.AddInt64(&flipped, 1)
					metrics.SweepProcessed.WithLabelValues("validation", "valid").Inc()
				default:
					atomic.AddInt64(&processed, 1)
					metrics.SweepProcessed.WithLabelValues("validation", "invalid").Inc()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return s.sweepResult(processed, flipped, skipped), err
		}

		lastID = page[len(page)-1].ID
		if len(page) < pageSize {
			break
		}
	}

	result := s.sweepResult(processed, flipped, skipped)
	zap.L().Info("deferred validation sweep finished",
		zap.Int("processed", result.Processed),
		zap.Int("flipped", result.Flipped),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (s *Service) sweepResult(processed, flipped, skipped int64) SweepResult {
	return SweepResult{Processed: int(processed), Flipped: int(flipped), Skipped: int(skipped)}
}

// reevaluate recomputes one view and makes the result terminal. applied is
// false when another worker got there first.
func (s *Service) reevaluate(ctx context.Context, v *event.ViewEvent) (applied, valid bool, err error) {
	score, valid, _ := s.scoreView(ctx, v, true)
	now := s.now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if valid {
			open, err := s.admit(ctx, tx, v.CampaignID)
			if err != nil {
				return err
			}
			// Full or closed campaigns take no more paid views.
			valid = open
		}

		res := tx.Model(&event.ViewEvent{}).
			Where("id = ? AND is_valid = ? AND validated_at IS NULL", v.ID, false).
			Updates(map[string]any{
				"is_valid":     valid,
				"risk_score":   score,
				"validated_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("update view: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		if !valid {
			return nil
		}
		_, err := s.commission.Distribute(ctx, tx, v.ID)
		return err
	})
	if err != nil {
		return false, false, err
	}

	if applied && valid {
		s.checkCompletion(ctx, v.CampaignID)
	}
	return applied, valid, nil
}

func verdictOf(valid bool) Verdict {
	if valid {
		return VerdictValid
	}
	return VerdictInvalid
}
