package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ppv-trustcore/pkg/db/option"
	"ppv-trustcore/pkg/errutil"
	"ppv-trustcore/pkg/metrics"
	"ppv-trustcore/pkg/repository"
	"ppv-trustcore/pkg/sequence"
	"ppv-trustcore/services/account"
	"ppv-trustcore/services/event"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("ppv-trustcore/services/campaign")

// CreatorRewarder credits the owner of a new campaign. It runs inside the
// creation transaction.
type CreatorRewarder interface {
	RewardCreator(ctx context.Context, tx *gorm.DB, ownerID, campaignID, title string) error
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	seq  sequence.Generator

	campaign     repository.Repository[Campaign]
	notification repository.Repository[CampaignNotification]
	account      repository.Repository[account.Account]
	rewarder     CreatorRewarder

	pageSize int
	now      func() time.Time
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Seq      sequence.Generator `optional:"true"`
	Rewarder CreatorRewarder    `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:           p.DB,
		node:         p.Node,
		seq:          p.Seq,
		campaign:     repository.ProvideStore[Campaign](p.DB),
		notification: repository.ProvideStore[CampaignNotification](p.DB),
		account:      repository.ProvideStore[account.Account](p.DB),
		rewarder:     p.Rewarder,
		pageSize:     100,
		now:          time.Now,
	}
}

func (s *Service) nextCode(ctx context.Context) string {
	if s.seq != nil {
		code, err := s.seq.NextCampaignCode(ctx)
		if err == nil {
			return code
		}
		zap.L().Warn("campaign sequence unavailable, falling back to node id", zap.Error(err))
	}
	return "CMP-" + s.node.Generate().Base36()
}

// Create stores an ACTIVE campaign, credits the creator bonus and notifies
// every other account.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Campaign, error) {
	ctx, span := tracer.Start(ctx, "campaign.Create")
	defer span.End()

	title := strings.TrimSpace(in.Title)
	var details []errutil.Detail
	if title == "" {
		details = append(details, errutil.Detail{Field: "title", Message: "required"})
	}
	if in.TargetViews <= 0 {
		details = append(details, errutil.Detail{Field: "target_views", Message: "must be greater than zero"})
	}
	videoID, ok := ExtractVideoID(in.VideoURL)
	if !ok {
		details = append(details, errutil.Detail{Field: "video_url", Message: "unsupported video url"})
	}
	reward := in.RewardPerView
	if reward.IsZero() {
		reward = DefaultRewardPerView
	}
	if reward.IsNegative() {
		details = append(details, errutil.Detail{Field: "reward_per_view", Message: "must be greater than zero"})
	}
	if in.OwnerID == "" {
		details = append(details, errutil.Detail{Field: "owner_id", Message: "required"})
	}
	if len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid campaign", nil, errutil.WithDetails(details...))
	}

	c := &Campaign{
		ID:            s.node.Generate().String(),
		Code:          s.nextCode(ctx),
		Slug:          slug.Make(title),
		OwnerID:       in.OwnerID,
		Title:         title,
		Description:   in.Description,
		VideoURL:      in.VideoURL,
		VideoID:       videoID,
		TargetViews:   in.TargetViews,
		RewardPerView: reward,
		Status:        CampaignStatusActive,
	}

	zapLog := zap.L().With(zap.String("campaign_id", c.ID), zap.String("owner_id", c.OwnerID))

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owner, err := s.account.WithTrx(tx).FindOne(ctx, &account.Account{ID: in.OwnerID})
		if err != nil {
			return err
		}
		if owner == nil {
			return errutil.NotFound("owner account not found", nil)
		}

		if err := s.campaign.WithTrx(tx).Create(ctx, c); err != nil {
			return fmt.Errorf("create campaign: %w", err)
		}

		if s.rewarder != nil {
			if err := s.rewarder.RewardCreator(ctx, tx, c.OwnerID, c.ID, c.Title); err != nil {
				return fmt.Errorf("reward creator: %w", err)
			}
		}

		return s.notifyCreated(ctx, tx, c)
	})
	if err != nil {
		zapLog.Warn("failed to create campaign", zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("campaign.id", c.ID))
	zapLog.Info("campaign created", zap.String("code", c.Code), zap.Int64("target_views", c.TargetViews))
	return c, nil
}

func (s *Service) notifyCreated(ctx context.Context, tx *gorm.DB, c *Campaign) error {
	message := fmt.Sprintf("New campaign available: %s (%d views)", c.Title, c.TargetViews)

	var batch []*account.Account
	return tx.WithContext(ctx).Model(&account.Account{}).
		Where("id <> ?", c.OwnerID).
		FindInBatches(&batch, s.pageSize, func(btx *gorm.DB, _ int) error {
			notes := make([]*CampaignNotification, 0, len(batch))
			for _, a := range batch {
				notes = append(notes, &CampaignNotification{
					ID:         s.node.Generate().String(),
					CampaignID: c.ID,
					AccountID:  a.ID,
					Type:       NotificationCampaignCreated,
					Message:    message,
				})
			}
			return s.notification.WithTrx(tx).BatchCreate(ctx, notes)
		}).Error
}

func (s *Service) Get(ctx context.Context, id string) (*Campaign, error) {
	if id == "" {
		return nil, errutil.NotFound("campaign not found", nil)
	}

	c, err := s.campaign.FindOne(ctx, &Campaign{ID: id})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("campaign not found", nil)
	}
	return c, nil
}

// CountValidViews returns the number of VALID views recorded for a campaign.
func (s *Service) CountValidViews(ctx context.Context, tx *gorm.DB, campaignID string) (int64, error) {
	if tx == nil {
		tx = s.db
	}
	var n int64
	err := tx.WithContext(ctx).Model(&event.ViewEvent{}).
		Where("campaign_id = ? AND is_valid = ?", campaignID, true).
		Count(&n).Error
	return n, err
}

// CheckCompletion completes the campaign once its valid view count reaches the
// target. The status flips with a conditional update so that exactly one
// caller wins; only the winner writes completion notifications.
func (s *Service) CheckCompletion(ctx context.Context, campaignID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "campaign.CheckCompletion")
	defer span.End()
	span.SetAttributes(attribute.String("campaign.id", campaignID))

	if campaignID == "" {
		return false, errutil.NotFound("campaign not found", nil)
	}

	completed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.campaign.WithTrx(tx).FindOne(ctx, &Campaign{ID: campaignID})
		if err != nil {
			return err
		}
		if c == nil {
			return errutil.NotFound("campaign not found", nil)
		}
		if !c.IsActive() {
			return nil
		}

		valid, err := s.CountValidViews(ctx, tx, campaignID)
		if err != nil {
			return fmt.Errorf("count valid views: %w", err)
		}
		if valid < c.TargetViews {
			return nil
		}

		now := s.now()
		res := tx.Model(&Campaign{}).
			Where("id = ? AND status = ?", campaignID, CampaignStatusActive).
			Updates(map[string]any{
				"status":       CampaignStatusCompleted,
				"completed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("complete campaign: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		completed = true
		return s.notifyCompleted(ctx, tx, c)
	})
	if err != nil {
		return false, err
	}

	if completed {
		metrics.CampaignsCompleted.Inc()
		zap.L().Info("campaign completed", zap.String("campaign_id", campaignID))
	}
	return completed, nil
}

func (s *Service) notifyCompleted(ctx context.Context, tx *gorm.DB, c *Campaign) error {
	var holders []string
	if err := tx.WithContext(ctx).Model(&TrackingLink{}).
		Where("campaign_id = ?", c.ID).
		Distinct().
		Pluck("account_id", &holders).Error; err != nil {
		return err
	}
	if len(holders) == 0 {
		return nil
	}

	message := fmt.Sprintf("Campaign completed: %s", c.Title)
	notes := make([]*CampaignNotification, 0, len(holders))
	for _, id := range holders {
		notes = append(notes, &CampaignNotification{
			ID:         s.node.Generate().String(),
			CampaignID: c.ID,
			AccountID:  id,
			Type:       NotificationCampaignCompleted,
			Message:    message,
		})
	}

	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(notes, s.pageSize).Error
}

// SweepCompleted re-checks every active campaign and returns how many were
// completed by this run.
func (s *Service) SweepCompleted(ctx context.Context) (int, error) {
	completed := 0
	lastID := ""

	for {
		page, err := s.campaign.Find(ctx, &Campaign{Status: CampaignStatusActive},
			option.ApplyOperator(option.Condition{Field: "id", Operator: option.GT, Value: lastID}),
			option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc"}),
			option.WithLimit(s.pageSize),
		)
		if err != nil {
			return completed, err
		}
		if len(page) == 0 {
			break
		}

		for _, c := range page {
			done, err := s.CheckCompletion(ctx, c.ID)
			if err != nil {
				zap.L().Error("campaign completion check failed", zap.String("campaign_id", c.ID), zap.Error(err))
				continue
			}
			if done {
				completed++
			}
		}

		lastID = page[len(page)-1].ID
		if len(page) < s.pageSize {
			break
		}
	}

	return completed, nil
}

func (s *Service) ListNotifications(ctx context.Context, accountID string) ([]*CampaignNotification, error) {
	return s.notification.Find(ctx, &CampaignNotification{},
		option.ApplyOperator(option.Condition{Field: "account_id", Operator: option.EQ, Value: accountID}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithLimit(100),
	)
}
