package link

import (
	"context"
	"errors"
	"fmt"

	"ppv-trustcore/pkg/db/option"
	"ppv-trustcore/pkg/errutil"
	"ppv-trustcore/pkg/repository"
	"ppv-trustcore/pkg/util"
	"ppv-trustcore/services/account"
	"ppv-trustcore/services/campaign"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tokenBytes    = 16
	maxTokenTries = 10
)

type Resolved struct {
	Link     *campaign.TrackingLink
	Campaign *campaign.Campaign
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	link     repository.Repository[campaign.TrackingLink]
	campaign repository.Repository[campaign.Campaign]
	account  repository.Repository[account.Account]

	newToken func() (string, error)
}

type ServiceParams struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		link:     repository.ProvideStore[campaign.TrackingLink](p.DB),
		campaign: repository.ProvideStore[campaign.Campaign](p.DB),
		account:  repository.ProvideStore[account.Account](p.DB),
		newToken: func() (string, error) { return util.GenerateToken(tokenBytes) },
	}
}

// Create issues the tracking link of accountID for campaignID. Owners cannot
// promote their own campaigns and a pair holds at most one link.
func (s *Service) Create(ctx context.Context, campaignID, accountID string) (*campaign.TrackingLink, error) {
	zapLog := zap.L().With(zap.String("campaign_id", campaignID), zap.String("account_id", accountID))

	if campaignID == "" {
		return nil, errutil.NotFound("campaign not found", nil)
	}
	if accountID == "" {
		return nil, errutil.NotFound("account not found", nil)
	}

	c, err := s.campaign.FindOne(ctx, &campaign.Campaign{ID: campaignID})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("campaign not found", nil)
	}
	if !c.IsActive() {
		return nil, errutil.UnprocessableEntity("campaign is not active", nil)
	}
	if c.OwnerID == accountID {
		return nil, errutil.Forbidden("owners cannot promote their own campaign", nil)
	}

	acc, err := s.account.FindOne(ctx, &account.Account{ID: accountID})
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, errutil.NotFound("account not found", nil)
	}

	exist, err := s.link.FindOne(ctx, &campaign.TrackingLink{CampaignID: campaignID, AccountID: accountID})
	if err != nil {
		return nil, err
	}
	if exist != nil {
		return nil, errutil.Conflict("tracking link already exists", nil)
	}

	for attempt := 1; attempt <= maxTokenTries; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}

		l := &campaign.TrackingLink{
			ID:         s.node.Generate().String(),
			CampaignID: campaignID,
			AccountID:  accountID,
			Token:      token,
		}

		err = s.link.Create(ctx, l)
		if err == nil {
			zapLog.Info("tracking link created", zap.String("link_id", l.ID))
			return l, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}

		// The pair index and the token index both raise a duplicate key.
		if again, ferr := s.link.FindOne(ctx, &campaign.TrackingLink{CampaignID: campaignID, AccountID: accountID}); ferr == nil && again != nil {
			return nil, errutil.Conflict("tracking link already exists", err)
		}
		zapLog.Warn("tracking token collision, retrying", zap.Int("attempt", attempt))
	}

	return nil, errutil.Internal("could not allocate a unique tracking token", nil)
}

// Resolve looks up a link by its public token together with its campaign.
func (s *Service) Resolve(ctx context.Context, token string) (*Resolved, error) {
	if token == "" {
		return nil, errutil.NotFound("tracking link not found", nil)
	}

	l, err := s.link.FindOne(ctx, &campaign.TrackingLink{Token: token})
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errutil.NotFound("tracking link not found", nil)
	}
	return s.withCampaign(ctx, l)
}

// Get looks up a link by id together with its campaign.
func (s *Service) Get(ctx context.Context, linkID string) (*Resolved, error) {
	if linkID == "" {
		return nil, errutil.NotFound("tracking link not found", nil)
	}

	l, err := s.link.FindOne(ctx, &campaign.TrackingLink{ID: linkID})
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errutil.NotFound("tracking link not found", nil)
	}
	return s.withCampaign(ctx, l)
}

func (s *Service) withCampaign(ctx context.Context, l *campaign.TrackingLink) (*Resolved, error) {
	c, err := s.campaign.FindOne(ctx, &campaign.Campaign{ID: l.CampaignID})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("campaign not found", nil)
	}
	return &Resolved{Link: l, Campaign: c}, nil
}

func (s *Service) ListByAccount(ctx context.Context, accountID string) ([]*campaign.TrackingLink, error) {
	return s.link.Find(ctx, &campaign.TrackingLink{},
		option.ApplyOperator(option.Condition{Field: "account_id", Operator: option.EQ, Value: accountID}),
	)
}
