package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ppv-trustcore/pkg/errutil"
	"ppv-trustcore/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("ppv-trustcore/services/account")

// MaxReferralDepth bounds how far up the referral forest a commission travels.
const MaxReferralDepth = 3

// ReferralRewarder credits the referrer of a newly registered account. It runs
// inside the registration transaction.
type ReferralRewarder interface {
	RewardReferral(ctx context.Context, tx *gorm.DB, referrerID, refereeID, refereeName string) error
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	account  repository.Repository[Account]
	rewarder ReferralRewarder
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Rewarder ReferralRewarder `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		account:  repository.ProvideStore[Account](p.DB),
		rewarder: p.Rewarder,
	}
}

// Register creates an account. When a referrer is named it must exist and is
// rewarded in the same transaction.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	ctx, span := tracer.Start(ctx, "account.Register")
	defer span.End()

	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, errutil.BadRequest("username is required", nil)
	}

	zapLog := zap.L().With(zap.String("username", username))

	acc := &Account{
		ID:       s.node.Generate().String(),
		Username: username,
		Tier:     TierBronze,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		accountTx := s.account.WithTrx(tx)

		exist, err := accountTx.FindOne(ctx, &Account{Username: username})
		if err != nil {
			return err
		}
		if exist != nil {
			return errutil.Conflict("username already taken", nil)
		}

		if ref := strings.TrimSpace(in.ReferredBy); ref != "" {
			referrer, err := accountTx.FindOne(ctx, &Account{ID: ref})
			if err != nil {
				return err
			}
			if referrer == nil {
				return errutil.BadRequest("referrer not found", nil, errutil.WithDetails(errutil.Detail{
					Field:   "referred_by",
					Message: "unknown account",
				}))
			}
			acc.ReferredBy = &referrer.ID
		}

		if err := accountTx.Create(ctx, acc); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errutil.Conflict("username already taken", err)
			}
			return err
		}

		if acc.ReferredBy != nil && s.rewarder != nil {
			if err := s.rewarder.RewardReferral(ctx, tx, *acc.ReferredBy, acc.ID, acc.Username); err != nil {
				return fmt.Errorf("reward referrer: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		zapLog.Warn("failed to register account", zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("account.id", acc.ID))
	zapLog.Info("account registered", zap.String("account_id", acc.ID), zap.Bool("referred", acc.ReferredBy != nil))
	return acc, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	if id == "" {
		return nil, errutil.NotFound("account not found", nil)
	}

	acc, err := s.account.FindOne(ctx, &Account{ID: id})
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, errutil.NotFound("account not found", nil)
	}
	return acc, nil
}

// ReferralChain walks referred_by starting at accountID and returns at most
// depth accounts, the starting account first. A visited set stops on cycles.
func ReferralChain(ctx context.Context, tx *gorm.DB, accountID string, depth int) ([]*Account, error) {
	repo := repository.ProvideStore[Account](tx)

	chain := make([]*Account, 0, depth)
	visited := make(map[string]struct{}, depth)

	next := accountID
	for len(chain) < depth && next != "" {
		if _, seen := visited[next]; seen {
			zap.L().Warn("referral cycle detected", zap.String("account_id", accountID), zap.String("repeat", next))
			break
		}
		visited[next] = struct{}{}

		acc, err := repo.FindOne(ctx, &Account{ID: next})
		if err != nil {
			return nil, err
		}
		if acc == nil {
			break
		}
		chain = append(chain, acc)

		next = ""
		if acc.ReferredBy != nil {
			next = *acc.ReferredBy
		}
	}

	return chain, nil
}
