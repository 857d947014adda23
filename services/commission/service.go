package commission

import (
	"context"
	"fmt"
	"time"

	"ppv-trustcore/pkg/db/option"
	"ppv-trustcore/pkg/db/pagination"
	"ppv-trustcore/pkg/repository"
	"ppv-trustcore/services/account"
	"ppv-trustcore/services/campaign"
	"ppv-trustcore/services/event"
	"ppv-trustcore/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("ppv-trustcore/services/commission")

// Crediter is the ledger operation a commission needs.
type Crediter interface {
	Credit(ctx context.Context, tx *gorm.DB, req ledger.CreditRequest) (*ledger.CreditResult, error)
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	ledger     Crediter
	commission repository.Repository[Commission]
	now        func() time.Time
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Ledger *ledger.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:         p.DB,
		node:       p.Node,
		ledger:     p.Ledger,
		commission: repository.ProvideStore[Commission](p.DB),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx.WithContext(ctx))
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// Distribute pays the referral chain of a valid view's promoter. A view pays
// out at most once: the commissioned_at marker is claimed first and each
// (view, recipient) pair is unique, so repeated calls are no-ops. When tx is
// set the payout joins the caller's transaction.
func (s *Service) Distribute(ctx context.Context, tx *gorm.DB, viewID string) ([]*Commission, error) {
	ctx, span := tracer.Start(ctx, "commission.Distribute")
	defer span.End()
	span.SetAttributes(attribute.String("view.id", viewID))

	zapLog := zap.L().With(zap.String("view_id", viewID))

	var paid []*Commission
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		now := s.now()

		res := tx.Model(&event.ViewEvent{}).
			Where("id = ? AND is_valid = ? AND commissioned_at IS NULL", viewID, true).
			Update("commissioned_at", now)
		if res.Error != nil {
			return fmt.Errorf("claim view: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			zapLog.Debug("view not eligible or already commissioned")
			return nil
		}

		var view event.ViewEvent
		if err := tx.Where("id = ?", viewID).Take(&view).Error; err != nil {
			return fmt.Errorf("load view: %w", err)
		}

		var c campaign.Campaign
		if err := tx.Where("id = ?", view.CampaignID).Take(&c).Error; err != nil {
			return fmt.Errorf("load campaign: %w", err)
		}

		chain, err := account.ReferralChain(ctx, tx, view.AccountID, len(Rates))
		if err != nil {
			return fmt.Errorf("referral chain: %w", err)
		}

		for i, recipient := range chain {
			rate := Rates[i]
			amount := c.RewardPerView.Mul(rate.Share)
			if !amount.IsPositive() {
				continue
			}

			row := &Commission{
				ID:          s.node.Generate().String(),
				ViewEventID: view.ID,
				RecipientID: recipient.ID,
				CampaignID:  c.ID,
				Amount:      amount,
				Depth:       rate.Depth,
				Status:      StatusApproved,
				ApprovedAt:  &now,
				CreatedAt:   now,
			}

			ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
			if ins.Error != nil {
				return fmt.Errorf("insert commission: %w", ins.Error)
			}
			if ins.RowsAffected == 0 {
				zapLog.Info("commission already recorded", zap.String("recipient_id", recipient.ID))
				continue
			}

			if _, err := s.ledger.Credit(ctx, tx, ledger.CreditRequest{
				AccountID:   recipient.ID,
				Amount:      amount,
				Reason:      ledger.ReasonCommission,
				ReferenceID: row.ID,
				Description: fmt.Sprintf("Level %d commission for view %s", rate.Depth, view.ID),
			}); err != nil {
				return fmt.Errorf("credit commission: %w", err)
			}

			paid = append(paid, row)
		}

		return nil
	})
	if err != nil {
		zapLog.Error("failed to distribute commission", zap.Error(err))
		return nil, err
	}

	if len(paid) > 0 {
		zapLog.Info("commission distributed", zap.Int("recipients", len(paid)))
	}
	return paid, nil
}

// ListByRecipient pages the commissions earned by accountID, newest first.
func (s *Service) ListByRecipient(ctx context.Context, accountID string, p pagination.Pagination) ([]*Commission, *pagination.PageInfo, error) {
	rows, err := s.commission.Find(ctx, &Commission{},
		option.ApplyOperator(option.Condition{Field: "recipient_id", Operator: option.EQ, Value: accountID}),
		option.ApplyPagination(p),
	)
	if err != nil {
		return nil, nil, err
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}
	items, info := pagination.BuildCursorPageInfo(rows, limit, func(c *Commission) pagination.Cursor {
		return pagination.Cursor{CreatedAt: c.CreatedAt.Format(time.RFC3339Nano), ID: c.ID}
	})
	return items, info, nil
}
