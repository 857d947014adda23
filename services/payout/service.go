package payout

import (
	"context"
	"fmt"
	"time"

	"ppv-trustcore/pkg/db/option"
	"ppv-trustcore/pkg/errutil"
	"ppv-trustcore/pkg/repository"
	"ppv-trustcore/pkg/sequence"
	"ppv-trustcore/services/account"
	"ppv-trustcore/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("ppv-trustcore/services/payout")

type Debiter interface {
	Debit(ctx context.Context, tx *gorm.DB, req ledger.DebitRequest) (*ledger.LedgerEntry, error)
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	seq  sequence.Generator

	ledger  Debiter
	payout  repository.Repository[Payout]
	account repository.Repository[account.Account]
	now     func() time.Time
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Ledger *ledger.Service
	Seq    sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		seq:     p.Seq,
		ledger:  p.Ledger,
		payout:  repository.ProvideStore[Payout](p.DB),
		account: repository.ProvideStore[account.Account](p.DB),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) nextCode(ctx context.Context) string {
	if s.seq != nil {
		code, err := s.seq.NextPayoutCode(ctx)
		if err == nil {
			return code
		}
		zap.L().Warn("payout sequence unavailable, falling back to node id", zap.Error(err))
	}
	return "PAY-" + s.node.Generate().Base36()
}

// Request files a pending payout. The balance must cover the amount now; it is
// only debited when the payout completes.
func (s *Service) Request(ctx context.Context, in RequestInput) (*Payout, error) {
	ctx, span := tracer.Start(ctx, "payout.Request")
	defer span.End()

	var details []errutil.Detail
	if !in.Amount.IsPositive() {
		details = append(details, errutil.Detail{Field: "amount", Message: "must be positive"})
	}
	if !in.Method.Valid() {
		details = append(details, errutil.Detail{Field: "method", Message: "unsupported payout method"})
	}
	if in.AccountID == "" {
		details = append(details, errutil.Detail{Field: "account_id", Message: "required"})
	}
	if len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid payout request", nil, errutil.WithDetails(details...))
	}

	acc, err := s.account.FindOne(ctx, &account.Account{ID: in.AccountID})
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, errutil.NotFound("account not found", nil)
	}
	if acc.Balance.LessThan(in.Amount) {
		return nil, ledger.ErrInsufficientBalance
	}

	p := &Payout{
		ID:          s.node.Generate().String(),
		Code:        s.nextCode(ctx),
		AccountID:   in.AccountID,
		Amount:      in.Amount,
		Method:      in.Method,
		Destination: in.Destination,
		Status:      StatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.payout.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("store payout: %w", err)
	}

	zap.L().Info("payout requested",
		zap.String("payout_id", p.ID),
		zap.String("account_id", p.AccountID),
		zap.String("amount", p.Amount.String()),
	)
	return p, nil
}

// Complete debits the account and marks the payout COMPLETED. A payout leaves
// PENDING at most once.
func (s *Service) Complete(ctx context.Context, payoutID string) (*Payout, error) {
	ctx, span := tracer.Start(ctx, "payout.Complete")
	defer span.End()

	var out *Payout
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.transition(ctx, tx, payoutID, StatusCompleted, "")
		if err != nil {
			return err
		}

		if _, err := s.ledger.Debit(ctx, tx, ledger.DebitRequest{
			AccountID:   p.AccountID,
			Amount:      p.Amount,
			Reason:      ledger.ReasonPayout,
			ReferenceID: p.ID,
			Description: fmt.Sprintf("Payout %s via %s", p.Code, p.Method),
		}); err != nil {
			return err
		}

		out = p
		return nil
	})
	if err != nil {
		zap.L().Warn("failed to complete payout", zap.String("payout_id", payoutID), zap.Error(err))
		return nil, err
	}
	return out, nil
}

func (s *Service) Reject(ctx context.Context, payoutID, reason string) (*Payout, error) {
	var out *Payout
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.transition(ctx, tx, payoutID, StatusRejected, reason)
		out = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) transition(ctx context.Context, tx *gorm.DB, payoutID string, to Status, reason string) (*Payout, error) {
	if payoutID == "" {
		return nil, errutil.NotFound("payout not found", nil)
	}

	now := s.now()
	res := tx.Model(&Payout{}).
		Where("id = ? AND status = ?", payoutID, StatusPending).
		Updates(map[string]any{
			"status":       to,
			"reason":       reason,
			"processed_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update payout: %w", res.Error)
	}

	p, err := s.payout.WithTrx(tx).FindOne(ctx, &Payout{ID: payoutID})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errutil.NotFound("payout not found", nil)
	}
	if res.RowsAffected == 0 {
		return nil, errutil.Conflict(fmt.Sprintf("payout is already %s", p.Status), nil)
	}
	return p, nil
}

// List returns an account's payouts, newest first.
func (s *Service) List(ctx context.Context, accountID string) ([]*Payout, error) {
	return s.payout.Find(ctx, &Payout{},
		option.ApplyOperator(option.Condition{Field: "account_id", Operator: option.EQ, Value: accountID}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
	)
}
