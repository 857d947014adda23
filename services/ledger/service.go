package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ppv-trustcore/pkg/config"
	"ppv-trustcore/pkg/db/option"
	"ppv-trustcore/pkg/db/pagination"
	"ppv-trustcore/pkg/errutil"
	"ppv-trustcore/pkg/metrics"
	"ppv-trustcore/pkg/repository"
	"ppv-trustcore/services/account"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("ppv-trustcore/services/ledger")

var ErrInsufficientBalance = errutil.UnprocessableEntity("insufficient balance", nil)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	referralBonus decimal.Decimal
	creatorBonus  decimal.Decimal

	ledger  repository.Repository[LedgerEntry]
	account repository.Repository[account.Account]

	now func() time.Time
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}

	return &Service{
		db:            p.DB,
		node:          p.Node,
		referralBonus: mustDecimal(cfg.Ledger.ReferralBonus, 1000),
		creatorBonus:  mustDecimal(cfg.Ledger.CreatorBonus, 100),
		ledger:        repository.ProvideStore[LedgerEntry](p.DB),
		account:       repository.ProvideStore[account.Account](p.DB),
		now:           time.Now,
	}
}

func mustDecimal(v string, fallback int64) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return decimal.NewFromInt(fallback)
	}
	return d
}

// inTx runs fn on tx when the caller already holds a transaction, otherwise in
// a new one.
func (s *Service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx.WithContext(ctx))
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// Credit adds a positive amount to balance and lifetime earnings, appends the
// ledger entry and re-evaluates the tier unless the request opts out.
func (s *Service) Credit(ctx context.Context, tx *gorm.DB, req CreditRequest) (*CreditResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.Credit")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", req.AccountID),
		attribute.String("ledger.reason", string(req.Reason)),
	)

	if !req.Amount.IsPositive() {
		return nil, errutil.BadRequest("credit amount must be positive", nil)
	}
	if req.AccountID == "" {
		return nil, errutil.NotFound("account not found", nil)
	}

	result := &CreditResult{}
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		res := tx.Model(&account.Account{}).
			Where("id = ?", req.AccountID).
			Updates(map[string]any{
				"balance":         gorm.Expr("balance + ?", req.Amount),
				"lifetime_earned": gorm.Expr("lifetime_earned + ?", req.Amount),
				"updated_at":      s.now(),
			})
		if res.Error != nil {
			return fmt.Errorf("increment balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errutil.NotFound("account not found", nil)
		}

		entry, err := s.append(ctx, tx, req.AccountID, req.Amount, req.Reason, req.ReferenceID, req.Description, req)
		if err != nil {
			return err
		}
		result.Entry = entry

		if req.SkipTierEvaluation {
			return nil
		}
		return s.evaluateTier(ctx, tx, req.AccountID, result)
	})
	if err != nil {
		return nil, err
	}

	metrics.Credits.WithLabelValues(string(req.Reason)).Inc()
	return result, nil
}

// Debit removes amount from the balance. The balance never goes negative.
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, req DebitRequest) (*LedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "ledger.Debit")
	defer span.End()

	if !req.Amount.IsPositive() {
		return nil, errutil.BadRequest("debit amount must be positive", nil)
	}
	if req.AccountID == "" {
		return nil, errutil.NotFound("account not found", nil)
	}

	var entry *LedgerEntry
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		res := tx.Model(&account.Account{}).
			Where("id = ? AND balance >= ?", req.AccountID, req.Amount).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance - ?", req.Amount),
				"updated_at": s.now(),
			})
		if res.Error != nil {
			return fmt.Errorf("decrement balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			acc, err := s.account.WithTrx(tx).FindOne(ctx, &account.Account{ID: req.AccountID})
			if err != nil {
				return err
			}
			if acc == nil {
				return errutil.NotFound("account not found", nil)
			}
			return ErrInsufficientBalance
		}

		var err error
		entry, err = s.append(ctx, tx, req.AccountID, req.Amount.Neg(), req.Reason, req.ReferenceID, req.Description, CreditRequest{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) append(ctx context.Context, tx *gorm.DB, accountID string, amount decimal.Decimal, reason Reason, referenceID, description string, req CreditRequest) (*LedgerEntry, error) {
	last, err := s.ledger.WithTrx(tx).FindOne(ctx, &LedgerEntry{}, byAccount(accountID),
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "sequence",
			OrderBy: "desc",
			Allow:   map[string]bool{"sequence": true},
		}),
		option.WithLockingUpdate(),
	)
	if err != nil {
		return nil, fmt.Errorf("load last ledger entry: %w", err)
	}

	entry := &LedgerEntry{
		ID:          s.node.Generate().String(),
		AccountID:   accountID,
		Sequence:    1,
		Amount:      amount,
		Reason:      reason,
		ReferenceID: referenceID,
		Description: description,
		Metadata:    req.Metadata,
		CreatedAt:   s.now().UTC().Truncate(time.Millisecond),
	}
	if last != nil {
		entry.Sequence = last.Sequence + 1
		entry.PreviousHash = last.Hash
	}
	entry.Hash = entry.GenerateHash()

	if err := s.ledger.WithTrx(tx).Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	return entry, nil
}

// evaluateTier moves the account straight to the highest tier its lifetime
// earnings reach and credits that tier's bonus once. The tier column is
// swapped conditionally so that concurrent evaluations upgrade only once.
func (s *Service) evaluateTier(ctx context.Context, tx *gorm.DB, accountID string, result *CreditResult) error {
	acc, err := s.account.WithTrx(tx).FindOne(ctx, &account.Account{ID: accountID})
	if err != nil {
		return err
	}
	if acc == nil {
		return errutil.NotFound("account not found", nil)
	}

	result.TierBefore = acc.Tier
	result.TierAfter = acc.Tier

	target := account.TierFor(acc.LifetimeEarned)
	if target <= acc.Tier {
		return nil
	}

	res := tx.Model(&account.Account{}).
		Where("id = ? AND tier = ?", accountID, acc.Tier).
		Update("tier", target)
	if res.Error != nil {
		return fmt.Errorf("upgrade tier: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	result.Upgraded = true
	result.TierAfter = target
	metrics.TierUpgrades.WithLabelValues(target.String()).Inc()

	zap.L().Info("account tier upgraded",
		zap.String("account_id", accountID),
		zap.String("from", acc.Tier.String()),
		zap.String("to", target.String()),
	)

	bonus := account.BonusFor(target)
	if !bonus.IsPositive() {
		return nil
	}

	bonusResult, err := s.Credit(ctx, tx, CreditRequest{
		AccountID:          accountID,
		Amount:             bonus,
		Reason:             ReasonTierBonus,
		ReferenceID:        fmt.Sprintf("tier:%s", target.String()),
		Description:        fmt.Sprintf("tier upgrade bonus %s", target.String()),
		SkipTierEvaluation: true,
	})
	if err != nil {
		return err
	}
	result.BonusEntry = bonusResult.Entry
	return nil
}

// RewardReferral credits the referral bonus to the referrer of a new account.
func (s *Service) RewardReferral(ctx context.Context, tx *gorm.DB, referrerID, refereeID, refereeName string) error {
	_, err := s.Credit(ctx, tx, CreditRequest{
		AccountID:   referrerID,
		Amount:      s.referralBonus,
		Reason:      ReasonReferralBonus,
		ReferenceID: refereeID,
		Description: fmt.Sprintf("referral bonus for %s", refereeName),
	})
	return err
}

// RewardCreator credits the campaign creation bonus to the owner.
func (s *Service) RewardCreator(ctx context.Context, tx *gorm.DB, ownerID, campaignID, title string) error {
	_, err := s.Credit(ctx, tx, CreditRequest{
		AccountID:   ownerID,
		Amount:      s.creatorBonus,
		Reason:      ReasonCreatorBonus,
		ReferenceID: campaignID,
		Description: fmt.Sprintf("campaign created: %s", title),
	})
	return err
}

// ListEntries pages an account's ledger newest first.
func (s *Service) ListEntries(ctx context.Context, accountID string, p pagination.Pagination) ([]*LedgerEntry, *pagination.PageInfo, error) {
	entries, err := s.ledger.Find(ctx, &LedgerEntry{}, byAccount(accountID), option.ApplyPagination(p))
	if err != nil {
		zap.L().Error("failed to list ledger entries", zap.String("account_id", accountID), zap.Error(err))
		return nil, nil, err
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}
	entries, info := pagination.BuildCursorPageInfo(entries, limit, func(e *LedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano), ID: e.ID}
	})
	return entries, info, nil
}

var ErrChainBroken = errors.New("ledger hash chain broken")

// VerifyChain recomputes every hash of an account's ledger and checks the
// links between consecutive entries.
func (s *Service) VerifyChain(ctx context.Context, accountID string) error {
	entries, err := s.ledger.Find(ctx, &LedgerEntry{}, byAccount(accountID), option.WithSortBy(option.QuerySortBy{
		SortBy:  "sequence",
		OrderBy: "asc",
	}))
	if err != nil {
		return err
	}

	return verifyEntries(entries)
}

func verifyEntries(entries []*LedgerEntry) error {
	prevHash := ""
	for i, e := range entries {
		if e.Sequence != int64(i+1) {
			return fmt.Errorf("%w: entry %s has sequence %d, want %d", ErrChainBroken, e.ID, e.Sequence, i+1)
		}
		if e.PreviousHash != prevHash {
			return fmt.Errorf("%w: entry %s previous hash mismatch", ErrChainBroken, e.ID)
		}
		if e.Hash != e.GenerateHash() {
			return fmt.Errorf("%w: entry %s hash mismatch", ErrChainBroken, e.ID)
		}
		prevHash = e.Hash
	}
	return nil
}

func byAccount(accountID string) option.QueryOption {
	return option.ApplyOperator(option.Condition{Field: "account_id", Operator: option.EQ, Value: accountID})
}
