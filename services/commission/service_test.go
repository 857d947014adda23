package commission

import (
	"context"
	"testing"
	"time"

	"ppv-trustcore/pkg/db/pagination"
	"ppv-trustcore/services/account"
	"ppv-trustcore/services/campaign"
	"ppv-trustcore/services/event"
	"ppv-trustcore/services/ledger"
	"ppv-trustcore/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	svc    *Service
	ledger *ledger.Service
	db     *gorm.DB
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&account.Account{},
		&campaign.Campaign{},
		&event.ViewEvent{},
		&ledger.LedgerEntry{},
		&Commission{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	l := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	return &fixture{
		svc:    NewService(ServiceParams{DB: db, Node: node, Ledger: l}),
		ledger: l,
		db:     db,
	}
}

func ref(s string) *string { return &s }

// seedChain creates root <- l2 <- l1 <- promoter and a campaign paying 100 per view.
func (f *fixture) seedChain(t *testing.T) {
	t.Helper()

	require.NoError(t, f.db.Create(&account.Account{ID: "root", Username: "root"}).Error)
	require.NoError(t, f.db.Create(&account.Account{ID: "l2", Username: "l2", ReferredBy: ref("root")}).Error)
	require.NoError(t, f.db.Create(&account.Account{ID: "l1", Username: "l1", ReferredBy: ref("l2")}).Error)
	require.NoError(t, f.db.Create(&account.Account{ID: "promoter", Username: "promoter", ReferredBy: ref("l1")}).Error)
	require.NoError(t, f.db.Create(&account.Account{ID: "solo", Username: "solo"}).Error)
	require.NoError(t, f.db.Create(&account.Account{ID: "owner", Username: "owner"}).Error)

	require.NoError(t, f.db.Create(&campaign.Campaign{
		ID:            "c1",
		Code:          "CMP-1",
		OwnerID:       "owner",
		Title:         "Launch",
		VideoURL:      "https://youtu.be/dQw4w9WgXcQ",
		TargetViews:   100,
		RewardPerView: decimal.NewFromInt(100),
		Status:        campaign.CampaignStatusActive,
	}).Error)
}

func (f *fixture) view(t *testing.T, id, accountID string, valid bool) {
	t.Helper()

	require.NoError(t, f.db.Create(&event.ViewEvent{
		ID:         id,
		LinkID:     "link-" + accountID,
		CampaignID: "c1",
		AccountID:  accountID,
		Address:    "8.8.8.8",
		WatchTime:  120,
		RiskScore:  0.1,
		IsValid:    valid,
		CreatedAt:  time.Now().UTC(),
	}).Error)
}

func (f *fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()

	var acc account.Account
	require.NoError(t, f.db.Where("id = ?", id).Take(&acc).Error)
	return acc.Balance
}

func TestDistributeDepthThree(t *testing.T) {
	f := setup(t)
	f.seedChain(t)
	f.view(t, "v1", "promoter", true)

	paid, err := f.svc.Distribute(context.Background(), nil, "v1")
	require.NoError(t, err)
	require.Len(t, paid, 3)

	require.True(t, f.balance(t, "promoter").Equal(decimal.NewFromInt(5)))
	require.True(t, f.balance(t, "l1").Equal(decimal.NewFromInt(2)))
	require.True(t, f.balance(t, "l2").Equal(decimal.NewFromInt(1)))
	require.True(t, f.balance(t, "root").IsZero())

	for i, c := range paid {
		require.Equal(t, i+1, c.Depth)
		require.Equal(t, StatusApproved, c.Status)
		require.NotNil(t, c.ApprovedAt)
	}

	var v event.ViewEvent
	require.NoError(t, f.db.Where("id = ?", "v1").Take(&v).Error)
	require.NotNil(t, v.CommissionedAt)

	require.NoError(t, f.ledger.VerifyChain(context.Background(), "promoter"))
}

func TestDistributeDepthOne(t *testing.T) {
	f := setup(t)
	f.seedChain(t)
	f.view(t, "v1", "solo", true)

	paid, err := f.svc.Distribute(context.Background(), nil, "v1")
	require.NoError(t, err)
	require.Len(t, paid, 1)
	require.Equal(t, "solo", paid[0].RecipientID)
	require.True(t, f.balance(t, "solo").Equal(decimal.NewFromInt(5)))
}

func TestDistributeIsIdempotent(t *testing.T) {
	f := setup(t)
	f.seedChain(t)
	f.view(t, "v1", "promoter", true)
	ctx := context.Background()

	_, err := f.svc.Distribute(ctx, nil, "v1")
	require.NoError(t, err)

	paid, err := f.svc.Distribute(ctx, nil, "v1")
	require.NoError(t, err)
	require.Empty(t, paid)

	var count int64
	require.NoError(t, f.db.Model(&Commission{}).Where("view_event_id = ?", "v1").Count(&count).Error)
	require.EqualValues(t, 3, count)
	require.True(t, f.balance(t, "promoter").Equal(decimal.NewFromInt(5)))
}

func TestDistributeUniquePairGuard(t *testing.T) {
	f := setup(t)
	f.seedChain(t)
	f.view(t, "v1", "promoter", true)
	ctx := context.Background()

	_, err := f.svc.Distribute(ctx, nil, "v1")
	require.NoError(t, err)

	// Lose the marker; the (view, recipient) index still blocks a second payout.
	require.NoError(t, f.db.Model(&event.ViewEvent{}).Where("id = ?", "v1").Update("commissioned_at", nil).Error)

	paid, err := f.svc.Distribute(ctx, nil, "v1")
	require.NoError(t, err)
	require.Empty(t, paid)

	var entries int64
	require.NoError(t, f.db.Model(&ledger.LedgerEntry{}).Where("account_id = ?", "promoter").Count(&entries).Error)
	require.EqualValues(t, 1, entries)
	require.True(t, f.balance(t, "l1").Equal(decimal.NewFromInt(2)))
}

func TestDistributeSkipsInvalidView(t *testing.T) {
	f := setup(t)
	f.seedChain(t)
	f.view(t, "v1", "promoter", false)

	paid, err := f.svc.Distribute(context.Background(), nil, "v1")
	require.NoError(t, err)
	require.Empty(t, paid)

	var count int64
	require.NoError(t, f.db.Model(&Commission{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestDistributeUnknownView(t *testing.T) {
	f := setup(t)

	paid, err := f.svc.Distribute(context.Background(), nil, "missing")
	require.NoError(t, err)
	require.Empty(t, paid)
}

func TestListByRecipient(t *testing.T) {
	f := setup(t)
	f.seedChain(t)
	ctx := context.Background()

	for _, id := range []string{"v1", "v2", "v3"} {
		f.view(t, id, "promoter", true)
		_, err := f.svc.Distribute(ctx, nil, id)
		require.NoError(t, err)
	}

	items, info, err := f.svc.ListByRecipient(ctx, "promoter", pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.True(t, info.HasMore)

	rest, info, err := f.svc.ListByRecipient(ctx, "promoter", pagination.Pagination{Limit: 2, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.False(t, info.HasMore)
}
