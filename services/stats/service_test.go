package stats

import (
	"context"
	"testing"
	"time"

	"ppv-trustcore/pkg/errutil"
	"ppv-trustcore/services/account"
	"ppv-trustcore/services/campaign"
	"ppv-trustcore/services/commission"
	"ppv-trustcore/services/event"
	"ppv-trustcore/services/ledger"
	"ppv-trustcore/services/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func setup(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&account.Account{},
		&campaign.Campaign{},
		&campaign.TrackingLink{},
		&event.ClickEvent{},
		&event.ViewEvent{},
		&ledger.LedgerEntry{},
		&commission.Commission{},
	)
	return NewService(ServiceParams{DB: db}), db
}

func seed(t *testing.T, db *gorm.DB, now time.Time) {
	t.Helper()

	approved := now
	require.NoError(t, db.Create(&account.Account{ID: "a1", Username: "a1", Balance: decimal.NewFromInt(40), LifetimeEarned: decimal.NewFromInt(1200), Tier: account.TierSilver}).Error)
	require.NoError(t, db.Create(&account.Account{ID: "a2", Username: "a2"}).Error)
	require.NoError(t, db.Create(&account.Account{ID: "a3", Username: "a3"}).Error)

	require.NoError(t, db.Create(&campaign.Campaign{ID: "c1", Code: "C1", OwnerID: "a3", TargetViews: 10, RewardPerView: decimal.NewFromInt(100), Status: campaign.CampaignStatusActive}).Error)
	require.NoError(t, db.Create(&campaign.Campaign{ID: "c2", Code: "C2", OwnerID: "a3", TargetViews: 1, RewardPerView: decimal.NewFromInt(100), Status: campaign.CampaignStatusCompleted}).Error)
	require.NoError(t, db.Create(&campaign.TrackingLink{ID: "l1", CampaignID: "c1", AccountID: "a1", Token: "t1"}).Error)
	require.NoError(t, db.Create(&campaign.TrackingLink{ID: "l2", CampaignID: "c2", AccountID: "a1", Token: "t2"}).Error)
	require.NoError(t, db.Create(&campaign.TrackingLink{ID: "l3", CampaignID: "c1", AccountID: "a2", Token: "t3"}).Error)

	clicks := []*event.ClickEvent{
		{ID: "k1", LinkID: "l1", Address: "8.8.8.8", IsValid: true, CreatedAt: now},
		{ID: "k2", LinkID: "l2", Address: "8.8.8.8", IsValid: true, CreatedAt: now},
		{ID: "k3", LinkID: "l1", Address: "8.8.8.8", IsValid: false, CreatedAt: now},
		{ID: "k4", LinkID: "l3", Address: "8.8.8.8", IsValid: true, CreatedAt: now},
	}
	require.NoError(t, db.Create(clicks).Error)

	views := []*event.ViewEvent{
		{ID: "v1", LinkID: "l1", CampaignID: "c1", AccountID: "a1", Address: "8.8.8.8", WatchTime: 90, IsValid: true, CreatedAt: now},
		{ID: "v2", LinkID: "l1", CampaignID: "c1", AccountID: "a1", Address: "8.8.8.8", WatchTime: 10, IsValid: false, CreatedAt: now},
		{ID: "v3", LinkID: "l3", CampaignID: "c1", AccountID: "a2", Address: "8.8.8.8", WatchTime: 90, IsValid: true, CreatedAt: now},
	}
	require.NoError(t, db.Create(views).Error)

	commissions := []*commission.Commission{
		{ID: "m1", ViewEventID: "v1", RecipientID: "a1", Amount: decimal.NewFromInt(5), Depth: 1, Status: commission.StatusApproved, ApprovedAt: &approved, CreatedAt: now},
		{ID: "m2", ViewEventID: "v3", RecipientID: "a2", Amount: decimal.NewFromInt(5), Depth: 1, Status: commission.StatusApproved, ApprovedAt: &approved, CreatedAt: now},
		{ID: "m3", ViewEventID: "v3", RecipientID: "a1", Amount: decimal.NewFromInt(2), Depth: 2, Status: commission.StatusApproved, ApprovedAt: &approved, CreatedAt: now},
		{ID: "m4", ViewEventID: "v9", RecipientID: "a1", Amount: decimal.NewFromInt(7), Depth: 1, Status: commission.StatusPending, CreatedAt: now},
	}
	require.NoError(t, db.Create(commissions).Error)

	entries := []*ledger.LedgerEntry{
		{ID: "e1", AccountID: "a1", Sequence: 1, Amount: decimal.NewFromInt(5), Reason: ledger.ReasonCommission, Hash: "h1", CreatedAt: now},
		{ID: "e2", AccountID: "a2", Sequence: 1, Amount: decimal.NewFromInt(5), Reason: ledger.ReasonCommission, Hash: "h2", CreatedAt: now.Add(-40 * 24 * time.Hour)},
		{ID: "e3", AccountID: "a1", Sequence: 2, Amount: decimal.NewFromInt(2), Reason: ledger.ReasonCommission, Hash: "h3", CreatedAt: now},
	}
	require.NoError(t, db.Create(entries).Error)
}

func TestSummary(t *testing.T) {
	svc, db := setup(t)
	now := time.Now().UTC()
	seed(t, db, now)

	s, err := svc.Summary(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, s.ActiveAccounts)
	require.True(t, s.CommissionsToday.Equal(decimal.NewFromInt(12)), s.CommissionsToday.String())
	require.EqualValues(t, 3, s.CommissionCount)
	require.EqualValues(t, 3, s.TotalViews)
	require.EqualValues(t, 2, s.ValidViews)
	require.EqualValues(t, 4, s.TotalClicks)
	require.EqualValues(t, 3, s.ValidClicks)
	require.EqualValues(t, 1, s.ActiveCampaigns)
	require.EqualValues(t, 1, s.CompletedCampaigns)
}

func TestSummaryEmpty(t *testing.T) {
	svc, _ := setup(t)

	s, err := svc.Summary(context.Background())
	require.NoError(t, err)
	require.True(t, s.CommissionsToday.IsZero())
	require.Zero(t, s.TotalViews)
}

func TestDashboard(t *testing.T) {
	svc, db := setup(t)
	now := time.Now().UTC()
	seed(t, db, now)

	d, err := svc.Dashboard(context.Background(), "a1")
	require.NoError(t, err)
	require.True(t, d.Balance.Equal(decimal.NewFromInt(40)))
	require.Equal(t, account.TierSilver, d.Tier)
	require.Equal(t, "SILVER", d.TierName)
	require.True(t, d.MonthlyCommissions.Equal(decimal.NewFromInt(7)), d.MonthlyCommissions.String())
	require.EqualValues(t, 2, d.CommissionCount)
	require.EqualValues(t, 2, d.MonthlyClicks)
	require.EqualValues(t, 1, d.MonthlyViews)
	require.EqualValues(t, 2, d.Links)

	_, err = svc.Dashboard(context.Background(), "ghost")
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}
