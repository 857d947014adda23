package link

import (
	"context"
	"testing"

	"ppv-trustcore/pkg/errutil"
	"ppv-trustcore/services/account"
	"ppv-trustcore/services/campaign"
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

func setup(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &account.Account{}, &campaign.Campaign{}, &campaign.TrackingLink{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	require.NoError(t, db.Create(&account.Account{ID: "owner", Username: "owner"}).Error)
	require.NoError(t, db.Create(&account.Account{ID: "promoter", Username: "promoter"}).Error)
	require.NoError(t, db.Create(&campaign.Campaign{
		ID:            "c1",
		Code:          "CMP-1",
		OwnerID:       "owner",
		Title:         "launch",
		VideoURL:      "https://youtu.be/abc",
		TargetViews:   10,
		RewardPerView: decimal.NewFromInt(100),
		Status:        campaign.CampaignStatusActive,
	}).Error)

	return NewService(ServiceParams{DB: db, Node: node}), db
}

func TestCreateAndResolve(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	l, err := svc.Create(ctx, "c1", "promoter")
	require.NoError(t, err)
	require.Len(t, l.Token, 32)

	resolved, err := svc.Resolve(ctx, l.Token)
	require.NoError(t, err)
	require.Equal(t, l.ID, resolved.Link.ID)
	require.Equal(t, "c1", resolved.Campaign.ID)

	_, err = svc.Resolve(ctx, "unknown")
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))

	byID, err := svc.Get(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, l.Token, byID.Link.Token)

	_, err = svc.Get(ctx, "")
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}

func TestCreateRejectsOwner(t *testing.T) {
	svc, _ := setup(t)

	_, err := svc.Create(context.Background(), "c1", "owner")
	require.True(t, errutil.HasStatus(err, errutil.StatusForbidden))
}

func TestCreateOneLinkPerPair(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "c1", "promoter")
	require.NoError(t, err)

	_, err = svc.Create(ctx, "c1", "promoter")
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict))
}

func TestCreateRetriesTokenCollision(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&account.Account{ID: "other", Username: "other"}).Error)

	tokens := []string{
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
	}
	svc.newToken = func() (string, error) {
		tok := tokens[0]
		tokens = tokens[1:]
		return tok, nil
	}

	first, err := svc.Create(ctx, "c1", "promoter")
	require.NoError(t, err)
	second, err := svc.Create(ctx, "c1", "other")
	require.NoError(t, err)

	require.NotEqual(t, first.Token, second.Token)
	require.Equal(t, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", second.Token)
}

func TestCreateInactiveCampaign(t *testing.T) {
	svc, db := setup(t)
	require.NoError(t, db.Model(&campaign.Campaign{}).Where("id = ?", "c1").Update("status", campaign.CampaignStatusCompleted).Error)

	_, err := svc.Create(context.Background(), "c1", "promoter")
	require.True(t, errutil.HasStatus(err, errutil.StatusUnprocessableEntity))
}
