package account

import (
	"context"
	"testing"

	"ppv-trustcore/pkg/errutil"
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

type rewarderMock struct {
	referrers []string
}

func (m *rewarderMock) RewardReferral(ctx context.Context, tx *gorm.DB, referrerID, refereeID, refereeName string) error {
	m.referrers = append(m.referrers, referrerID)
	return nil
}

func setup(t *testing.T) (*Service, *gorm.DB, *rewarderMock) {
	t.Helper()

	db := testutil.NewTestDB(t, &Account{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	rewarder := &rewarderMock{}
	return NewService(ServiceParams{DB: db, Node: node, Rewarder: rewarder}), db, rewarder
}

func TestTierFor(t *testing.T) {
	cases := []struct {
		lifetime int64
		want     Tier
	}{
		{0, TierBronze},
		{999, TierBronze},
		{1000, TierSilver},
		{4999, TierSilver},
		{5000, TierGold},
		{15000, TierPlatinum},
		{49999, TierPlatinum},
		{50000, TierDiamond},
		{1_000_000, TierDiamond},
	}
	for _, c := range cases {
		require.Equal(t, c.want, TierFor(decimal.NewFromInt(c.lifetime)), c.lifetime)
	}

	require.True(t, BonusFor(TierSilver).Equal(decimal.NewFromInt(500)))
	require.True(t, BonusFor(TierDiamond).Equal(decimal.NewFromInt(5000)))
	require.True(t, BonusFor(TierBronze).IsZero())
	require.Equal(t, "PLATINUM", TierPlatinum.String())
}

func TestRegister(t *testing.T) {
	svc, _, rewarder := setup(t)
	ctx := context.Background()

	root, err := svc.Register(ctx, RegisterInput{Username: "root"})
	require.NoError(t, err)
	require.Nil(t, root.ReferredBy)
	require.Equal(t, TierBronze, root.Tier)
	require.Empty(t, rewarder.referrers)

	child, err := svc.Register(ctx, RegisterInput{Username: "child", ReferredBy: root.ID})
	require.NoError(t, err)
	require.NotNil(t, child.ReferredBy)
	require.Equal(t, root.ID, *child.ReferredBy)
	require.Equal(t, []string{root.ID}, rewarder.referrers)
}

func TestRegisterErrors(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Username: "  "})
	require.True(t, errutil.HasStatus(err, errutil.StatusBadRequest))

	_, err = svc.Register(ctx, RegisterInput{Username: "a", ReferredBy: "nobody"})
	require.True(t, errutil.HasStatus(err, errutil.StatusBadRequest))

	_, err = svc.Register(ctx, RegisterInput{Username: "a"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterInput{Username: "a"})
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict))
}

func TestGetNotFound(t *testing.T) {
	svc, _, _ := setup(t)

	_, err := svc.Get(context.Background(), "missing")
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}

func TestGetEmptyIDWithAccounts(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Username: "alice"})
	require.NoError(t, err)

	acc, err := svc.Get(ctx, "")
	require.Nil(t, acc)
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}

func ptr(s string) *string { return &s }

func TestReferralChain(t *testing.T) {
	_, db, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&Account{ID: "a", Username: "a"}).Error)
	require.NoError(t, db.Create(&Account{ID: "b", Username: "b", ReferredBy: ptr("a")}).Error)
	require.NoError(t, db.Create(&Account{ID: "c", Username: "c", ReferredBy: ptr("b")}).Error)
	require.NoError(t, db.Create(&Account{ID: "d", Username: "d", ReferredBy: ptr("c")}).Error)

	chain, err := ReferralChain(ctx, db, "d", MaxReferralDepth)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	require.Equal(t, []string{"d", "c", "b"}, []string{chain[0].ID, chain[1].ID, chain[2].ID})

	chain, err = ReferralChain(ctx, db, "a", MaxReferralDepth)
	require.NoError(t, err)
	require.Len(t, chain, 1)
}

func TestReferralChainStopsOnCycle(t *testing.T) {
	_, db, _ := setup(t)

	require.NoError(t, db.Create(&Account{ID: "x", Username: "x", ReferredBy: ptr("y")}).Error)
	require.NoError(t, db.Create(&Account{ID: "y", Username: "y", ReferredBy: ptr("x")}).Error)

	chain, err := ReferralChain(context.Background(), db, "x", MaxReferralDepth)
	require.NoError(t, err)
	require.Len(t, chain, 2)
}
