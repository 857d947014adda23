package signal

import (
	"context"
	"testing"
	"time"

	"ppv-trustcore/pkg/config"
	"ppv-trustcore/services/event"
	"ppv-trustcore/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func setup(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &RequestLog{}, &BlacklistedAddress{}, &event.ClickEvent{}, &event.ViewEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Default()
	store := NewRequestLogStore(RequestLogParams{Config: cfg, DB: db, Node: node})
	return NewService(ServiceParams{Config: cfg, DB: db, Requests: store}), db
}

func TestClassifyAddress(t *testing.T) {
	cases := map[string]AddressClass{
		"8.8.8.8":         AddressPublic,
		"2606:4700::1111": AddressPublic,
		"10.1.2.3":        AddressReserved,
		"192.168.0.10":    AddressReserved,
		"172.16.5.4":      AddressReserved,
		"127.0.0.1":       AddressReserved,
		"::1":             AddressReserved,
		"169.254.1.1":     AddressReserved,
		"fe80::1":         AddressReserved,
		"100.64.0.1":      AddressReserved,
		"0.0.0.0":         AddressReserved,
		"192.0.2.10":      AddressReserved,
		"224.0.0.1":       AddressReserved,
		"::ffff:10.0.0.1": AddressReserved,
		"not-an-ip":       AddressUnparseable,
		"":                AddressUnparseable,
	}
	for addr, want := range cases {
		require.Equal(t, want, ClassifyAddress(addr), addr)
	}

	require.True(t, AddressUnparseable.IsReserved())
	require.False(t, AddressPublic.IsReserved())
}

func TestCountClicks(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rows := []*event.ClickEvent{
		{ID: "1", LinkID: "l1", Address: "1.1.1.1", CreatedAt: now.Add(-10 * time.Second)},
		{ID: "2", LinkID: "l1", Address: "1.1.1.1", CreatedAt: now.Add(-2 * time.Minute)},
		{ID: "3", LinkID: "l1", Address: "2.2.2.2", CreatedAt: now},
		{ID: "4", LinkID: "l2", Address: "1.1.1.1", CreatedAt: now},
	}
	require.NoError(t, db.Create(rows).Error)

	n, err := svc.CountClicks(ctx, "l1", "1.1.1.1", now.Add(-time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = svc.CountClicks(ctx, "l1", "1.1.1.1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestEmptyAddressMatchesOnlyEmptyRows(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&event.ClickEvent{
			ID: string(rune('a' + i)), LinkID: "l1", Address: "8.8.8.8", CreatedAt: now,
		}).Error)
	}
	require.NoError(t, db.Create(&event.ViewEvent{
		ID: "v1", LinkID: "l1", CampaignID: "c", AccountID: "a", Address: "8.8.8.8", WatchTime: 90, CreatedAt: now,
	}).Error)
	require.NoError(t, db.Create(&BlacklistedAddress{ID: "b1", Address: "6.6.6.6"}).Error)
	require.NoError(t, db.Create(&RequestLog{ID: "r1", Address: "8.8.8.8", CreatedAt: now}).Error)

	n, err := svc.CountClicks(ctx, "l1", "", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = svc.CountClicks(ctx, "l1", "8.8.8.8", now.Add(-time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	n, err = svc.CountViews(ctx, "l1", "", now.Add(-time.Hour), "")
	require.NoError(t, err)
	require.Zero(t, n)

	blocked, err := svc.IsBlacklisted(ctx, "")
	require.NoError(t, err)
	require.False(t, blocked)

	recent, err := svc.RecentRequests(ctx, "", time.Hour)
	require.NoError(t, err)
	require.Zero(t, recent)
}

func TestCountViewsExcludes(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rows := []*event.ViewEvent{
		{ID: "v1", LinkID: "l1", CampaignID: "c", AccountID: "a", Address: "1.1.1.1", WatchTime: 90, CreatedAt: now.Add(-time.Hour)},
		{ID: "v2", LinkID: "l1", CampaignID: "c", AccountID: "a", Address: "1.1.1.1", WatchTime: 90, CreatedAt: now},
	}
	require.NoError(t, db.Create(rows).Error)

	n, err := svc.CountViews(ctx, "l1", "1.1.1.1", now.Add(-2*time.Hour), "")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = svc.CountViews(ctx, "l1", "1.1.1.1", now.Add(-2*time.Hour), "v2")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestRequestIntervals(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-30 * time.Second)

	for i, gap := range []time.Duration{0, 2 * time.Second, 5 * time.Second, 6 * time.Second} {
		require.NoError(t, db.Create(&RequestLog{
			ID:        string(rune('a' + i)),
			Address:   "9.9.9.9",
			CreatedAt: base.Add(gap),
		}).Error)
	}
	require.NoError(t, db.Create(&RequestLog{ID: "old", Address: "9.9.9.9", CreatedAt: base.Add(-10 * time.Minute)}).Error)

	gaps, err := svc.RequestIntervals(ctx, "9.9.9.9", time.Minute)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second, time.Second}, gaps)

	n, err := svc.RecentRequests(ctx, "9.9.9.9", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestCollect(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&BlacklistedAddress{ID: "b1", Address: "6.6.6.6", Reason: "abuse"}).Error)

	visit := Visit{Address: "6.6.6.6", Endpoint: "/r/x", UserAgent: "curl/8"}
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Observe(ctx, visit))
	}

	facts, err := svc.Collect(ctx, visit)
	require.NoError(t, err)
	require.True(t, facts.Blacklisted)
	require.Equal(t, AddressPublic, facts.Class)
	require.Equal(t, 3, facts.RecentRequests)
	require.Len(t, facts.Intervals, 2)

	facts, err = svc.Collect(ctx, Visit{Address: "10.0.0.1"})
	require.NoError(t, err)
	require.False(t, facts.Blacklisted)
	require.Equal(t, AddressReserved, facts.Class)
	require.Zero(t, facts.RecentRequests)
	require.Empty(t, facts.Intervals)
}

func TestNewRequestLogStoreFallsBackWithoutRedis(t *testing.T) {
	cfg := config.Default()
	cfg.Trust.RequestLogBackend = BackendRedis

	db := testutil.NewTestDB(t, &RequestLog{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	store := NewRequestLogStore(RequestLogParams{Config: cfg, DB: db, Node: node})
	_, ok := store.(*dbRequestLog)
	require.True(t, ok)
}
