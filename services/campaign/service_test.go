package campaign

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ppv-trustcore/pkg/errutil"
	"ppv-trustcore/services/account"
	"ppv-trustcore/services/event"
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
	calls []string
	err   error
}

func (m *rewarderMock) RewardCreator(ctx context.Context, tx *gorm.DB, ownerID, campaignID, title string) error {
	m.calls = append(m.calls, ownerID+":"+campaignID)
	return m.err
}

func setup(t *testing.T) (*Service, *gorm.DB, *rewarderMock) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&account.Account{},
		&Campaign{},
		&TrackingLink{},
		&CampaignNotification{},
		&event.ViewEvent{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	for _, id := range []string{"owner", "p1", "p2"} {
		require.NoError(t, db.Create(&account.Account{ID: id, Username: id}).Error)
	}

	rewarder := &rewarderMock{}
	return NewService(ServiceParams{DB: db, Node: node, Rewarder: rewarder}), db, rewarder
}

func TestExtractVideoID(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=1": "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ":                   "dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ":      "dQw4w9WgXcQ",
		"https://www.youtube.com/v/dQw4w9WgXcQ":          "dQw4w9WgXcQ",
	}
	for url, want := range cases {
		got, ok := ExtractVideoID(url)
		require.True(t, ok, url)
		require.Equal(t, want, got)
	}

	_, ok := ExtractVideoID("https://example.com/video.mp4")
	require.False(t, ok)
}

func TestCreateCampaign(t *testing.T) {
	svc, db, rewarder := setup(t)

	c, err := svc.Create(context.Background(), CreateInput{
		OwnerID:     "owner",
		Title:       "Summer Launch!",
		VideoURL:    "https://youtu.be/abc123",
		TargetViews: 5,
	})
	require.NoError(t, err)
	require.Equal(t, CampaignStatusActive, c.Status)
	require.Equal(t, "summer-launch", c.Slug)
	require.Equal(t, "abc123", c.VideoID)
	require.True(t, c.RewardPerView.Equal(DefaultRewardPerView))
	require.NotEmpty(t, c.Code)
	require.Equal(t, []string{"owner:" + c.ID}, rewarder.calls)

	var notes []CampaignNotification
	require.NoError(t, db.Where("campaign_id = ?", c.ID).Order("account_id").Find(&notes).Error)
	require.Len(t, notes, 2)
	require.Equal(t, "p1", notes[0].AccountID)
	require.Equal(t, NotificationCampaignCreated, notes[0].Type)
}

func TestCreateCampaignValidation(t *testing.T) {
	svc, _, rewarder := setup(t)

	_, err := svc.Create(context.Background(), CreateInput{OwnerID: "owner", Title: "", VideoURL: "nope", TargetViews: 0})
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))
	require.Empty(t, rewarder.calls)

	_, err = svc.Create(context.Background(), CreateInput{OwnerID: "ghost", Title: "x", VideoURL: "https://youtu.be/a", TargetViews: 1})
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}

func TestCreateCampaignRollsBackOnRewardFailure(t *testing.T) {
	svc, db, rewarder := setup(t)
	rewarder.err = fmt.Errorf("ledger down")

	_, err := svc.Create(context.Background(), CreateInput{OwnerID: "owner", Title: "x", VideoURL: "https://youtu.be/a", TargetViews: 1})
	require.Error(t, err)

	var n int64
	require.NoError(t, db.Model(&Campaign{}).Count(&n).Error)
	require.Zero(t, n)
}

func seedCampaign(t *testing.T, db *gorm.DB, target int64) *Campaign {
	t.Helper()

	c := &Campaign{
		ID:            "c1",
		Code:          "CMP-1",
		OwnerID:       "owner",
		Title:         "launch",
		VideoURL:      "https://youtu.be/abc",
		TargetViews:   target,
		RewardPerView: decimal.NewFromInt(100),
		Status:        CampaignStatusActive,
	}
	require.NoError(t, db.Create(c).Error)
	require.NoError(t, db.Create(&TrackingLink{ID: "l1", CampaignID: c.ID, AccountID: "p1", Token: "t1"}).Error)
	require.NoError(t, db.Create(&TrackingLink{ID: "l2", CampaignID: c.ID, AccountID: "p2", Token: "t2"}).Error)
	return c
}

func seedValidViews(t *testing.T, db *gorm.DB, campaignID string, n int) {
	t.Helper()

	now := time.Now()
	for i := 0; i < n; i++ {
		require.NoError(t, db.Create(&event.ViewEvent{
			ID:          fmt.Sprintf("v%d", i),
			LinkID:      "l1",
			CampaignID:  campaignID,
			AccountID:   "p1",
			Address:     "8.8.8.8",
			WatchTime:   90,
			IsValid:     true,
			ValidatedAt: &now,
			CreatedAt:   now,
		}).Error)
	}
}

func TestCheckCompletionBelowTarget(t *testing.T) {
	svc, db, _ := setup(t)
	seedCampaign(t, db, 5)
	seedValidViews(t, db, "c1", 4)

	done, err := svc.CheckCompletion(context.Background(), "c1")
	require.NoError(t, err)
	require.False(t, done)
}

func TestCheckCompletionExactlyOnce(t *testing.T) {
	svc, db, _ := setup(t)
	seedCampaign(t, db, 5)
	seedValidViews(t, db, "c1", 5)

	var wins atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done, err := svc.CheckCompletion(context.Background(), "c1")
			if err != nil {
				errs <- err
				return
			}
			if done {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, int32(1), wins.Load())

	c, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, CampaignStatusCompleted, c.Status)
	require.NotNil(t, c.CompletedAt)

	var n int64
	require.NoError(t, db.Model(&CampaignNotification{}).
		Where("campaign_id = ? AND type = ?", "c1", NotificationCampaignCompleted).
		Count(&n).Error)
	require.Equal(t, int64(2), n)
}

func TestSweepCompleted(t *testing.T) {
	svc, db, _ := setup(t)
	seedCampaign(t, db, 3)
	seedValidViews(t, db, "c1", 3)

	completed, err := svc.SweepCompleted(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, completed)

	completed, err = svc.SweepCompleted(context.Background())
	require.NoError(t, err)
	require.Zero(t, completed)

	notes, err := svc.ListNotifications(context.Background(), "p2")
	require.NoError(t, err)
	require.Len(t, notes, 1)
}
