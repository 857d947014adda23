package campaign

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

type CampaignStatus string

const (
	CampaignStatusActive    CampaignStatus = "ACTIVE"
	CampaignStatusCompleted CampaignStatus = "COMPLETED"
)

type NotificationType string

const (
	NotificationCampaignCreated   NotificationType = "CAMPAIGN_CREATED"
	NotificationCampaignCompleted NotificationType = "CAMPAIGN_COMPLETED"
)

// DefaultRewardPerView applies when a campaign is created without a reward.
var DefaultRewardPerView = decimal.RequireFromString("0.01")

type Campaign struct {
	ID            string          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Code          string          `gorm:"column:code;type:varchar(32);uniqueIndex" json:"code"`
	Slug          string          `gorm:"column:slug;type:varchar(255);index" json:"slug"`
	OwnerID       string          `gorm:"column:owner_id;type:varchar(32);not null;index" json:"owner_id"`
	Title         string          `gorm:"column:title;type:varchar(255);not null" json:"title"`
	Description   string          `gorm:"column:description;type:text" json:"description,omitempty"`
	VideoURL      string          `gorm:"column:video_url;type:text;not null" json:"video_url"`
	VideoID       string          `gorm:"column:video_id;type:varchar(64)" json:"video_id"`
	TargetViews   int64           `gorm:"column:target_views;not null" json:"target_views"`
	RewardPerView decimal.Decimal `gorm:"column:reward_per_view;type:decimal(20,8);not null" json:"reward_per_view"`
	Status        CampaignStatus  `gorm:"column:status;type:varchar(20);not null;default:'ACTIVE';index" json:"status"`
	CompletedAt   *time.Time      `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Campaign) TableName() string { return "campaigns" }

// IsActive reports whether the campaign still accepts views.
func (c *Campaign) IsActive() bool {
	return c.Status == CampaignStatusActive
}

// TrackingLink is the per-promoter link of a campaign. Each (campaign,
// account) pair owns at most one link.
type TrackingLink struct {
	ID         string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	CampaignID string    `gorm:"column:campaign_id;type:varchar(32);not null;uniqueIndex:idx_link_campaign_account,priority:1" json:"campaign_id"`
	AccountID  string    `gorm:"column:account_id;type:varchar(32);not null;uniqueIndex:idx_link_campaign_account,priority:2;index" json:"account_id"`
	Token      string    `gorm:"column:token;type:char(32);not null;uniqueIndex" json:"token"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (TrackingLink) TableName() string { return "tracking_links" }

type CampaignNotification struct {
	ID         string           `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	CampaignID string           `gorm:"column:campaign_id;type:varchar(32);not null;uniqueIndex:idx_notification_once,priority:1" json:"campaign_id"`
	AccountID  string           `gorm:"column:account_id;type:varchar(32);not null;uniqueIndex:idx_notification_once,priority:2;index" json:"account_id"`
	Type       NotificationType `gorm:"column:type;type:varchar(32);not null;uniqueIndex:idx_notification_once,priority:3" json:"type"`
	Message    string           `gorm:"column:message;type:text" json:"message"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (CampaignNotification) TableName() string { return "campaign_notifications" }

type CreateInput struct {
	OwnerID       string
	Title         string
	Description   string
	VideoURL      string
	TargetViews   int64
	RewardPerView decimal.Decimal
}

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([^&\n?#]+)`),
	regexp.MustCompile(`youtube\.com/v/([^&\n?#]+)`),
}

// ExtractVideoID pulls the video identifier out of a YouTube URL.
func ExtractVideoID(url string) (string, bool) {
	for _, p := range videoIDPatterns {
		if m := p.FindStringSubmatch(url); len(m) == 2 {
			return m[1], true
		}
	}
	return "", false
}
