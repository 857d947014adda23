package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
)

// Rate is the share of the per-view reward paid at a referral depth.
type Rate struct {
	Depth int
	Share decimal.Decimal
}

// Rates are ordered by depth. Depth 1 is the promoter holding the link.
var Rates = []Rate{
	{Depth: 1, Share: decimal.NewFromFloat(0.05)},
	{Depth: 2, Share: decimal.NewFromFloat(0.02)},
	{Depth: 3, Share: decimal.NewFromFloat(0.01)},
}

type Commission struct {
	ID          string          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	ViewEventID string          `gorm:"column:view_event_id;type:varchar(32);not null;uniqueIndex:idx_commission_view_recipient,priority:1" json:"view_event_id"`
	RecipientID string          `gorm:"column:recipient_id;type:varchar(32);not null;uniqueIndex:idx_commission_view_recipient,priority:2;index" json:"recipient_id"`
	CampaignID  string          `gorm:"column:campaign_id;type:varchar(32);index" json:"campaign_id"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(20,8);not null" json:"amount"`
	Depth       int             `gorm:"column:depth;not null" json:"depth"`
	Status      Status          `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	ApprovedAt  *time.Time      `gorm:"column:approved_at" json:"approved_at,omitempty"`
	CreatedAt   time.Time       `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (Commission) TableName() string { return "commissions" }
