package event

import "time"

// State is the derived lifecycle state of a view.
type State string

const (
	StatePending State = "PENDING"
	StateValid   State = "VALID"
	StateInvalid State = "INVALID"
	// StateFinal marks an invalid view whose deferred re-evaluation is done.
	StateFinal State = "FINAL"
)

type ClickEvent struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	LinkID    string    `gorm:"column:link_id;type:varchar(32);not null;index:idx_click_link_addr_time,priority:1" json:"link_id"`
	Address   string    `gorm:"column:address;type:varchar(64);not null;index:idx_click_link_addr_time,priority:2" json:"address"`
	UserAgent string    `gorm:"column:user_agent;type:text" json:"user_agent"`
	Referrer  string    `gorm:"column:referrer;type:text" json:"referrer,omitempty"`
	RiskScore float64   `gorm:"column:risk_score;not null" json:"risk_score"`
	IsValid   bool      `gorm:"column:is_valid;not null" json:"is_valid"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_click_link_addr_time,priority:3" json:"created_at"`
}

func (ClickEvent) TableName() string { return "click_events" }

type ViewEvent struct {
	ID             string     `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	LinkID         string     `gorm:"column:link_id;type:varchar(32);not null;index:idx_view_link_addr_time,priority:1" json:"link_id"`
	CampaignID     string     `gorm:"column:campaign_id;type:varchar(32);not null;index" json:"campaign_id"`
	AccountID      string     `gorm:"column:account_id;type:varchar(32);not null;index" json:"account_id"`
	Address        string     `gorm:"column:address;type:varchar(64);not null;index:idx_view_link_addr_time,priority:2" json:"address"`
	UserAgent      string     `gorm:"column:user_agent;type:text" json:"user_agent"`
	WatchTime      int        `gorm:"column:watch_time;not null" json:"watch_time"`
	RiskScore      float64    `gorm:"column:risk_score;not null" json:"risk_score"`
	IsValid        bool       `gorm:"column:is_valid;not null;index" json:"is_valid"`
	ValidatedAt    *time.Time `gorm:"column:validated_at" json:"validated_at,omitempty"`
	CommissionedAt *time.Time `gorm:"column:commissioned_at" json:"commissioned_at,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null;index:idx_view_link_addr_time,priority:3" json:"created_at"`
}

func (ViewEvent) TableName() string { return "view_events" }

// State derives the lifecycle state from the stored flags.
func (v *ViewEvent) State() State {
	switch {
	case v.IsValid:
		return StateValid
	case v.ValidatedAt != nil:
		return StateFinal
	case v.ID == "":
		return StatePending
	default:
		return StateInvalid
	}
}
