package stats

import (
	"time"

	"ppv-trustcore/services/account"

	"github.com/shopspring/decimal"
)

// Summary is the platform-wide snapshot computed by Summary.
type Summary struct {
	ActiveAccounts     int64           `json:"active_accounts"`
	CommissionsToday   decimal.Decimal `json:"commissions_today"`
	CommissionCount    int64           `json:"commission_count_today"`
	ValidViews         int64           `json:"valid_views"`
	TotalViews         int64           `json:"total_views"`
	ValidClicks        int64           `json:"valid_clicks"`
	TotalClicks        int64           `json:"total_clicks"`
	ActiveCampaigns    int64           `json:"active_campaigns"`
	CompletedCampaigns int64           `json:"completed_campaigns"`
	GeneratedAt        time.Time       `json:"generated_at"`
}

// Dashboard is one account's view of its earnings for the current month.
type Dashboard struct {
	AccountID          string          `json:"account_id"`
	Balance            decimal.Decimal `json:"balance"`
	LifetimeEarned     decimal.Decimal `json:"lifetime_earned"`
	Tier               account.Tier    `json:"tier"`
	TierName           string          `json:"tier_name"`
	MonthlyCommissions decimal.Decimal `json:"monthly_commissions"`
	CommissionCount    int64           `json:"commission_count"`
	MonthlyClicks      int64           `json:"monthly_clicks"`
	MonthlyViews       int64           `json:"monthly_views"`
	Links              int64           `json:"links"`
}

type aggregate struct {
	Total decimal.Decimal
	Count int64
}
