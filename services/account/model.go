package account

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier is the loyalty level of an account. Higher values rank higher.
type Tier int

const (
	TierBronze Tier = iota
	TierSilver
	TierGold
	TierPlatinum
	TierDiamond
)

func (t Tier) String() string {
	switch t {
	case TierBronze:
		return "BRONZE"
	case TierSilver:
		return "SILVER"
	case TierGold:
		return "GOLD"
	case TierPlatinum:
		return "PLATINUM"
	case TierDiamond:
		return "DIAMOND"
	default:
		return "UNKNOWN"
	}
}

type TierRule struct {
	Tier      Tier
	Threshold decimal.Decimal
	Bonus     decimal.Decimal
}

// TierRules is ordered by ascending threshold.
var TierRules = []TierRule{
	{Tier: TierBronze, Threshold: decimal.Zero, Bonus: decimal.Zero},
	{Tier: TierSilver, Threshold: decimal.NewFromInt(1000), Bonus: decimal.NewFromInt(500)},
	{Tier: TierGold, Threshold: decimal.NewFromInt(5000), Bonus: decimal.NewFromInt(1000)},
	{Tier: TierPlatinum, Threshold: decimal.NewFromInt(15000), Bonus: decimal.NewFromInt(2000)},
	{Tier: TierDiamond, Threshold: decimal.NewFromInt(50000), Bonus: decimal.NewFromInt(5000)},
}

// TierFor returns the highest tier whose threshold is reached.
func TierFor(lifetime decimal.Decimal) Tier {
	tier := TierBronze
	for _, r := range TierRules {
		if lifetime.GreaterThanOrEqual(r.Threshold) {
			tier = r.Tier
		}
	}
	return tier
}

func BonusFor(t Tier) decimal.Decimal {
	for _, r := range TierRules {
		if r.Tier == t {
			return r.Bonus
		}
	}
	return decimal.Zero
}

type Account struct {
	ID             string          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Username       string          `gorm:"column:username;type:varchar(100);uniqueIndex;not null" json:"username"`
	Balance        decimal.Decimal `gorm:"column:balance;type:decimal(20,8);not null;default:0" json:"balance"`
	LifetimeEarned decimal.Decimal `gorm:"column:lifetime_earned;type:decimal(20,8);not null;default:0" json:"lifetime_earned"`
	Tier           Tier            `gorm:"column:tier;not null;default:0" json:"tier"`
	ReferredBy     *string         `gorm:"column:referred_by;type:varchar(32);index" json:"referred_by,omitempty"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

type RegisterInput struct {
	Username   string
	ReferredBy string
}
