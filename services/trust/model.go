package trust

import (
	"time"

	"ppv-trustcore/services/signal"

	"gorm.io/datatypes"
)

// Weights of each sub-score in the composite.
const (
	WeightBasic      = 0.40
	WeightBehavioral = 0.30
	WeightNetwork    = 0.20
	WeightAdvisory   = 0.10
)

// Severities.
const (
	SeverityBlacklisted    = 1.0
	SeverityBotAgent       = 1.0
	SeverityMissingHeaders = 0.5
	ScoreBotLike           = 0.8
	ScoreReservedAddress   = 0.6
)

const (
	ReasonBlacklisted    = "BLACKLISTED_ADDRESS"
	ReasonBotAgent       = "SUSPICIOUS_USER_AGENT"
	ReasonMissingHeaders = "MISSING_HEADERS"
	ReasonBurst          = "REQUEST_BURST"
	ReasonRegular        = "REGULAR_INTERVALS"
	ReasonReserved       = "RESERVED_ADDRESS"
	ReasonAdvisory       = "ADVISORY"
)

type SubScores struct {
	Basic      float64 `json:"basic"`
	Behavioral float64 `json:"behavioral"`
	Network    float64 `json:"network"`
	Advisory   float64 `json:"advisory"`
}

// Request is a single click or view submission to assess.
type Request struct {
	signal.Visit
	Referrer string
}

type Assessment struct {
	Score   float64   `json:"score"`
	Sub     SubScores `json:"sub_scores"`
	Reasons []string  `json:"reasons,omitempty"`
	Valid   bool      `json:"valid"`

	Facts signal.Facts `json:"-"`
}

type FraudLog struct {
	ID        string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Address   string         `gorm:"column:address;type:varchar(64);not null;index" json:"address"`
	Endpoint  string         `gorm:"column:endpoint;type:varchar(255)" json:"endpoint"`
	Score     float64        `gorm:"column:score;not null" json:"score"`
	Details   datatypes.JSON `gorm:"column:details" json:"details"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (FraudLog) TableName() string { return "fraud_logs" }
