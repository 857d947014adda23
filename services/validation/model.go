package validation

import (
	"ppv-trustcore/pkg/errutil"
	"ppv-trustcore/services/campaign"
	"ppv-trustcore/services/event"
	"ppv-trustcore/services/trust"
)

type Verdict string

const (
	VerdictValid       Verdict = "VALID"
	VerdictInvalid     Verdict = "INVALID"
	VerdictRateLimited Verdict = "RATE_LIMITED"
)

// Fixed scores for short-circuited views.
const (
	ScoreTooShort    = 1.0
	ScoreDailyLimit  = 0.9
	ScoreFailOpen    = 0.5
	penaltyShort     = 0.2
	penaltyRepeat    = 0.3
	penaltyReserved  = 0.4
	defaultThreshold = 0.7
)

var (
	ErrClickRateLimited = errutil.TooManyRequest("too many clicks for this link", nil)
	ErrViewRateLimited  = errutil.TooManyRequest("daily view limit reached for this link", nil)
	ErrCampaignInactive = errutil.UnprocessableEntity("campaign is not active", nil)
)

type ClickInput struct {
	Token   string
	Request trust.Request
}

type ClickResult struct {
	Event       *event.ClickEvent
	Valid       bool
	RedirectURL string
}

type ViewInput struct {
	LinkID    string
	WatchTime int
	Request   trust.Request
}

type ViewResult struct {
	Event *event.ViewEvent
	Valid bool
	// Completed is set when this view completed its campaign.
	Completed bool
	Campaign  *campaign.Campaign `json:"-"`
}

type SweepResult struct {
	Processed int
	Flipped   int
	Skipped   int
}
