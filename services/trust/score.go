package trust

import (
	"math"
	"regexp"
	"strings"
	"time"

	"ppv-trustcore/pkg/config"
	"ppv-trustcore/services/signal"
)

var botAgent = regexp.MustCompile(`(?i)bot|crawler|spider|scraper|headless|selenium|phantom`)

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Compose clamps every sub-score to [0,1], applies the weights and clamps the
// sum. Raising any single sub-score never lowers the result.
func Compose(s SubScores) float64 {
	return clamp(
		clamp(s.Basic)*WeightBasic +
			clamp(s.Behavioral)*WeightBehavioral +
			clamp(s.Network)*WeightNetwork +
			clamp(s.Advisory)*WeightAdvisory,
	)
}

// BasicScore averages the severities of the triggered checks. Because it is a
// mean, an additional low-severity hit can lower the score.
func BasicScore(f signal.Facts) (float64, []string) {
	var (
		sum     float64
		reasons []string
	)

	if f.Blacklisted {
		sum += SeverityBlacklisted
		reasons = append(reasons, ReasonBlacklisted)
	}
	if botAgent.MatchString(f.UserAgent) {
		sum += SeverityBotAgent
		reasons = append(reasons, ReasonBotAgent)
	}
	if strings.TrimSpace(f.AcceptLanguage) == "" || strings.TrimSpace(f.AcceptEncoding) == "" {
		sum += SeverityMissingHeaders
		reasons = append(reasons, ReasonMissingHeaders)
	}

	if len(reasons) == 0 {
		return 0, nil
	}
	return clamp(sum / float64(len(reasons))), reasons
}

// BehavioralScore flags request bursts and mechanically regular gaps.
func BehavioralScore(f signal.Facts, cfg config.Trust) (float64, []string) {
	maxRequests := cfg.BehaviorMaxRequests
	if maxRequests <= 0 {
		maxRequests = 50
	}
	minSamples := cfg.RegularityMinSamples
	if minSamples <= 0 {
		minSamples = 5
	}
	maxCV := cfg.RegularityMaxCV
	if maxCV <= 0 {
		maxCV = 0.1
	}

	if f.RecentRequests > maxRequests {
		return ScoreBotLike, []string{ReasonBurst}
	}
	if f.RecentRequests >= minSamples && len(f.Intervals) > 0 {
		if cv, ok := coefficientOfVariation(f.Intervals); !ok || cv < maxCV {
			return ScoreBotLike, []string{ReasonRegular}
		}
	}
	return 0, nil
}

// NetworkScore penalises reserved and unparseable addresses.
func NetworkScore(f signal.Facts) (float64, []string) {
	if f.Class.IsReserved() {
		return ScoreReservedAddress, []string{ReasonReserved}
	}
	return 0, nil
}

// coefficientOfVariation returns stddev/mean of the gaps. ok is false when the
// mean is zero, which callers treat as perfectly regular.
func coefficientOfVariation(gaps []time.Duration) (float64, bool) {
	var mean float64
	for _, g := range gaps {
		mean += float64(g)
	}
	mean /= float64(len(gaps))
	if mean == 0 {
		return 0, false
	}

	var variance float64
	for _, g := range gaps {
		d := float64(g) - mean
		variance += d * d
	}
	variance /= float64(len(gaps))

	return math.Sqrt(variance) / mean, true
}
