package trust

import (
	"context"
	"encoding/json"
	"time"

	"ppv-trustcore/pkg/config"
	"ppv-trustcore/pkg/featureflags"
	"ppv-trustcore/pkg/metrics"
	"ppv-trustcore/pkg/repository"
	"ppv-trustcore/services/signal"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("ppv-trustcore/services/trust")

// Collector supplies the facts for a request.
type Collector interface {
	Collect(ctx context.Context, p signal.Visit) (signal.Facts, error)
}

type Engine struct {
	cfg       *config.Config
	node      *snowflake.Node
	collector Collector
	advisor   Advisor
	flags     featureflags.FeatureFlag

	fraudLog repository.Repository[FraudLog]
}

type EngineParams struct {
	fx.In

	Config    *config.Config
	DB        *gorm.DB
	Node      *snowflake.Node
	Collector Collector
	Advisor   Advisor                  `optional:"true"`
	Flags     featureflags.FeatureFlag `optional:"true"`
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		cfg:       p.Config,
		node:      p.Node,
		collector: p.Collector,
		advisor:   p.Advisor,
		flags:     p.Flags,
		fraudLog:  repository.ProvideStore[FraudLog](p.DB),
	}
}

// Threshold is the score at or above which a request is not valid.
func (e *Engine) Threshold() float64 {
	if e.cfg.Trust.ValidThreshold > 0 {
		return e.cfg.Trust.ValidThreshold
	}
	return 0.7
}

// Evaluate collects the request's signals and composes its risk score.
// Advisory failures count as zero. The assessment is audited best effort.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Assessment, error) {
	ctx, span := tracer.Start(ctx, "trust.Evaluate")
	defer span.End()

	facts, err := e.collector.Collect(ctx, req.Visit)
	if err != nil {
		return Assessment{}, err
	}

	var (
		sub     SubScores
		reasons []string
		r       []string
	)
	sub.Basic, r = BasicScore(facts)
	reasons = append(reasons, r...)
	sub.Behavioral, r = BehavioralScore(facts, e.cfg.Trust)
	reasons = append(reasons, r...)
	sub.Network, r = NetworkScore(facts)
	reasons = append(reasons, r...)
	sub.Advisory = e.advisory(ctx, req, facts)
	if sub.Advisory > 0 {
		reasons = append(reasons, ReasonAdvisory)
	}

	a := Assessment{
		Score:   Compose(sub),
		Sub:     sub,
		Reasons: reasons,
		Facts:   facts,
	}
	a.Valid = a.Score < e.Threshold()

	span.SetAttributes(
		attribute.Float64("trust.score", a.Score),
		attribute.Bool("trust.valid", a.Valid),
	)

	e.audit(ctx, req, a)
	return a, nil
}

func (e *Engine) advisory(ctx context.Context, req Request, facts signal.Facts) float64 {
	if e.advisor == nil {
		return 0
	}
	enabled := e.cfg.Advisory.Enabled
	if e.flags != nil {
		enabled = e.flags.Enabled(ctx, featureflags.AdvisoryValidation, enabled)
	}
	if !enabled {
		return 0
	}

	window := e.cfg.Trust.BehaviorWindow
	if window <= 0 {
		window = time.Minute
	}

	confidence, err := e.advisor.Confidence(ctx, AdvisoryInput{
		Address:      req.Address,
		UserAgent:    req.UserAgent,
		Referrer:     req.Referrer,
		RequestCount: facts.RecentRequests,
		WindowMillis: window.Milliseconds(),
	})
	if err != nil {
		metrics.AdvisoryFailures.Inc()
		zap.L().Warn("advisory lookup failed", zap.String("address", req.Address), zap.Error(err))
		return 0
	}
	return confidence
}

func (e *Engine) audit(ctx context.Context, req Request, a Assessment) {
	details, err := json.Marshal(map[string]any{
		"sub_scores":      a.Sub,
		"reasons":         a.Reasons,
		"class":           a.Facts.Class,
		"recent_requests": a.Facts.RecentRequests,
		"user_agent":      req.UserAgent,
		"valid":           a.Valid,
	})
	if err != nil {
		zap.L().Warn("failed to encode fraud log", zap.Error(err))
		return
	}

	entry := &FraudLog{
		ID:        e.node.Generate().String(),
		Address:   req.Address,
		Endpoint:  req.Endpoint,
		Score:     a.Score,
		Details:   datatypes.JSON(details),
		CreatedAt: time.Now().UTC(),
	}
	if err := e.fraudLog.Create(ctx, entry); err != nil {
		zap.L().Warn("failed to write fraud log", zap.String("address", req.Address), zap.Error(err))
	}
}
