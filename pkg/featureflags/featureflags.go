package featureflags

import (
	"context"

	"ppv-trustcore/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

// Feature names evaluated by the pipeline.
const (
	AdvisoryValidation = "advisory_validation"
)

type FeatureFlag interface {
	// Enabled reports the flag state, returning fallback when flags are not
	// configured or cannot be fetched.
	Enabled(ctx context.Context, feature string, fallback bool) bool
}

type featureflag struct {
	client *flagsmith.Client
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithAnalytics(),
	}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) Enabled(ctx context.Context, feature string, fallback bool) bool {
	if s.client == nil {
		return fallback
	}

	flags, err := s.client.GetEnvironmentFlags()
	if err != nil {
		zap.L().Warn("failed to fetch feature flags", zap.String("feature", feature), zap.Error(err))
		return fallback
	}

	enabled, err := flags.IsFeatureEnabled(feature)
	if err != nil {
		return fallback
	}
	return enabled
}

// Static is a FeatureFlag with fixed answers.
type Static map[string]bool

func (s Static) Enabled(_ context.Context, feature string, fallback bool) bool {
	if v, ok := s[feature]; ok {
		return v
	}
	return fallback
}
