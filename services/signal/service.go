package signal

import (
	"context"
	"fmt"
	"time"

	"ppv-trustcore/pkg/config"
	"ppv-trustcore/pkg/db/option"
	"ppv-trustcore/pkg/repository"
	"ppv-trustcore/services/event"

	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("ppv-trustcore/services/signal")

// Service gathers the facts the scoring engine and the validation rules work
// from. It only reads; requests are written through Observe.
type Service struct {
	cfg *config.Config

	requests  RequestLogStore
	clicks    repository.Repository[event.ClickEvent]
	views     repository.Repository[event.ViewEvent]
	blacklist repository.Repository[BlacklistedAddress]
}

type ServiceParams struct {
	fx.In

	Config   *config.Config
	DB       *gorm.DB
	Requests RequestLogStore
}

func NewService(p ServiceParams) *Service {
	return &Service{
		cfg:       p.Config,
		requests:  p.Requests,
		clicks:    repository.ProvideStore[event.ClickEvent](p.DB),
		views:     repository.ProvideStore[event.ViewEvent](p.DB),
		blacklist: repository.ProvideStore[BlacklistedAddress](p.DB),
	}
}

// Observe appends the request to the request log.
func (s *Service) Observe(ctx context.Context, p Visit) error {
	return s.requests.Observe(ctx, &RequestLog{
		Address:   p.Address,
		Endpoint:  p.Endpoint,
		UserAgent: p.UserAgent,
	})
}

// CountClicks counts clicks recorded for (linkID, address) at or after since.
func (s *Service) CountClicks(ctx context.Context, linkID, address string, since time.Time) (int64, error) {
	return s.clicks.Count(ctx, &event.ClickEvent{}, byLinkAddress(linkID, address), option.Since(since))
}

// CountViews counts views recorded for (linkID, address) at or after since,
// leaving out excludeID when it is set.
func (s *Service) CountViews(ctx context.Context, linkID, address string, since time.Time, excludeID string) (int64, error) {
	return s.CountViewsBetween(ctx, linkID, address, since, time.Time{}, excludeID)
}

// CountViewsBetween is CountViews bounded above by until (exclusive) when
// until is set.
func (s *Service) CountViewsBetween(ctx context.Context, linkID, address string, since, until time.Time, excludeID string) (int64, error) {
	opts := []option.QueryOption{byLinkAddress(linkID, address), option.Since(since)}
	if !until.IsZero() {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.LT, Value: until}))
	}
	if excludeID != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "id", Operator: option.NEQ, Value: excludeID}))
	}
	return s.views.Count(ctx, &event.ViewEvent{}, opts...)
}

// byLinkAddress matches both columns explicitly so an empty address only
// matches rows with an empty address.
func byLinkAddress(linkID, address string) option.QueryOption {
	return option.ApplyOperator(
		option.Condition{Field: "link_id", Operator: option.EQ, Value: linkID},
		option.Condition{Field: "address", Operator: option.EQ, Value: address},
	)
}

// RequestIntervals returns the gaps between consecutive requests of address
// within the trailing window.
func (s *Service) RequestIntervals(ctx context.Context, address string, window time.Duration) ([]time.Duration, error) {
	times, err := s.requests.Since(ctx, address, time.Now().UTC().Add(-window))
	if err != nil {
		return nil, err
	}
	return intervals(times), nil
}

// RecentRequests counts requests of address within the trailing window.
func (s *Service) RecentRequests(ctx context.Context, address string, window time.Duration) (int, error) {
	times, err := s.requests.Since(ctx, address, time.Now().UTC().Add(-window))
	if err != nil {
		return 0, err
	}
	return len(times), nil
}

func (s *Service) IsBlacklisted(ctx context.Context, address string) (bool, error) {
	if address == "" {
		return false, nil
	}
	n, err := s.blacklist.Count(ctx, &BlacklistedAddress{},
		option.ApplyOperator(option.Condition{Field: "address", Operator: option.EQ, Value: address}))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Collect builds the fact bundle for p.
func (s *Service) Collect(ctx context.Context, p Visit) (Facts, error) {
	ctx, span := tracer.Start(ctx, "signal.Collect")
	defer span.End()

	facts := Facts{
		Visit: p,
		Class: ClassifyAddress(p.Address),
	}

	blacklisted, err := s.IsBlacklisted(ctx, p.Address)
	if err != nil {
		return facts, fmt.Errorf("blacklist lookup: %w", err)
	}
	facts.Blacklisted = blacklisted

	window := s.cfg.Trust.BehaviorWindow
	if window <= 0 {
		window = time.Minute
	}

	times, err := s.requests.Since(ctx, p.Address, time.Now().UTC().Add(-window))
	if err != nil {
		return facts, fmt.Errorf("request log lookup: %w", err)
	}
	facts.RecentRequests = len(times)
	facts.Intervals = intervals(times)

	zap.L().Debug("signals collected",
		zap.String("address", p.Address),
		zap.String("class", string(facts.Class)),
		zap.Bool("blacklisted", facts.Blacklisted),
		zap.Int("recent_requests", facts.RecentRequests),
	)
	return facts, nil
}

func intervals(times []time.Time) []time.Duration {
	if len(times) < 2 {
		return nil
	}
	out := make([]time.Duration, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		out = append(out, times[i].Sub(times[i-1]))
	}
	return out
}
