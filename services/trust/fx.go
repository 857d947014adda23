package trust

import (
	"ppv-trustcore/services/signal"

	"go.uber.org/fx"
)

var Module = fx.Module("trust.service",
	fx.Provide(
		NewHTTPAdvisor,
		NewEngine,
		func(s *signal.Service) Collector { return s },
	),
)
