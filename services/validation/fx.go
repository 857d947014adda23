package validation

import (
	"ppv-trustcore/services/campaign"
	"ppv-trustcore/services/commission"
	"ppv-trustcore/services/link"
	"ppv-trustcore/services/signal"
	"ppv-trustcore/services/trust"

	"go.uber.org/fx"
)

var Module = fx.Module("validation.service",
	fx.Provide(
		func(s *link.Service) LinkResolver { return s },
		func(s *signal.Service) Signals { return s },
		func(e *trust.Engine) Scorer { return e },
		func(s *commission.Service) Distributor { return s },
		func(s *campaign.Service) CompletionChecker { return s },
		NewService,
	),
)
