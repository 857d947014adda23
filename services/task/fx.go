package task

import (
	"ppv-trustcore/services/campaign"
	"ppv-trustcore/services/validation"

	"go.uber.org/fx"
)

var Module = fx.Module("task.service",
	fx.Provide(
		func(s *validation.Service) ValidationSweeper { return s },
		func(s *campaign.Service) CompletionSweeper { return s },
		NewService,
		NewScheduler,
	),
)

// Worker registers the sweep handlers on the asynq mux.
var Worker = fx.Module("task.worker",
	fx.Invoke(Register),
)

// Cron starts the periodic enqueue loop.
var Cron = fx.Module("task.cron",
	fx.Invoke(StartScheduler),
)
