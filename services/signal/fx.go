package signal

import "go.uber.org/fx"

var Module = fx.Module("signal.service",
	fx.Provide(
		NewRequestLogStore,
		NewService,
	),
)
