package main

import (
	"log"

	"ppv-trustcore/pkg/config"
	"ppv-trustcore/pkg/db"
	"ppv-trustcore/pkg/featureflags"
	"ppv-trustcore/pkg/gen"
	"ppv-trustcore/pkg/hashistack/secretmanager"
	"ppv-trustcore/pkg/logger"
	"ppv-trustcore/pkg/otelcol"
	"ppv-trustcore/pkg/redis"
	"ppv-trustcore/pkg/sequence"
	"ppv-trustcore/pkg/task"
	"ppv-trustcore/services/account"
	"ppv-trustcore/services/campaign"
	"ppv-trustcore/services/commission"
	"ppv-trustcore/services/ledger"
	"ppv-trustcore/services/link"
	"ppv-trustcore/services/signal"
	taskservice "ppv-trustcore/services/task"
	"ppv-trustcore/services/trust"
	"ppv-trustcore/services/validation"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		sequence.Module,
		gen.Module,
		featureflags.Module,
		task.Client,
		task.Server,
		signal.Module,
		trust.Module,
		account.Module,
		ledger.Module,
		campaign.Module,
		link.Module,
		commission.Module,
		validation.Module,
		taskservice.Module,
		taskservice.Worker,
		taskservice.Cron,
		fxLogger,
	}
	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
