package main

import (
	"log"

	"ppv-trustcore/internal/httpapi"
	"ppv-trustcore/internal/migrate"
	"ppv-trustcore/pkg/config"
	"ppv-trustcore/pkg/db"
	"ppv-trustcore/pkg/featureflags"
	"ppv-trustcore/pkg/gen"
	"ppv-trustcore/pkg/hashistack/secretmanager"
	"ppv-trustcore/pkg/hashistack/servicediscover"
	"ppv-trustcore/pkg/health"
	"ppv-trustcore/pkg/logger"
	"ppv-trustcore/pkg/otelcol"
	"ppv-trustcore/pkg/profiling"
	"ppv-trustcore/pkg/redis"
	"ppv-trustcore/pkg/sequence"
	"ppv-trustcore/pkg/server"
	"ppv-trustcore/services/account"
	"ppv-trustcore/services/campaign"
	"ppv-trustcore/services/commission"
	"ppv-trustcore/services/ledger"
	"ppv-trustcore/services/link"
	"ppv-trustcore/services/payout"
	"ppv-trustcore/services/signal"
	"ppv-trustcore/services/stats"
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
		profiling.Module,
		db.Module,
		migrate.Module,
		redis.Module,
		sequence.Module,
		gen.Module,
		featureflags.Module,
		health.Module,
		signal.Module,
		trust.Module,
		account.Module,
		ledger.Module,
		campaign.Module,
		link.Module,
		commission.Module,
		validation.Module,
		payout.Module,
		stats.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		servicediscover.Module,
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
