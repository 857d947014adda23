package main

import (
	"context"
	"log"

	"ppv-trustcore/internal/migrate"
	"ppv-trustcore/pkg/config"
	"ppv-trustcore/pkg/db"
	"ppv-trustcore/pkg/hashistack/secretmanager"
	"ppv-trustcore/pkg/logger"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		migrate.Module,
		fx.Invoke(func(lc fx.Lifecycle, s fx.Shutdowner) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					return s.Shutdown()
				},
			})
		}),
		fxLogger,
	}
	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
