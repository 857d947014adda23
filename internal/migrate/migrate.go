package migrate

import (
	"ppv-trustcore/services/account"
	"ppv-trustcore/services/campaign"
	"ppv-trustcore/services/commission"
	"ppv-trustcore/services/event"
	"ppv-trustcore/services/ledger"
	"ppv-trustcore/services/payout"
	"ppv-trustcore/services/signal"
	"ppv-trustcore/services/task"
	"ppv-trustcore/services/trust"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrate", fx.Invoke(Run))

// Models lists every persisted table in dependency order.
func Models() []any {
	return []any{
		&account.Account{},
		&ledger.LedgerEntry{},
		&campaign.Campaign{},
		&campaign.TrackingLink{},
		&campaign.CampaignNotification{},
		&event.ClickEvent{},
		&event.ViewEvent{},
		&commission.Commission{},
		&payout.Payout{},
		&signal.RequestLog{},
		&signal.BlacklistedAddress{},
		&trust.FraudLog{},
		&task.JobRun{},
	}
}

func Run(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		zap.L().Error("[DB] auto migration failed", zap.Error(err))
		return err
	}
	zap.L().Info("[DB] schema migrated", zap.Int("tables", len(Models())))
	return nil
}
