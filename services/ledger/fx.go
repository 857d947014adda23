package ledger

import (
	"ppv-trustcore/services/account"
	"ppv-trustcore/services/campaign"

	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(
		NewService,
		func(s *Service) account.ReferralRewarder { return s },
		func(s *Service) campaign.CreatorRewarder { return s },
	),
)
