package taskname

const (
	// Validation tasks
	ValidationSweep = "validation:sweep"

	// Campaign tasks
	CampaignCompletionSweep = "campaign:completion:sweep"

	// Housekeeping tasks
	RetentionSweep = "retention:sweep"
)
