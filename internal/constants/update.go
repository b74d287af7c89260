package constants

// UpgradeState is the progress of a firmware upgrade task.
type UpgradeState string

const (
	UpgradeStatePending     UpgradeState = "pending"
	UpgradeStateDownloading UpgradeState = "downloading"
	UpgradeStateInstalling  UpgradeState = "installing"
	UpgradeStateSuccess     UpgradeState = "success"
	UpgradeStateFailure     UpgradeState = "failure"
)

// FirmwareUpgradeTask is the task registry key of the single firmware upgrade slot.
const FirmwareUpgradeTask = "firmware_upgrade"
