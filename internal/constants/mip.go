package constants

import "time"

// ProfileVersion is reported in profile_retrieval replies.
const ProfileVersion = "v1.0"

// Service names, in start order.
const (
	ServiceAutop    = "autop"
	ServiceLNS      = "lns"
	ServiceDM       = "dm"
	ServiceProperty = "property"
)

// Profile and artifact download policy used by downlink handlers.
const (
	DefaultDownloadRetries    = 3
	DefaultDownloadRetryDelay = 2 * time.Second
	DefaultDownloadTimeout    = 60 * time.Second
)

// Property keys reported by the built-in collectors.
const (
	PropertyCPU             = "cpu_usage"
	PropertyMemory          = "memory_usage"
	PropertyDisk            = "disk_usage"
	PropertyUptime          = "uptime"
	PropertyNetwork         = "network"
	PropertyFirmwareVersion = "firmware_version"
	PropertyModel           = "model"
)
