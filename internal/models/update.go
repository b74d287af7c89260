package models

import (
	"time"

	"github.com/benmeehan/mip-agent/internal/constants"
)

// ResourceDescriptor is the downloadable part of profile_update and firmware_upgrade
// downlinks.
type ResourceDescriptor struct {
	URL      string `json:"url"`
	MD5      string `json:"md5,omitempty"`
	CRC32    string `json:"crc32,omitempty"`
	FileSize int64  `json:"filesize,omitempty"`
}

// FirmwareUpgrade is the data member of a firmware_upgrade downlink.
type FirmwareUpgrade struct {
	Version string `json:"version"`
	ResourceDescriptor
}

// UpgradeTask tracks a running firmware upgrade.
type UpgradeTask struct {
	MsgID     string                 `json:"msg_id"`
	TaskID    string                 `json:"task_id,omitempty"`
	Version   string                 `json:"version"`
	State     constants.UpgradeState `json:"state"`
	StartedAt time.Time              `json:"started_at"`
	Request   FirmwareUpgrade        `json:"request"`
}
