package metrics_collectors

import (
	"context"

	"github.com/benmeehan/mip-agent/internal/constants"
	"github.com/benmeehan/mip-agent/pkg/identity"
)

// FirmwareVersionCollector reports the firmware version from the device identity.
type FirmwareVersionCollector struct {
	DeviceInfo identity.DeviceInfoInterface
}

func (f *FirmwareVersionCollector) Name() string {
	return constants.PropertyFirmwareVersion
}

func (f *FirmwareVersionCollector) Collect(context.Context) any {
	if v := f.DeviceInfo.GetDeviceIdentity().FirmwareVersion; v != "" {
		return v
	}
	return nil
}

// ModelCollector reports the device model.
type ModelCollector struct {
	DeviceInfo identity.DeviceInfoInterface
}

func (m *ModelCollector) Name() string {
	return constants.PropertyModel
}

func (m *ModelCollector) Collect(context.Context) any {
	if v := m.DeviceInfo.GetDeviceIdentity().Model; v != "" {
		return v
	}
	return nil
}
