package identity

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/benmeehan/mip-agent/pkg/file"
	"github.com/go-playground/validator/v10"
)

// Identity holds the device's provisioning identity and firmware metadata.
type Identity struct {
	SerialNumber    string `json:"serial_number" validate:"required,max=16"`
	SecretKey       string `json:"secret_key" validate:"max=9"`
	Model           string `json:"model,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
}

// DeviceInfoInterface defines methods for managing device identity.
type DeviceInfoInterface interface {
	LoadDeviceInfo() error
	GetSerialNumber() string
	GetDeviceIdentity() Identity
	SaveFirmwareVersion(version string) error
}

// DeviceInfo manages the device identity and its associated file operations.
type DeviceInfo struct {
	DeviceInfoFile string
	fileOps        file.FileOperations

	mu       sync.RWMutex
	identity Identity
}

// NewDeviceInfo initializes a new DeviceInfo instance.
func NewDeviceInfo(filePath string, fileOps file.FileOperations) *DeviceInfo {
	return &DeviceInfo{
		DeviceInfoFile: filePath,
		fileOps:        fileOps,
	}
}

// LoadDeviceInfo reads and validates the identity file.
func (d *DeviceInfo) LoadDeviceInfo() error {
	var id Identity
	if err := d.fileOps.ReadJsonFile(d.DeviceInfoFile, &id); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("device identity file %s not found: %w", d.DeviceInfoFile, err)
		}
		return fmt.Errorf("failed to read device identity: %w", err)
	}
	if err := validator.New().Struct(id); err != nil {
		return fmt.Errorf("invalid device identity: %w", err)
	}

	d.mu.Lock()
	d.identity = id
	d.mu.Unlock()
	return nil
}

// GetDeviceIdentity returns a copy of the current identity.
func (d *DeviceInfo) GetDeviceIdentity() Identity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.identity
}

// GetSerialNumber returns the device serial number.
func (d *DeviceInfo) GetSerialNumber() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.identity.SerialNumber
}

// SaveFirmwareVersion records a newly installed firmware version.
func (d *DeviceInfo) SaveFirmwareVersion(version string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	updated := d.identity
	updated.FirmwareVersion = version
	if err := d.fileOps.WriteJsonFile(d.DeviceInfoFile, updated); err != nil {
		return err
	}
	d.identity = updated
	return nil
}
