package utils

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/benmeehan/mip-agent/pkg/file"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. MIP_PROVISIONING_RPS_URL.
const EnvPrefix = "MIP"

// Config represents the structure of the configuration file.
type Config struct {
	Log struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"` // Minimum log level
		Pretty bool   `yaml:"pretty"`                                                       // Console output instead of JSON
	} `yaml:"log"`

	Identity struct {
		DeviceFile    string `yaml:"device_file" envconfig:"device_file" validate:"required"`   // Path to the device identity file
		Algorithm     string `yaml:"algorithm" validate:"required,oneof=MD5 HmacSHA256"`        // Request signature algorithm
		SignTimestamp bool   `yaml:"sign_timestamp" envconfig:"sign_timestamp"`                 // Include X-REQUEST-TIMESTAMP in signatures
	} `yaml:"identity"`

	HTTP struct {
		Timeout time.Duration `yaml:"timeout" validate:"gt=0"` // Default timeout of HTTP exchanges
	} `yaml:"http"`

	Provisioning struct {
		RPSURL             string        `yaml:"rps_url" envconfig:"rps_url" validate:"required,url"` // Remote provisioning service base URL
		RequestTimeout     time.Duration `yaml:"request_timeout" envconfig:"request_timeout" validate:"gt=0"`
		RequestRetries     int           `yaml:"request_retries" envconfig:"request_retries" validate:"gte=0"`
		RetryDelay         time.Duration `yaml:"retry_delay" envconfig:"retry_delay" validate:"gte=0"`
		DownloadTimeout    time.Duration `yaml:"download_timeout" envconfig:"download_timeout" validate:"gt=0"`
		DownloadRetries    int           `yaml:"download_retries" envconfig:"download_retries" validate:"gte=0"`
		DownloadRetryDelay time.Duration `yaml:"download_retry_delay" envconfig:"download_retry_delay" validate:"gte=0"`
		ProfileRetries     int           `yaml:"profile_retries" envconfig:"profile_retries" validate:"gte=0"`
		ProfilePath        string        `yaml:"profile_path" envconfig:"profile_path" validate:"required"` // Where the auto-provisioning profile is stored

		LNS struct {
			CupsTrust  string `yaml:"cups_trust"`
			CupsCert   string `yaml:"cups_cert"`
			CupsKey    string `yaml:"cups_key"`
			LNSTrust   string `yaml:"lns_trust"`
			LNSCert    string `yaml:"lns_cert"`
			LNSKey     string `yaml:"lns_key"`
			MQTTCert   string `yaml:"mqtt_cert"`
			MQTTKey    string `yaml:"mqtt_key"`
			MQTTCACert string `yaml:"mqtt_ca_cert"`
		} `yaml:"lns"`
	} `yaml:"provisioning"`

	DM struct {
		PublishTimeout time.Duration `yaml:"publish_timeout" envconfig:"publish_timeout" validate:"gt=0"`
		ConnectTimeout time.Duration `yaml:"connect_timeout" envconfig:"connect_timeout" validate:"gt=0"`
		QOS            int           `yaml:"qos" validate:"gte=0,lte=2"`
		CertPath       string        `yaml:"cert_path" envconfig:"cert_path" validate:"required"`       // Downloaded client certificate
		KeyPath        string        `yaml:"key_path" envconfig:"key_path" validate:"required"`         // Downloaded client private key
		CACertPath     string        `yaml:"ca_cert_path" envconfig:"ca_cert_path" validate:"required"` // Downloaded broker CA
		CacheFile      string        `yaml:"cache_file" envconfig:"cache_file" validate:"required"`     // Cached DM profile response
	} `yaml:"dm"`

	State struct {
		StateFile        string   `yaml:"state_file" envconfig:"state_file" validate:"required"`       // autop_done and dm_done flags
		ProfileStoreFile string   `yaml:"profile_store" envconfig:"profile_store" validate:"required"` // Applied profile values
		ProfileKeys      []string `yaml:"profile_keys"`                                                // Accepted profile keys, empty accepts all
	} `yaml:"state"`

	Services struct {
		Autop struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"autop"`

		LNS struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"lns"`

		DM struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"dm"`

		Property struct {
			Enabled    bool          `yaml:"enabled"`
			Interval   time.Duration `yaml:"interval" validate:"gt=0"`
			Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
			Collectors []string      `yaml:"collectors"` // Property keys to report, empty reports all
			DiskPath   string        `yaml:"disk_path"`
		} `yaml:"property"`

		Upgrade struct {
			DownloadDir  string        `yaml:"download_dir" envconfig:"download_dir" validate:"required"`
			Workers      int           `yaml:"workers" validate:"gt=0"`
			InstallCmd   string        `yaml:"install_cmd" envconfig:"install_cmd"` // Run with the image path; empty only records the version
			RestartCmd   string        `yaml:"restart_cmd" envconfig:"restart_cmd"` // Run on restart downlinks
			ShutdownWait time.Duration `yaml:"shutdown_wait"`
		} `yaml:"upgrade"`

		ProfileUpdatePath string `yaml:"profile_update_path" envconfig:"profile_update_path" validate:"required"`
	} `yaml:"services"`
}

// DefaultConfig returns the configuration used for every value the file and the
// environment leave unset.
func DefaultConfig() Config {
	var c Config
	c.Log.Level = "info"
	c.Identity.DeviceFile = "configs/device.json"
	c.Identity.Algorithm = "MD5"
	c.HTTP.Timeout = 60 * time.Second

	c.Provisioning.RequestTimeout = 60 * time.Second
	c.Provisioning.RequestRetries = 1
	c.Provisioning.RetryDelay = time.Second
	c.Provisioning.DownloadTimeout = 60 * time.Second
	c.Provisioning.DownloadRetries = 3
	c.Provisioning.DownloadRetryDelay = 2 * time.Second
	c.Provisioning.ProfileRetries = 1
	c.Provisioning.ProfilePath = "data/autop_profile.json"

	c.DM.PublishTimeout = 3 * time.Second
	c.DM.ConnectTimeout = 30 * time.Second
	c.DM.QOS = 1
	c.DM.CertPath = "data/certs/mqtt_cert.pem"
	c.DM.KeyPath = "data/certs/mqtt_key.pem"
	c.DM.CACertPath = "data/certs/mqtt_ca.pem"
	c.DM.CacheFile = "data/dm_resp.json"

	c.State.StateFile = "data/state.json"
	c.State.ProfileStoreFile = "data/profile_store.json"

	c.Services.Autop.Enabled = true
	c.Services.DM.Enabled = true
	c.Services.Property.Enabled = true
	c.Services.Property.Interval = 5 * time.Minute
	c.Services.Property.Timeout = 10 * time.Second
	c.Services.Upgrade.DownloadDir = "data/firmware"
	c.Services.Upgrade.Workers = 1
	c.Services.Upgrade.ShutdownWait = 5 * time.Second
	c.Services.ProfileUpdatePath = "data/profile_update.json"
	return c
}

// LoadConfig loads the YAML configuration from the specified file on top of the
// defaults, applies MIP_* environment overrides and validates the result.
// A missing file leaves defaults and environment in charge.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	config := DefaultConfig()

	if err := fileClient.ReadYamlFile(filename, &config); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", filename, err)
	}

	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
