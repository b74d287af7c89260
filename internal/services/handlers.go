package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/benmeehan/mip-agent/internal/constants"
	"github.com/benmeehan/mip-agent/internal/models"
	"github.com/benmeehan/mip-agent/internal/utils"
	"github.com/benmeehan/mip-agent/pkg/dm"
	"github.com/benmeehan/mip-agent/pkg/identity"
	"github.com/benmeehan/mip-agent/pkg/jwt"
	"github.com/benmeehan/mip-agent/pkg/protocol"
	"github.com/benmeehan/mip-agent/pkg/transport"
	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
)

// HostHandlers implements the device side of the DM downlinks.
type HostHandlers struct {
	Session    Uplinker
	HTTP       transport.HTTPTransport
	Profiles   ProfileStore
	Tokens     jwt.TokenStoreInterface
	DeviceInfo identity.DeviceInfoInterface
	Properties PropertySource
	Clock      ClockSetter
	Pool       *utils.WorkerPool

	// Restart reboots the device after a restart downlink was acknowledged.
	Restart func(ctx context.Context) error
	// Install applies a downloaded firmware image.
	Install func(ctx context.Context, imagePath, version string) error

	ProfileUpdatePath  string
	UpgradeDir         string
	DownloadTimeout    time.Duration
	DownloadRetries    int
	DownloadRetryDelay time.Duration
	Logger             zerolog.Logger

	tasks cmap.ConcurrentMap[string, models.UpgradeTask]
}

// NewHostHandlers fills in download defaults and the task registry.
func NewHostHandlers(h HostHandlers) *HostHandlers {
	if h.DownloadTimeout <= 0 {
		h.DownloadTimeout = constants.DefaultDownloadTimeout
	}
	if h.DownloadRetries < 0 {
		h.DownloadRetries = constants.DefaultDownloadRetries
	}
	if h.DownloadRetryDelay < 0 {
		h.DownloadRetryDelay = constants.DefaultDownloadRetryDelay
	}
	h.tasks = cmap.New[models.UpgradeTask]()
	return &h
}

// Handlers returns the DM handler table. onStatus receives connection changes.
func (h *HostHandlers) Handlers(onStatus func(transport.ConnectionStatus)) dm.Handlers {
	return dm.Handlers{
		Restart:          h.handleRestart,
		FirmwareUpgrade:  h.handleFirmwareUpgrade,
		ProfileRetrieval: h.handleProfileRetrieval,
		ProfileUpdate:    h.handleProfileUpdate,
		WakeUp:           h.handleWakeUp,
		Property:         h.handleProperty,
		APIToken:         h.handleAPIToken,
		Timestamp:        h.handleTimestamp,

		AfterRestart:         h.afterRestart,
		AfterFirmwareUpgrade: h.afterFirmwareUpgrade,
		AfterProfileUpdate:   h.afterProfileUpdate,

		OnStatus: onStatus,
	}
}

// RunningTask returns the firmware upgrade in progress, if any.
func (h *HostHandlers) RunningTask() (models.UpgradeTask, bool) {
	return h.tasks.Get(constants.FirmwareUpgradeTask)
}

func (h *HostHandlers) handleTimestamp(_ context.Context, _ protocol.DownlinkHeader, data []byte, result *protocol.DownlinkResult) []byte {
	var ts models.TimestampSync
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ts); err != nil {
			h.Logger.Warn().Err(err).Msg("Malformed timestamp data")
		}
	}

	if ts.Seconds == nil {
		h.Logger.Info().Msg("Timestamp downlink without seconds, falling back to system clock")
		h.Clock.Reset()
		return nil
	}

	h.Clock.SetTime(time.Unix(*ts.Seconds, 0))
	h.Logger.Info().Int64("seconds", *ts.Seconds).Msg("Clock set from timestamp downlink")
	return nil
}

func (h *HostHandlers) handleProfileUpdate(ctx context.Context, _ protocol.DownlinkHeader, data []byte, result *protocol.DownlinkResult) []byte {
	var res models.ResourceDescriptor
	if len(data) > 0 {
		if err := json.Unmarshal(data, &res); err != nil {
			h.Logger.Error().Err(err).Msg("Malformed profile_update data")
			result.Fail(protocol.ErrResourceFormat)
			return nil
		}
	}
	if res.URL == "" {
		h.Logger.Warn().Msg("profile_update without url")
		result.Fail(protocol.ErrNullURL)
		return nil
	}

	if err := h.download(ctx, res, h.ProfileUpdatePath); err != nil {
		result.Fail(protocol.ErrResourceDownloadFailed)
		return nil
	}
	defer h.removeFile(h.ProfileUpdatePath)

	applied, err := h.Profiles.ApplyFile(h.ProfileUpdatePath)
	if err != nil {
		h.Logger.Error().Err(err).Str("path", h.ProfileUpdatePath).Msg("Failed to apply profile update")
		result.Fail(protocol.ErrResourceFormat)
		return nil
	}
	h.Logger.Info().Int("applied", applied).Str("url", res.URL).Msg("Profile update applied")
	return nil
}

func (h *HostHandlers) afterProfileUpdate(_ protocol.DownlinkHeader, result protocol.DownlinkResult, _ []byte) {
	if result.Failed() {
		h.Logger.Warn().Int("err_code", int(result.ErrCode)).Msg("Profile update was rejected")
		return
	}
	h.Logger.Info().Int("values", len(h.Profiles.Snapshot().Values)).Msg("Profile update acknowledged")
}

func (h *HostHandlers) handleProfileRetrieval(_ context.Context, _ protocol.DownlinkHeader, _ []byte, result *protocol.DownlinkResult) []byte {
	payload, err := json.Marshal(h.Profiles.Snapshot())
	if err != nil {
		h.Logger.Error().Err(err).Msg("Failed to encode profile")
		result.Fail(protocol.ErrResourceFormat)
		return nil
	}
	return payload
}

func (h *HostHandlers) handleAPIToken(_ context.Context, _ protocol.DownlinkHeader, data []byte, result *protocol.DownlinkResult) []byte {
	var token models.APIToken
	if err := protocol.DecodeData(data, &token); err != nil {
		h.Logger.Error().Err(err).Msg("Malformed api_token data")
		result.Fail(protocol.ErrResourceFormat)
		return nil
	}
	if err := h.Tokens.SaveToken(token.AccessToken, token.Endpoint); err != nil {
		h.Logger.Error().Err(err).Msg("Rejected api token")
		result.Fail(protocol.ErrResourceFormat)
		return nil
	}

	event := h.Logger.Info().Str("endpoint", token.Endpoint)
	if exp, ok := h.Tokens.ExpiresAt(); ok {
		event = event.Time("expires_at", exp)
	}
	event.Msg("API token stored")
	return nil
}

func (h *HostHandlers) handleWakeUp(ctx context.Context, _ protocol.DownlinkHeader, _ []byte, _ *protocol.DownlinkResult) []byte {
	if err := h.Session.Notify(ctx, dm.EventWakeUp); err != nil {
		h.Logger.Warn().Err(err).Msg("Failed to send wake_up uplink")
	}
	return nil
}

func (h *HostHandlers) handleProperty(ctx context.Context, _ protocol.DownlinkHeader, _ []byte, result *protocol.DownlinkResult) []byte {
	payload, err := json.Marshal(h.Properties.Collect(ctx))
	if err != nil {
		h.Logger.Error().Err(err).Msg("Failed to encode properties")
		result.Fail(protocol.ErrResourceFormat)
		return nil
	}
	return payload
}

func (h *HostHandlers) handleRestart(_ context.Context, header protocol.DownlinkHeader, _ []byte, _ *protocol.DownlinkResult) []byte {
	h.Logger.Info().Str("msg_id", header.MsgID).Msg("Restart requested")
	return nil
}

func (h *HostHandlers) afterRestart(_ protocol.DownlinkHeader, result protocol.DownlinkResult, _ []byte) {
	if result.Failed() {
		return
	}
	if h.Restart == nil {
		h.Logger.Warn().Msg("No restart hook configured, ignoring restart")
		return
	}
	if err := h.Restart(context.Background()); err != nil {
		h.Logger.Error().Err(err).Msg("Restart hook failed")
	}
}

// download fetches res into dest with the handler retry policy. A non-positive
// file size disables the size check.
func (h *HostHandlers) download(ctx context.Context, res models.ResourceDescriptor, dest string) error {
	req := transport.DownloadRequest{
		URL:           res.URL,
		DestPath:      dest,
		Timeout:       h.DownloadTimeout,
		ExpectedSize:  -1,
		ExpectedMD5:   strings.ToLower(res.MD5),
		ExpectedCRC32: res.CRC32,
	}
	if res.FileSize > 0 {
		req.ExpectedSize = res.FileSize
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(h.DownloadRetryDelay), uint64(h.DownloadRetries)), ctx)
	notify := func(err error, next time.Duration) {
		h.Logger.Warn().Err(err).Str("url", res.URL).Dur("retry_in", next).Msg("Resource download failed, trying again")
	}

	if err := backoff.RetryNotify(func() error { return h.HTTP.DownloadFile(ctx, req) }, policy, notify); err != nil {
		h.Logger.Error().Err(err).Str("url", res.URL).Str("path", dest).Msg("Resource download failed")
		return fmt.Errorf("failed to download %s: %w", res.URL, err)
	}
	return nil
}

func (h *HostHandlers) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.Logger.Warn().Err(err).Str("path", path).Msg("Failed to remove temporary file")
	}
}
