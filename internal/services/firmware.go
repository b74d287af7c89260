package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/benmeehan/mip-agent/internal/constants"
	"github.com/benmeehan/mip-agent/internal/models"
	"github.com/benmeehan/mip-agent/pkg/protocol"
)

var upgradeTransitions = map[constants.UpgradeState][]constants.UpgradeState{
	constants.UpgradeStatePending:     {constants.UpgradeStateDownloading, constants.UpgradeStateFailure},
	constants.UpgradeStateDownloading: {constants.UpgradeStateInstalling, constants.UpgradeStateFailure},
	constants.UpgradeStateInstalling:  {constants.UpgradeStateSuccess, constants.UpgradeStateFailure},
}

// handleFirmwareUpgrade validates the request and reserves the upgrade slot. The reply
// is pending; afterFirmwareUpgrade queues the job once that reply is out.
func (h *HostHandlers) handleFirmwareUpgrade(_ context.Context, header protocol.DownlinkHeader, data []byte, result *protocol.DownlinkResult) []byte {
	logger := h.Logger.With().Str("msg_id", header.MsgID).Logger()

	var req models.FirmwareUpgrade
	if err := protocol.DecodeData(data, &req); err != nil {
		logger.Error().Err(err).Msg("Malformed firmware_upgrade data")
		result.Fail(protocol.ErrResourceFormat)
		return nil
	}
	if running, ok := h.RunningTask(); ok {
		logger.Warn().Str("running_msg_id", running.MsgID).Str("running_version", running.Version).Msg("Firmware upgrade already running")
		result.Fail(protocol.ErrPreTaskRunning)
		return nil
	}

	target, err := semver.NewVersion(req.Version)
	if err != nil {
		logger.Error().Err(err).Str("version", req.Version).Msg("Invalid firmware version")
		result.Fail(protocol.ErrResourceFormat)
		return nil
	}
	current := h.DeviceInfo.GetDeviceIdentity().FirmwareVersion
	if installed, err := semver.NewVersion(current); err == nil && !target.GreaterThan(installed) {
		logger.Warn().Str("current", current).Str("target", req.Version).Msg("Firmware version is not newer than the installed one")
		result.Fail(protocol.ErrFirmwareVersionInconsistent)
		return nil
	}

	if req.URL == "" {
		logger.Warn().Msg("firmware_upgrade without url")
		result.Fail(protocol.ErrNullURL)
		return nil
	}
	if h.Pool.Closed() {
		logger.Error().Msg("Worker pool is shut down, cannot run firmware upgrade")
		result.Fail(protocol.ErrUpgradeFailed)
		return nil
	}

	task := models.UpgradeTask{
		MsgID:     header.MsgID,
		TaskID:    header.TaskID,
		Version:   req.Version,
		State:     constants.UpgradeStatePending,
		StartedAt: time.Now(),
		Request:   req,
	}
	if !h.tasks.SetIfAbsent(constants.FirmwareUpgradeTask, task) {
		logger.Warn().Msg("Firmware upgrade already running")
		result.Fail(protocol.ErrPreTaskRunning)
		return nil
	}

	result.Pend()
	return nil
}

// afterFirmwareUpgrade starts the reserved upgrade after the pending reply was
// published, so the final reply can never overtake it.
func (h *HostHandlers) afterFirmwareUpgrade(header protocol.DownlinkHeader, result protocol.DownlinkResult, _ []byte) {
	if !result.Pending() {
		return
	}
	logger := h.Logger.With().Str("msg_id", header.MsgID).Logger()

	task, ok := h.RunningTask()
	if !ok || task.MsgID != header.MsgID {
		logger.Warn().Msg("No reserved firmware upgrade for this request")
		return
	}

	req := task.Request
	if err := h.Pool.Submit("firmware_upgrade "+req.Version, func() { h.runUpgrade(header, req) }); err != nil {
		h.tasks.Remove(constants.FirmwareUpgradeTask)
		logger.Error().Err(err).Msg("Failed to queue firmware upgrade")

		var final protocol.DownlinkResult
		final.Fail(protocol.ErrUpgradeFailed)
		if err := h.Session.UplinkResponse(context.Background(), header, final, nil); err != nil {
			logger.Error().Err(err).Msg("Failed to report firmware upgrade result")
		}
		return
	}
	logger.Info().Str("version", req.Version).Str("url", req.URL).Msg("Firmware upgrade queued")
}

func (h *HostHandlers) runUpgrade(header protocol.DownlinkHeader, req models.FirmwareUpgrade) {
	ctx := context.Background()
	logger := h.Logger.With().Str("msg_id", header.MsgID).Str("version", req.Version).Logger()

	var result protocol.DownlinkResult
	result.Succeed()

	if err := h.upgrade(ctx, req); err != nil {
		logger.Error().Err(err).Msg("Firmware upgrade failed")
		h.advance(constants.UpgradeStateFailure)
		result.Fail(upgradeErrorCode(err))
	} else {
		logger.Info().Msg("Firmware upgrade completed")
	}

	h.tasks.Remove(constants.FirmwareUpgradeTask)
	if err := h.Session.UplinkResponse(ctx, header, result, nil); err != nil {
		logger.Error().Err(err).Msg("Failed to report firmware upgrade result")
	}
}

type upgradeError struct {
	code protocol.ErrorCode
	err  error
}

func (e *upgradeError) Error() string { return e.err.Error() }
func (e *upgradeError) Unwrap() error { return e.err }

func upgradeErrorCode(err error) protocol.ErrorCode {
	var ue *upgradeError
	if errors.As(err, &ue) {
		return ue.code
	}
	return protocol.ErrUpgradeFailed
}

func (h *HostHandlers) upgrade(ctx context.Context, req models.FirmwareUpgrade) error {
	if err := os.MkdirAll(h.UpgradeDir, 0o755); err != nil {
		return &upgradeError{protocol.ErrResourceDownloadFailed, fmt.Errorf("failed to create %s: %w", h.UpgradeDir, err)}
	}
	image := filepath.Join(h.UpgradeDir, "firmware-"+req.Version+".bin")
	defer h.removeFile(image)

	h.advance(constants.UpgradeStateDownloading)
	if err := h.download(ctx, req.ResourceDescriptor, image); err != nil {
		return &upgradeError{protocol.ErrResourceDownloadFailed, err}
	}

	h.advance(constants.UpgradeStateInstalling)
	if h.Install != nil {
		if err := h.Install(ctx, image, req.Version); err != nil {
			return &upgradeError{protocol.ErrUpgradeFailed, err}
		}
	}
	if err := h.DeviceInfo.SaveFirmwareVersion(req.Version); err != nil {
		return &upgradeError{protocol.ErrUpgradeFailed, fmt.Errorf("failed to record firmware version: %w", err)}
	}

	h.advance(constants.UpgradeStateSuccess)
	return nil
}

// advance moves the running task to next when the transition is allowed. Only the
// upgrade job mutates a queued task.
func (h *HostHandlers) advance(next constants.UpgradeState) {
	task, ok := h.tasks.Get(constants.FirmwareUpgradeTask)
	if !ok {
		return
	}
	if !slices.Contains(upgradeTransitions[task.State], next) {
		h.Logger.Warn().Str("from", string(task.State)).Str("to", string(next)).Msg("Invalid upgrade state transition")
		return
	}
	task.State = next
	h.tasks.Set(constants.FirmwareUpgradeTask, task)
}
