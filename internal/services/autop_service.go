package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benmeehan/mip-agent/pkg/provisioning"
	"github.com/rs/zerolog"
)

// AutopService downloads the device profile once and applies its values.
type AutopService struct {
	RPSURL      string
	ProfilePath string
	Provisioner Provisioner
	State       AgentState
	Profiles    ProfileStore
	Logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewAutopService initializes a new AutopService.
func NewAutopService(rpsURL, profilePath string, provisioner Provisioner, state AgentState,
	profiles ProfileStore, logger zerolog.Logger) *AutopService {

	return &AutopService{
		RPSURL:      rpsURL,
		ProfilePath: profilePath,
		Provisioner: provisioner,
		State:       state,
		Profiles:    profiles,
		Logger:      logger,
	}
}

// Start runs auto-provisioning unless it already completed. A failed run is logged
// and retried on the next start.
func (a *AutopService) Start() error {
	a.mu.Lock()
	if a.ctx != nil {
		a.mu.Unlock()
		return errors.New("autop service is already running")
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	ctx := a.ctx
	a.mu.Unlock()

	if a.State.IsAutopDone() {
		a.Logger.Info().Msg("Auto-provisioning already done, skipping")
		return nil
	}

	if err := a.Run(ctx); err != nil {
		a.Logger.Error().Err(err).Str("rps_url", a.RPSURL).Msg("Auto-provisioning failed")
	}
	return nil
}

// Run fetches the device profile into ProfilePath, applies it and marks
// auto-provisioning done.
func (a *AutopService) Run(ctx context.Context) error {
	applied := 0
	hooks := provisioning.Hooks{
		Downloaded: func() error {
			n, err := a.Profiles.ApplyFile(a.ProfilePath)
			if err != nil {
				return fmt.Errorf("failed to apply device profile: %w", err)
			}
			applied = n
			return a.State.SetAutopDone(true)
		},
	}

	if _, err := a.Provisioner.GetDeviceProfile(ctx, a.RPSURL, a.ProfilePath, hooks); err != nil {
		return err
	}
	a.Logger.Info().Int("applied", applied).Str("path", a.ProfilePath).Msg("Auto-provisioning completed")
	return nil
}

// Stop cancels a provisioning run in progress.
func (a *AutopService) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ctx == nil {
		return errors.New("autop service is not running")
	}
	a.cancel()
	a.ctx = nil
	a.cancel = nil

	a.Logger.Info().Msg("Autop service stopped")
	return nil
}
