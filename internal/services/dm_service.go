package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benmeehan/mip-agent/pkg/dm"
	"github.com/benmeehan/mip-agent/pkg/protocol"
	"github.com/benmeehan/mip-agent/pkg/provisioning"
	"github.com/benmeehan/mip-agent/pkg/transport"
	"github.com/rs/zerolog"
)

// ErrNoCredentials is returned when the DM profile carries no broker bundle.
var ErrNoCredentials = errors.New("dm profile carries no credentials")

// DMService provisions the device-management broker and runs the DM session.
type DMService struct {
	RPSURL      string
	Paths       provisioning.DMPaths
	Provisioner Provisioner
	Session     DMSession
	State       AgentState
	Cache       CredentialCache
	Handlers    *HostHandlers
	Logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewDMService initializes a new DMService.
func NewDMService(rpsURL string, paths provisioning.DMPaths, provisioner Provisioner, session DMSession,
	state AgentState, cache CredentialCache, handlers *HostHandlers, logger zerolog.Logger) *DMService {

	return &DMService{
		RPSURL:      rpsURL,
		Paths:       paths,
		Provisioner: provisioner,
		Session:     session,
		State:       state,
		Cache:       cache,
		Handlers:    handlers,
		Logger:      logger,
	}
}

// Start registers the downlink handlers, obtains broker credentials and connects.
func (d *DMService) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx != nil {
		d.Logger.Warn().Msg("DM service is already running")
		return errors.New("dm service is already running")
	}
	ctx, cancel := context.WithCancel(context.Background())

	handlers := d.Handlers.Handlers(func(status transport.ConnectionStatus) {
		d.onStatus(ctx, status)
	})
	if err := d.Session.Init(handlers); err != nil {
		cancel()
		return fmt.Errorf("failed to initialize dm session: %w", err)
	}

	creds, err := d.credentials(ctx)
	if err != nil {
		cancel()
		d.Session.Deinit()
		return err
	}

	if err := d.Session.Start(ctx, creds, d.Paths); err != nil {
		cancel()
		d.Session.Deinit()
		return err
	}

	d.ctx, d.cancel = ctx, cancel
	d.Logger.Info().Str("broker", creds.Addr).Int("port", creds.Port).Msg("DM service started")
	return nil
}

// credentials returns the cached broker bundle once DM provisioning completed,
// otherwise provisions it from the source back end.
func (d *DMService) credentials(ctx context.Context) (*protocol.DmCredentials, error) {
	if d.State.IsDMDone() {
		creds, err := d.Cache.Load()
		if err == nil {
			d.Logger.Info().Msg("Using cached DM credentials")
			return creds, nil
		}
		d.Logger.Warn().Err(err).Msg("Cached DM credentials unusable, provisioning again")
	}

	src, err := resolveSource(ctx, d.Provisioner, d.RPSURL)
	if err != nil {
		return nil, err
	}

	hooks := provisioning.Hooks{
		GotResponse: func(raw []byte) {
			if err := d.Cache.Save(raw); err != nil {
				d.Logger.Error().Err(err).Msg("Failed to cache DM profile response")
			}
		},
		Downloaded: func() error {
			return d.State.SetDMDone(true)
		},
	}

	resp, err := d.Provisioner.GetDMProfile(ctx, src.host, src.gateway, d.Paths, hooks)
	if err != nil {
		return nil, fmt.Errorf("failed to get dm profile: %w", err)
	}
	if resp.Credentials == nil {
		return nil, ErrNoCredentials
	}
	return resp.Credentials, nil
}

func (d *DMService) onStatus(ctx context.Context, status transport.ConnectionStatus) {
	if status != transport.StatusConnected {
		return
	}
	for _, event := range []string{dm.EventRequestAPIToken, dm.EventWakeUp} {
		if err := d.Session.Notify(ctx, event); err != nil {
			d.Logger.Warn().Err(err).Str("event", event).Msg("Failed to send connect uplink")
		}
	}
}

// Stop says goodbye to the cloud, closes the session and clears the handler table.
func (d *DMService) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx == nil {
		d.Logger.Warn().Msg("DM service is not running")
		return errors.New("dm service is not running")
	}

	if d.Session.State() == dm.StateRunning {
		if err := d.Session.Notify(d.ctx, dm.EventSleep); err != nil {
			d.Logger.Warn().Err(err).Msg("Failed to send sleep uplink")
		}
	}

	d.cancel()
	err := d.Session.Stop()
	d.Session.Deinit()
	d.ctx = nil
	d.cancel = nil

	if err != nil {
		return err
	}
	d.Logger.Info().Msg("DM service stopped")
	return nil
}

// Disable forgets DM provisioning so the next start provisions from scratch.
func (d *DMService) Disable() error {
	err := errors.Join(d.State.SetDMDone(false), d.Cache.Clear())
	if err != nil {
		return fmt.Errorf("failed to disable dm: %w", err)
	}
	d.Logger.Info().Msg("DM provisioning state cleared")
	return nil
}
