package services

import (
	"context"
	"errors"
	"sync"

	"github.com/benmeehan/mip-agent/pkg/protocol"
	"github.com/benmeehan/mip-agent/pkg/provisioning"
	"github.com/rs/zerolog"
)

// LNSService fetches the LoRaWAN network-server bundle of a gateway.
type LNSService struct {
	RPSURL      string
	Paths       provisioning.LNSPaths
	Provisioner Provisioner
	Logger      zerolog.Logger

	server protocol.NetworkServer
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewLNSService initializes a new LNSService.
func NewLNSService(rpsURL string, paths provisioning.LNSPaths, provisioner Provisioner, logger zerolog.Logger) *LNSService {
	return &LNSService{
		RPSURL:      rpsURL,
		Paths:       paths,
		Provisioner: provisioner,
		Logger:      logger,
	}
}

// Start downloads the LNS material. Failures are logged; the gateway keeps
// whatever material it already has.
func (l *LNSService) Start() error {
	l.mu.Lock()
	if l.ctx != nil {
		l.mu.Unlock()
		return errors.New("lns service is already running")
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	ctx := l.ctx
	l.mu.Unlock()

	server, err := l.Run(ctx)
	if err != nil {
		l.Logger.Error().Err(err).Msg("LNS provisioning failed")
		return nil
	}

	l.mu.Lock()
	l.server = server
	l.mu.Unlock()
	return nil
}

// Run resolves the source back end and fetches the LNS profile from it.
func (l *LNSService) Run(ctx context.Context) (protocol.NetworkServer, error) {
	src, err := resolveSource(ctx, l.Provisioner, l.RPSURL)
	if err != nil {
		return nil, err
	}

	resp, err := l.Provisioner.GetLNSProfile(ctx, src.host, src.gateway, l.Paths, provisioning.Hooks{})
	if err != nil {
		return nil, err
	}
	if resp.Server == nil {
		l.Logger.Warn().Str("host", src.host).Msg("LNS profile carries no network server")
		return nil, nil
	}

	l.Logger.Info().Str("kind", resp.Server.Kind()).Str("host", src.host).Bool("gateway", src.gateway).Msg("LNS profile provisioned")
	return resp.Server, nil
}

// Server returns the last provisioned network server, if any.
func (l *LNSService) Server() protocol.NetworkServer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.server
}

// Stop cancels a provisioning run in progress.
func (l *LNSService) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ctx == nil {
		return errors.New("lns service is not running")
	}
	l.cancel()
	l.ctx = nil
	l.cancel = nil

	l.Logger.Info().Msg("LNS service stopped")
	return nil
}
