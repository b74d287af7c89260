package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benmeehan/mip-agent/pkg/dm"
	"github.com/benmeehan/mip-agent/pkg/jwt"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PropertyService periodically reports device properties. Reports go over MQTT and
// fall back to the HTTP uplink while the broker is unreachable.
type PropertyService struct {
	interval   time.Duration
	timeout    time.Duration
	properties PropertySource
	session    Uplinker
	tokens     jwt.TokenStoreInterface
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPropertyService initializes and returns a new instance of PropertyService.
func NewPropertyService(interval, timeout time.Duration, properties PropertySource, session Uplinker,
	tokens jwt.TokenStoreInterface, logger zerolog.Logger) *PropertyService {

	return &PropertyService{
		interval:   interval,
		timeout:    timeout,
		properties: properties,
		session:    session,
		tokens:     tokens,
		logger:     logger,
	}
}

// Start launches the reporting loop.
func (p *PropertyService) Start() error {
	if p.ctx != nil {
		p.logger.Warn().Msg("PropertyService is already running")
		return errors.New("property service is already running")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(1)
	go p.run()

	p.logger.Info().Dur("interval", p.interval).Msg("PropertyService started successfully")
	return nil
}

func (p *PropertyService) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.Report(p.ctx); err != nil {
				p.logger.Error().Err(err).Msg("Failed to report properties")
			}
		case <-p.ctx.Done():
			p.logger.Info().Msg("Stopping property reporting")
			return
		}
	}
}

// Report collects the properties once and sends them.
func (p *PropertyService) Report(ctx context.Context) error {
	batch := uuid.NewString()
	logger := p.logger.With().Str("batch", batch).Logger()

	collectCtx, cancel := context.WithTimeout(ctx, p.timeout)
	values := p.properties.Collect(collectCtx)
	cancel()
	if len(values) == 0 {
		logger.Warn().Msg("No properties collected")
		return nil
	}

	payload, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to serialize properties: %w", err)
	}

	err = p.session.UplinkProperty(ctx, payload)
	if err == nil {
		logger.Debug().Int("count", len(values)).Msg("Properties published")
		return nil
	}
	if !errors.Is(err, dm.ErrNotConnected) {
		return err
	}

	if !p.tokens.IsTokenValid() {
		logger.Warn().Msg("Broker unreachable and no valid api token, dropping property report")
		return err
	}
	token, endpoint := p.tokens.GetToken()
	if endpoint == "" {
		logger.Warn().Msg("Broker unreachable and no api endpoint known, dropping property report")
		return err
	}

	if err := p.session.UplinkHTTP(ctx, endpoint, token, payload); err != nil {
		return fmt.Errorf("http property uplink failed: %w", err)
	}
	logger.Info().Str("endpoint", endpoint).Int("count", len(values)).Msg("Properties sent over HTTP")
	return nil
}

// Stop gracefully stops the property service.
func (p *PropertyService) Stop() error {
	if p.ctx == nil {
		p.logger.Warn().Msg("PropertyService is not running")
		return errors.New("property service is not running")
	}

	p.cancel()
	p.wg.Wait()
	p.ctx = nil
	p.cancel = nil

	p.logger.Info().Msg("PropertyService stopped successfully")
	return nil
}
