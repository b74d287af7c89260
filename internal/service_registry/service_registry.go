package service_registry

import (
	"errors"
	"fmt"

	"github.com/benmeehan/mip-agent/internal/constants"
	"github.com/benmeehan/mip-agent/internal/registry"
	"github.com/benmeehan/mip-agent/internal/services"
	"github.com/benmeehan/mip-agent/internal/utils"
	"github.com/benmeehan/mip-agent/pkg/jwt"
	"github.com/benmeehan/mip-agent/pkg/provisioning"
	"github.com/rs/zerolog"
)

// Dependencies are the collaborators shared by the agent services.
type Dependencies struct {
	Provisioner services.Provisioner
	Session     services.DMSession
	State       services.AgentState
	Cache       services.CredentialCache
	Profiles    services.ProfileStore
	Properties  services.PropertySource
	Tokens      jwt.TokenStoreInterface
	Handlers    *services.HostHandlers
}

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	started     []string
	deps        Dependencies
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry with dependencies.
func NewServiceRegistry(deps Dependencies, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]registry.Service),
		deps:     deps,
		Logger:   logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// Services returns the registered service names in start order.
func (sr *ServiceRegistry) Services() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	sr.started = sr.started[:0]

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			// Stop already started services before returning
			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(sr.started) - 1; i >= 0; i-- {
				if stopErr := sr.services[sr.started[i]].Stop(); stopErr != nil {
					sr.Logger.Error().Err(stopErr).Msgf("Failed to stop service: %s", sr.started[i])
				}
			}
			sr.started = sr.started[:0]
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		sr.started = append(sr.started, name)
	}

	return nil
}

// StopServices stops all started services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.started) - 1; i >= 0; i-- {
		name := sr.started[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	sr.started = sr.started[:0]

	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices initializes and registers enabled services based on configuration.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config) error {
	rpsURL := config.Provisioning.RPSURL
	dmPaths := provisioning.DMPaths{
		Cert:       config.DM.CertPath,
		PrivateKey: config.DM.KeyPath,
		CACert:     config.DM.CACertPath,
	}

	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (registry.Service, error)
	}{
		{
			name:    constants.ServiceAutop,
			enabled: config.Services.Autop.Enabled,
			constructor: func() (registry.Service, error) {
				return services.NewAutopService(
					rpsURL,
					config.Provisioning.ProfilePath,
					sr.deps.Provisioner,
					sr.deps.State,
					sr.deps.Profiles,
					sr.Logger.With().Str("service", constants.ServiceAutop).Logger(),
				), nil
			},
		},
		{
			name:    constants.ServiceLNS,
			enabled: config.Services.LNS.Enabled,
			constructor: func() (registry.Service, error) {
				lns := config.Provisioning.LNS
				return services.NewLNSService(
					rpsURL,
					provisioning.LNSPaths{
						CupsTrust:  lns.CupsTrust,
						CupsCert:   lns.CupsCert,
						CupsKey:    lns.CupsKey,
						LNSTrust:   lns.LNSTrust,
						LNSCert:    lns.LNSCert,
						LNSKey:     lns.LNSKey,
						MQTTCert:   lns.MQTTCert,
						MQTTKey:    lns.MQTTKey,
						MQTTCACert: lns.MQTTCACert,
					},
					sr.deps.Provisioner,
					sr.Logger.With().Str("service", constants.ServiceLNS).Logger(),
				), nil
			},
		},
		{
			name:    constants.ServiceDM,
			enabled: config.Services.DM.Enabled,
			constructor: func() (registry.Service, error) {
				if sr.deps.Session == nil || sr.deps.Handlers == nil {
					return nil, errors.New("dm service requires a session and handlers")
				}
				return services.NewDMService(
					rpsURL,
					dmPaths,
					sr.deps.Provisioner,
					sr.deps.Session,
					sr.deps.State,
					sr.deps.Cache,
					sr.deps.Handlers,
					sr.Logger.With().Str("service", constants.ServiceDM).Logger(),
				), nil
			},
		},
		{
			name:    constants.ServiceProperty,
			enabled: config.Services.Property.Enabled && config.Services.DM.Enabled,
			constructor: func() (registry.Service, error) {
				return services.NewPropertyService(
					config.Services.Property.Interval,
					config.Services.Property.Timeout,
					sr.deps.Properties,
					sr.deps.Session,
					sr.deps.Tokens,
					sr.Logger.With().Str("service", constants.ServiceProperty).Logger(),
				), nil
			},
		},
	}

	// Register services in the predefined order
	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return err
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	if !config.Services.DM.Enabled {
		dmService := services.NewDMService(rpsURL, dmPaths, sr.deps.Provisioner, sr.deps.Session,
			sr.deps.State, sr.deps.Cache, sr.deps.Handlers, sr.Logger)
		if err := dmService.Disable(); err != nil {
			sr.Logger.Warn().Err(err).Msg("Failed to clear DM provisioning state")
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}
