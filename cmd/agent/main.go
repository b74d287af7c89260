package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benmeehan/mip-agent/internal/metrics_collectors"
	"github.com/benmeehan/mip-agent/internal/service_registry"
	"github.com/benmeehan/mip-agent/internal/services"
	"github.com/benmeehan/mip-agent/internal/state_managers"
	"github.com/benmeehan/mip-agent/internal/utils"
	"github.com/benmeehan/mip-agent/pkg/dm"
	"github.com/benmeehan/mip-agent/pkg/file"
	http_utils "github.com/benmeehan/mip-agent/pkg/httpUtils"
	"github.com/benmeehan/mip-agent/pkg/identity"
	"github.com/benmeehan/mip-agent/pkg/jwt"
	"github.com/benmeehan/mip-agent/pkg/mqtt"
	"github.com/benmeehan/mip-agent/pkg/provisioning"
	"github.com/benmeehan/mip-agent/pkg/signing"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the agent configuration")
	flag.Parse()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file and environment
	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load configuration")
	}
	log = newLogger(config)

	// Initialize DeviceInfo
	deviceInfo := identity.NewDeviceInfo(config.Identity.DeviceFile, fileClient)
	if err := deviceInfo.LoadDeviceInfo(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load device information")
	}
	id := deviceInfo.GetDeviceIdentity()
	log = log.With().Str("serial", id.SerialNumber).Logger()

	clock := utils.NewClock()

	var ts signing.TimestampFunc
	if config.Identity.SignTimestamp {
		ts = clock.Timestamp
	}
	signingCtx, err := signing.NewContext(id.SerialNumber, id.SecretKey, config.Identity.Algorithm, ts, signing.SignerFor(config.Identity.Algorithm))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create signing context")
	}

	httpClient := http_utils.NewClient(log.With().Str("component", "http").Logger())
	provisioner := provisioning.NewClient(httpClient, signing.NewAuthenticator(signingCtx), provisioning.Config{
		RequestTimeout:     config.Provisioning.RequestTimeout,
		RequestRetries:     config.Provisioning.RequestRetries,
		RetryDelay:         config.Provisioning.RetryDelay,
		DownloadTimeout:    config.Provisioning.DownloadTimeout,
		DownloadRetries:    config.Provisioning.DownloadRetries,
		DownloadRetryDelay: config.Provisioning.DownloadRetryDelay,
		ProfileRetries:     config.Provisioning.ProfileRetries,
	}, log.With().Str("component", "provisioning").Logger())

	// Initialize the DM transport and session
	mqttClient := mqtt.NewMqttService(fileClient, log.With().Str("component", "mqtt").Logger(),
		mqtt.WithQoS(byte(config.DM.QOS)),
		mqtt.WithConnectTimeout(config.DM.ConnectTimeout),
		mqtt.WithTimestampFunc(clock.Timestamp),
	)
	session := dm.New(id.SerialNumber, mqttClient, httpClient, log.With().Str("component", "dm").Logger(),
		dm.WithPublishTimeout(config.DM.PublishTimeout),
		dm.WithHTTPTimeout(config.HTTP.Timeout),
	)

	// Persistent agent state
	agentState := state_managers.NewAgentStateManager(config.State.StateFile, fileClient, log)
	if _, err := agentState.LoadState(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load agent state")
	}
	profiles := state_managers.NewProfileStore(config.State.ProfileStoreFile, fileClient, config.State.ProfileKeys, log)
	if err := profiles.Load(); err != nil {
		log.Warn().Err(err).Msg("Failed to load profile store, starting empty")
	}
	dmCache := state_managers.NewDMCache(config.DM.CacheFile, fileClient, log)

	properties := metrics_collectors.NewDefaultRegistry(config.Services.Property.Collectors,
		config.Services.Property.DiskPath, deviceInfo, log.With().Str("component", "properties").Logger())
	pool := utils.NewWorkerPool(config.Services.Upgrade.Workers, log.With().Str("component", "workers").Logger())
	tokens := jwt.NewTokenStore()
	runner := services.NewCommandRunner(0, 0, log.With().Str("component", "command").Logger())

	handlers := services.NewHostHandlers(services.HostHandlers{
		Session:            session,
		HTTP:               httpClient,
		Profiles:           profiles,
		Tokens:             tokens,
		DeviceInfo:         deviceInfo,
		Properties:         properties,
		Clock:              clock,
		Pool:               pool,
		Restart:            hook(runner, config.Services.Upgrade.RestartCmd),
		Install:            installHook(runner, config.Services.Upgrade.InstallCmd),
		ProfileUpdatePath:  config.Services.ProfileUpdatePath,
		UpgradeDir:         config.Services.Upgrade.DownloadDir,
		DownloadTimeout:    config.Provisioning.DownloadTimeout,
		DownloadRetries:    config.Provisioning.DownloadRetries,
		DownloadRetryDelay: config.Provisioning.DownloadRetryDelay,
		Logger:             log.With().Str("component", "handlers").Logger(),
	})

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(service_registry.Dependencies{
		Provisioner: provisioner,
		Session:     session,
		State:       agentState,
		Cache:       dmCache,
		Profiles:    profiles,
		Properties:  properties,
		Tokens:      tokens,
		Handlers:    handlers,
	}, log)

	// Register all services based on the configuration
	if err := serviceRegistry.RegisterServices(config); err != nil {
		log.Fatal().Err(err).Msg("Failed to register services")
	}

	// Start all registered services in the registry
	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stopCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Some services failed to stop")
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Services.Upgrade.ShutdownWait)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Background jobs did not finish before shutdown")
	}
	log.Info().Msg("Agent stopped")
}

func newLogger(config *utils.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(config.Log.Level)
	if err != nil || config.Log.Level == "" {
		level = zerolog.InfoLevel
	}

	if config.Log.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

// hook runs cmd through the command runner. An empty command disables the hook.
func hook(runner *services.CommandRunner, cmd string) func(ctx context.Context) error {
	if cmd == "" {
		return nil
	}
	return func(ctx context.Context) error {
		_, err := runner.ExecuteCommand(ctx, cmd)
		return err
	}
}

// installHook runs cmd with the image path as $1 and the version as $2.
func installHook(runner *services.CommandRunner, cmd string) func(ctx context.Context, imagePath, version string) error {
	if cmd == "" {
		return nil
	}
	return func(ctx context.Context, imagePath, version string) error {
		_, err := runner.ExecuteCommand(ctx, cmd, imagePath, version)
		return err
	}
}
