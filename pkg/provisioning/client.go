// Package provisioning implements the device side of the provisioning service: the
// source, device, LNS and DM profile flows and the artifact downloads they trigger.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benmeehan/mip-agent/pkg/protocol"
	"github.com/benmeehan/mip-agent/pkg/signing"
	"github.com/benmeehan/mip-agent/pkg/transport"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Request paths relative to the provisioning base URL.
const (
	PathSourceProfile = "/api/v1/profiles/source-url"
	PathDeviceProfile = "/api/v1/profiles"
	PathLNSProfile    = "/api/v1/devices/certificate/lns"
	PathDMProfile     = "/api/v1/devices/certificate/mqtt"
	PathHubLNSProfile = "/devicehub/api/v1/open/device/certificate/lns"
	PathHubDMProfile  = "/devicehub/api/v1/open/device/certificate/mqtt"
)

// SourceTypeDeviceHub marks a source that must be reached through the device hub.
const SourceTypeDeviceHub = "devicehub"

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNoProfileURL      = errors.New("no profile url in response")
	ErrServerUnavailable = errors.New("provisioning server unavailable")
)

// HeaderBuilder produces the signed request headers.
type HeaderBuilder interface {
	BuildHeaders(gateway bool) (signing.Headers, error)
}

// Hooks are optional per-call callbacks. GotResponse sees the raw body of every
// well-formed response, before its status is checked. Downloaded runs once every
// required download finished.
type Hooks struct {
	GotResponse func(raw []byte)
	Downloaded  func() error
}

// LNSPaths are the destinations of LNS artifacts. Empty paths skip the download.
type LNSPaths struct {
	CupsTrust  string
	CupsCert   string
	CupsKey    string
	LNSTrust   string
	LNSCert    string
	LNSKey     string
	MQTTCert   string
	MQTTKey    string
	MQTTCACert string
}

// DMPaths are the destinations of the DM broker TLS material.
type DMPaths struct {
	Cert       string
	PrivateKey string
	CACert     string
}

// Config holds timeouts and retry policy.
type Config struct {
	RequestTimeout     time.Duration
	RequestRetries     int
	RetryDelay         time.Duration
	DownloadTimeout    time.Duration
	DownloadRetries    int
	DownloadRetryDelay time.Duration
	ProfileRetries     int
}

// DefaultConfig returns the policy used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:     60 * time.Second,
		RequestRetries:     1,
		RetryDelay:         time.Second,
		DownloadTimeout:    60 * time.Second,
		DownloadRetries:    3,
		DownloadRetryDelay: 2 * time.Second,
		ProfileRetries:     1,
	}
}

// Client runs the provisioning flows over an HTTPTransport.
type Client struct {
	http   transport.HTTPTransport
	auth   HeaderBuilder
	cfg    Config
	logger zerolog.Logger
}

// NewClient creates a provisioning client.
func NewClient(httpTransport transport.HTTPTransport, auth HeaderBuilder, cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		http:   httpTransport,
		auth:   auth,
		cfg:    cfg,
		logger: logger,
	}
}

// IsGatewaySource reports whether sourceType selects device-hub mode.
func IsGatewaySource(sourceType string) bool {
	return strings.EqualFold(sourceType, SourceTypeDeviceHub)
}

// GetSourceProfile asks which back end serves this device.
func (c *Client) GetSourceProfile(ctx context.Context, baseURL string, hooks Hooks) (*protocol.RPSResponse, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base url is empty", ErrInvalidArgument)
	}

	body, err := c.fetch(ctx, baseURL+PathSourceProfile, false)
	if err != nil {
		return nil, err
	}
	resp, err := protocol.ParseRPSResponse(body)
	if err != nil {
		return nil, c.formatError(baseURL+PathSourceProfile, err)
	}
	if err := c.checkStatus(baseURL+PathSourceProfile, body, resp.Header, hooks); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetDeviceProfile fetches the device profile and downloads the first profile file
// into targetPath, verifying its size and checksums.
func (c *Client) GetDeviceProfile(ctx context.Context, baseURL, targetPath string, hooks Hooks) (*protocol.RPSResponse, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base url is empty", ErrInvalidArgument)
	}
	if targetPath == "" {
		return nil, fmt.Errorf("%w: target path is empty", ErrInvalidArgument)
	}

	url := baseURL + PathDeviceProfile
	body, err := c.fetch(ctx, url, false)
	if err != nil {
		return nil, err
	}
	resp, err := protocol.ParseRPSResponse(body)
	if err != nil {
		return nil, c.formatError(url, err)
	}
	if err := c.checkStatus(url, body, resp.Header, hooks); err != nil {
		return nil, err
	}

	profile, ok := resp.FirstProfile()
	if !ok || profile.URL == "" {
		c.logger.Error().Str("url", url).Str("path", targetPath).Msg("Device profile response has no usable profile")
		return nil, ErrNoProfileURL
	}

	req := transport.DownloadRequest{
		URL:           profile.URL,
		DestPath:      targetPath,
		Timeout:       c.cfg.DownloadTimeout,
		ExpectedSize:  profile.FileSize,
		ExpectedMD5:   profile.MD5,
		ExpectedCRC32: profile.CRC32,
	}
	if err := c.download(ctx, req, c.cfg.ProfileRetries, c.cfg.RetryDelay); err != nil {
		return nil, fmt.Errorf("failed to download device profile: %w", err)
	}
	c.logger.Info().Str("path", targetPath).Msg("Device profile downloaded")

	if err := runDownloaded(hooks); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetLNSProfile fetches the network-server bundle and downloads the artifacts of the
// returned variant. Artifacts already written are kept when a later one fails.
func (c *Client) GetLNSProfile(ctx context.Context, baseURL string, gateway bool, paths LNSPaths, hooks Hooks) (*protocol.LNSResponse, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base url is empty", ErrInvalidArgument)
	}

	url := baseURL + PathLNSProfile
	if gateway {
		url = baseURL + PathHubLNSProfile
	}

	body, err := c.fetch(ctx, url, gateway)
	if err != nil {
		return nil, err
	}
	resp, err := protocol.ParseLNSResponse(body)
	if err != nil {
		return nil, c.formatError(url, err)
	}
	if err := c.checkStatus(url, body, resp.Header, hooks); err != nil {
		return nil, err
	}

	var artifacts []artifact
	switch srv := resp.Server.(type) {
	case *protocol.BasicStationServer:
		artifacts = []artifact{
			{srv.CupsTrustURL, paths.CupsTrust},
			{srv.CupsCertURL, paths.CupsCert},
			{srv.CupsKeyURL, paths.CupsKey},
			{srv.LNSTrustURL, paths.LNSTrust},
			{srv.LNSCertURL, paths.LNSCert},
			{srv.LNSKeyURL, paths.LNSKey},
		}
	case *protocol.ChirpstackServer:
		artifacts = []artifact{
			{srv.CertURL, paths.MQTTCert},
			{srv.PrivateKeyURL, paths.MQTTKey},
			{srv.CACertURL, paths.MQTTCACert},
		}
	}
	if err := c.downloadArtifacts(ctx, artifacts); err != nil {
		return nil, err
	}

	if err := runDownloaded(hooks); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetDMProfile fetches the device-management broker bundle and its TLS material.
func (c *Client) GetDMProfile(ctx context.Context, baseURL string, gateway bool, paths DMPaths, hooks Hooks) (*protocol.DMResponse, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base url is empty", ErrInvalidArgument)
	}

	url := baseURL + PathDMProfile
	if gateway {
		url = baseURL + PathHubDMProfile
	}

	body, err := c.fetch(ctx, url, gateway)
	if err != nil {
		return nil, err
	}
	resp, err := protocol.ParseDMResponse(body)
	if err != nil {
		return nil, c.formatError(url, err)
	}
	if err := c.checkStatus(url, body, resp.Header, hooks); err != nil {
		return nil, err
	}

	var artifacts []artifact
	if creds := resp.Credentials; creds != nil {
		artifacts = []artifact{
			{creds.CertURL, paths.Cert},
			{creds.PrivateKeyURL, paths.PrivateKey},
			{creds.CACertURL, paths.CACert},
		}
	}
	if err := c.downloadArtifacts(ctx, artifacts); err != nil {
		return nil, err
	}

	if err := runDownloaded(hooks); err != nil {
		return nil, err
	}
	return resp, nil
}

// fetch signs and sends a GET, retrying transport failures, signing failures and
// 5xx answers. Any other status hands the body back for envelope parsing.
func (c *Client) fetch(ctx context.Context, url string, gateway bool) ([]byte, error) {
	var body []byte
	attempt := 0

	operation := func() error {
		attempt++
		headers, err := c.auth.BuildHeaders(gateway)
		if err != nil {
			return fmt.Errorf("failed to build request headers: %w", err)
		}

		resp, err := c.http.SendRequest(ctx, transport.Request{
			URL:     url,
			Method:  http.MethodGet,
			Headers: headers,
			Timeout: c.cfg.RequestTimeout,
		})
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: http status %d", ErrServerUnavailable, resp.StatusCode)
		}
		body = resp.Body
		return nil
	}

	notify := func(err error, next time.Duration) {
		c.logger.Warn().Err(err).Str("url", url).Int("attempt", attempt).Dur("retry_in", next).Msg("Provisioning request failed, trying again")
	}

	if err := backoff.RetryNotify(operation, c.policy(ctx, c.cfg.RequestRetries, c.cfg.RetryDelay), notify); err != nil {
		c.logger.Error().Err(err).Str("url", url).Msg("Provisioning request failed")
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	return body, nil
}

func (c *Client) checkStatus(url string, body []byte, header protocol.ResponseHeader, hooks Hooks) error {
	if hooks.GotResponse != nil {
		hooks.GotResponse(body)
	}
	if err := header.Err(); err != nil {
		c.logger.Error().Str("url", url).Str("err_code", header.ErrCode).Str("err_msg", header.ErrMsg).
			Str("request_id", header.RequestID).Msg("Provisioning server reported failure")
		return err
	}
	return nil
}

func (c *Client) formatError(url string, err error) error {
	c.logger.Error().Err(err).Str("url", url).Msg("Malformed provisioning response")
	return fmt.Errorf("response from %s: %w", url, err)
}

type artifact struct {
	url  string
	path string
}

func (c *Client) downloadArtifacts(ctx context.Context, artifacts []artifact) error {
	for _, a := range artifacts {
		if err := c.DownloadArtifact(ctx, a.url, a.path); err != nil {
			return err
		}
	}
	return nil
}

// DownloadArtifact downloads url into path without integrity data. An empty url or
// path is skipped and counts as success.
func (c *Client) DownloadArtifact(ctx context.Context, url, path string) error {
	if url == "" || path == "" {
		c.logger.Debug().Str("url", url).Str("path", path).Msg("Skipping artifact download")
		return nil
	}

	req := transport.DownloadRequest{
		URL:          url,
		DestPath:     path,
		Timeout:      c.cfg.DownloadTimeout,
		ExpectedSize: -1,
	}
	if err := c.download(ctx, req, c.cfg.DownloadRetries, c.cfg.DownloadRetryDelay); err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	return nil
}

func (c *Client) download(ctx context.Context, req transport.DownloadRequest, retries int, delay time.Duration) error {
	operation := func() error {
		return c.http.DownloadFile(ctx, req)
	}
	notify := func(err error, next time.Duration) {
		c.logger.Warn().Err(err).Str("url", req.URL).Dur("retry_in", next).Msg("Download failed, trying again")
	}

	if err := backoff.RetryNotify(operation, c.policy(ctx, retries, delay), notify); err != nil {
		c.logger.Error().Err(err).Str("url", req.URL).Str("path", req.DestPath).Msg("Download failed")
		return err
	}
	return nil
}

func (c *Client) policy(ctx context.Context, retries int, delay time.Duration) backoff.BackOffContext {
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(retries)), ctx)
}

func runDownloaded(hooks Hooks) error {
	if hooks.Downloaded == nil {
		return nil
	}
	if err := hooks.Downloaded(); err != nil {
		return fmt.Errorf("downloaded hook failed: %w", err)
	}
	return nil
}
