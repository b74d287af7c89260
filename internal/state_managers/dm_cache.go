package state_managers

import (
	"errors"
	"fmt"

	"github.com/benmeehan/mip-agent/pkg/file"
	"github.com/benmeehan/mip-agent/pkg/protocol"
	"github.com/rs/zerolog"
)

// ErrNoCachedCredentials is returned when the cache holds no usable DM credentials.
var ErrNoCachedCredentials = errors.New("no cached dm credentials")

// DMCache stores the raw DM profile response so the session can start offline.
type DMCache struct {
	filePath   string
	fileClient file.FileOperations
	logger     zerolog.Logger
}

// NewDMCache creates a cache backed by filePath.
func NewDMCache(filePath string, fileClient file.FileOperations, logger zerolog.Logger) *DMCache {
	return &DMCache{filePath: filePath, fileClient: fileClient, logger: logger}
}

// Save stores raw as received from the provisioning service.
func (c *DMCache) Save(raw []byte) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty response", ErrNoCachedCredentials)
	}
	if err := c.fileClient.WriteFileRaw(c.filePath, raw); err != nil {
		c.logger.Error().Err(err).Str("file", c.filePath).Msg("Failed to cache DM response")
		return fmt.Errorf("failed to cache dm response: %w", err)
	}
	return nil
}

// Load parses the cached response and returns its credentials.
func (c *DMCache) Load() (*protocol.DmCredentials, error) {
	raw, err := c.fileClient.ReadFileRaw(c.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read dm cache: %w", err)
	}

	resp, err := protocol.ParseDMResponse(raw)
	if err != nil {
		c.logger.Warn().Err(err).Str("file", c.filePath).Msg("Cached DM response is malformed")
		return nil, err
	}
	if err := resp.Header.Err(); err != nil {
		return nil, err
	}
	if resp.Credentials == nil {
		return nil, ErrNoCachedCredentials
	}
	return resp.Credentials, nil
}

// Clear removes the cached response.
func (c *DMCache) Clear() error {
	return c.fileClient.RemoveFile(c.filePath)
}
