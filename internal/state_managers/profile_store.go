package state_managers

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/benmeehan/mip-agent/internal/constants"
	"github.com/benmeehan/mip-agent/internal/models"
	"github.com/benmeehan/mip-agent/internal/utils"
	"github.com/benmeehan/mip-agent/pkg/file"
	"github.com/rs/zerolog"
)

// ErrInvalidProfile is returned for profile documents that cannot be decoded.
var ErrInvalidProfile = errors.New("invalid profile document")

// ProfileStore keeps the device's profile values in the order they were first set
// and persists them after every change.
type ProfileStore struct {
	filePath   string
	fileClient file.FileOperations
	allowed    map[string]struct{}
	logger     zerolog.Logger

	mu     sync.RWMutex
	values []models.ProfileValue
	index  map[string]int
}

// NewProfileStore creates a store backed by filePath. When allowedKeys is non-empty,
// values for other keys are ignored.
func NewProfileStore(filePath string, fileClient file.FileOperations, allowedKeys []string, logger zerolog.Logger) *ProfileStore {
	return &ProfileStore{
		filePath:   filePath,
		fileClient: fileClient,
		allowed:    utils.SliceToSet(allowedKeys),
		logger:     logger,
		index:      make(map[string]int),
	}
}

// Load reads the persisted values. A missing file leaves the store empty.
func (p *ProfileStore) Load() error {
	var stored models.Profile
	if err := p.fileClient.ReadJsonFile(p.filePath, &stored); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read profile store: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = nil
	p.index = make(map[string]int, len(stored.Values))
	for _, v := range stored.Values {
		p.set(v)
	}
	return nil
}

// Apply merges values into the store and persists it. It returns how many values
// were accepted.
func (p *ProfileStore) Apply(values []models.ProfileValue) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	applied := 0
	for _, v := range values {
		if v.Key == "" || v.Value == nil {
			continue
		}
		if _, ok := p.allowed[v.Key]; len(p.allowed) > 0 && !ok {
			p.logger.Debug().Str("key", v.Key).Msg("Ignoring unknown profile key")
			continue
		}
		p.set(v)
		applied++
	}
	if applied == 0 {
		return 0, nil
	}

	doc := models.Profile{Version: constants.ProfileVersion, Values: p.values}
	if err := p.fileClient.WriteJsonFile(p.filePath, doc); err != nil {
		p.logger.Error().Err(err).Str("file", p.filePath).Msg("Failed to persist profile store")
		return applied, fmt.Errorf("failed to persist profile store: %w", err)
	}
	p.logger.Info().Int("applied", applied).Msg("Profile values applied")
	return applied, nil
}

// ApplyFile decodes a downloaded profile document and applies its values.
func (p *ProfileStore) ApplyFile(path string) (int, error) {
	var doc models.Profile
	if err := p.fileClient.ReadJsonFile(path, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("profile %s: %w", path, err)
		}
		return 0, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	return p.Apply(doc.Values)
}

// Get returns the value stored for key.
func (p *ProfileStore) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i, ok := p.index[key]
	if !ok {
		return nil, false
	}
	return p.values[i].Value, true
}

// Snapshot returns the current profile for profile_retrieval replies.
func (p *ProfileStore) Snapshot() models.Profile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	values := make([]models.ProfileValue, len(p.values))
	copy(values, p.values)
	return models.Profile{Version: constants.ProfileVersion, Values: values}
}

func (p *ProfileStore) set(v models.ProfileValue) {
	if i, ok := p.index[v.Key]; ok {
		p.values[i].Value = v.Value
		return
	}
	p.index[v.Key] = len(p.values)
	p.values = append(p.values, v)
}
