package state_managers

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/benmeehan/mip-agent/internal/models"
	"github.com/benmeehan/mip-agent/pkg/file"
	"github.com/rs/zerolog"
)

// AgentStateManager persists the provisioning progress flags.
type AgentStateManager struct {
	filePath   string
	fileClient file.FileOperations
	logger     zerolog.Logger
	mu         sync.Mutex
}

// NewAgentStateManager initializes a new AgentStateManager
func NewAgentStateManager(filePath string, fileClient file.FileOperations, logger zerolog.Logger) *AgentStateManager {
	return &AgentStateManager{
		filePath:   filePath,
		fileClient: fileClient,
		logger:     logger,
	}
}

// LoadState reads the agent state. A missing file is the zero state.
func (sm *AgentStateManager) LoadState() (models.AgentState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.load()
}

func (sm *AgentStateManager) load() (models.AgentState, error) {
	var state models.AgentState
	if err := sm.fileClient.ReadJsonFile(sm.filePath, &state); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.AgentState{}, nil
		}
		sm.logger.Error().Err(err).Str("file", sm.filePath).Msg("Failed to read state file")
		return models.AgentState{}, fmt.Errorf("failed to read agent state: %w", err)
	}
	return state, nil
}

// update applies fn to the stored state and writes it back.
func (sm *AgentStateManager) update(fn func(*models.AgentState)) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	state, err := sm.load()
	if err != nil {
		return err
	}
	fn(&state)
	if err := sm.fileClient.WriteJsonFile(sm.filePath, state); err != nil {
		sm.logger.Error().Err(err).Str("file", sm.filePath).Msg("Failed to write state file")
		return fmt.Errorf("failed to write agent state: %w", err)
	}
	return nil
}

// IsAutopDone reports whether the auto-provisioning profile was applied. Read errors
// count as not done.
func (sm *AgentStateManager) IsAutopDone() bool {
	state, err := sm.LoadState()
	return err == nil && state.AutopDone
}

// IsDMDone reports whether DM credentials were provisioned and cached.
func (sm *AgentStateManager) IsDMDone() bool {
	state, err := sm.LoadState()
	return err == nil && state.DMDone
}

// SetAutopDone persists the auto-provisioning flag.
func (sm *AgentStateManager) SetAutopDone(done bool) error {
	return sm.update(func(s *models.AgentState) { s.AutopDone = done })
}

// SetDMDone persists the DM provisioning flag.
func (sm *AgentStateManager) SetDMDone(done bool) error {
	return sm.update(func(s *models.AgentState) { s.DMDone = done })
}
