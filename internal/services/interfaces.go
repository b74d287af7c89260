package services

import (
	"context"
	"time"

	"github.com/benmeehan/mip-agent/internal/models"
	"github.com/benmeehan/mip-agent/pkg/dm"
	"github.com/benmeehan/mip-agent/pkg/protocol"
	"github.com/benmeehan/mip-agent/pkg/provisioning"
)

// Provisioner fetches profiles and credentials from the provisioning service.
type Provisioner interface {
	GetSourceProfile(ctx context.Context, baseURL string, hooks provisioning.Hooks) (*protocol.RPSResponse, error)
	GetDeviceProfile(ctx context.Context, baseURL, targetPath string, hooks provisioning.Hooks) (*protocol.RPSResponse, error)
	GetLNSProfile(ctx context.Context, baseURL string, gateway bool, paths provisioning.LNSPaths, hooks provisioning.Hooks) (*protocol.LNSResponse, error)
	GetDMProfile(ctx context.Context, baseURL string, gateway bool, paths provisioning.DMPaths, hooks provisioning.Hooks) (*protocol.DMResponse, error)
}

// Uplinker sends device-initiated messages over the DM session.
type Uplinker interface {
	Notify(ctx context.Context, event string) error
	UplinkProperty(ctx context.Context, payload []byte) error
	UplinkResponse(ctx context.Context, header protocol.DownlinkHeader, result protocol.DownlinkResult, payload []byte) error
	UplinkHTTP(ctx context.Context, baseURL, token string, payload []byte) error
}

// DMSession is the device-management session driven by DMService.
type DMSession interface {
	Uplinker
	Init(handlers dm.Handlers) error
	Deinit()
	Start(ctx context.Context, creds *protocol.DmCredentials, paths provisioning.DMPaths) error
	Stop() error
	State() dm.State
}

// AgentState persists provisioning progress.
type AgentState interface {
	IsAutopDone() bool
	IsDMDone() bool
	SetAutopDone(done bool) error
	SetDMDone(done bool) error
}

// CredentialCache stores the raw DM profile response.
type CredentialCache interface {
	Save(raw []byte) error
	Load() (*protocol.DmCredentials, error)
	Clear() error
}

// ProfileStore holds the applied device profile.
type ProfileStore interface {
	ApplyFile(path string) (int, error)
	Snapshot() models.Profile
}

// PropertySource collects the current device properties.
type PropertySource interface {
	Collect(ctx context.Context) map[string]any
}

// ClockSetter adjusts the agent clock from timestamp downlinks.
type ClockSetter interface {
	SetTime(t time.Time)
	Reset()
}
