package models

// APIToken is the data member of an api_token downlink.
type APIToken struct {
	AccessToken string `json:"accessToken"`
	Endpoint    string `json:"endpoint"`
}

// TimestampSync is the data member of a timestamp downlink. Seconds is nil when the
// cloud wants the device to fall back to its own time source.
type TimestampSync struct {
	Seconds *int64 `json:"seconds"`
}

// AgentState is the persisted provisioning progress of the agent.
type AgentState struct {
	AutopDone bool `json:"autop_done"`
	DMDone    bool `json:"dm_done"`
}
