package models

// ProfileValue is one key/value setting of a device profile.
type ProfileValue struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Profile is the document exchanged by profile downloads and profile_retrieval.
type Profile struct {
	Version string         `json:"version,omitempty"`
	Values  []ProfileValue `json:"values"`
}
