package models

// NetworkRates holds the network I/O rates of the last collection interval.
type NetworkRates struct {
	InRate  float64 `json:"in"`  // bytes/sec
	OutRate float64 `json:"out"` // bytes/sec
}
