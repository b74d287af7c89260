package registry

// Service is a long-running agent component driven by the service registry.
// Start returns once the component is running; Stop releases it and may be
// called on a service whose Start already returned an error.
type Service interface {
	Start() error
	Stop() error
}
