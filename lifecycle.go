package tractus

import "context"

// Initializer defines an interface for components that require an
// initialization step before use. This is useful for setting up resources,
// registering protocol variants, or performing other one-time setup tasks.
//
// Hosts embedding a Tracker should call Setup once per instance before
// feeding it pipeline events.
type Initializer interface {
	Setup(ctx context.Context) error
}

// Closer defines an interface for components that need to perform cleanup
// when they are being torn down. This is useful for flushing pending spans,
// stopping exporters, or other teardown tasks.
//
// Hosts should call Close once per instance after the last pipeline event
// has been delivered.
type Closer interface {
	Close(ctx context.Context) error
}

// Resettable defines an interface for components that can have their internal
// state reset to a clean condition. This is useful for reusing a tracker
// across host restarts or in testing scenarios where fresh registry state is
// required without full re-initialization.
// The context can be used for cancellation or passing reset-specific parameters.
type Resettable interface {
	Reset(ctx context.Context) error
}

// HealthCheckable defines an interface for components that can report their
// operational health. This is useful for monitoring and automated systems
// to determine if a component is functioning correctly.
//
// The HealthStatus method should return nil if the component is healthy,
// or an error describing the problem if it's unhealthy.
type HealthCheckable interface {
	HealthStatus(ctx context.Context) error
}
