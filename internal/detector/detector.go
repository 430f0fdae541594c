// Package detector provides liveness strategies for the supervised backend.
// An HTTPDetector answers "is a compatible backend serving /health on this
// port", a PortDetector answers "is anything at all bound to this port".
// The supervisor combines both to decide between adopting an external
// backend, spawning its own, or clearing a stale occupant.
package detector

// Detector is a strategy that determines whether the backend is reachable.
// Implementations must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the backend is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
