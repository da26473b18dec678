// Package media defines the contract between the control plane and a media
// pipeline engine. The control plane never interprets frame bytes; it only
// builds pipelines, drives their state and edits the caster's destination
// list.
package media

import "fmt"

// Role selects which pipeline an engine builds.
type Role int

const (
	RoleCaster Role = iota
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleCaster:
		return "caster"
	case RoleReceiver:
		return "receiver"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// State is the pipeline state the control plane asks for.
type State int

const (
	StateNull State = iota
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FrameFunc receives one JPEG encoded frame. It runs on an engine goroutine
// and must not block; the slice is owned by the callee.
type FrameFunc func(jpeg []byte)

// FaultFunc receives asynchronous pipeline failures (bus errors, end of
// stream) after the pipeline was built.
type FaultFunc func(err error)

// BuildOptions parameterize Engine.Build.
type BuildOptions struct {
	// Region is the initial capture region. Caster only.
	Region Region
	// MediaPort is the UDP port media flows to (caster) or is read from
	// (receiver).
	MediaPort int
	// Framerate is the capture rate. Caster only.
	Framerate int
	// OnFrame receives decoded frames on the receiver and preview frames on
	// the caster. Optional.
	OnFrame FrameFunc
	// OnFault receives asynchronous failures. Optional.
	OnFault FaultFunc
}

// Engine builds pipelines.
type Engine interface {
	Name() string
	Build(role Role, opts BuildOptions) (Pipeline, error)
}

// Pipeline is a built media pipeline. Methods that do not apply to the
// pipeline's role return a PipelineError.
type Pipeline interface {
	// SetState blocks until the engine acknowledged the transition.
	SetState(state State) error
	AddDestination(host string, port int) error
	RemoveDestination(host string, port int) error
	// SetRegion updates the capture region without restarting capture.
	SetRegion(region Region) error
	// SetBlank substitutes a constant black frame while encoding continues.
	SetBlank(blank bool) error
	// Close moves the pipeline to StateNull and releases it. Idempotent.
	Close() error
}
