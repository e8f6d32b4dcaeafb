// Package lifecycle implements the tracer's global running-state machine:
// NOT_INITIALIZED -> RUNNING -> EXIT, per spec.md section 4.G.
package lifecycle

import "sync/atomic"

// State is the tracer's process-wide running state.
type State int32

const (
	NotInitialized State = iota
	Running
	Exited
)

func (s State) String() string {
	switch s {
	case NotInitialized:
		return "NOT_INITIALIZED"
	case Running:
		return "RUNNING"
	case Exited:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

// Controller holds the tracer's global state and the temporary-chunk
// diagnostic counter, both process-wide per spec.md section 5's "shared
// resources" list.
type Controller struct {
	state      int32
	tempChunks int64
}

// New returns a Controller in NOT_INITIALIZED state.
func New() *Controller {
	return &Controller{state: int32(NotInitialized)}
}

// State returns the current running state.
func (c *Controller) State() State {
	return State(atomic.LoadInt32(&c.state))
}

// Running reports whether the tracer has completed Init and not yet Exit.
func (c *Controller) Running() bool {
	return c.State() == Running
}

// Init transitions NOT_INITIALIZED -> RUNNING. Calling it more than once
// after the first successful call is a no-op.
func (c *Controller) Init() {
	atomic.CompareAndSwapInt32(&c.state, int32(NotInitialized), int32(Running))
}

// Exit transitions to EXIT. New events continue to record, but handoff may
// be disabled by callers observing this state.
func (c *Controller) Exit() {
	atomic.StoreInt32(&c.state, int32(Exited))
}

// IncTempChunks records a newly allocated temporary (heap-backed) chunk.
func (c *Controller) IncTempChunks() int64 {
	return atomic.AddInt64(&c.tempChunks, 1)
}

// DecTempChunks records a temporary chunk's consumption.
func (c *Controller) DecTempChunks() int64 {
	return atomic.AddInt64(&c.tempChunks, -1)
}

// TempChunks reports the number of temporary chunks currently live, an
// observable pressure signal per spec.md section 7.
func (c *Controller) TempChunks() int64 {
	return atomic.LoadInt64(&c.tempChunks)
}
