package port

// Scheduler keeps the process alive while transfers run and tells the engine
// before it is torn down.
type Scheduler interface {
	// Acquire is called when a transfer starts running
	Acquire(id string)

	// Release is called when a transfer stops running
	Release(id string)

	// OnTeardown registers a hook run before the scheduler stops the process
	OnTeardown(fn func())
}
