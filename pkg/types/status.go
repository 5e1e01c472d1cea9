package types

// ContainerState is the lifecycle state of a container. The wire form is the
// lowercase string.
type ContainerState string

const (
	ContainerDefined    ContainerState = "defined"
	ContainerQueued     ContainerState = "queued"
	ContainerCreating   ContainerState = "creating"
	ContainerCreated    ContainerState = "created"
	ContainerPending    ContainerState = "pending"
	ContainerRunning    ContainerState = "running"
	ContainerRestarting ContainerState = "restarting"
	ContainerPaused     ContainerState = "paused"
	ContainerExited     ContainerState = "exited"
	ContainerCompleted  ContainerState = "completed"
	ContainerFailed     ContainerState = "failed"
	ContainerStopped    ContainerState = "stopped"
	ContainerInvalid    ContainerState = "invalid"
)

// Terminal reports whether the state is final. The reconciler never
// transitions a terminal row.
func (s ContainerState) Terminal() bool {
	switch s {
	case ContainerCompleted, ContainerFailed, ContainerStopped, ContainerExited, ContainerInvalid:
		return true
	}
	return false
}

// Active reports whether the reconciler still considers the state for
// transitions. Active and Terminal partition the state space.
func (s ContainerState) Active() bool {
	switch s {
	case ContainerDefined, ContainerQueued, ContainerCreating, ContainerCreated,
		ContainerPending, ContainerRunning, ContainerRestarting, ContainerPaused:
		return true
	}
	return false
}

// ActiveContainerStates lists every active state, in the order used by store
// queries.
func ActiveContainerStates() []ContainerState {
	return []ContainerState{
		ContainerDefined, ContainerQueued, ContainerCreating, ContainerCreated,
		ContainerPending, ContainerRunning, ContainerRestarting, ContainerPaused,
	}
}

// ActiveNonQueuedContainerStates is the queue arbiter's conflict set: states
// that hold a queue slot.
func ActiveNonQueuedContainerStates() []ContainerState {
	return []ContainerState{
		ContainerDefined, ContainerCreating, ContainerCreated,
		ContainerPending, ContainerRunning, ContainerRestarting, ContainerPaused,
	}
}

// ProcessorState is the lifecycle state of a processor.
type ProcessorState string

const (
	ProcessorDefined  ProcessorState = "defined"
	ProcessorScaling  ProcessorState = "scaling"
	ProcessorPending  ProcessorState = "pending"
	ProcessorRunning  ProcessorState = "running"
	ProcessorCreating ProcessorState = "creating"
	ProcessorCreated  ProcessorState = "created"
	ProcessorFailed   ProcessorState = "failed"
	ProcessorStopped  ProcessorState = "stopped"
	ProcessorInvalid  ProcessorState = "invalid"
)

// Terminal reports whether the processor state is final.
func (s ProcessorState) Terminal() bool {
	switch s {
	case ProcessorFailed, ProcessorStopped, ProcessorInvalid:
		return true
	}
	return false
}

// Active is the complement of Terminal for known states.
func (s ProcessorState) Active() bool {
	switch s {
	case ProcessorDefined, ProcessorScaling, ProcessorPending,
		ProcessorRunning, ProcessorCreating, ProcessorCreated:
		return true
	}
	return false
}

// ActiveProcessorStates lists every active processor state.
func ActiveProcessorStates() []ProcessorState {
	return []ProcessorState{
		ProcessorDefined, ProcessorScaling, ProcessorPending,
		ProcessorRunning, ProcessorCreating, ProcessorCreated,
	}
}
