package sched

// Status is the lifecycle state of the supervisor. Positive values are
// startup and steady state, negative values shutdown. Comparisons rely
// on the ordering: a gate like "at least SYNCING" is status >= StatusSyncing,
// "shutting down" is status < 0.
type Status int8

const (
	// StatusInactive is the state before Start.
	StatusInactive Status = 0
	// StatusStarting is set while task goroutines are being created.
	StatusStarting Status = 1
	// StatusSyncing releases input and service tasks; the supervisor
	// waits here until every input task completed its first transfer.
	StatusSyncing Status = 2
	// StatusPreparing releases program tasks for their first cycle.
	StatusPreparing Status = 3
	// StatusActive is steady state with all tasks running.
	StatusActive Status = 100

	// StatusStopping stops input, program and service tasks.
	StatusStopping Status = -1
	// StatusStopSyncing lets each output task run one final transfer.
	StatusStopSyncing Status = -2
	// StatusStopped is the terminal state.
	StatusStopped Status = -100
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "INACTIVE"
	case StatusStarting:
		return "STARTING"
	case StatusSyncing:
		return "SYNCING"
	case StatusPreparing:
		return "PREPARING"
	case StatusActive:
		return "ACTIVE"
	case StatusStopping:
		return "STOPPING"
	case StatusStopSyncing:
		return "STOP_SYNCING"
	case StatusStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Kind classifies a task and selects its lifecycle gate.
type Kind uint8

const (
	KindInput Kind = iota
	KindOutput
	KindProgram
	KindService
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindOutput:
		return "output"
	case KindProgram:
		return "program"
	case KindService:
		return "service"
	default:
		return "unknown"
	}
}

// Prefix returns the single-letter task name prefix used in logs and
// stats ("I0-meter", "P0-control", ...).
func (k Kind) Prefix() byte {
	switch k {
	case KindInput:
		return 'I'
	case KindOutput:
		return 'O'
	case KindProgram:
		return 'P'
	default:
		return 'S'
	}
}

// gate returns the minimum status at which a task of this kind runs.
func (k Kind) gate() Status {
	switch k {
	case KindInput, KindService:
		return StatusSyncing
	case KindProgram:
		return StatusPreparing
	default:
		return StatusActive
	}
}
