package batch

type EventKind int

const (
	// Started is sent when a station's first attempt begins.
	Started EventKind = iota
	// Retrying is sent after a failed attempt that will be retried.
	Retrying
	// Finished is sent exactly once per station with its terminal state.
	Finished
)

func (k EventKind) String() string {
	switch k {
	case Started:
		return "started"
	case Retrying:
		return "retrying"
	case Finished:
		return "finished"
	}
	return "unknown"
}

type Event struct {
	Kind    EventKind
	Station string
	State   State
	// Attempt is the attempt that just failed for Retrying, the total
	// attempts made for Finished.
	Attempt uint
	Rows    int
	Err     error
	// Completed counts the stations that have finished so far, out of Total.
	Completed int
	Total     int
}

// Observer receives events from a running batch. Calls are serialized, an
// observer does not need its own locking.
type Observer interface {
	Observe(event Event)
}

type ObserverFunc func(event Event)

func (f ObserverFunc) Observe(event Event) {
	f(event)
}
