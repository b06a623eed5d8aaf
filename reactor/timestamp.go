package reactor

import "time"

// Timestamp is the type event callbacks receive. It exists as a named
// type, not a bare time.Time, so call sites read as the reactor's own
// vocabulary (the monotonic clock itself is an external collaborator:
// this just wraps whatever time.Now() the runtime gives us).
type Timestamp struct {
	t time.Time
}

func Now() Timestamp { return Timestamp{t: time.Now()} }

func (ts Timestamp) Time() time.Time { return ts.t }

func (ts Timestamp) String() string { return ts.t.Format("2006-01-02 15:04:05.000000") }
