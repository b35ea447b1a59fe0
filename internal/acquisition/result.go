package acquisition

import "fmt"

// Outcome classifies how an acquisition ended. Partial data is still usable by the caller.
type Outcome int

const (
	Complete Outcome = iota
	Incomplete
	Corrupted
)

func (o Outcome) String() string {
	switch o {
	case Complete:
		return "complete"
	case Incomplete:
		return "incomplete"
	case Corrupted:
		return "corrupted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result carries the acquired data together with its classification. Err explains a
// non-Complete outcome, or holds a failure posted while sampling.
type Result struct {
	Data    *Data
	Outcome Outcome
	Err     error
}

// OK reports whether the acquisition finished with every requested sample and no gaps.
func (r Result) OK() bool {
	return r.Outcome == Complete && r.Err == nil
}
