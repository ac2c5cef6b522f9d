package consensus

import (
	"fmt"
)

// Outcome of an order round.
type Outcome int

const (
	Executed Outcome = iota
	NotExecuted
	Refused
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Executed:
		return "executed"
	case NotExecuted:
		return "not-executed"
	case Refused:
		return "refused"
	case TimedOut:
		return "timed-out"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	for _, c := range []Outcome{Executed, NotExecuted, Refused, TimedOut} {
		if c.String() == string(b) {
			*o = c
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// Decision is the result the primary reports at the end of a round, or
// the refusal the coordinator reports when 3f+1 > n.
type Decision struct {
	Round     string  `json:"round"`
	Order     string  `json:"order"`
	PrimaryID int     `json:"primaryId"`
	Faulty    int     `json:"faulty"`
	Total     int     `json:"total"`
	Yes       int     `json:"yes"`
	No        int     `json:"no"`
	Outcome   Outcome `json:"outcome"`
}

// Quorum counts the primary's implicit vote on top of the reports it got.
func (d Decision) Quorum() int {
	return d.Yes + d.No + 1
}

func (d Decision) String() string {
	phrase := faultyPhrase(d.Faulty)
	switch d.Outcome {
	case Executed:
		return fmt.Sprintf("Execute order: %s! %s - %d out of %d quorum suggest %s",
			d.Order, phrase, d.Yes+1, d.Quorum(), d.Order)
	case NotExecuted:
		return fmt.Sprintf("Execute order: cannot be determined - %s - %d out of %d quorum suggest not to %s",
			phrase, d.No, d.Quorum(), d.Order)
	case Refused:
		return fmt.Sprintf("Execute order: cannot be determined - not enough generals in the system! %s - %d out of %d quorum not consistent",
			phrase, d.Total-d.Faulty, d.Total)
	default:
		return fmt.Sprintf("Execute order: cannot be determined - round timed out - %d out of %d votes received",
			d.Yes+d.No, d.Total-1)
	}
}

func faultyPhrase(f int) string {
	switch f {
	case 0:
		return "Non-faulty nodes in the system"
	case 1:
		return "1 faulty node in the system"
	}
	return fmt.Sprintf("%d faulty nodes in the system", f)
}
