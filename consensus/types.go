package consensus

// Role of a general in the cluster.
type Role int

const (
	Secondary Role = iota
	Primary
)

func (r Role) String() string {
	if r == Primary {
		return "primary"
	}
	return "secondary"
}

// FaultStatus tells whether a general behaves honestly.
type FaultStatus int

const (
	NonFaulty FaultStatus = iota
	Faulty
)

// String returns the short form used in state reports.
func (s FaultStatus) String() string {
	if s == Faulty {
		return "F"
	}
	return "NF"
}

// Literal returns the value carried by the state field of g-state.
func (s FaultStatus) Literal() string {
	if s == Faulty {
		return StateFaulty
	}
	return StateNonFaulty
}

const (
	StateFaulty    = "faulty"
	StateNonFaulty = "non-faulty"
)

// ParseFaultStatus maps an operator-facing literal to a FaultStatus.
func ParseFaultStatus(s string) (FaultStatus, bool) {
	switch s {
	case StateFaulty:
		return Faulty, true
	case StateNonFaulty:
		return NonFaulty, true
	}
	return NonFaulty, false
}

const (
	OrderAttack  = "attack"
	OrderRetreat = "retreat"
)

// ValidOrder reports whether order is one the cluster can decide on.
func ValidOrder(order string) bool {
	return order == OrderAttack || order == OrderRetreat
}

// Wire commands.
const (
	CmdState       = "g-state"
	CmdKill        = "g-kill"
	CmdSetPrimary  = "set-primary"
	CmdSimpleState = "simple-state"
	CmdActualOrder = "actual-order"
	CmdSetVote     = "set-vote"
	CmdGetOrder    = "get-order"
	CmdGetVotes    = "get-votes"
	CmdReceiveVote = "receive-vote"
	CmdExit        = "exit"
)
