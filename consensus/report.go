package consensus

import "fmt"

// ReportKind identifies the line a general emits.
type ReportKind int

const (
	ReportState ReportKind = iota
	ReportRole
	ReportDecision
	ReportShutdown
)

// Report is one observable line emitted by a general.
type Report struct {
	Kind      ReportKind
	GeneralID int
	Role      Role
	Fault     FaultStatus
	Decision  Decision
}

func (r Report) String() string {
	switch r.Kind {
	case ReportState:
		return fmt.Sprintf("G%d, %s, state=%s", r.GeneralID, r.Role, r.Fault)
	case ReportRole:
		return fmt.Sprintf("G%d, %s", r.GeneralID, r.Role)
	case ReportDecision:
		return r.Decision.String()
	case ReportShutdown:
		return fmt.Sprintf("G%d - Shutting down", r.GeneralID)
	}
	return ""
}

// Reporter receives reports. Implementations must be safe for concurrent
// use since reports are emitted from channel workers.
type Reporter interface {
	Report(Report)
}

type discardReporter struct{}

func (discardReporter) Report(Report) {}
