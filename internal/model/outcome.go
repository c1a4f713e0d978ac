package model

type OutcomeKind int

const (
	Succeeded OutcomeKind = iota
	Cancelled
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case Cancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Outcome is the terminal classification of one invocation.
type Outcome struct {
	Kind           OutcomeKind
	Code           int    // exit code, meaningful for Failed
	Classification string // set for Failed
	Message        string
}

// Err returns a *ProcessExitError for failed outcomes and nil otherwise;
// a cancelled job is not an error.
func (o Outcome) Err() error {
	if o.Kind != Failed {
		return nil
	}
	return &ProcessExitError{Code: o.Code, Classification: o.Classification}
}
