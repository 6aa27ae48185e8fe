package core

// Status is the terminal classification of a run or tool invocation.
type Status string

const (
	// StatusSuccess carries a final value.
	StatusSuccess Status = "success"
	// StatusPending carries one or more suspension records awaiting an
	// external decision.
	StatusPending Status = "pending"
	// StatusFailed carries a Failure.
	StatusFailed Status = "failed"
)

// Outcome is the tri-state result returned by every agent run and tool
// invocation: Success(value), Pending(suspensions) or Failed(failure).
// A Pending outcome usually holds a single suspension; a parallel group
// whose children suspended independently holds one record per child.
type Outcome struct {
	Status      Status
	Value       any
	Suspensions []*Suspension
	Failure     *Failure
}

// Success builds a successful outcome carrying the final value.
func Success(v any) Outcome { return Outcome{Status: StatusSuccess, Value: v} }

// Pending builds a suspended outcome carrying the given records.
func Pending(records ...*Suspension) Outcome {
	return Outcome{Status: StatusPending, Suspensions: records}
}

// Fail builds a failed outcome.
func Fail(f *Failure) Outcome { return Outcome{Status: StatusFailed, Failure: f} }

// FailErr builds a failed outcome from an arbitrary error.
func FailErr(err error) Outcome { return Fail(WrapFailure(err)) }

// IsSuccess reports a successful outcome.
func (o Outcome) IsSuccess() bool { return o.Status == StatusSuccess }

// IsPending reports a suspended outcome.
func (o Outcome) IsPending() bool { return o.Status == StatusPending }

// IsFailed reports a failed outcome.
func (o Outcome) IsFailed() bool { return o.Status == StatusFailed }

// Primary returns the first suspension record of a pending outcome, nil
// otherwise. Records keep declaration order when several children of one
// parallel group suspended.
func (o Outcome) Primary() *Suspension {
	if len(o.Suspensions) == 0 {
		return nil
	}
	return o.Suspensions[0]
}

// Err returns the failure as an error, nil unless failed.
func (o Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}
