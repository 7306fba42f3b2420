package domain

// Step enumerates the canonical workflow lifecycle states.
type Step string

const (
	StepNew        Step = "NEW"
	StepInProgress Step = "IN_PROGRESS"
	StepCompleted  Step = "COMPLETED"
)

// Steps returns the canonical steps in workflow order.
func Steps() []Step {
	return []Step{StepNew, StepInProgress, StepCompleted}
}

// Valid reports whether s is one of the canonical steps.
func (s Step) Valid() bool {
	switch s {
	case StepNew, StepInProgress, StepCompleted:
		return true
	}
	return false
}
