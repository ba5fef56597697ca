package domain

// Status is a job status. The valid set depends on the job kind.
type Status string

// Transformation statuses
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// PaymentOrder statuses. StatusFailed is shared with transformations.
const (
	StatusCreated   Status = "created"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

type stateMachine struct {
	initial     Status
	success     Status
	transitions map[Status][]Status
}

var machines = map[Kind]stateMachine{
	KindTransformation: {
		initial: StatusPending,
		success: StatusCompleted,
		transitions: map[Status][]Status{
			StatusPending:    {StatusProcessing, StatusFailed},
			StatusProcessing: {StatusCompleted, StatusFailed},
			StatusCompleted:  nil,
			StatusFailed:     nil,
		},
	},
	KindPaymentOrder: {
		initial: StatusCreated,
		success: StatusPaid,
		transitions: map[Status][]Status{
			StatusCreated:   {StatusPaid, StatusFailed, StatusCancelled},
			StatusPaid:      nil,
			StatusFailed:    nil,
			StatusCancelled: nil,
		},
	},
}

// InitialStatus returns the status a new job of the given kind starts in
func InitialStatus(kind Kind) Status {
	return machines[kind].initial
}

// SuccessStatus returns the success-terminal status of the kind
func SuccessStatus(kind Kind) Status {
	return machines[kind].success
}

// ParseStatus rejects values outside the kind's closed status set
func ParseStatus(kind Kind, raw string) (Status, error) {
	m, ok := machines[kind]
	if !ok {
		return "", NewInvalidArgument("unknown job kind %q", kind)
	}
	s := Status(raw)
	if _, ok := m.transitions[s]; !ok {
		return "", NewInvalidArgument("status %q is not valid for %s jobs", raw, kind)
	}
	return s, nil
}

// IsTerminal reports whether no transition leaves status
func IsTerminal(kind Kind, status Status) bool {
	m, ok := machines[kind]
	if !ok {
		return false
	}
	next, known := m.transitions[status]
	return known && len(next) == 0
}

// CanTransition reports whether to is directly reachable from from.
// A status never transitions to itself.
func CanTransition(kind Kind, from, to Status) bool {
	m, ok := machines[kind]
	if !ok {
		return false
	}
	for _, s := range m.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
