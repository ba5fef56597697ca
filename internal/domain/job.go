package domain

import "time"

// Kind tags the two job variants tracked by this service
type Kind string

const (
	KindTransformation Kind = "transformation"
	KindPaymentOrder   Kind = "payment_order"
)

// Valid reports whether k is a known job kind
func (k Kind) Valid() bool {
	return k == KindTransformation || k == KindPaymentOrder
}

// ParseKind converts a raw string to a Kind
func ParseKind(raw string) (Kind, error) {
	k := Kind(raw)
	if !k.Valid() {
		return "", NewInvalidArgument("unknown job kind %q", raw)
	}
	return k, nil
}

// Metadata holds provider-specific notes. Values are strings or numbers.
type Metadata map[string]any

// Job is a unit of externally delegated asynchronous work
type Job struct {
	ID            string
	OwnerID       string
	Kind          Kind
	CorrelationID string // empty until the provider accepts the request
	Status        Status
	InputRef      string
	ResultRef     string // set only in the kind's success status
	FailureReason string
	Metadata      Metadata
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsTerminal reports whether the job reached an absorbing status
func (j *Job) IsTerminal() bool {
	return IsTerminal(j.Kind, j.Status)
}

// NewJob is the input for creating a job record
type NewJob struct {
	Kind     Kind
	OwnerID  string
	InputRef string
	Metadata Metadata
}
