package domain

import "fmt"

// Status is the lifecycle state of a payment transaction. Values are always
// lowercase; the database enforces the same set with a CHECK constraint.
type Status string

const (
	StatusPending   Status = "pending"
	StatusVerified  Status = "verified"
	StatusSubmitted Status = "submitted"
	StatusRejected  Status = "rejected"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusVerified, StatusRejected},
	StatusVerified: {StatusSubmitted},
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusSubmitted, StatusRejected:
		return true
	}
	return false
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseStatus accepts only the canonical lowercase spelling.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown transaction status %q", raw)
	}
	return s, nil
}
