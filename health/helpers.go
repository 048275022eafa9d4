package health

import (
	"fmt"
	"time"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// FromError creates an unhealthy status whose message is the sanitized error.
func FromError(component string, err error) Status {
	return NewUnhealthy(component, Sanitize(err))
}

// Aggregate combines sub-statuses. Any unhealthy part makes the aggregate
// unhealthy; otherwise any degraded part makes it degraded.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "no checks registered")
	}

	unhealthy, degraded := 0, 0
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	var status Status
	switch {
	case unhealthy > 0:
		status = NewUnhealthy(component, fmt.Sprintf("%d of %d checks unhealthy", unhealthy, len(subStatuses)))
	case degraded > 0:
		status = NewDegraded(component, fmt.Sprintf("%d of %d checks degraded", degraded, len(subStatuses)))
	default:
		status = NewHealthy(component, "all checks healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}
