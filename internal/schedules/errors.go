package schedules

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceNotFound covers a missing schedule, participation or location.
	ErrResourceNotFound = errors.New("schedules: resource not found")
	// ErrUnauthorized means the caller lacks the participation or ownership the operation needs.
	ErrUnauthorized = errors.New("schedules: unauthorized")
	// ErrScheduleClosed is returned when joining a closed schedule.
	ErrScheduleClosed = errors.New("schedules: schedule closed")
	// ErrLeaderHasMembers is returned when a leader leaves while other members are still joined.
	ErrLeaderHasMembers = errors.New("schedules: leader cannot leave joined members behind")
	// ErrInvalidSchedule reports an unusable ScheduleRequest.
	ErrInvalidSchedule = errors.New("schedules: invalid schedule")

	errMissingDatabase = errors.New("database handle is required")
)

const (
	opServiceNew        = "schedules.service.new"
	opCreate            = "schedules.create"
	opGet               = "schedules.get"
	opList              = "schedules.list"
	opJoin              = "schedules.join"
	opLeave             = "schedules.leave"
	opSetStartLocation  = "schedules.set_start_location"
	opClose             = "schedules.close"
	opIsParticipant     = "schedules.is_participant"
	reasonNotFound      = "schedule_not_found"
	reasonNotMember     = "not_a_member"
	reasonSelectFailed  = "select_failed"
	reasonPersistFailed = "persist_failed"
)

// ServiceError carries a stable code of the form <operation>.<reason>.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: operation + "." + reason, err: cause}
}
