package connreg

import (
	"errors"
	"fmt"
)

var (
	ErrNotRegistered    = errors.New("ssh instance is not registered for the project")
	ErrConnectionFailed = errors.New("ssh connection failed")
	ErrProbeFailed      = errors.New("ssh connectivity check returned false")
)

const (
	msgUnknownFailure = "ssh connection failed due to unknown reason"
	controlSocketMsg  = "Control socket creation failed"
	controlSocketHint = "you can avoid this error by using JOBWATCH_SSH_CONTROL_DIR environment variable\n"
)

// NotRegisteredError is returned by lookups for an unknown (project, host) pair.
type NotRegisteredError struct {
	ProjectRootDir string
	ID             string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("%v: project=%s id=%s", ErrNotRegistered, e.ProjectRootDir, e.ID)
}

func (e *NotRegisteredError) Is(target error) bool { return target == ErrNotRegistered }

// ConnectionFailedError has a stable message for the UI layer; the transport
// error stays reachable through Unwrap for logs.
type ConnectionFailedError struct {
	Msg   string
	Cause error
}

func (e *ConnectionFailedError) Error() string { return e.Msg }

func (e *ConnectionFailedError) Unwrap() error { return e.Cause }

func (e *ConnectionFailedError) Is(target error) bool { return target == ErrConnectionFailed }
