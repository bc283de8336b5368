package jobstatus

import (
	"regexp"
	"time"

	"github.com/tastythames/hpc-jobwatch/internal/hostinfo"
)

const (
	TypeTask        = "task"
	TypeBulkjobTask = "bulkjobTask"
)

// Unknown is returned when the state of a job could not be determined this
// round. Callers poll again; it is never a terminal failure.
const Unknown = -2

// stepjobCanceled is the return code a stepjob reports when it was skipped
// because an upstream step failed.
const stepjobCanceled = "6"

const numAllowFirstFewEmptyOutput = 3

// Task is the part of a task component the status engine reads and writes.
// JobStatus and Rt are only set in memory; persisting them is up to the caller.
type Task struct {
	Name           string `yaml:"name"`
	JobID          string `yaml:"jobID"`
	Type           string `yaml:"type"`
	ProjectRootDir string `yaml:"projectRootDir"`
	WorkingDir     string `yaml:"workingDir"`

	JobStatus string `yaml:"jobStatus,omitempty"`
	Rt        int    `yaml:"rt"`
}

func (t *Task) IsBulk() bool { return t.Type == TypeBulkjobTask }

// Hook is a secondary command run once the job is no longer running.
type Hook struct {
	Cmd          string
	WithArgument bool
	Arg          string
}

func (h *Hook) Command() string {
	if h.WithArgument && h.Arg != "" {
		return h.Cmd + " " + h.Arg
	}
	return h.Cmd
}

// Request describes one polling invocation.
type Request struct {
	Cmd             string
	Arg             string
	WithoutArgument bool
	HostInfo        *hostinfo.HostInfo

	Re        string // matches while the job is still running
	Delimiter string

	Interval                    time.Duration
	NumAllowFirstFewEmptyOutput int
	AllowEmptyOutput            bool

	FinishedHook      *Hook // run on HostInfo
	FinishedLocalHook *Hook // run by the local shell
}

// Command is the full command line of the polling probe.
func (r *Request) Command() string {
	if r.WithoutArgument || r.Arg == "" {
		return r.Cmd
	}
	return r.Cmd + " " + r.Arg
}

// Hook returns whichever post-finish hook is set.
func (r *Request) Hook() *Hook {
	if r.FinishedLocalHook != nil {
		return r.FinishedLocalHook
	}
	return r.FinishedHook
}

// Running reports whether output still matches the running pattern.
func (r *Request) Running(output string) (bool, error) {
	if r.Re == "" {
		return false, nil
	}
	re, err := regexp.Compile("(?m)" + r.Re)
	if err != nil {
		return false, err
	}
	return re.MatchString(output), nil
}
