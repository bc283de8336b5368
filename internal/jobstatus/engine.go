// Package jobstatus builds scheduler polling requests and turns scheduler
// output into a normalized job status and return code.
package jobstatus

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tastythames/hpc-jobwatch/internal/dialect"
)

// BulkSink persists the per-subjob report of a bulk job.
type BulkSink interface {
	WriteBulkStatus(ctx context.Context, projectRootDir string, task *Task, output string, statusList, rtList []string) error
}

// Engine interprets status output. It never fails on malformed scheduler
// text; it degrades to Unknown or to the bulk failure code instead.
type Engine struct {
	log  zerolog.Logger
	sink BulkSink
}

func NewEngine(log zerolog.Logger, sink BulkSink) *Engine {
	return &Engine{
		log:  log.With().Str("component", "jobstatus").Logger(),
		sink: sink,
	}
}

// InterpretStatus returns the job's return code and sets task.JobStatus and
// task.Rt as a side effect.
func (e *Engine) InterpretStatus(ctx context.Context, d *dialect.Dialect, task *Task, pollExitCode int, output string) int {
	log := e.log.With().Str("jobID", task.JobID).Str("task", task.Name).Logger()

	if !d.Acceptable(pollExitCode) {
		log.Warn().Int("rc", pollExitCode).Ints("acceptable", d.AcceptableRt).Msg("status check failed")
		return Unknown
	}
	if pollExitCode != 0 {
		log.Warn().Int("rc", pollExitCode).Msg("it may fail to get job script's return code. so it is overwritten by 0")
		return 0
	}

	if task.IsBulk() {
		return e.interpretBulk(ctx, log, d, task, output)
	}

	if status, ok := capture(d.ReJobStatus, task.JobID, output); ok {
		task.JobStatus = status
	} else {
		log.Warn().Msg("get job status code failed, code is overwritten by -2")
		task.JobStatus = strconv.Itoa(Unknown)
	}

	strRt, ok := capture(d.ReReturnCode, task.JobID, output)
	if !ok {
		log.Warn().Msg("get return code failed, code is overwritten by -2")
		return Unknown
	}
	if strRt == stepjobCanceled {
		log.Debug().Msg("stepjob was canceled by a failed dependency, return code is overwritten by 0")
		task.Rt = 0
		return 0
	}
	rt, err := strconv.Atoi(strings.TrimSpace(strRt))
	if err != nil {
		log.Warn().Str("rt", strRt).Msg("return code is not a number, code is overwritten by -2")
		return Unknown
	}
	task.Rt = rt
	return rt
}

func (e *Engine) interpretBulk(ctx context.Context, log zerolog.Logger, d *dialect.Dialect, task *Task, output string) int {
	status, statusList := aggregate(d.ReSubJobStatus, task.JobID, output)
	rt, rtList := aggregate(d.ReSubReturnCode, task.JobID, output)

	if e.sink != nil {
		if err := e.sink.WriteBulkStatus(ctx, task.ProjectRootDir, task, output, statusList, rtList); err != nil {
			log.Warn().Err(err).Msg("write bulkjob status file failed")
		}
	}

	log.Debug().Int("status", status).Str("subjobs", strings.Join(statusList, ",")).Msg("bulkjob status")
	log.Debug().Int("rt", rt).Str("subjobs", strings.Join(rtList, ",")).Msg("bulkjob return code")

	task.JobStatus = strconv.Itoa(status)
	task.Rt = rt
	return rt
}

// capture returns group 1 of the first match.
func capture(pattern, jobID, output string) (string, bool) {
	if pattern == "" {
		return "", false
	}
	re, err := dialect.Compile(pattern, jobID)
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(output)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// aggregate collects group 1 of every match. The aggregate is 0 when at
// least one sub-job captured "0", and 1 otherwise, including when nothing
// matched.
func aggregate(pattern, jobID, output string) (int, []string) {
	if pattern == "" {
		return 1, nil
	}
	re, err := dialect.Compile(pattern, jobID)
	if err != nil {
		return 1, nil
	}
	var list []string
	for _, m := range re.FindAllStringSubmatch(output, -1) {
		if len(m) < 2 {
			continue
		}
		list = append(list, m[1])
	}
	for _, v := range list {
		if v == "0" {
			return 0, list
		}
	}
	return 1, list
}
