// Package bulkstatus writes the per-subjob report of a finished bulk job.
package bulkstatus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tastythames/hpc-jobwatch/internal/jobstatus"
)

const FileName = "subjob_status.yaml"

type SubJob struct {
	Index     int    `yaml:"index"`
	JobStatus string `yaml:"jobStatus,omitempty"`
	Rt        string `yaml:"rt,omitempty"`
}

type Report struct {
	JobID     string    `yaml:"jobID"`
	Task      string    `yaml:"task,omitempty"`
	CheckedAt time.Time `yaml:"checkedAt"`
	SubJobs   []SubJob  `yaml:"subjobs"`
	Output    string    `yaml:"output"`
}

// FileSink writes the report next to the task's files. Tasks without a
// working directory are written under <projectRootDir>/<jobID>.
type FileSink struct {
	now func() time.Time
}

func NewFileSink() *FileSink {
	return &FileSink{now: time.Now}
}

func (s *FileSink) WriteBulkStatus(_ context.Context, projectRootDir string, task *jobstatus.Task, output string, statusList, rtList []string) error {
	dir := task.WorkingDir
	if dir == "" {
		dir = filepath.Join(projectRootDir, task.JobID)
	}

	b, err := yaml.Marshal(NewReport(task, output, statusList, rtList, s.now()))
	if err != nil {
		return fmt.Errorf("marshal bulk status: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create bulk status dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write bulk status: %w", err)
	}
	return os.Rename(tmp, path)
}

// NewReport pairs the two lists by index; the shorter one leaves blanks.
func NewReport(task *jobstatus.Task, output string, statusList, rtList []string, at time.Time) Report {
	n := len(statusList)
	if len(rtList) > n {
		n = len(rtList)
	}
	subs := make([]SubJob, n)
	for i := range subs {
		subs[i].Index = i
		if i < len(statusList) {
			subs[i].JobStatus = statusList[i]
		}
		if i < len(rtList) {
			subs[i].Rt = rtList[i]
		}
	}
	return Report{
		JobID:     task.JobID,
		Task:      task.Name,
		CheckedAt: at,
		SubJobs:   subs,
		Output:    output,
	}
}

// Read loads a report written by FileSink.
func Read(dir string) (*Report, error) {
	b, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	var r Report
	if err := yaml.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	return &r, nil
}
