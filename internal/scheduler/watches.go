package scheduler

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tastythames/hpc-jobwatch/internal/jobstatus"
)

type watchFile struct {
	Watches []*Watch `yaml:"watches"`
}

// LoadWatches reads jobs to poll at startup.
func LoadWatches(path string) ([]*Watch, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watches: %w", err)
	}
	var f watchFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	for i, w := range f.Watches {
		if err := Validate(w); err != nil {
			return nil, fmt.Errorf("watch #%d: %w", i, err)
		}
	}
	return f.Watches, nil
}

// Validate checks required fields and defaults the task type.
func Validate(w *Watch) error {
	if w.ProjectRootDir == "" || w.HostID == "" || w.Task.JobID == "" {
		return fmt.Errorf("projectRootDir, host and task.jobID are required")
	}
	switch w.Task.Type {
	case "":
		w.Task.Type = jobstatus.TypeTask
	case jobstatus.TypeTask, jobstatus.TypeBulkjobTask:
	default:
		return fmt.Errorf("unknown task type %q", w.Task.Type)
	}
	if w.Task.ProjectRootDir == "" {
		w.Task.ProjectRootDir = w.ProjectRootDir
	}
	return nil
}
