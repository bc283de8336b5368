package scheduler

import "github.com/tastythames/hpc-jobwatch/internal/jobstatus"

// Watch is one submitted job whose status is polled until it finishes.
type Watch struct {
	ProjectRootDir string         `yaml:"projectRootDir"`
	HostID         string         `yaml:"host"`
	ClientID       string         `yaml:"clientID"` // who is asked for credentials
	Task           jobstatus.Task `yaml:"task"`

	emptyPolls int
}

func (w *Watch) Key() string {
	return w.ProjectRootDir + "|" + w.HostID + "|" + w.Task.JobID
}

func (w *Watch) Labels() map[string]string {
	return map[string]string{
		"project": w.ProjectRootDir,
		"host":    w.HostID,
		"task":    w.Task.Name,
		"job_id":  w.Task.JobID,
	}
}
