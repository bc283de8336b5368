package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tastythames/hpc-jobwatch/internal/jobstatus"
	"github.com/tastythames/hpc-jobwatch/internal/prompt"
	"github.com/tastythames/hpc-jobwatch/internal/scheduler"
)

func newStatusCmd() *cobra.Command {
	var (
		host    string
		project string
		task    jobstatus.Task
		wait    bool
	)

	cmd := &cobra.Command{
		Use:   "status JOBID",
		Short: "Check a job once, or until it finishes with --wait",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if project == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				project = wd
			}
			task.JobID = args[0]
			w := &scheduler.Watch{ProjectRootDir: project, HostID: host, Task: task}
			if err := scheduler.Validate(w); err != nil {
				return err
			}

			app, err := newCore(prompt.NewTerminal())
			if err != nil {
				return err
			}
			defer app.registry.RemoveEntry(project)

			for {
				next, done := app.poller.Poll(ctx, w)
				r, _ := app.cache.Get(w.Key())
				if r.Err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%v\n", w.Task.JobID, r.State, r.Err)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tjobStatus=%s rt=%d\n", w.Task.JobID, r.State, r.JobStatus, r.Rt)
				}
				if done || !wait {
					return r.Err
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(next):
				}
			}
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Host id from the inventory")
	cmd.Flags().StringVar(&project, "project", "", "Project root directory (default: current directory)")
	cmd.Flags().StringVar(&task.Name, "name", "", "Task name")
	cmd.Flags().StringVar(&task.Type, "type", jobstatus.TypeTask, "Task type (task or bulkjobTask)")
	cmd.Flags().StringVar(&task.WorkingDir, "working-dir", "", "Where bulkjob reports are written")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Keep polling until the job finishes")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}
