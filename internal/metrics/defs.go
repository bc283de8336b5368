package metrics

const (
	// process health
	MetricUp = "jobwatch_up"

	// per task
	MetricTaskRunning    = "jobwatch_task_running"
	MetricTaskFinished   = "jobwatch_task_finished"
	MetricTaskReturnCode = "jobwatch_task_return_code"
	MetricTaskAmbiguous  = "jobwatch_task_poll_ambiguous"
	MetricTaskError      = "jobwatch_task_error"
	MetricTaskPolls      = "jobwatch_task_polls_total"
	MetricTaskAgeSeconds = "jobwatch_task_last_poll_age_seconds"

	// connection registry
	MetricRegistryProjects = "jobwatch_registry_projects"
	MetricRegistryEntries  = "jobwatch_registry_entries"
	MetricRegistryStorage  = "jobwatch_registry_storage_entries"

	// scheduler
	MetricSchedulerWatches  = "jobwatch_scheduler_watches"
	MetricSchedulerEnqueued = "jobwatch_scheduler_enqueued_total"
	MetricSchedulerDropped  = "jobwatch_scheduler_dropped_total"

	MetricRenderDurationSeconds = "jobwatch_render_duration_seconds"
)
