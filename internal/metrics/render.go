package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/tastythames/hpc-jobwatch/internal/cache"
)

// RegistryStats is implemented by *connreg.Registry.
type RegistryStats interface {
	Stats() (projects, entries, storage int)
}

// SchedulerStats is implemented by *scheduler.Scheduler.
type SchedulerStats interface {
	Len() int
	Stats() (enqueued uint64, dropped uint64)
}

type Renderer struct {
	Cache     cache.Cache
	Registry  RegistryStats
	Scheduler SchedulerStats

	now func() time.Time
}

func NewRenderer(c cache.Cache, reg RegistryStats, sched SchedulerStats) *Renderer {
	return &Renderer{Cache: c, Registry: reg, Scheduler: sched, now: time.Now}
}

func header(w io.Writer, name, typ, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, typ)
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r *Renderer) Write(w io.Writer) {
	start := time.Now()
	now := start
	if r.now != nil {
		now = r.now()
	}

	header(w, MetricUp, "gauge", "1 if jobwatch is running.")
	fmt.Fprintf(w, "%s 1\n", MetricUp)

	if r.Registry != nil {
		projects, entries, storage := r.Registry.Stats()
		header(w, MetricRegistryProjects, "gauge", "Projects with registered connections.")
		fmt.Fprintf(w, "%s %d\n", MetricRegistryProjects, projects)
		header(w, MetricRegistryEntries, "gauge", "Registered remote connections.")
		fmt.Fprintf(w, "%s %d\n", MetricRegistryEntries, entries)
		header(w, MetricRegistryStorage, "gauge", "Registered storage connections.")
		fmt.Fprintf(w, "%s %d\n", MetricRegistryStorage, storage)
	}

	if r.Scheduler != nil {
		enq, drop := r.Scheduler.Stats()
		header(w, MetricSchedulerWatches, "gauge", "Watches currently scheduled.")
		fmt.Fprintf(w, "%s %d\n", MetricSchedulerWatches, r.Scheduler.Len())
		header(w, MetricSchedulerEnqueued, "counter", "Status checks handed to workers.")
		fmt.Fprintf(w, "%s %d\n", MetricSchedulerEnqueued, enq)
		header(w, MetricSchedulerDropped, "counter", "Status checks dropped because the worker queue was full.")
		fmt.Fprintf(w, "%s %d\n", MetricSchedulerDropped, drop)
	}

	header(w, MetricTaskRunning, "gauge", "1 if the last poll saw the job running.")
	header(w, MetricTaskFinished, "gauge", "1 once the job has finished.")
	header(w, MetricTaskReturnCode, "gauge", "Return code of a finished job.")
	header(w, MetricTaskAmbiguous, "gauge", "1 if the last poll could not determine the job status.")
	header(w, MetricTaskError, "gauge", "1 if the last poll failed.")
	header(w, MetricTaskPolls, "counter", "Status checks performed for the job.")
	header(w, MetricTaskAgeSeconds, "gauge", "Seconds since the last status check.")

	snap := r.Cache.Snapshot()

	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		res := snap[k]
		labels := formatLabels(res.Labels)

		fmt.Fprintf(w, "%s%s %d\n", MetricTaskRunning, labels, flag(res.State == cache.StateRunning))
		fmt.Fprintf(w, "%s%s %d\n", MetricTaskFinished, labels, flag(res.State == cache.StateFinished))
		if res.State == cache.StateFinished {
			fmt.Fprintf(w, "%s%s %d\n", MetricTaskReturnCode, labels, res.Rt)
		}
		fmt.Fprintf(w, "%s%s %d\n", MetricTaskAmbiguous, labels, flag(res.State == cache.StateUnknown))
		fmt.Fprintf(w, "%s%s %d\n", MetricTaskError, labels, flag(res.State == cache.StateError))
		fmt.Fprintf(w, "%s%s %d\n", MetricTaskPolls, labels, res.Polls)
		fmt.Fprintf(w, "%s%s %.3f\n", MetricTaskAgeSeconds, labels, now.Sub(res.At).Seconds())
	}

	header(w, MetricRenderDurationSeconds, "gauge", "Time spent rendering /metrics.")
	fmt.Fprintf(w, "%s %.6f\n", MetricRenderDurationSeconds, time.Since(start).Seconds())
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func formatLabels(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `%s="%s"`, k, labelEscaper.Replace(m[k]))
	}
	b.WriteString("}")
	return b.String()
}
