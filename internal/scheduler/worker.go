package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tastythames/hpc-jobwatch/internal/cache"
	"github.com/tastythames/hpc-jobwatch/internal/connreg"
	"github.com/tastythames/hpc-jobwatch/internal/dialect"
	"github.com/tastythames/hpc-jobwatch/internal/hostinfo"
	"github.com/tastythames/hpc-jobwatch/internal/inventory"
	"github.com/tastythames/hpc-jobwatch/internal/jobstatus"
)

const (
	defaultInterval = 10 * time.Second
	webAPIDialect   = "webAPI"
)

// HostLookup resolves a host id from the inventory.
type HostLookup interface {
	Host(id string) (*inventory.Host, bool)
}

// Connector hands out remote connections; *connreg.Registry implements it.
type Connector interface {
	CreateConnection(ctx context.Context, projectRootDir, remoteHostName string, hi *hostinfo.HostInfo, clientID string, isStorage bool) (connreg.Conn, error)
	RemoveEntry(projectRootDir string)
}

// Guard serializes result writes with watch removal; *Scheduler implements it.
type Guard interface {
	// Locked runs fn while key is registered and reports whether it ran.
	Locked(key string, fn func()) bool
	HasProject(projectRootDir string) bool
}

// Poller performs one status check of one watch.
type Poller struct {
	Conns    Connector
	Hosts    HostLookup
	Dialects *dialect.Set
	Engine   *jobstatus.Engine
	Cache    cache.Cache
	Local    Runner

	// Guard is optional; without it every result is written.
	Guard Guard

	// OnFinish is called once per watch with the final return code.
	OnFinish func(w *Watch, rt int)

	Log zerolog.Logger
}

// outcome is the result of one status check before it is published.
type outcome struct {
	state    cache.State
	err      error
	next     time.Duration
	done     bool
	rt       int
	finished bool
	remote   bool
}

func (p *Poller) live(key string) bool {
	return p.Guard == nil || p.Guard.Locked(key, func() {})
}

func (p *Poller) publish(w *Watch, o outcome) bool {
	key := w.Key()
	write := func() {
		prev, _ := p.Cache.Get(key)
		p.Cache.Set(key, cache.Result{
			At:        time.Now(),
			Labels:    w.Labels(),
			State:     o.state,
			JobStatus: w.Task.JobStatus,
			Rt:        w.Task.Rt,
			Polls:     prev.Polls + 1,
			Err:       o.err,
		})
	}
	if p.Guard == nil {
		write()
		return true
	}
	return p.Guard.Locked(key, write)
}

func (p *Poller) dialect(h *inventory.Host) (*dialect.Dialect, error) {
	name := h.JobScheduler
	if name == "" && h.UseWebAPI {
		name = webAPIDialect
	}
	if name == "" {
		return nil, fmt.Errorf("host %s has no jobScheduler", h.ID)
	}
	return p.Dialects.Get(name)
}

func (p *Poller) runner(ctx context.Context, w *Watch, h *inventory.Host, local bool) (Runner, error) {
	if local {
		return p.Local, nil
	}
	return p.Conns.CreateConnection(ctx, w.ProjectRootDir, h.Label(), &h.HostInfo, w.ClientID, h.Storage)
}

// Poll checks w once. It returns when to poll again and whether the watch is
// done. A watch removed while it was being checked leaves no result behind,
// and a connection opened for a project that has been closed meanwhile is
// released again.
func (p *Poller) Poll(ctx context.Context, w *Watch) (time.Duration, bool) {
	if !p.live(w.Key()) {
		return 0, true
	}
	o := p.check(ctx, w)

	if !p.publish(w, o) {
		p.Log.Debug().Str("key", w.Key()).Msg("watch removed during status check")
		if o.remote && p.Guard != nil && !p.Guard.HasProject(w.ProjectRootDir) {
			p.Conns.RemoveEntry(w.ProjectRootDir)
		}
		return 0, true
	}
	if o.finished && p.OnFinish != nil {
		p.OnFinish(w, o.rt)
	}
	return o.next, o.done
}

func (p *Poller) check(ctx context.Context, w *Watch) outcome {
	log := p.Log.With().Str("project", w.ProjectRootDir).Str("host", w.HostID).Str("jobID", w.Task.JobID).Logger()
	drop := func(err error) outcome {
		log.Error().Err(err).Msg("dropping watch")
		return outcome{state: cache.StateError, err: err, done: true}
	}

	h, ok := p.Hosts.Host(w.HostID)
	if !ok {
		return drop(fmt.Errorf("unknown host %q", w.HostID))
	}
	d, err := p.dialect(h)
	if err != nil {
		return drop(err)
	}
	req, err := jobstatus.BuildRequest(&h.HostInfo, &w.Task, d)
	if err != nil {
		return drop(err)
	}
	interval := req.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	local := req.HostInfo.IsLocal()
	again := func(state cache.State, err error) outcome {
		return outcome{state: state, err: err, next: interval, remote: !local}
	}

	run, err := p.runner(ctx, w, h, local)
	if err != nil {
		log.Warn().Err(err).Msg("no connection for status check")
		return again(cache.StateError, err)
	}

	out, rc, err := run.Exec(ctx, req.Command())
	if err != nil {
		log.Warn().Err(err).Msg("status check failed")
		return again(cache.StateError, err)
	}

	if strings.TrimSpace(out) == "" {
		w.emptyPolls++
		if w.emptyPolls <= req.NumAllowFirstFewEmptyOutput {
			log.Debug().Int("empty", w.emptyPolls).Msg("empty status output tolerated")
			return again(cache.StateRunning, nil)
		}
		if !req.AllowEmptyOutput {
			log.Warn().Msg("status check returned empty output")
			return again(cache.StateUnknown, nil)
		}
	} else {
		running, err := req.Running(out)
		if err != nil {
			log.Warn().Err(err).Msg("bad running pattern")
			return again(cache.StateUnknown, err)
		}
		if running {
			return again(cache.StateRunning, nil)
		}
	}

	if hook := req.Hook(); hook != nil {
		hookRun := run
		if req.FinishedLocalHook != nil {
			hookRun = p.Local
		}
		out, rc, err = hookRun.Exec(ctx, hook.Command())
		if err != nil {
			log.Warn().Err(err).Msg("post-finish status command failed")
			return again(cache.StateError, err)
		}
	}

	rt := p.Engine.InterpretStatus(ctx, d, &w.Task, rc, out)
	if rt == jobstatus.Unknown {
		return again(cache.StateUnknown, nil)
	}

	log.Info().Int("rt", rt).Str("jobStatus", w.Task.JobStatus).Msg("job finished")
	return outcome{state: cache.StateFinished, done: true, rt: rt, finished: true, remote: !local}
}

func StartWorker(ctx context.Context, id int, jobs <-chan *Watch, s *Scheduler, p *Poller) {
	p.Log.Debug().Int("worker", id).Msg("worker started")

	for w := range jobs {
		next, finished := p.Poll(ctx, w)
		s.Done(w.Key(), next, finished)
	}
}
