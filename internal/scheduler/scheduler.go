package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type watchState struct {
	w    *Watch
	next time.Time
	busy bool
}

type Scheduler struct {
	tick   time.Duration
	jitter time.Duration
	log    zerolog.Logger

	jobCh chan *Watch

	mu      sync.Mutex
	watches map[string]*watchState

	// stats (atomic) for observability
	enqueued uint64
	dropped  uint64
}

type Options struct {
	Tick   time.Duration
	Jitter time.Duration
	JobCh  chan *Watch
	Logger zerolog.Logger
}

// NewScheduler creates a scheduler that enqueues due watches into JobCh.
// - Tick: how often due times are checked
// - Jitter: random delay added each cycle (0..Jitter) to reduce herd effects
func NewScheduler(opts Options) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	return &Scheduler{
		tick:    opts.Tick,
		jitter:  opts.Jitter,
		log:     opts.Logger.With().Str("component", "scheduler").Logger(),
		jobCh:   opts.JobCh,
		watches: map[string]*watchState{},
	}
}

// Add registers w; it is polled on the next tick. A watch with the same key
// is replaced.
func (s *Scheduler) Add(w *Watch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watches[w.Key()] = &watchState{w: w}
}

func (s *Scheduler) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watches, key)
}

// RemoveProject drops every watch of the project and returns their keys.
func (s *Scheduler) RemoveProject(projectRootDir string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k, st := range s.watches {
		if st.w.ProjectRootDir == projectRootDir {
			keys = append(keys, k)
			delete(s.watches, k)
		}
	}
	return keys
}

// Locked runs fn under the scheduler lock if key is still registered, so a
// concurrent RemoveProject either happens before fn or waits for it.
func (s *Scheduler) Locked(key string, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watches[key]; !ok {
		return false
	}
	fn()
	return true
}

func (s *Scheduler) HasProject(projectRootDir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.watches {
		if st.w.ProjectRootDir == projectRootDir {
			return true
		}
	}
	return false
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

// Done is called by a worker after polling. A finished watch is dropped,
// otherwise it becomes due again after next.
func (s *Scheduler) Done(key string, next time.Duration, finished bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.watches[key]
	if !ok {
		return
	}
	if finished {
		delete(s.watches, key)
		return
	}
	st.busy = false
	st.next = time.Now().Add(next)
}

func (s *Scheduler) Run(ctx context.Context) {
	// Kick once immediately
	s.enqueueDue(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// add jitter (optional)
			if s.jitter > 0 {
				delay := time.Duration(rand.Int63n(int64(s.jitter)))
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			s.enqueueDue(ctx)
		}
	}
}

// enqueueDue pushes due, idle watches into jobCh.
// IMPORTANT: This is non-blocking; if jobCh is full, we drop and count it.
// A dropped watch stays due and is retried on the next tick.
func (s *Scheduler) enqueueDue(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.watches {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if st.busy || now.Before(st.next) {
			continue
		}

		select {
		case s.jobCh <- st.w:
			st.busy = true
			atomic.AddUint64(&s.enqueued, 1)
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
	}

	if d := atomic.LoadUint64(&s.dropped); d > 0 {
		s.log.Debug().Uint64("dropped", d).Msg("job queue full")
	}
}

func (s *Scheduler) Stats() (enqueued uint64, dropped uint64) {
	return atomic.LoadUint64(&s.enqueued), atomic.LoadUint64(&s.dropped)
}
