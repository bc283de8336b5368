// Package connreg owns the SSH connections opened on behalf of each project.
package connreg

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tastythames/hpc-jobwatch/internal/hostinfo"
	"github.com/tastythames/hpc-jobwatch/internal/prompt"
)

const defaultRCFile = "/etc/profile"

// Conn is the transport contract: probe, run, disconnect.
type Conn interface {
	CanConnect(ctx context.Context) (bool, error)
	Exec(ctx context.Context, cmd string) (string, int, error)
	Disconnect() error
}

// Dialer builds an unconnected Conn from normalized host parameters.
type Dialer func(hi *hostinfo.HostInfo) (Conn, error)

// Entry is one authenticated session bound to one (project, host) pair.
type Entry struct {
	Conn       Conn
	HostInfo   *hostinfo.HostInfo
	Password   hostinfo.Credential
	Passphrase hostinfo.Credential
	IsStorage  bool
}

type key struct {
	project string
	hostID  string
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Options configure a Registry.
type Options struct {
	Dial    Dialer
	Prompt  prompt.Channel
	Verbose bool
	Logger  zerolog.Logger
}

// Registry maps projectRootDir -> hostID -> Entry. It is the only writer of
// that map.
type Registry struct {
	dial    Dialer
	ask     prompt.Channel
	verbose bool
	log     zerolog.Logger

	mu sync.Mutex
	db map[string]map[string]*Entry

	locksMu sync.Mutex
	locks   map[key]*keyLock
}

func New(opts Options) *Registry {
	return &Registry{
		dial:    opts.Dial,
		ask:     opts.Prompt,
		verbose: opts.Verbose,
		log:     opts.Logger.With().Str("component", "connreg").Logger(),
		db:      map[string]map[string]*Entry{},
		locks:   map[key]*keyLock{},
	}
}

func (r *Registry) lock(k key) func() {
	r.locksMu.Lock()
	l, ok := r.locks[k]
	if !ok {
		l = &keyLock{}
		r.locks[k] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, k)
		}
		r.locksMu.Unlock()
	}
}

func (r *Registry) entry(projectRootDir, id string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.db[projectRootDir][id]; ok {
		return e, nil
	}
	return nil, &NotRegisteredError{ProjectRootDir: projectRootDir, ID: id}
}

// HasEntry reports whether a connection is registered for the exact pair.
func (r *Registry) HasEntry(projectRootDir, id string) bool {
	_, err := r.entry(projectRootDir, id)
	return err == nil
}

// AddEntry registers conn under hi.ID. A different connection already stored
// under the same key is disconnected before it is replaced.
func (r *Registry) AddEntry(projectRootDir string, hi *hostinfo.HostInfo, conn Conn, password, passphrase hostinfo.Credential, isStorage bool) {
	r.mu.Lock()
	m, ok := r.db[projectRootDir]
	if !ok {
		m = map[string]*Entry{}
		r.db[projectRootDir] = m
	}
	old := m[hi.ID]
	m[hi.ID] = &Entry{
		Conn:       conn,
		HostInfo:   hi,
		Password:   password,
		Passphrase: passphrase,
		IsStorage:  isStorage,
	}
	r.mu.Unlock()

	if old != nil && old.Conn != conn {
		r.log.Debug().Str("project", projectRootDir).Str("host", hi.ID).Msg("replacing registered connection")
		if err := old.Conn.Disconnect(); err != nil {
			r.log.Warn().Err(err).Str("host", hi.ID).Msg("disconnect of replaced connection failed")
		}
	}
}

func (r *Registry) GetConnection(projectRootDir, id string) (Conn, error) {
	e, err := r.entry(projectRootDir, id)
	if err != nil {
		return nil, err
	}
	return e.Conn, nil
}

func (r *Registry) GetHostinfo(projectRootDir, id string) (*hostinfo.HostInfo, error) {
	e, err := r.entry(projectRootDir, id)
	if err != nil {
		return nil, err
	}
	return e.HostInfo, nil
}

// GetPassword returns the stored credential; callers match on its Kind.
func (r *Registry) GetPassword(projectRootDir, id string) (hostinfo.Credential, error) {
	e, err := r.entry(projectRootDir, id)
	if err != nil {
		return hostinfo.Credential{}, err
	}
	return e.Password, nil
}

func (r *Registry) GetPassphrase(projectRootDir, id string) (hostinfo.Credential, error) {
	e, err := r.entry(projectRootDir, id)
	if err != nil {
		return hostinfo.Credential{}, err
	}
	return e.Passphrase, nil
}

// RemoveEntry disconnects every non-storage connection of the project. The
// project map is cleared only when no storage entry remains in it.
func (r *Registry) RemoveEntry(projectRootDir string) {
	r.mu.Lock()
	m, ok := r.db[projectRootDir]
	if !ok {
		r.mu.Unlock()
		return
	}
	var targets []*Entry
	hasStorage := false
	for _, e := range m {
		if e.IsStorage {
			hasStorage = true
			continue
		}
		targets = append(targets, e)
	}
	if !hasStorage {
		delete(r.db, projectRootDir)
	}
	r.mu.Unlock()

	for _, e := range targets {
		if err := e.Conn.Disconnect(); err != nil {
			r.log.Warn().Err(err).Str("project", projectRootDir).Str("host", e.HostInfo.ID).Msg("disconnect failed")
		}
	}
}

// Size returns the number of entries registered for the project.
func (r *Registry) Size(projectRootDir string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.db[projectRootDir])
}

// Stats counts projects and entries for metrics.
func (r *Registry) Stats() (projects, entries, storage int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.db {
		projects++
		for _, e := range m {
			entries++
			if e.IsStorage {
				storage++
			}
		}
	}
	return projects, entries, storage
}

// CreateConnection returns the registered connection for (project, hi.ID) or
// opens, probes and registers a new one. Calls for the same key are
// serialized so only one probe runs.
func (r *Registry) CreateConnection(ctx context.Context, projectRootDir, remoteHostName string, hi *hostinfo.HostInfo, clientID string, isStorage bool) (Conn, error) {
	unlock := r.lock(key{projectRootDir, hi.ID})
	defer unlock()

	if e, err := r.entry(projectRootDir, hi.ID); err == nil {
		return e.Conn, nil
	}

	hi = r.normalize(hi, remoteHostName, clientID)
	log := r.log.With().Str("project", projectRootDir).Str("host", hi.ID).Logger()

	conn, err := r.dial(hi)
	if err != nil {
		log.Error().Err(err).Msg("ssh session setup failed")
		return nil, translate(err)
	}

	ok, err := conn.CanConnect(ctx)
	if err != nil {
		log.Error().Err(err).Msg("ssh connectivity check failed")
		_ = conn.Disconnect()
		return nil, translate(err)
	}
	if !ok {
		_ = conn.Disconnect()
		return nil, ErrProbeFailed
	}

	r.AddEntry(projectRootDir, hi, conn, hi.Password, hi.Passphrase, isStorage)
	log.Debug().Bool("storage", isStorage).Msg("ssh connection registered")
	return conn, nil
}

func translate(err error) error {
	if errors.Is(err, prompt.ErrCanceled) {
		return err
	}
	if strings.Contains(err.Error(), controlSocketMsg) {
		return &ConnectionFailedError{Msg: err.Error() + "\n" + controlSocketHint, Cause: err}
	}
	return &ConnectionFailedError{Msg: msgUnknownFailure, Cause: err}
}

// normalize returns a copy of hi with credentials, timeouts and field names
// in the shape the transport expects.
func (r *Registry) normalize(hi *hostinfo.HostInfo, remoteHostName, clientID string) *hostinfo.HostInfo {
	hi = hi.Clone()

	if _, ok := hi.Password.Literal(); !ok {
		hi.Password = hostinfo.FromProvider(r.memoPrompt(hi.Password, clientID, "password", remoteHostName))
	}
	if _, ok := hi.Passphrase.Literal(); !ok {
		hi.Passphrase = hostinfo.FromProvider(r.memoPrompt(hi.Passphrase, clientID, "passphrase", remoteHostName))
	}

	if hi.RenewInterval > 0 {
		hi.ControlPersist = time.Duration(hi.RenewInterval*60) * time.Second
	}
	if hi.ReadyTimeout > 0 {
		secs := hi.ReadyTimeout / 1000
		if secs < 1 {
			secs = 1
		}
		hi.ConnectTimeout = time.Duration(secs) * time.Second
	}
	if r.verbose {
		hi.Verbose = true
	}
	if hi.Username != "" {
		hi.User = hi.Username
		hi.Username = ""
	}
	if hi.RCFile == "" {
		hi.RCFile = defaultRCFile
	}
	return hi
}

// memoPrompt wraps the existing provider, or a user prompt when there is
// none, so that a successful answer is reused for this hostinfo copy.
func (r *Registry) memoPrompt(c hostinfo.Credential, clientID, label, hostname string) hostinfo.Provider {
	src, ok := c.Provider()
	if !ok {
		src = func(ctx context.Context) (string, error) {
			if r.ask == nil {
				return "", hostinfo.ErrNoCredential
			}
			return prompt.AskPassword(ctx, r.ask, clientID, label, hostname)
		}
	}

	var (
		mu     sync.Mutex
		done   bool
		secret string
	)
	return func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return secret, nil
		}
		v, err := src(ctx)
		if err != nil {
			return "", err
		}
		secret, done = v, true
		return secret, nil
	}
}
