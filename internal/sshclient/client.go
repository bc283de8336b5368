package sshclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/tastythames/hpc-jobwatch/internal/hostinfo"
)

// Options are process-level defaults for fields a host entry leaves unset.
type Options struct {
	Port       int
	Timeout    time.Duration
	ControlDir string
	Logger     zerolog.Logger
}

// Session is a persistent SSH client to one host. The underlying connection
// is dialed lazily, closed after ControlPersist of inactivity and redialed on
// the next command.
type Session struct {
	hi   *hostinfo.HostInfo
	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	client   *ssh.Client
	idle     *time.Timer
	inflight int
}

func New(hi *hostinfo.HostInfo, opts Options) (*Session, error) {
	if hi == nil || hi.Host == "" {
		return nil, fmt.Errorf("ssh host is empty")
	}
	if hi.User == "" {
		return nil, fmt.Errorf("ssh user is empty for %s", hi.Host)
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	log := opts.Logger.With().Str("host", hi.Host).Str("user", hi.User).Logger()
	if hi.Verbose {
		log = log.Level(zerolog.TraceLevel)
	}
	return &Session{hi: hi, opts: opts, log: log}, nil
}

func (s *Session) addr() string {
	port := s.hi.Port
	if port == 0 {
		port = s.opts.Port
	}
	return net.JoinHostPort(s.hi.Host, strconv.Itoa(port))
}

func (s *Session) timeout() time.Duration {
	if s.hi.ConnectTimeout > 0 {
		return s.hi.ConnectTimeout
	}
	return s.opts.Timeout
}

func (s *Session) authMethods(ctx context.Context) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if s.hi.KeyFile != "" {
		methods = append(methods, ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			signer, err := s.loadKey(ctx)
			if err != nil {
				s.log.Debug().Err(err).Str("key", s.hi.KeyFile).Msg("public key unavailable")
				return nil, err
			}
			return []ssh.Signer{signer}, nil
		}))
	}

	if s.hi.Password.Kind() != hostinfo.CredentialNone {
		password := func() (string, error) {
			s.log.Trace().Msg("password requested by server")
			return s.hi.Password.Resolve(ctx)
		}
		methods = append(methods,
			ssh.PasswordCallback(password),
			ssh.KeyboardInteractive(func(_user, _instruction string, questions []string, _echos []bool) ([]string, error) {
				if len(questions) == 0 {
					return nil, nil
				}
				pw, err := password()
				if err != nil {
					return nil, err
				}
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = pw
				}
				return answers, nil
			}),
		)
	}
	return methods
}

func (s *Session) loadKey(ctx context.Context) (ssh.Signer, error) {
	b, err := os.ReadFile(expandHome(s.hi.KeyFile))
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(b)
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return signer, err
	}

	s.log.Trace().Msg("private key is encrypted, requesting passphrase")
	pass, err := s.hi.Passphrase.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKeyWithPassphrase(b, []byte(pass))
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// dial must be called with s.mu held.
func (s *Session) dial(ctx context.Context) (*ssh.Client, error) {
	hk, err := hostKeyCallback(s.opts.ControlDir)
	if err != nil {
		return nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            s.hi.User,
		HostKeyCallback: hk,
		Timeout:         s.timeout(),
		Auth:            s.authMethods(ctx),
	}

	addr := s.addr()
	s.log.Trace().Str("addr", addr).Dur("timeout", sshCfg.Timeout).Msg("dialing")

	// Dial with context so it won't hang forever.
	dialer := net.Dialer{Timeout: sshCfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// The handshake can still hang without deadlines.
	deadline := time.Now().Add(sshCfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	cconn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	s.log.Debug().Str("addr", addr).Msg("connected")
	return ssh.NewClient(cconn, chans, reqs), nil
}

// acquire returns a live client, dialing if necessary.
func (s *Session) acquire(ctx context.Context) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	if s.client == nil {
		c, err := s.dial(ctx)
		if err != nil {
			return nil, err
		}
		s.client = c
	}
	s.inflight++
	return s.client, nil
}

// release arms the idle timer once the last in-flight command finished.
func (s *Session) release(c *ssh.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		s.inflight--
	}
	persist := s.hi.ControlPersist
	if persist <= 0 || s.inflight > 0 || s.client != c {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(persist, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.idle != t || s.client != c || s.inflight > 0 {
			return
		}
		s.log.Debug().Dur("persist", persist).Msg("closing idle connection")
		_ = c.Close()
		s.client = nil
		s.idle = nil
	})
	s.idle = t
}

// invalidate drops a client that failed mid-use so the next call redials.
func (s *Session) invalidate(c *ssh.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == c {
		_ = c.Close()
		s.client = nil
	}
}

func (s *Session) newSession(ctx context.Context) (*ssh.Client, *ssh.Session, error) {
	c, err := s.acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	sess, err := c.NewSession()
	if err == nil {
		return c, sess, nil
	}

	s.log.Debug().Err(err).Msg("connection lost, reconnecting")
	s.invalidate(c)
	s.release(c)
	if c, err = s.acquire(ctx); err != nil {
		return nil, nil, err
	}
	if sess, err = c.NewSession(); err != nil {
		s.invalidate(c)
		s.release(c)
		return nil, nil, err
	}
	return c, sess, nil
}

// Exec runs cmd after sourcing the host's rc file and returns the combined
// output and the remote exit code.
func (s *Session) Exec(ctx context.Context, cmd string) (string, int, error) {
	c, sess, err := s.newSession(ctx)
	if err != nil {
		return "", -1, err
	}
	defer s.release(c)
	defer sess.Close()

	full := cmd
	if s.hi.RCFile != "" {
		full = fmt.Sprintf(". %s >/dev/null 2>&1; %s", s.hi.RCFile, cmd)
	}
	s.log.Trace().Str("cmd", full).Msg("exec")

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)

	go func() {
		out, err := sess.CombinedOutput(full)
		done <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		// Best-effort terminate session.
		_ = sess.Signal(ssh.SIGKILL)
		return "", -1, ctx.Err()
	case r := <-done:
		if r.err == nil {
			return string(r.out), 0, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(r.err, &exitErr) {
			s.log.Trace().Int("rc", exitErr.ExitStatus()).Msg("exec finished")
			return string(r.out), exitErr.ExitStatus(), nil
		}
		return string(r.out), -1, r.err
	}
}

// CanConnect opens the connection and runs a no-op command.
func (s *Session) CanConnect(ctx context.Context) (bool, error) {
	_, rc, err := s.Exec(ctx, "true")
	if err != nil {
		return false, err
	}
	return rc == 0, nil
}

// Disconnect closes the connection. Like an idle close, the next Exec
// dials again.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.log.Debug().Msg("disconnected")
	return err
}
