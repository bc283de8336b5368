package sshclient

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/tastythames/hpc-jobwatch/internal/connreg"
	"github.com/tastythames/hpc-jobwatch/internal/hostinfo"
	"github.com/tastythames/hpc-jobwatch/internal/logging"
	"github.com/tastythames/hpc-jobwatch/internal/prompt"
)

// testServer is a minimal in-process sshd that understands "exec".
type testServer struct {
	addr     *net.TCPAddr
	accepted atomic.Int32

	user, password string
	authorized     ssh.PublicKey
	cfg            atomic.Pointer[ssh.ServerConfig]

	mu       sync.Mutex
	commands []string
}

func (s *testServer) lastCommand() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.commands) == 0 {
		return ""
	}
	return s.commands[len(s.commands)-1]
}

// rotateHostKey makes new connections present a fresh host key.
func (s *testServer) rotateHostKey(t *testing.T) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == s.user && s.password != "" && string(pass) == s.password {
				return nil, nil
			}
			return nil, fmt.Errorf("denied")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == s.user && s.authorized != nil && bytes.Equal(key.Marshal(), s.authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("denied")
		},
	}
	cfg.AddHostKey(signer)
	s.cfg.Store(cfg)
}

func startServer(t *testing.T, user, password string) *testServer {
	return startServerWithKey(t, user, password, nil)
}

func startServerWithKey(t *testing.T, user, password string, authorized ssh.PublicKey) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	srv := &testServer{
		addr:       ln.Addr().(*net.TCPAddr),
		user:       user,
		password:   password,
		authorized: authorized,
	}
	srv.rotateHostKey(t)
	go func() {
		for {
			nConn, err := ln.Accept()
			if err != nil {
				return
			}
			srv.accepted.Add(1)
			go srv.serve(nConn, srv.cfg.Load())
		}
	}()
	return srv
}

func (s *testServer) serve(nConn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(nConn, cfg)
	if err != nil {
		nConn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.session(ch, chReqs)
	}
}

func (s *testServer) session(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}
		var p struct{ Command string }
		_ = ssh.Unmarshal(req.Payload, &p)
		_ = req.Reply(true, nil)

		s.mu.Lock()
		s.commands = append(s.commands, p.Command)
		s.mu.Unlock()

		cmd := p.Command
		if i := strings.LastIndex(cmd, "; "); i >= 0 {
			cmd = cmd[i+2:]
		}
		var out string
		var rc uint32
		switch {
		case cmd == "true":
		case strings.HasPrefix(cmd, "echo "):
			out = strings.TrimPrefix(cmd, "echo ") + "\n"
		case strings.HasPrefix(cmd, "exit "):
			var n int
			fmt.Sscanf(cmd, "exit %d", &n)
			rc = uint32(n)
		default:
			out = "command not found\n"
			rc = 127
		}
		_, _ = ch.Write([]byte(out))
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{rc}))
		return
	}
}

func newSession(t *testing.T, srv *testServer, hi *hostinfo.HostInfo) *Session {
	t.Helper()
	return newSessionWith(t, srv, hi, Options{ControlDir: t.TempDir(), Logger: zerolog.Nop()})
}

func newSessionWith(t *testing.T, srv *testServer, hi *hostinfo.HostInfo, opts Options) *Session {
	t.Helper()
	hi.Host = "127.0.0.1"
	hi.Port = srv.addr.Port
	opts.Timeout = 2 * time.Second
	s, err := New(hi, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Disconnect() })
	return s
}

func TestExec(t *testing.T) {
	srv := startServer(t, "alice", "pw")
	s := newSession(t, srv, &hostinfo.HostInfo{User: "alice", Password: hostinfo.Literal("pw")})
	ctx := context.Background()

	tests := []struct {
		cmd    string
		want   string
		wantRc int
	}{
		{"echo hello", "hello\n", 0},
		{"exit 3", "", 3},
		{"frobnicate", "command not found\n", 127},
	}
	for _, tt := range tests {
		out, rc, err := s.Exec(ctx, tt.cmd)
		if err != nil {
			t.Fatalf("Exec(%q): %v", tt.cmd, err)
		}
		if out != tt.want || rc != tt.wantRc {
			t.Errorf("Exec(%q) = %q, %d; want %q, %d", tt.cmd, out, rc, tt.want, tt.wantRc)
		}
	}
	if n := srv.accepted.Load(); n != 1 {
		t.Errorf("accepted connections = %d, want 1 (connection reuse)", n)
	}
}

func TestExecSourcesRCFile(t *testing.T) {
	srv := startServer(t, "alice", "pw")
	s := newSession(t, srv, &hostinfo.HostInfo{User: "alice", Password: hostinfo.Literal("pw"), RCFile: "/etc/profile"})

	if _, _, err := s.Exec(context.Background(), "echo x"); err != nil {
		t.Fatal(err)
	}
	want := ". /etc/profile >/dev/null 2>&1; echo x"
	if got := srv.lastCommand(); got != want {
		t.Errorf("remote command = %q, want %q", got, want)
	}
}

func TestCanConnect(t *testing.T) {
	srv := startServer(t, "alice", "pw")

	calls := 0
	s := newSession(t, srv, &hostinfo.HostInfo{User: "alice", Password: hostinfo.FromProvider(func(context.Context) (string, error) {
		calls++
		return "pw", nil
	})})
	ok, err := s.CanConnect(context.Background())
	if err != nil || !ok {
		t.Fatalf("CanConnect() = %v, %v", ok, err)
	}
	if _, _, err := s.Exec(context.Background(), "true"); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("password provider called %d times, want 1", calls)
	}

	bad := newSession(t, srv, &hostinfo.HostInfo{User: "alice", Password: hostinfo.Literal("wrong")})
	if ok, err := bad.CanConnect(context.Background()); err == nil || ok {
		t.Errorf("CanConnect(wrong password) = %v, %v; want error", ok, err)
	}
}

func TestIdleReconnect(t *testing.T) {
	srv := startServer(t, "alice", "pw")
	s := newSession(t, srv, &hostinfo.HostInfo{User: "alice", Password: hostinfo.Literal("pw"), ControlPersist: 30 * time.Millisecond})
	ctx := context.Background()

	if _, _, err := s.Exec(ctx, "true"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if _, rc, err := s.Exec(ctx, "true"); err != nil || rc != 0 {
		t.Fatalf("Exec after idle = %d, %v", rc, err)
	}
	if n := srv.accepted.Load(); n != 2 {
		t.Errorf("accepted connections = %d, want 2", n)
	}
}

func TestDisconnect(t *testing.T) {
	srv := startServer(t, "alice", "pw")
	s := newSession(t, srv, &hostinfo.HostInfo{User: "alice", Password: hostinfo.Literal("pw")})
	if _, _, err := s.Exec(context.Background(), "true"); err != nil {
		t.Fatal(err)
	}
	if err := s.Disconnect(); err != nil {
		t.Errorf("Disconnect: %v", err)
	}
	if _, rc, err := s.Exec(context.Background(), "true"); err != nil || rc != 0 {
		t.Fatalf("Exec after Disconnect = %d, %v; want a fresh connection", rc, err)
	}
	if n := srv.accepted.Load(); n != 2 {
		t.Errorf("accepted connections = %d, want 2", n)
	}
}

func TestControlDirFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := hostKeyCallback(filepath.Join(blocker, "sub"))
	if err == nil || !strings.Contains(err.Error(), "Control socket creation failed") {
		t.Errorf("err = %v, want control socket failure", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(&hostinfo.HostInfo{Host: "h"}, Options{}); err == nil {
		t.Error("New without user should fail")
	}
	if _, err := New(&hostinfo.HostInfo{User: "u"}, Options{}); err == nil {
		t.Error("New without host should fail")
	}
}

func TestReconnectAfterProjectReopen(t *testing.T) {
	srv := startServer(t, "alice", "pw")
	controlDir := t.TempDir()
	reg := connreg.New(connreg.Options{
		Dial: func(hi *hostinfo.HostInfo) (connreg.Conn, error) {
			s, err := New(hi, Options{ControlDir: controlDir, Timeout: 2 * time.Second, Logger: zerolog.Nop()})
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Logger: zerolog.Nop(),
	})
	host := func(id string) *hostinfo.HostInfo {
		return &hostinfo.HostInfo{ID: id, Host: "127.0.0.1", Port: srv.addr.Port, User: "alice", Password: hostinfo.Literal("pw")}
	}
	ctx := context.Background()

	if _, err := reg.CreateConnection(ctx, "/p", "hpc", host("hpc"), "", false); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.CreateConnection(ctx, "/p", "nas", host("nas"), "", true); err != nil {
		t.Fatal(err)
	}
	reg.RemoveEntry("/p")
	if !reg.HasEntry("/p", "hpc") {
		t.Fatal("compute entry dropped although the project keeps a storage entry")
	}

	conn, err := reg.CreateConnection(ctx, "/p", "hpc", host("hpc"), "", false)
	if err != nil {
		t.Fatal(err)
	}
	out, rc, err := conn.Exec(ctx, "echo hi")
	if err != nil || rc != 0 || out != "hi\n" {
		t.Errorf("Exec after reopen = %q, %d, %v; want %q, 0, nil", out, rc, err, "hi\n")
	}
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

func TestSessionLogLevels(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	tests := []struct {
		name        string
		level       string
		verbose     bool
		wantTrace   bool
		wantConnect bool
	}{
		{"verbose at default level", "info", true, true, true},
		{"debug without verbose", "debug", false, false, true},
		{"default", "info", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := startServer(t, "alice", "pw")
			var buf syncBuffer
			logger := logging.Setup(logging.Options{Level: tt.level, Verbose: tt.verbose, Out: &buf})

			s := newSessionWith(t, srv, &hostinfo.HostInfo{User: "alice", Password: hostinfo.Literal("pw"), Verbose: tt.verbose},
				Options{ControlDir: t.TempDir(), Logger: logger})
			if _, _, err := s.Exec(context.Background(), "echo hi"); err != nil {
				t.Fatal(err)
			}

			out := buf.String()
			if got := strings.Contains(out, "dialing"); got != tt.wantTrace {
				t.Errorf("trace diagnostics written = %v, want %v; log %q", got, tt.wantTrace, out)
			}
			if got := strings.Contains(out, "connected"); got != tt.wantConnect {
				t.Errorf("debug diagnostics written = %v, want %v; log %q", got, tt.wantConnect, out)
			}
		})
	}
}

func writeEncryptedKey(t *testing.T, passphrase string) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte(passphrase))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return path, sshPub
}

func TestEncryptedKeyPassphrase(t *testing.T) {
	keyFile, pub := writeEncryptedKey(t, "secret")
	srv := startServerWithKey(t, "alice", "", pub)

	calls := 0
	s := newSession(t, srv, &hostinfo.HostInfo{
		User:    "alice",
		KeyFile: keyFile,
		Passphrase: hostinfo.FromProvider(func(context.Context) (string, error) {
			calls++
			return "secret", nil
		}),
	})
	ctx := context.Background()
	if ok, err := s.CanConnect(ctx); err != nil || !ok {
		t.Fatalf("CanConnect() = %v, %v", ok, err)
	}
	if out, _, err := s.Exec(ctx, "echo key"); err != nil || out != "key\n" {
		t.Fatalf("Exec = %q, %v", out, err)
	}
	if calls != 1 {
		t.Errorf("passphrase provider called %d times, want 1", calls)
	}
}

func TestEncryptedKeyPassphraseCanceled(t *testing.T) {
	keyFile, pub := writeEncryptedKey(t, "secret")
	srv := startServerWithKey(t, "alice", "", pub)

	s := newSession(t, srv, &hostinfo.HostInfo{
		User:    "alice",
		KeyFile: keyFile,
		Passphrase: hostinfo.FromProvider(func(context.Context) (string, error) {
			return "", &prompt.CanceledError{Reason: prompt.ReasonCanceled, Hostname: "hpc"}
		}),
	})
	ok, err := s.CanConnect(context.Background())
	if ok || !errors.Is(err, prompt.ErrCanceled) {
		t.Errorf("CanConnect() = %v, %v; want a canceled prompt error", ok, err)
	}
}

func TestHostKeyChangeRejected(t *testing.T) {
	srv := startServer(t, "alice", "pw")
	controlDir := t.TempDir()
	s := newSessionWith(t, srv, &hostinfo.HostInfo{User: "alice", Password: hostinfo.Literal("pw")},
		Options{ControlDir: controlDir, Logger: zerolog.Nop()})
	ctx := context.Background()

	if _, _, err := s.Exec(ctx, "true"); err != nil {
		t.Fatalf("first connection: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(controlDir, knownHostsFile))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(b), "\n"); n != 1 {
		t.Errorf("known_hosts has %d lines, want 1", n)
	}

	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Exec(ctx, "true"); err != nil {
		t.Fatalf("reconnect with the pinned key: %v", err)
	}

	_ = s.Disconnect()
	srv.rotateHostKey(t)
	_, _, err = s.Exec(ctx, "true")
	if err == nil || !strings.Contains(err.Error(), "key mismatch") {
		t.Errorf("Exec after host key change err = %v, want key mismatch", err)
	}
}
