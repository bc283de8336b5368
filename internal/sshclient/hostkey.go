package sshclient

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const knownHostsFile = "known_hosts"

var knownHostsMu sync.Mutex

// DefaultControlDir is used when JOBWATCH_SSH_CONTROL_DIR is unset.
func DefaultControlDir() string {
	return filepath.Join(os.TempDir(), "jobwatch-ssh")
}

// hostKeyCallback pins host keys on first use in <controlDir>/known_hosts.
func hostKeyCallback(controlDir string) (ssh.HostKeyCallback, error) {
	if controlDir == "" {
		controlDir = DefaultControlDir()
	}
	if err := os.MkdirAll(controlDir, 0o700); err != nil {
		return nil, fmt.Errorf("Control socket creation failed: %w", err)
	}
	path := filepath.Join(controlDir, knownHostsFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("Control socket creation failed: %w", err)
	}
	f.Close()

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		knownHostsMu.Lock()
		defer knownHostsMu.Unlock()

		check, err := knownhosts.New(path)
		if err != nil {
			return err
		}
		err = check(hostname, remote, key)
		var ke *knownhosts.KeyError
		if !errors.As(err, &ke) || len(ke.Want) > 0 {
			return err
		}

		// unknown host: trust on first use
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = fmt.Fprintln(f, knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key))
		return err
	}, nil
}
