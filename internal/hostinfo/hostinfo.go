// Package hostinfo describes how to reach one remote compute or storage host.
package hostinfo

import "time"

// HostInfo carries the connection parameters of one remote host.
//
// Fields tagged yaml:"-" are derived when a connection is created.
type HostInfo struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Username string `yaml:"username"` // legacy spelling of User

	KeyFile    string     `yaml:"keyFile"`
	Password   Credential `yaml:"password"`
	Passphrase Credential `yaml:"passphrase"`

	RenewInterval       int `yaml:"renewInterval"`       // minutes
	ReadyTimeout        int `yaml:"readyTimeout"`        // milliseconds
	StatusCheckInterval int `yaml:"statusCheckInterval"` // seconds

	JobScheduler string `yaml:"jobScheduler"`
	UseWebAPI    bool   `yaml:"useWebAPI"`
	RCFile       string `yaml:"rcfile"`

	ControlPersist time.Duration `yaml:"-"`
	ConnectTimeout time.Duration `yaml:"-"`
	Verbose        bool          `yaml:"-"`

	local bool
}

// Localhost is the synthetic target used for commands run by the local shell.
func Localhost() *HostInfo {
	return &HostInfo{ID: "localhost", Host: "localhost", local: true}
}

// IsLocal reports whether commands for h run on this machine. Only Localhost
// qualifies; an inventory host named "localhost" is still reached over SSH.
func (h *HostInfo) IsLocal() bool {
	return h == nil || h.local
}

// Clone returns a shallow copy; credential providers are shared.
func (h *HostInfo) Clone() *HostInfo {
	if h == nil {
		return nil
	}
	c := *h
	return &c
}

// Label is used in prompts and log lines.
func (h *HostInfo) Label() string {
	if h.Name != "" {
		return h.Name
	}
	return h.Host
}
