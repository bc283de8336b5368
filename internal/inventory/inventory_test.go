package inventory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `
hosts:
  - id: fugaku
    name: Fugaku
    host: login.fugaku.r-ccs.riken.jp
    username: u0001
    keyFile: ~/.ssh/id_ed25519
    jobScheduler: Fugaku
    renewInterval: 5
    readyTimeout: 3000
  - name: nas
    host: 10.0.0.5
    port: 2222
    user: data
    password: hunter2
    storage: true
    statusCheckInterval: 10
`

func TestParse(t *testing.T) {
	inv, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(inv.Hosts) != 2 {
		t.Fatalf("len(Hosts) = %d, want 2", len(inv.Hosts))
	}

	f, ok := inv.Host("fugaku")
	if !ok {
		t.Fatal("host fugaku not found")
	}
	if f.Port != 22 {
		t.Errorf("Port = %d, want 22", f.Port)
	}
	if f.StatusCheckInterval != 60 {
		t.Errorf("StatusCheckInterval = %d, want 60", f.StatusCheckInterval)
	}
	if f.Username != "u0001" {
		t.Errorf("Username = %q, want u0001", f.Username)
	}
	if f.RenewInterval != 5 || f.ReadyTimeout != 3000 {
		t.Errorf("RenewInterval/ReadyTimeout = %d/%d", f.RenewInterval, f.ReadyTimeout)
	}

	n, ok := inv.Host("nas")
	if !ok {
		t.Fatal("host nas should default its id to the name")
	}
	if !n.Storage || n.Port != 2222 || n.StatusCheckInterval != 10 {
		t.Errorf("nas = %+v", n)
	}
	if v, ok := n.Password.Literal(); !ok || v != "hunter2" {
		t.Errorf("Password = %q, want hunter2", v)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"missing id", "hosts:\n  - host: a\n", "missing id"},
		{"missing host", "hosts:\n  - id: a\n", "missing host"},
		{"duplicate", "hosts:\n  - {id: a, host: x}\n  - {id: a, host: y}\n", "duplicate"},
		{"bad yaml", "hosts: [", "yaml unmarshal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "hosts.yaml")
	if err := os.WriteFile(p, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p); err != nil {
		t.Errorf("Load: %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) should fail")
	}
}
