package inventory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tastythames/hpc-jobwatch/internal/hostinfo"
)

type Inventory struct {
	Hosts []Host `yaml:"hosts"`
}

type Host struct {
	hostinfo.HostInfo `yaml:",inline"`

	Labels  map[string]string `yaml:"labels"`
	Storage bool              `yaml:"storage"` // file operations only
}

func Load(path string) (*Inventory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Inventory, error) {
	var inv Inventory
	if err := yaml.Unmarshal(b, &inv); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}

	seen := make(map[string]bool, len(inv.Hosts))

	// normalize defaults
	for i := range inv.Hosts {
		h := &inv.Hosts[i]
		if h.ID == "" {
			h.ID = h.Name
		}
		if h.ID == "" {
			return nil, fmt.Errorf("host #%d: missing id and name", i)
		}
		if seen[h.ID] {
			return nil, fmt.Errorf("host %q: duplicate id", h.ID)
		}
		seen[h.ID] = true

		if h.Host == "" {
			return nil, fmt.Errorf("host %q: missing host address", h.ID)
		}
		if h.Port == 0 {
			h.Port = 22
		}
		if h.StatusCheckInterval <= 0 {
			h.StatusCheckInterval = 60
		}
		if h.Labels == nil {
			h.Labels = map[string]string{}
		}
	}

	return &inv, nil
}

// Host returns a copy of the host entry with the given id.
func (inv *Inventory) Host(id string) (*Host, bool) {
	for i := range inv.Hosts {
		if inv.Hosts[i].ID == id {
			h := inv.Hosts[i]
			return &h, true
		}
	}
	return nil, false
}
