package main

import (
	"fmt"

	"github.com/tastythames/hpc-jobwatch/internal/bulkstatus"
	"github.com/tastythames/hpc-jobwatch/internal/cache"
	"github.com/tastythames/hpc-jobwatch/internal/connreg"
	"github.com/tastythames/hpc-jobwatch/internal/dialect"
	"github.com/tastythames/hpc-jobwatch/internal/hostinfo"
	"github.com/tastythames/hpc-jobwatch/internal/inventory"
	"github.com/tastythames/hpc-jobwatch/internal/jobstatus"
	"github.com/tastythames/hpc-jobwatch/internal/prompt"
	"github.com/tastythames/hpc-jobwatch/internal/scheduler"
	"github.com/tastythames/hpc-jobwatch/internal/sshclient"
)

// core is everything a status check needs, shared by serve and status.
type core struct {
	inv      *inventory.Inventory
	dialects *dialect.Set
	registry *connreg.Registry
	cache    *cache.MemCache
	poller   *scheduler.Poller
}

func loadDialects(path string) (*dialect.Set, error) {
	if path == "" {
		return dialect.Builtin()
	}
	return dialect.LoadFile(path)
}

func newCore(ask prompt.Channel) (*core, error) {
	inv, err := inventory.Load(cfg.InventoryFile)
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	set, err := loadDialects(cfg.DialectFile)
	if err != nil {
		return nil, fmt.Errorf("load dialects: %w", err)
	}

	sshOpts := sshclient.Options{
		Port:       cfg.SSH.Port,
		Timeout:    cfg.SSH.Timeout,
		ControlDir: cfg.SSH.ControlDir,
		Logger:     logger,
	}
	reg := connreg.New(connreg.Options{
		Dial: func(hi *hostinfo.HostInfo) (connreg.Conn, error) {
			s, err := sshclient.New(hi, sshOpts)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Prompt:  ask,
		Verbose: cfg.SSH.Verbose,
		Logger:  logger,
	})

	c := cache.NewMemCache()
	return &core{
		inv:      inv,
		dialects: set,
		registry: reg,
		cache:    c,
		poller: &scheduler.Poller{
			Conns:    reg,
			Hosts:    inv,
			Dialects: set,
			Engine:   jobstatus.NewEngine(logger, bulkstatus.NewFileSink()),
			Cache:    c,
			Local:    scheduler.LocalShell{},
			Log:      logger,
		},
	}, nil
}
