package jobstatus

import (
	"fmt"
	"strings"
	"time"

	"github.com/tastythames/hpc-jobwatch/internal/config"
	"github.com/tastythames/hpc-jobwatch/internal/dialect"
	"github.com/tastythames/hpc-jobwatch/internal/hostinfo"
	"github.com/tastythames/hpc-jobwatch/internal/webapi"
)

// BuildRequest picks the web-API or the standard scheduler path.
func BuildRequest(hi *hostinfo.HostInfo, task *Task, d *dialect.Dialect) (*Request, error) {
	if hi.UseWebAPI || d.WebAPI {
		return BuildRequestForWebAPI(hi, task, d, config.LoadWebAPI())
	}
	return BuildRequestStandard(hi, task, d)
}

func interval(hi *hostinfo.HostInfo) time.Duration {
	return time.Duration(hi.StatusCheckInterval) * time.Second
}

// BuildRequestStandard polls the scheduler over the host's remote shell.
func BuildRequestStandard(hi *hostinfo.HostInfo, task *Task, d *dialect.Dialect) (*Request, error) {
	stat, statAfter := d.Stat, d.StatAfter
	if task.IsBulk() {
		stat, statAfter = d.BulkStat, d.BulkStatAfter
	}
	if stat == "" {
		return nil, fmt.Errorf("dialect %s: no status command for %s", d.Name, task.Type)
	}

	req := &Request{
		Cmd:                         stat,
		Arg:                         task.JobID,
		HostInfo:                    hi,
		Re:                          dialect.Expand(d.ReRunning, task.JobID),
		Delimiter:                   d.Delimiter,
		Interval:                    interval(hi),
		NumAllowFirstFewEmptyOutput: numAllowFirstFewEmptyOutput,
		AllowEmptyOutput:            d.AllowEmptyOutput,
	}
	if statAfter != "" {
		req.FinishedHook = &Hook{Cmd: statAfter, WithArgument: true, Arg: task.JobID}
	}
	return req, nil
}

// BuildRequestForWebAPI polls the REST endpoint with the local curl client.
func BuildRequestForWebAPI(hi *hostinfo.HostInfo, task *Task, d *dialect.Dialect, cfg config.WebAPI) (*Request, error) {
	if cfg.CertFile == "" {
		return nil, fmt.Errorf("web API status check for %s: JOBWATCH_WEBAPI_CERT_FILE is not set", task.JobID)
	}
	computer := hi.Name
	if computer == "" {
		computer = hi.ID
	}
	cmd := curl(cfg, webapi.JobURL(cfg.BaseURL, computer, task.JobID))

	return &Request{
		Cmd:                         cmd,
		WithoutArgument:             true,
		HostInfo:                    hostinfo.Localhost(),
		Re:                          dialect.Expand(d.ReRunning, task.JobID),
		Delimiter:                   d.Delimiter,
		Interval:                    interval(hi),
		NumAllowFirstFewEmptyOutput: numAllowFirstFewEmptyOutput,
		AllowEmptyOutput:            d.AllowEmptyOutput,
		FinishedLocalHook:           &Hook{Cmd: cmd, WithArgument: false},
	}, nil
}

func curl(cfg config.WebAPI, target string) string {
	return "curl -sS --cert-type P12 --cert " + shellQuote(cfg.CertFile+":"+cfg.CertPassphrase) + " -X GET " + shellQuote(target)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
