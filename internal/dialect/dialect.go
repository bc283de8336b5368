// Package dialect describes how a batch scheduler is driven and how its
// status output is scraped.
package dialect

import (
	"regexp"
	"strings"
)

// JobIDPlaceholder is substituted with the scheduler job id in commands and patterns.
const JobIDPlaceholder = "{{ JOBID }}"

// Spec is a dialect as written in YAML. Legacy field names are accepted
// alongside the current ones.
type Spec struct {
	Submit string `yaml:"submit"`
	Del    string `yaml:"del"`

	Stat          string `yaml:"stat"`
	StatAfter     string `yaml:"statAfter"`
	BulkStat      string `yaml:"bulkstat"`
	BulkStatAfter string `yaml:"bulkstatAfter"`
	Delimiter     string `yaml:"delimiter"`

	ReJobID            string `yaml:"reJobID"`
	ReRunning          string `yaml:"reRunning"`
	ReJobStatusCode    string `yaml:"reJobStatusCode"`
	ReJobStatus        string `yaml:"reJobStatus"` // legacy
	ReReturnCode       string `yaml:"reReturnCode"`
	ReSubJobStatusCode string `yaml:"reSubJobStatusCode"`
	ReSubJobStatus     string `yaml:"reSubJobStatus"` // legacy
	ReSubReturnCode    string `yaml:"reSubReturnCode"`
	ReSubJobReturnCode string `yaml:"reSubJobReturnCode"` // legacy

	AcceptableRt     []int `yaml:"acceptableRt"`
	AllowEmptyOutput bool  `yaml:"allowEmptyOutput"`
	WebAPI           bool  `yaml:"webAPI"`
}

// Dialect is a resolved Spec: legacy aliases are folded into the primary
// fields and defaults are applied.
type Dialect struct {
	Name string

	Submit string
	Del    string

	Stat          string
	StatAfter     string
	BulkStat      string
	BulkStatAfter string
	Delimiter     string

	ReJobID         string
	ReRunning       string
	ReJobStatus     string
	ReReturnCode    string
	ReSubJobStatus  string
	ReSubReturnCode string

	AcceptableRt     []int
	AllowEmptyOutput bool
	WebAPI           bool
}

// Resolve applies precedence (primary field, then legacy alias) and checks
// that every pattern compiles.
func Resolve(name string, s Spec) (*Dialect, error) {
	d := &Dialect{
		Name:             name,
		Submit:           s.Submit,
		Del:              s.Del,
		Stat:             s.Stat,
		StatAfter:        s.StatAfter,
		BulkStat:         s.BulkStat,
		BulkStatAfter:    s.BulkStatAfter,
		Delimiter:        s.Delimiter,
		ReJobID:          s.ReJobID,
		ReRunning:        s.ReRunning,
		ReJobStatus:      first(s.ReJobStatusCode, s.ReJobStatus),
		ReReturnCode:     s.ReReturnCode,
		ReSubJobStatus:   first(s.ReSubJobStatusCode, s.ReSubJobStatus),
		ReSubReturnCode:  first(s.ReSubReturnCode, s.ReSubJobReturnCode),
		AcceptableRt:     append([]int(nil), s.AcceptableRt...),
		AllowEmptyOutput: s.AllowEmptyOutput,
		WebAPI:           s.WebAPI,
	}
	if len(d.AcceptableRt) == 0 {
		d.AcceptableRt = []int{0}
	}
	if d.Delimiter == "" {
		d.Delimiter = "\n"
	}

	for field, re := range map[string]string{
		"reJobID":         d.ReJobID,
		"reRunning":       d.ReRunning,
		"reJobStatusCode": d.ReJobStatus,
		"reReturnCode":    d.ReReturnCode,
		"reSubJobStatus":  d.ReSubJobStatus,
		"reSubReturnCode": d.ReSubReturnCode,
	} {
		if re == "" {
			continue
		}
		if _, err := Compile(re, "0"); err != nil {
			return nil, &PatternError{Dialect: name, Field: field, Err: err}
		}
	}
	return d, nil
}

// Acceptable reports whether rc is a documented exit code of the status command.
func (d *Dialect) Acceptable(rc int) bool {
	for _, v := range d.AcceptableRt {
		if v == rc {
			return true
		}
	}
	return false
}

// Expand substitutes the job id into a pattern. The id is quoted so that
// array job ids such as "123[4]" match literally.
func Expand(pattern, jobID string) string {
	return strings.ReplaceAll(pattern, JobIDPlaceholder, regexp.QuoteMeta(jobID))
}

// Compile expands the placeholder and compiles the pattern in multi-line mode.
func Compile(pattern, jobID string) (*regexp.Regexp, error) {
	return regexp.Compile("(?m)" + Expand(pattern, jobID))
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
