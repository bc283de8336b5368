package jobstatus

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tastythames/hpc-jobwatch/internal/dialect"
)

type recordingSink struct {
	calls      int
	project    string
	output     string
	statusList []string
	rtList     []string
	err        error
}

func (s *recordingSink) WriteBulkStatus(_ context.Context, projectRootDir string, _ *Task, output string, statusList, rtList []string) error {
	s.calls++
	s.project = projectRootDir
	s.output = output
	s.statusList = statusList
	s.rtList = rtList
	return s.err
}

func mustResolve(t *testing.T, s dialect.Spec) *dialect.Dialect {
	t.Helper()
	d, err := dialect.Resolve("test", s)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return d
}

var taskSpec = dialect.Spec{
	ReJobStatusCode: `^{{ JOBID }} status=(\w+)`,
	ReReturnCode:    `^{{ JOBID }} .*rc=(\S+)`,
	AcceptableRt:    []int{0, 5, 8},
}

func TestInterpretStatusPollExitCode(t *testing.T) {
	e := NewEngine(zerolog.Nop(), nil)

	t.Run("unacceptable exit code", func(t *testing.T) {
		d := mustResolve(t, dialect.Spec{ReJobStatusCode: `status=(\w+)`, ReReturnCode: `rc=(\d+)`, AcceptableRt: []int{0, 5}})
		task := &Task{JobID: "1", Type: TypeTask, JobStatus: "prev", Rt: 42}
		if got := e.InterpretStatus(context.Background(), d, task, 3, "1 status=R rc=0"); got != Unknown {
			t.Errorf("InterpretStatus() = %d, want %d", got, Unknown)
		}
		if task.JobStatus != "prev" || task.Rt != 42 {
			t.Errorf("task was modified: %+v", task)
		}
	})

	t.Run("acceptable nonzero exit code", func(t *testing.T) {
		d := mustResolve(t, dialect.Spec{AcceptableRt: []int{0, 8}})
		for _, out := range []string{"", "garbage", "1 status=F rc=99"} {
			task := &Task{JobID: "1", Type: TypeTask}
			if got := e.InterpretStatus(context.Background(), d, task, 8, out); got != 0 {
				t.Errorf("InterpretStatus(%q) = %d, want 0", out, got)
			}
		}
	})
}

func TestInterpretStatusTask(t *testing.T) {
	e := NewEngine(zerolog.Nop(), nil)
	d := mustResolve(t, taskSpec)

	tests := []struct {
		name       string
		output     string
		want       int
		wantStatus string
		wantRt     int
	}{
		{"success", "12345 status=F rc=0\n", 0, "F", 0},
		{"failure", "other\n12345 status=F rc=2\n", 2, "F", 2},
		{"stepjob canceled", "12345 status=3 rc=6\n", 0, "3", 0},
		{"no status", "12345 rc=1\n", 1, "-2", 1},
		{"no return code", "12345 status=F\n", Unknown, "F", 77},
		{"non numeric return code", "12345 status=F rc=abc\n", Unknown, "F", 77},
		{"other job only", "99999 status=F rc=0\n", Unknown, "-2", 77},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{JobID: "12345", Type: TypeTask, Rt: 77}
			got := e.InterpretStatus(context.Background(), d, task, 0, tt.output)
			if got != tt.want {
				t.Errorf("InterpretStatus() = %d, want %d", got, tt.want)
			}
			if task.JobStatus != tt.wantStatus {
				t.Errorf("JobStatus = %q, want %q", task.JobStatus, tt.wantStatus)
			}
			if task.Rt != tt.wantRt {
				t.Errorf("Rt = %d, want %d", task.Rt, tt.wantRt)
			}
		})
	}
}

func TestInterpretStatusLegacyField(t *testing.T) {
	e := NewEngine(zerolog.Nop(), nil)
	d := mustResolve(t, dialect.Spec{ReJobStatus: `state=(\w)`, ReReturnCode: `rc=(\d+)`})
	task := &Task{JobID: "7", Type: TypeTask}
	if got := e.InterpretStatus(context.Background(), d, task, 0, "state=C rc=0"); got != 0 {
		t.Errorf("InterpretStatus() = %d, want 0", got)
	}
	if task.JobStatus != "C" {
		t.Errorf("JobStatus = %q, want C", task.JobStatus)
	}
}

var bulkSpec = dialect.Spec{
	ReSubJobStatusCode: `^{{ JOBID }}\[\d+\] st=(\d+)`,
	ReSubReturnCode:    `^{{ JOBID }}\[\d+\] st=\d+ ec=(\d+)`,
}

func TestInterpretStatusBulk(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		want       int
		wantStatus string
		wantSubSt  []string
		wantSubRt  []string
	}{
		{
			name:       "one failed return code list",
			output:     "500[0] st=0 ec=1\n500[1] st=0 ec=2\n",
			want:       1,
			wantStatus: "0",
			wantSubSt:  []string{"0", "0"},
			wantSubRt:  []string{"1", "2"},
		},
		{
			name:       "single success exonerates",
			output:     "500[0] st=1 ec=1\n500[1] st=0 ec=0\n",
			want:       0,
			wantStatus: "0",
			wantSubSt:  []string{"1", "0"},
			wantSubRt:  []string{"1", "0"},
		},
		{
			name:       "all failed",
			output:     "500[0] st=2 ec=3\n500[1] st=1 ec=4\n",
			want:       1,
			wantStatus: "1",
			wantSubSt:  []string{"2", "1"},
			wantSubRt:  []string{"3", "4"},
		},
		{
			name:       "nothing matched",
			output:     "pjstat: no such job\n",
			want:       1,
			wantStatus: "1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			e := NewEngine(zerolog.Nop(), sink)
			d := mustResolve(t, bulkSpec)
			task := &Task{JobID: "500", Type: TypeBulkjobTask, ProjectRootDir: "/proj"}

			got := e.InterpretStatus(context.Background(), d, task, 0, tt.output)
			if got != tt.want {
				t.Errorf("InterpretStatus() = %d, want %d", got, tt.want)
			}
			if task.JobStatus != tt.wantStatus {
				t.Errorf("JobStatus = %q, want %q", task.JobStatus, tt.wantStatus)
			}
			if task.Rt != tt.want {
				t.Errorf("Rt = %d, want %d", task.Rt, tt.want)
			}
			if sink.calls != 1 || sink.project != "/proj" || sink.output != tt.output {
				t.Errorf("sink calls=%d project=%q", sink.calls, sink.project)
			}
			if !equal(sink.statusList, tt.wantSubSt) || !equal(sink.rtList, tt.wantSubRt) {
				t.Errorf("sink lists = %v / %v, want %v / %v", sink.statusList, sink.rtList, tt.wantSubSt, tt.wantSubRt)
			}
		})
	}
}

func TestInterpretStatusBulkSinkError(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	e := NewEngine(zerolog.Nop(), sink)
	d := mustResolve(t, bulkSpec)
	task := &Task{JobID: "9", Type: TypeBulkjobTask}
	if got := e.InterpretStatus(context.Background(), d, task, 0, "9[0] st=0 ec=0\n"); got != 0 {
		t.Errorf("InterpretStatus() = %d, want 0 despite sink error", got)
	}
}

func TestAggregate(t *testing.T) {
	st, list := aggregate(`s=(\d)`, "1", "s=0 s=0")
	if st != 0 || !equal(list, []string{"0", "0"}) {
		t.Errorf("aggregate = %d %v", st, list)
	}
	st, list = aggregate(`r=(\d)`, "1", "r=1 r=0")
	if st != 0 || !equal(list, []string{"1", "0"}) {
		t.Errorf("aggregate = %d %v", st, list)
	}
	st, _ = aggregate(`r=(\d)?x`, "1", "r=x")
	if st != 1 {
		t.Errorf("empty capture must count as not zero, got %d", st)
	}
	if st, _ := aggregate("", "1", "anything"); st != 1 {
		t.Errorf("missing pattern aggregate = %d, want 1", st)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
