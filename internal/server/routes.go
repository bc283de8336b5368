package server

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/tastythames/hpc-jobwatch/internal/cache"
	"github.com/tastythames/hpc-jobwatch/internal/jobstatus"
	"github.com/tastythames/hpc-jobwatch/internal/scheduler"
)

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", s.handleMetrics)
	if s.deps.Hub != nil {
		r.GET("/client/connect", s.deps.Hub.Handle)
	}

	r.POST("/watches", s.handleAddWatch)
	r.GET("/watches/status", s.handleStatus)
	r.DELETE("/projects", s.handleRemoveProject)
}

type watchRequest struct {
	ProjectRootDir string `json:"projectRootDir"`
	Host           string `json:"host"`
	ClientID       string `json:"clientID"`
	Task           struct {
		Name       string `json:"name"`
		JobID      string `json:"jobID"`
		Type       string `json:"type"`
		WorkingDir string `json:"workingDir"`
	} `json:"task"`
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	c.Status(http.StatusOK)
	s.deps.Metrics.Write(c.Writer)
}

func (s *Server) handleAddWatch(c *gin.Context) {
	var req watchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w := &scheduler.Watch{
		ProjectRootDir: req.ProjectRootDir,
		HostID:         req.Host,
		ClientID:       req.ClientID,
		Task: jobstatus.Task{
			Name:       req.Task.Name,
			JobID:      req.Task.JobID,
			Type:       req.Task.Type,
			WorkingDir: req.Task.WorkingDir,
		},
	}
	if err := scheduler.Validate(w); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.deps.Watches.Add(w)
	s.deps.Log.Info().Str("key", w.Key()).Msg("watch added")
	c.JSON(http.StatusAccepted, gin.H{"key": w.Key()})
}

type statusResponse struct {
	Key       string `json:"key"`
	State     string `json:"state"`
	JobStatus string `json:"jobStatus,omitempty"`
	Rt        *int   `json:"rt,omitempty"`
	Polls     int    `json:"polls"`
	Error     string `json:"error,omitempty"`
}

// handleStatus lists the last known state of every watch of a project.
func (s *Server) handleStatus(c *gin.Context) {
	project := c.Query("projectRootDir")
	out := []statusResponse{}
	for k, r := range s.deps.Cache.Snapshot() {
		if project != "" && r.Labels["project"] != project {
			continue
		}
		st := statusResponse{Key: k, State: string(r.State), JobStatus: r.JobStatus, Polls: r.Polls}
		if r.State == cache.StateFinished {
			rt := r.Rt
			st.Rt = &rt
		}
		if r.Err != nil {
			st.Error = r.Err.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	c.JSON(http.StatusOK, out)
}

// handleRemoveProject stops polling a project and releases its connections.
func (s *Server) handleRemoveProject(c *gin.Context) {
	project := c.Query("projectRootDir")
	if project == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "projectRootDir is required"})
		return
	}
	keys := s.deps.Watches.RemoveProject(project)
	for _, k := range keys {
		s.deps.Cache.Delete(k)
	}
	s.deps.Projects.RemoveEntry(project)
	s.deps.Log.Info().Str("project", project).Int("watches", len(keys)).Msg("project removed")
	c.JSON(http.StatusOK, gin.H{"removed": len(keys)})
}
