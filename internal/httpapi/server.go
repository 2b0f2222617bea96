// Package httpapi exposes the ingest, registry, and attempt query
// surfaces over HTTP.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skylift/skylift-server/internal/application"
	"github.com/skylift/skylift-server/internal/domain"
)

type Server struct {
	Ingest   *application.IngestService
	Registry *application.RegistryService
	Attempts domain.AttemptRepository
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/builds", s.submitBuild)
		v1.PUT("/targets", s.putTarget)
		v1.GET("/targets/:environment", s.listTargets)
		v1.DELETE("/targets/:environment/:label", s.deleteTarget)
		v1.GET("/attempts/:id", s.getAttempt)
	}
	return r
}

type buildRequest struct {
	Repository  string `json:"repository" binding:"required"`
	Environment string `json:"environment" binding:"required"`
	Version     string `json:"version" binding:"required"`
	ArtifactRef string `json:"artifact_ref" binding:"required"`
}

func (s *Server) submitBuild(c *gin.Context) {
	var req buildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	build := domain.Build{
		Repository:  req.Repository,
		Environment: req.Environment,
		Version:     req.Version,
		ArtifactRef: req.ArtifactRef,
		CreatedAt:   time.Now(),
	}
	if err := s.Ingest.Submit(c.Request.Context(), build); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"build": build.Key().String()})
}

type targetRequest struct {
	Environment string   `json:"environment" binding:"required"`
	Label       string   `json:"label" binding:"required"`
	Accounts    []string `json:"accounts" binding:"required"`
	Regions     []string `json:"regions" binding:"required"`
	Downstream  string   `json:"downstream"`
	Default     bool     `json:"default"`
}

func (s *Server) putTarget(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	target := domain.Target{
		Environment: req.Environment,
		Label:       req.Label,
		Accounts:    req.Accounts,
		Regions:     req.Regions,
		Downstream:  req.Downstream,
		Default:     req.Default,
	}
	if err := s.Registry.Set(c.Request.Context(), target); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, targetResponse(target))
}

func (s *Server) listTargets(c *gin.Context) {
	targets, err := s.Registry.List(c.Request.Context(), c.Param("environment"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, 0, len(targets))
	for _, t := range targets {
		out = append(out, targetResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"targets": out})
}

func (s *Server) deleteTarget(c *gin.Context) {
	key := domain.TargetKey{
		Environment: c.Param("environment"),
		Label:       c.Param("label"),
	}
	if err := s.Registry.Delete(c.Request.Context(), key); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getAttempt(c *gin.Context) {
	ctx := c.Request.Context()
	attempt, err := s.Attempts.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	ops, err := s.Attempts.ListOperations(ctx, attempt.RunID)
	if err != nil {
		writeError(c, err)
		return
	}

	opsOut := make([]gin.H, 0, len(ops))
	for _, op := range ops {
		opsOut = append(opsOut, gin.H{
			"account": op.Account,
			"region":  op.Region,
			"status":  string(op.Status),
			"error":   op.ErrorDetail,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":       attempt.RunID,
		"build":        attempt.Build.String(),
		"artifact_ref": attempt.ArtifactRef,
		"target":       attempt.Target.LockKey(),
		"phase":        string(attempt.Phase),
		"outcome":      string(attempt.Outcome),
		"reason":       string(attempt.Reason),
		"detail":       attempt.Detail,
		"started_at":   attempt.StartedAt,
		"completed_at": attempt.CompletedAt,
		"operations":   opsOut,
	})
}

func targetResponse(t domain.Target) gin.H {
	return gin.H{
		"environment": t.Environment,
		"label":       t.Label,
		"accounts":    t.Accounts,
		"regions":     t.Regions,
		"downstream":  t.Downstream,
		"default":     t.Default,
	}
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotConfigured):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
