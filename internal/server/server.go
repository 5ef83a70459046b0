// Package server exposes the orchestrator over HTTP: a JSON API for
// task and session control, a notify-status callback endpoint the CLIs
// post to from inside their sessions, and a websocket event feed.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/overseer-cli/overseer/internal/broadcast"
	"github.com/overseer-cli/overseer/internal/cliadapter"
	"github.com/overseer-cli/overseer/internal/session"
	"github.com/overseer-cli/overseer/internal/settings"
	"github.com/overseer-cli/overseer/internal/store"
	"github.com/overseer-cli/overseer/internal/task"
	"github.com/overseer-cli/overseer/internal/terminal"
)

// Orchestrator is the session-manager surface the API drives.
type Orchestrator interface {
	CreateTask(title, projectDir, docPath string, cli cliadapter.Kind, review task.ReviewMode, callbackURL string) (*task.Task, error)
	DeleteTask(id string) error
	Start(id string) (session.StartResult, error)
	Stop(id string) error
	Pause(id string) error
	Restart(id string, reason task.Cause) error
	StopAll() error
	NotifyStatus(id, status, message, errMsg string, contextPercent *int) error
	Sessions() session.Snapshot
}

// Registry is the read side of the task store.
type Registry interface {
	GetTask(id string) (*task.Task, *terminal.Handle, error)
	ListTasks() ([]*task.Task, error)
	ListLogs(taskID string, limit int) ([]store.LogEntry, error)
}

// Config wires the server's collaborators.
type Config struct {
	Orchestrator Orchestrator
	Registry     Registry
	Settings     *settings.Store
	Broadcaster  *broadcast.Broadcaster
	Logger       hclog.Logger
}

// Server is the HTTP front of the orchestrator.
type Server struct {
	cfg    Config
	logger hclog.Logger
	engine *gin.Engine
	http   *http.Server
}

// New builds the router. Call Run to serve.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger.Named("server")}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/health", s.health)
	r.GET("/ws", s.handleWS)

	api := r.Group("/api")
	{
		api.POST("/tasks", s.createTask)
		api.GET("/tasks", s.listTasks)
		api.GET("/tasks/:id", s.getTask)
		api.DELETE("/tasks/:id", s.deleteTask)
		api.POST("/tasks/:id/start", s.startTask)
		api.POST("/tasks/:id/stop", s.stopTask)
		api.POST("/tasks/:id/pause", s.pauseTask)
		api.POST("/tasks/:id/restart", s.restartTask)
		api.POST("/tasks/:id/notify-status", s.notifyStatus)
		api.GET("/tasks/:id/logs", s.taskLogs)

		api.GET("/sessions", s.sessions)
		api.POST("/sessions/stop-all", s.stopAll)

		api.GET("/settings", s.getSettings)
		api.PUT("/settings", s.putSettings)
	}

	s.engine = r
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until the context is cancelled, then drains with a
// short shutdown grace.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutCtx)
}

// apiError maps orchestrator errors to a status code and a
// machine-readable reason, so clients can branch without parsing
// message text.
func apiError(c *gin.Context, err error) {
	code, reason := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, session.ErrTaskNotFound):
		code, reason = http.StatusNotFound, "not_found"
	case errors.Is(err, task.ErrInvalidState):
		code, reason = http.StatusConflict, "invalid_state"
	case errors.Is(err, session.ErrCapacityReached):
		code, reason = http.StatusConflict, "capacity_reached"
	case errors.Is(err, session.ErrNoSession):
		code, reason = http.StatusConflict, "no_session"
	case errors.Is(err, session.ErrSpawnTimeout):
		code, reason = http.StatusBadGateway, "spawn_timeout"
	case errors.Is(err, session.ErrSpawnFailed):
		code, reason = http.StatusBadGateway, "spawn_failed"
	case errors.Is(err, session.ErrAdapterUnavailable):
		code, reason = http.StatusUnprocessableEntity, "adapter_unavailable"
	case errors.Is(err, cliadapter.ErrUnknownKind), errors.Is(err, terminal.ErrUnknownKind):
		code, reason = http.StatusBadRequest, "bad_request"
	}
	c.JSON(code, gin.H{"error": err.Error(), "reason": reason})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": "bad_request"})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createTaskRequest struct {
	Title       string `json:"title"`
	ProjectDir  string `json:"project_dir" binding:"required"`
	DocPath     string `json:"doc_path" binding:"required"`
	CLIType     string `json:"cli_type"`
	Review      string `json:"review"`
	CallbackURL string `json:"callback_url"`
}

func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	review, err := task.ParseReviewMode(req.Review)
	if err != nil {
		badRequest(c, err)
		return
	}
	t, err := s.cfg.Orchestrator.CreateTask(
		req.Title, req.ProjectDir, req.DocPath,
		cliadapter.Kind(req.CLIType), review, req.CallbackURL,
	)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.cfg.Registry.ListTasks()
	if err != nil {
		apiError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) getTask(c *gin.Context) {
	t, _, err := s.cfg.Registry.GetTask(c.Param("id"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) deleteTask(c *gin.Context) {
	if err := s.cfg.Orchestrator.DeleteTask(c.Param("id")); err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) startTask(c *gin.Context) {
	res, err := s.cfg.Orchestrator.Start(c.Param("id"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) stopTask(c *gin.Context) {
	if err := s.cfg.Orchestrator.Stop(c.Param("id")); err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

func (s *Server) pauseTask(c *gin.Context) {
	if err := s.cfg.Orchestrator.Pause(c.Param("id")); err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) restartTask(c *gin.Context) {
	if err := s.cfg.Orchestrator.Restart(c.Param("id"), task.CauseOperator); err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restarted": true})
}

func (s *Server) stopAll(c *gin.Context) {
	if err := s.cfg.Orchestrator.StopAll(); err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

type notifyRequest struct {
	Status       string `json:"status" binding:"required"`
	Message      string `json:"message"`
	Error        string `json:"error"`
	ContextUsage *int   `json:"context_usage"`
}

func (s *Server) notifyStatus(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := s.cfg.Orchestrator.NotifyStatus(c.Param("id"), req.Status, req.Message, req.Error, req.ContextUsage)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

func (s *Server) taskLogs(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(c, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	// 404 for unknown tasks rather than an empty log list.
	if _, _, err := s.cfg.Registry.GetTask(c.Param("id")); err != nil {
		apiError(c, err)
		return
	}
	logs, err := s.cfg.Registry.ListLogs(c.Param("id"), limit)
	if err != nil {
		apiError(c, err)
		return
	}
	if logs == nil {
		logs = []store.LogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

func (s *Server) sessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Orchestrator.Sessions())
}

func (s *Server) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Settings.Current())
}

func (s *Server) putSettings(c *gin.Context) {
	// Bind over a copy of the current snapshot so omitted fields keep
	// their values; supervision knobs are not wire-exposed at all.
	next := s.cfg.Settings.Current()
	if err := c.ShouldBindJSON(&next); err != nil {
		badRequest(c, err)
		return
	}
	snap, err := s.cfg.Settings.Update(func(cur *settings.Snapshot) { *cur = next })
	if err != nil {
		badRequest(c, err)
		return
	}
	if s.cfg.Broadcaster != nil {
		s.cfg.Broadcaster.Publish(broadcast.Event{
			Type:    broadcast.TypeSettings,
			Payload: map[string]any{"settings": snap},
		})
	}
	c.JSON(http.StatusOK, snap)
}
