package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/bridge"
	"github.com/xkilldash9x/flow-automator/internal/browser"
	"github.com/xkilldash9x/flow-automator/internal/store"
)

// stopTimeout bounds how long a stop request waits for the run to wind down.
const stopTimeout = 30 * time.Second

type textRequest struct {
	Text string `json:"text"`
}

type folderRequest struct {
	Folder string `json:"folder"`
}

type roleRequest struct {
	Role schemas.ElementRole `json:"role"`
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api")

	pipeline := api.Group("/pipeline")
	{
		pipeline.GET("", s.pipelineStatus)
		pipeline.POST("/start", s.startPipeline)
		pipeline.POST("/pause", func(c *gin.Context) { s.deps.Pipeline.Pause(); s.pipelineStatus(c) })
		pipeline.POST("/resume", func(c *gin.Context) { s.deps.Pipeline.Resume(); s.pipelineStatus(c) })
		pipeline.POST("/stop", s.stopPipeline)
		pipeline.POST("/restart", s.restartPipeline)
	}
	api.GET("/page", s.pageStatus)

	queue := api.Group("/queue")
	{
		queue.GET("", s.getQueue)
		queue.POST("", s.addPrompt)
		queue.DELETE("", s.clearQueue)
		queue.POST("/import", s.importPrompts)
		queue.POST("/reset", s.resetQueue)
		queue.DELETE("/:index", s.removePrompt)
	}

	api.GET("/settings", s.getSettings)
	api.PUT("/settings", s.putSettings)
	api.GET("/specs", s.getSpecs)
	api.PUT("/specs", s.putSpecs)
	api.GET("/download-folder", s.getDownloadFolder)
	api.PUT("/download-folder", s.putDownloadFolder)

	elements := api.Group("/elements")
	{
		elements.GET("", s.getElements)
		elements.DELETE("", s.clearElements)
		elements.DELETE("/:role", s.clearElement)
		elements.GET("/:role/test", s.testElement)
	}
	api.POST("/picker/start", s.startPicker)
	api.POST("/picker/stop", s.stopPicker)

	api.GET("/logs", s.getLogs)
	api.DELETE("/logs", s.clearLogs)

	api.GET("/events", s.streamEvents)
}

// fail writes err with a status derived from its kind.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, browser.ErrNoTarget):
		status = http.StatusServiceUnavailable
	case errors.Is(err, store.ErrIndexOutOfRange):
		status = http.StatusNotFound
	case errors.Is(err, bridge.ErrClosed), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusBadGateway
	}
	_ = c.Error(err)
	c.JSON(status, schemas.ErrorResult{Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, schemas.ErrorResult{Error: msg})
}

// --- Pipeline ---

func (s *Server) pipelineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Pipeline.Status())
}

func (s *Server) startPipeline(c *gin.Context) {
	if err := s.deps.Pipeline.Start(); err != nil {
		c.JSON(http.StatusConflict, schemas.ErrorResult{Error: err.Error()})
		return
	}
	s.pipelineStatus(c)
}

func (s *Server) stopPipeline(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), stopTimeout)
	defer cancel()
	if err := s.deps.Pipeline.Stop(ctx); err != nil {
		s.fail(c, err)
		return
	}
	s.pipelineStatus(c)
}

func (s *Server) restartPipeline(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), stopTimeout)
	defer cancel()
	if err := s.deps.Pipeline.Restart(ctx); err != nil {
		s.fail(c, err)
		return
	}
	s.pipelineStatus(c)
}

func (s *Server) pageStatus(c *gin.Context) {
	res, err := s.deps.Pipeline.PageStatus(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Queue ---

func (s *Server) getQueue(c *gin.Context) {
	q, err := s.deps.Store.Queue(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if q == nil {
		q = []schemas.PromptItem{}
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) addPrompt(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	added, err := s.deps.Store.AddPrompt(c.Request.Context(), req.Text)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !added {
		badRequest(c, "prompt is empty")
		return
	}
	s.getQueue(c)
}

func (s *Server) importPrompts(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	n, err := s.deps.Store.ImportPrompts(c.Request.Context(), req.Text)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": n})
}

func (s *Server) clearQueue(c *gin.Context) {
	if err := s.deps.Store.ClearQueue(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) resetQueue(c *gin.Context) {
	if _, err := s.deps.Store.ResetQueue(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.deps.Store.ResetPipelineState(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	s.getQueue(c)
}

func (s *Server) removePrompt(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		badRequest(c, "index must be an integer")
		return
	}
	if err := s.deps.Store.RemovePrompt(c.Request.Context(), index); err != nil {
		s.fail(c, err)
		return
	}
	s.getQueue(c)
}

// --- Settings, specs, download folder ---

func (s *Server) getSettings(c *gin.Context) {
	settings, err := s.deps.Store.Settings(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) putSettings(c *gin.Context) {
	var patch map[string]interface{}
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	settings, err := s.deps.Store.UpdateSettings(c.Request.Context(), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) getSpecs(c *gin.Context) {
	specs, err := s.deps.Store.VideoSpecs(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, specs)
}

func (s *Server) putSpecs(c *gin.Context) {
	var patch map[string]interface{}
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	specs, err := s.deps.Store.UpdateVideoSpecs(c.Request.Context(), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, specs)
}

func (s *Server) getDownloadFolder(c *gin.Context) {
	folder, err := s.deps.Store.DownloadFolder(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, folderRequest{Folder: folder})
}

func (s *Server) putDownloadFolder(c *gin.Context) {
	var req folderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := s.deps.Store.SetDownloadFolder(c.Request.Context(), req.Folder); err != nil {
		s.fail(c, err)
		return
	}
	s.getDownloadFolder(c)
}

// --- Elements ---

func (s *Server) getElements(c *gin.Context) {
	all, err := s.deps.Store.PickedElements(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if all == nil {
		all = schemas.PickedElements{}
	}
	c.JSON(http.StatusOK, all)
}

func (s *Server) clearElements(c *gin.Context) {
	if err := s.deps.Store.ClearPickedElements(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	s.refreshElements(c.Request.Context())
	s.getElements(c)
}

func (s *Server) clearElement(c *gin.Context) {
	role := schemas.ElementRole(c.Param("role"))
	if !schemas.ValidRole(role) {
		badRequest(c, "unknown element role "+string(role))
		return
	}
	if _, err := s.deps.Store.ClearPickedElement(c.Request.Context(), role); err != nil {
		s.fail(c, err)
		return
	}
	s.refreshElements(c.Request.Context())
	s.getElements(c)
}

// refreshElements pushes the saved map to the tab. A missing tab is fine:
// it receives the map when it attaches.
func (s *Server) refreshElements(ctx context.Context) {
	if err := s.deps.Pipeline.RefreshElements(ctx); err != nil && !errors.Is(err, browser.ErrNoTarget) {
		s.logger.Warn("Could not refresh the tab's element cache.", zap.Error(err))
	}
}

func (s *Server) testElement(c *gin.Context) {
	role := schemas.ElementRole(c.Param("role"))
	if !schemas.ValidRole(role) {
		badRequest(c, "unknown element role "+string(role))
		return
	}
	res, err := s.deps.Pipeline.TestElement(c.Request.Context(), role)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) startPicker(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if !schemas.ValidRole(req.Role) {
		badRequest(c, "unknown element role "+string(req.Role))
		return
	}
	res, err := s.deps.Pipeline.StartPicker(c.Request.Context(), req.Role)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) stopPicker(c *gin.Context) {
	res, err := s.deps.Pipeline.StopPicker(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Logs ---

func (s *Server) getLogs(c *gin.Context) {
	logs, err := s.deps.Store.Logs(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if logs == nil {
		logs = []schemas.LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (s *Server) clearLogs(c *gin.Context) {
	if err := s.deps.Store.ClearLogs(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
