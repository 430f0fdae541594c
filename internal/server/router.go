// Package server exposes the local control API. It binds to loopback only;
// the drift engine itself is never exposed through it, callers get the
// supervisor's view plus the runtime's cached dashboard.
package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/driftwatch/driftwatch/internal/logbuf"
	"github.com/driftwatch/driftwatch/internal/metrics"
	"github.com/driftwatch/driftwatch/internal/runtime"
	"github.com/driftwatch/driftwatch/internal/supervisor"
)

// Router provides embeddable HTTP handlers for one supervised backend.
// Endpoints under {basePath}:
//   GET  /api/status      supervisor status and runtime stats
//   GET  /api/logs        last captured backend output lines
//   GET  /api/dashboard   cached snapshot (503 until the first good poll)
//   POST /api/start       start or adopt the backend
//   POST /api/stop        stop (owned) or disconnect (external)
//   POST /api/restart     stop then start
//   POST /api/detect      re-run external backend detection
//   POST /api/refresh     force a dashboard poll now
//   POST /api/opened      body: {"file_path": ...} editor file-activation
//   GET  /metrics         Prometheus exposition
type Router struct {
	sup      *supervisor.Supervisor
	rt       *runtime.Runtime
	opened   func(string)
	basePath string
}

// NewRouter constructs a Router. opened receives editor file-activation
// notifications; pass nil to disable the endpoint.
func NewRouter(sup *supervisor.Supervisor, rt *runtime.Runtime, opened func(string), basePath string) *Router {
	return &Router{sup: sup, rt: rt, opened: opened, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	api := group.Group("/api")
	api.GET("/status", r.handleStatus)
	api.GET("/logs", r.handleLogs)
	api.GET("/dashboard", r.handleDashboard)
	api.POST("/start", r.handleStart)
	api.POST("/stop", r.handleStop)
	api.POST("/restart", r.handleRestart)
	api.POST("/detect", r.handleDetect)
	api.POST("/refresh", r.handleRefresh)
	api.POST("/opened", r.handleOpened)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	Backend supervisor.Status `json:"backend"`
	Runtime runtime.Stats     `json:"runtime"`
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := statusResp{Backend: r.sup.Status()}
	if r.rt != nil {
		resp.Runtime = r.rt.Stats()
	}
	writeJSON(c, http.StatusOK, resp)
}

type logsResp struct {
	Lines []string `json:"lines"`
}

func (r *Router) handleLogs(c *gin.Context) {
	n := tailQuery(c, logbuf.DefaultTail)
	writeJSON(c, http.StatusOK, logsResp{Lines: r.sup.TailLogs(n)})
}

func (r *Router) handleDashboard(c *gin.Context) {
	if r.rt == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "runtime not configured"})
		return
	}
	snap := r.rt.Snapshot()
	if snap == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "no dashboard snapshot yet"})
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.sup.Start(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, r.sup.Status())
}

func (r *Router) handleStop(c *gin.Context) {
	r.sup.Stop()
	writeJSON(c, http.StatusOK, r.sup.Status())
}

func (r *Router) handleRestart(c *gin.Context) {
	// restart outlives the request connection
	if err := r.sup.Restart(context.Background()); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, r.sup.Status())
}

type detectResp struct {
	External bool              `json:"external"`
	Backend  supervisor.Status `json:"backend"`
}

func (r *Router) handleDetect(c *gin.Context) {
	ext := r.sup.DetectExisting()
	writeJSON(c, http.StatusOK, detectResp{External: ext, Backend: r.sup.Status()})
}

func (r *Router) handleRefresh(c *gin.Context) {
	if r.rt == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "runtime not configured"})
		return
	}
	// optional override for polling a different workspace
	if err := r.rt.RefreshWorkspace(c.Request.Context(), c.Query("workspace")); err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, r.rt.Snapshot())
}

type openedReq struct {
	FilePath string `json:"file_path"`
}

func (r *Router) handleOpened(c *gin.Context) {
	if r.opened == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "opened notifications not enabled"})
		return
	}
	var req openedReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.FilePath == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "file_path required"})
		return
	}
	r.opened(req.FilePath)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// tailQuery parses an optional positive "n" query parameter.
func tailQuery(c *gin.Context, def int) int {
	raw := c.Query("n")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(c *gin.Context, code int, v any) {
	c.JSON(code, v)
}
