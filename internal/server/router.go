package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/watchcap/internal/metrics"
	"github.com/loykin/watchcap/internal/store"
	"github.com/loykin/watchcap/internal/supervisor"
)

// Router provides embeddable HTTP handlers for the supervisor control API.
// Endpoints:
//
//	GET  {basePath}/status   current supervisor status
//	POST {basePath}/reset    operator reset out of Halted
//	POST {basePath}/stop     stop the pipeline and shut the supervisor down
//	GET  {basePath}/events   recent persisted events (history store required)
//	GET  {basePath}/metrics  prometheus metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	history  store.Store // optional
	basePath string
}

func NewRouter(sup *supervisor.Supervisor, history store.Store, basePath string) *Router {
	return &Router{sup: sup, history: history, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/reset", r.handleReset)
	group.POST("/stop", r.handleStop)
	group.GET("/events", r.handleEvents)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router. Callers
// shut it down via the returned server's Close/Shutdown.
func NewServer(addr, basePath string, sup *supervisor.Supervisor, history store.Store) (*http.Server, error) {
	r := NewRouter(sup, history, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Status())
}

func (r *Router) handleReset(c *gin.Context) {
	if err := r.sup.Reset(); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	// The reply races the server's own shutdown; answer before stopping.
	writeJSON(c, http.StatusOK, okResp{OK: true})
	go func() { _ = r.sup.Stop() }()
}

func (r *Router) handleEvents(c *gin.Context) {
	if r.history == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "event history store not enabled"})
		return
	}
	limit := 100
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	evs, err := r.history.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, evs)
}
