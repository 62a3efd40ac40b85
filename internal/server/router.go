package server

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/companion/internal/launch"
	mng "github.com/loykin/companion/internal/manager"
)

// Router provides embeddable HTTP handlers for editing launch records and
// inspecting tracked children.
// Endpoints:
//
//	GET {basePath}/records     the launch document
//	PUT {basePath}/records     body: launch document; replaces all records
//	GET {basePath}/processes   tracked children in spawn order
//	GET /metrics               Prometheus exposition, when enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      *mng.Manager
	basePath string
	metrics  http.Handler
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(mgr *mng.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
}

// WithMetrics serves h on /metrics. A nil handler disables the endpoint.
func (r *Router) WithMetrics(h http.Handler) *Router {
	r.metrics = h
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/records", r.handleGetRecords)
	group.PUT("/records", r.handlePutRecords)
	group.GET("/processes", r.handleProcesses)
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer binds addr and serves the router in the background. Bind errors
// are returned; call Shutdown or Close on the result to stop it.
func NewServer(addr string, r *Router) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type replaceResp struct {
	OK      bool   `json:"ok"`
	Count   int    `json:"count"`
	Warning string `json:"warning,omitempty"`
}

func (r *Router) handleGetRecords(c *gin.Context) {
	writeJSON(c, http.StatusOK, launch.Document{Executables: r.mgr.Store().GetAll()})
}

func (r *Router) handlePutRecords(c *gin.Context) {
	var doc launch.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	for i, rec := range doc.Executables {
		if !isSafePath(rec.Path) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid path at index " + strconv.Itoa(i)})
			return
		}
	}
	resp := replaceResp{OK: true, Count: len(doc.Executables)}
	if err := r.mgr.Store().ReplaceAll(doc.Executables); err != nil {
		if !errors.Is(err, launch.ErrConfigurationPersistFailure) {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		// the in-memory records stand; only the disk copy is stale
		resp.Warning = err.Error()
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleProcesses(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.Status())
}
