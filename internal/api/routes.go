package api

import (
	"context"
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"forumsign/internal/storage"
	logx "forumsign/pkg/logx"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	defaultRunTimeout   = 3 * time.Minute
)

// Handler builds the gin engine for the current config.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	r := gin.New()
	r.Use(s.requestLog(), gin.CustomRecovery(func(c *gin.Context, rec any) {
		s.log.Error("api handler panic", logx.Any("panic", rec), logx.String("path", c.Request.URL.Path))
		fail(c, http.StatusInternalServerError, "internal error")
	}))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	auth := bearerAuth(cfg.Token)
	g := r.Group("/api", auth)
	g.GET("/plugins", s.listPlugins)
	g.GET("/plugins/:name/state", s.pluginState)
	g.GET("/plugins/:name/history", s.pluginHistory)
	g.DELETE("/plugins/:name/history", s.clearHistory)
	g.GET("/plugins/:name/stats", s.pluginStats)
	g.POST("/plugins/:name/run", s.runPlugin)
	g.GET("/scheduler", s.schedulerSnapshot)

	if cfg.Pprof {
		d := r.Group("/debug/pprof", auth)
		d.GET("/", gin.WrapF(hpprof.Index))
		d.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
		d.GET("/profile", gin.WrapF(hpprof.Profile))
		d.Any("/symbol", gin.WrapF(hpprof.Symbol))
		d.GET("/trace", gin.WrapF(hpprof.Trace))
		d.GET("/:profile", gin.WrapF(hpprof.Index))
	}
	return r
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=.
func bearerAuth(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		got := c.Query("token")
		if got == "" {
			parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				got = strings.TrimSpace(parts[1])
			}
		}
		if got != tok {
			c.Header("WWW-Authenticate", "Bearer")
			fail(c, http.StatusUnauthorized, "unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
		if c.Request.URL.Path == "/healthz" {
			return
		}
		s.log.Debug("api request",
			logx.String("request_id", id),
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

func (s *Server) listPlugins(c *gin.Context) {
	ok(c, s.plugins.Snapshot())
}

func (s *Server) pluginState(c *gin.Context) {
	st, err := s.plugins.State(c.Request.Context(), c.Param("name"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, st)
}

func (s *Server) pluginHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fail(c, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	recs, err := s.plugins.History(c.Request.Context(), c.Param("name"), limit)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, recs)
}

func (s *Server) clearHistory(c *gin.Context) {
	name := c.Param("name")
	start := time.Now()
	err := s.plugins.ClearHistory(c.Request.Context(), name)
	s.audit(c.Request.Context(), name, "clear_history", start, err, nil)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"plugin": name})
}

func (s *Server) pluginStats(c *gin.Context) {
	refresh, _ := strconv.ParseBool(c.DefaultQuery("refresh", "false"))
	st, err := s.plugins.Stats(c.Request.Context(), c.Param("name"), refresh)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, st)
}

func (s *Server) runPlugin(c *gin.Context) {
	name := c.Param("name")
	s.mu.Lock()
	timeout := s.cfg.RunTimeout
	s.mu.Unlock()
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}

	start := time.Now()
	id, err := s.plugins.Trigger(name, timeout)
	s.audit(c.Request.Context(), name, "run", start, err, map[string]string{"job_id": id})
	if err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusAccepted, 0, "queued", gin.H{"plugin": name, "job_id": id})
}

func (s *Server) schedulerSnapshot(c *gin.Context) {
	if s.sched == nil {
		fail(c, http.StatusServiceUnavailable, "scheduler not available")
		return
	}
	ok(c, s.sched.Snapshot())
}

func (s *Server) audit(ctx context.Context, name, action string, start time.Time, err error, meta map[string]string) {
	if s.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:     start,
		Actor:  "api",
		Plugin: name,
		Action: action,
		OK:     err == nil,
		TookMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if len(meta) > 0 {
		if b, jerr := json.Marshal(meta); jerr == nil {
			e.MetaJSON = string(b)
		}
	}
	if aerr := s.store.AppendAudit(ctx, e); aerr != nil {
		s.log.Warn("audit append failed", logx.Err(aerr))
	}
}
