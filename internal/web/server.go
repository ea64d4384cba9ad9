// Package web serves the calendar page and its JSON API.
package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"casecal/internal/cache"
	"casecal/internal/config"
	"casecal/internal/deadline"
	"casecal/internal/grid"
	"casecal/internal/ics"
	appLog "casecal/internal/log"
	"casecal/internal/model"
	"casecal/internal/session"
	"casecal/internal/store"
)

// Deps are the long-lived collaborators shared by every session.
type Deps struct {
	Config    *config.Config
	Location  *time.Location
	Resources *model.Resources

	// Primary is the events API; Creator saves new events. Creator may be
	// nil for a read-only calendar.
	Primary store.Source
	Creator session.Creator

	// Optional.
	Feeds     *ics.Feeds
	Deadlines *deadline.Service
	Cache     *cache.Cache

	Now func() time.Time
}

// Server provides the Web UI and API.
type Server struct {
	deps     Deps
	engine   *gin.Engine
	sessions *registry
	palette  grid.Palette
	log      *logrus.Entry
}

// NewServer builds the gin engine and session registry.
func NewServer(deps Deps) *Server {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config == nil {
		deps.Config = config.DefaultConfig()
	}

	s := &Server{
		deps:    deps,
		palette: grid.NewPalette(deps.Resources),
		log:     logrus.NewEntry(appLog.Logger()),
	}
	ttl := time.Duration(deps.Config.SessionTTLMinutes) * time.Minute
	s.sessions = newRegistry(ttl, deps.Now, s.newSession)

	e := gin.New()
	e.Use(gin.Recovery(), requestID(), s.requestLogger())
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		e.Use(s.basicAuth())
	}
	s.engine = e
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// newSession creates a calendar session with its own event store, opened on
// today in the configured default view.
func (s *Server) newSession() *session.Session {
	return s.sessionAt("", model.Date{})
}

// sessionAt creates a session positioned at view and anchor. Zero values use
// the defaults.
func (s *Server) sessionAt(view model.View, anchor model.Date) *session.Session {
	var extras []store.Source
	if s.deps.Feeds != nil && s.deps.Feeds.Len() > 0 {
		extras = append(extras, s.deps.Feeds)
	}
	cfg := s.deps.Config
	if view == "" {
		v, err := model.ParseView(cfg.DefaultView)
		if err != nil {
			v = model.ViewWeek
		}
		view = v
	}
	return session.New(store.New(s.deps.Primary, extras...), s.deps.Creator, session.Options{
		View:      view,
		Anchor:    anchor,
		WeekStart: model.ParseWeekStart(cfg.WeekStart),
		Location:  s.deps.Location,
		Resources: s.deps.Resources,
		Layout: grid.Layout{
			DayStartHour:   cfg.DayStartHour,
			DayEndHour:     cfg.DayEndHour,
			MonthCellLimit: cfg.MonthCellLimit,
			TitleMaxLen:    cfg.TitleMaxLen,
		},
		Now: s.deps.Now,
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully. The
// scheduler runs alongside the server.
func (s *Server) Run(ctx context.Context) error {
	sched, err := NewScheduler(s.deps, s.sessions)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:              s.deps.Config.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

const requestIDHeader = "X-Request-ID"

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := s.log.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
		})
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request")
		case c.Request.URL.Path == "/health":
			entry.Debug("request")
		default:
			entry.Info("request")
		}
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	ba := s.deps.Config.BasicAuth
	// Empty credentials disable auth.
	return ba != nil && ba.Username != "" && ba.Password != ""
}

// basicAuth guards every route except /health.
func (s *Server) basicAuth() gin.HandlerFunc {
	username := s.deps.Config.BasicAuth.Username
	password := s.deps.Config.BasicAuth.Password
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		u, p, ok := c.Request.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			c.Header("WWW-Authenticate", `Basic realm="casecal", charset="UTF-8"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
