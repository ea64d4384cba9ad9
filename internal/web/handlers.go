package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"casecal/internal/backend"
	"casecal/internal/deadline"
	"casecal/internal/ics"
	"casecal/internal/model"
	"casecal/internal/session"
	"casecal/internal/store"
)

func (s *Server) registerRoutes() {
	e := s.engine
	e.GET("/health", s.handleHealth)
	e.GET("/print", s.handlePrint)
	e.GET("/api/deadlines", s.handleDeadlines)

	page := e.Group("", s.withSession())
	page.GET("/", s.handlePage)
	page.GET("/calendar", s.handlePage)

	api := e.Group("/api", s.withSession())
	api.GET("/view", s.handleView)
	api.POST("/nav/next", s.navHandler((*session.Session).Next))
	api.POST("/nav/previous", s.navHandler((*session.Session).Previous))
	api.POST("/nav/today", s.navHandler((*session.Session).Today))
	api.POST("/nav/view", s.handleSetView)
	api.POST("/nav/date", s.handleGoTo)
	api.POST("/refresh", s.navHandler((*session.Session).Refresh))
	api.GET("/resources", s.handleResources)
	api.POST("/resources/:id/visibility", s.handleVisibility)
	api.POST("/resources/show-all", s.handleShowAll)
	api.POST("/conflicts/resolve", s.handleResolve)
	api.POST("/conflicts/reopen", s.handleReopen)
	api.POST("/events", s.handleCreate)
	api.GET("/export.ics", s.handleExport)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func isSuperseded(err error) bool {
	return errors.Is(err, store.ErrStale)
}

// respondState writes st, mapping navigation errors to statuses. A
// superseded navigation is not a failure; the client should wait for the
// newer response.
func respondState(c *gin.Context, st session.State, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, st)
	case isSuperseded(err):
		c.JSON(http.StatusConflict, gin.H{"error": "superseded by a newer navigation", "state": st})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "state": st})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "state": st})
	}
}

func (s *Server) handleView(c *gin.Context) {
	c.JSON(http.StatusOK, current(c).State())
}

func (s *Server) navHandler(step func(*session.Session, context.Context) (session.State, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := step(current(c), c.Request.Context())
		respondState(c, st, err)
	}
}

type viewRequest struct {
	View string `json:"view" binding:"required"`
}

func (s *Server) handleSetView(c *gin.Context) {
	var req viewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request structure"})
		return
	}
	v, err := model.ParseView(req.View)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := current(c).SetView(c.Request.Context(), v)
	respondState(c, st, err)
}

type dateRequest struct {
	Date string `json:"date" binding:"required"`
}

func (s *Server) handleGoTo(c *gin.Context) {
	var req dateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request structure"})
		return
	}
	d, err := model.ParseDate(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := current(c).GoTo(c.Request.Context(), d)
	respondState(c, st, err)
}

type resourceView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Color   string `json:"color"`
	Visible bool   `json:"visible"`
}

func (s *Server) resourceViews(sess *session.Session) []resourceView {
	all := s.deps.Resources.All()
	out := make([]resourceView, 0, len(all))
	for _, r := range all {
		out = append(out, resourceView{
			ID:      r.ID,
			Name:    r.DisplayName,
			Color:   s.palette.Color(r.ID),
			Visible: sess.IsVisible(r.ID),
		})
	}
	return out
}

func (s *Server) handleResources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"resources": s.resourceViews(current(c))})
}

type visibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

func (s *Server) handleVisibility(c *gin.Context) {
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "visible is required"})
		return
	}
	// Unknown resources are accepted: their events still render with the
	// default color and can be hidden like any other.
	c.JSON(http.StatusOK, current(c).SetVisible(c.Param("id"), *req.Visible))
}

func (s *Server) handleShowAll(c *gin.Context) {
	c.JSON(http.StatusOK, current(c).ShowAll())
}

type pairRequest struct {
	EventIDs []string `json:"event_ids" binding:"required"`
}

func bindPair(c *gin.Context) (string, string, bool) {
	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.EventIDs) != 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_ids must hold exactly two ids"})
		return "", "", false
	}
	return req.EventIDs[0], req.EventIDs[1], true
}

func (s *Server) handleResolve(c *gin.Context) {
	a, b, ok := bindPair(c)
	if !ok {
		return
	}
	st, err := current(c).Resolve(a, b)
	if errors.Is(err, session.ErrUnknownConflict) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "state": st})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleReopen(c *gin.Context) {
	a, b, ok := bindPair(c)
	if !ok {
		return
	}
	st, found := current(c).Reopen(a, b)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "conflict was not acknowledged", "state": st})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleCreate(c *gin.Context) {
	var draft model.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request structure"})
		return
	}
	ev, st, err := current(c).Create(c.Request.Context(), draft)
	var fe model.FieldErrors
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"event": ev, "state": st})
	case errors.As(err, &fe):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "fields": fe})
	case errors.Is(err, session.ErrSaveInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrReadOnly):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, backend.ErrRejected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		s.log.WithError(err).Error("create event failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not save the event, please retry"})
	}
}

func (s *Server) handleDeadlines(c *gin.Context) {
	if s.deps.Deadlines == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "deadlines are not available"})
		return
	}
	q := deadline.Query{
		Days:       30,
		Type:       strings.TrimSpace(c.Query("type")),
		Priorities: deadline.ParsePriorities(c.Query("priority")),
		Search:     c.Query("q"),
	}
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a non-negative integer"})
			return
		}
		q.Days = n
	}
	today := model.DateOf(s.deps.Now().In(s.deps.Location))
	res, err := s.deps.Deadlines.Fetch(c.Request.Context(), q, today)
	if err != nil {
		s.log.WithError(err).Error("deadlines fetch failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not load deadlines"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleExport(c *gin.Context) {
	sess := current(c)
	w := sess.Window()
	body := ics.Export(sess.Events(), s.deps.Location, s.deps.Now())
	c.Header("Content-Disposition", `attachment; filename="casecal-`+w.Start.String()+`.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}
