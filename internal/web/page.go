package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"casecal/internal/grid"
	"casecal/internal/model"
	"casecal/internal/session"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var pageTemplate = template.Must(template.New("calendar.html.tmpl").Funcs(template.FuncMap{
	"pct": pct,
	// left and width place tied items side by side in their anchor cell.
	"left":  func(it grid.Item) string { return pct(float64(it.Slot) * it.Width()) },
	"width": func(it grid.Item) string { return pct(it.Width()) },
}).ParseFS(templateFS, "templates/calendar.html.tmpl"))

func pct(f float64) string { return fmt.Sprintf("%.2f%%", f*100) }

type pageData struct {
	State     session.State
	Resources []resourceView
	Layout    grid.Layout
	Views     []model.View
	Types     []model.EventType
	// Print hides the interactive controls.
	Print bool
}

func (s *Server) layout() grid.Layout {
	cfg := s.deps.Config
	return grid.Layout{
		DayStartHour:   cfg.DayStartHour,
		DayEndHour:     cfg.DayEndHour,
		MonthCellLimit: cfg.MonthCellLimit,
		TitleMaxLen:    cfg.TitleMaxLen,
	}
}

// positionFromQuery reads optional view and date parameters.
func positionFromQuery(c *gin.Context) (model.View, model.Date, error) {
	var view model.View
	var date model.Date
	if v := c.Query("view"); v != "" {
		pv, err := model.ParseView(v)
		if err != nil {
			return "", model.Date{}, err
		}
		view = pv
	}
	if d := c.Query("date"); d != "" {
		pd, err := model.ParseDate(d)
		if err != nil {
			return "", model.Date{}, err
		}
		date = pd
	}
	return view, date, nil
}

func (s *Server) handlePage(c *gin.Context) {
	sess := current(c)
	view, date, err := positionFromQuery(c)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()
	if view != "" {
		if _, err := sess.SetView(ctx, view); err != nil && !isSuperseded(err) {
			s.log.WithError(err).Warn("page set view failed")
		}
	}
	if !date.IsZero() {
		if _, err := sess.GoTo(ctx, date); err != nil && !isSuperseded(err) {
			s.log.WithError(err).Warn("page go to failed")
		}
	}
	s.renderPage(c, sess, false)
}

// handlePrint renders a throwaway session for snapshots. It never touches
// the cookie sessions.
func (s *Server) handlePrint(c *gin.Context) {
	view, date, err := positionFromQuery(c)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	sess := s.sessionAt(view, date)
	if _, err := sess.Start(c.Request.Context()); err != nil {
		c.String(http.StatusServiceUnavailable, err.Error())
		return
	}
	s.renderPage(c, sess, true)
}

func (s *Server) renderPage(c *gin.Context, sess *session.Session, print bool) {
	data := pageData{
		State:     sess.State(),
		Resources: s.resourceViews(sess),
		Layout:    s.layout(),
		Views:     []model.View{model.ViewDay, model.ViewWeek, model.ViewMonth},
		Types:     model.EventTypes(),
		Print:     print,
	}
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		s.log.WithError(err).Error("page render failed")
		c.String(http.StatusInternalServerError, "render failed")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
