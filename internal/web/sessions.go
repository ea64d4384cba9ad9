package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"casecal/internal/session"
)

const (
	sessionCookie = "casecal_session"
	sessionKey    = "session"
)

type sessionEntry struct {
	sess     *session.Session
	lastSeen time.Time
}

// registry maps cookie ids to calendar sessions and expires idle ones.
type registry struct {
	ttl     time.Duration
	now     func() time.Time
	factory func() *session.Session

	mu    sync.Mutex
	items map[string]*sessionEntry
}

func newRegistry(ttl time.Duration, now func() time.Time, factory func() *session.Session) *registry {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &registry{ttl: ttl, now: now, factory: factory, items: make(map[string]*sessionEntry)}
}

// get returns the session for id, creating a fresh one (with a new id) when
// id is unknown or expired.
func (r *registry) get(id string) (string, *sessionEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if e, ok := r.items[id]; ok && now.Sub(e.lastSeen) < r.ttl {
		e.lastSeen = now
		return id, e, false
	}
	id = uuid.NewString()
	e := &sessionEntry{sess: r.factory(), lastSeen: now}
	r.items[id] = e
	return id, e, true
}

// sweep drops idle sessions and returns how many were removed.
func (r *registry) sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	n := 0
	for id, e := range r.items {
		if now.Sub(e.lastSeen) >= r.ttl {
			delete(r.items, id)
			n++
		}
	}
	return n
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// withSession resolves the cookie session and loads it on first use.
func (s *Server) withSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, _ := c.Cookie(sessionCookie)
		id, e, created := s.sessions.get(cookie)
		if created {
			maxAge := int(s.sessions.ttl / time.Second)
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(sessionCookie, id, maxAge, "/", "", false, true)
		}
		// A session that never rendered (new, or its first load was
		// cancelled) loads its current position.
		if e.sess.State().Window.Start.IsZero() {
			if _, err := e.sess.Start(c.Request.Context()); err != nil && !isSuperseded(err) {
				s.log.WithError(err).Warn("session start failed")
			}
		}
		c.Set(sessionKey, e.sess)
		c.Next()
	}
}

func current(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}
