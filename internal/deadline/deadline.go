// Package deadline serves the deadline list: the backend query plus the
// priority and free-text filters applied locally.
package deadline

import (
	"context"
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"

	"casecal/internal/backend"
	appLog "casecal/internal/log"
	"casecal/internal/model"
)

// similarityThreshold is the Jaro-Winkler score above which a search term
// matches a word it does not literally contain (typos, transpositions).
const similarityThreshold = 0.8

// minFuzzyLen keeps short terms to exact substring matching.
const minFuzzyLen = 4

// Lister is the backend call the service needs.
type Lister interface {
	Deadlines(ctx context.Context, q backend.DeadlineQuery) (backend.DeadlineList, error)
}

// Query combines server-side and local filters.
type Query struct {
	Days       int
	Type       string
	Priorities []model.Priority
	Search     string
}

type Item struct {
	model.Deadline
	Overdue  bool `json:"overdue"`
	DueToday bool `json:"due_today"`
	DaysLeft int  `json:"days_left"`
}

type Summary struct {
	Total      int                    `json:"total"`
	Overdue    int                    `json:"overdue"`
	DueToday   int                    `json:"due_today"`
	ByPriority map[model.Priority]int `json:"by_priority"`
}

type Result struct {
	Items    []Item         `json:"deadlines"`
	Summary  Summary        `json:"summary"`
	Upstream map[string]any `json:"upstream_summary,omitempty"`
	Rejected int            `json:"rejected"`
	Warning  string         `json:"warning,omitempty"`
}

// Service fetches and filters deadlines.
type Service struct {
	lister Lister
}

func NewService(l Lister) *Service {
	return &Service{lister: l}
}

// Fetch runs q against the backend and filters, sorts and summarizes the
// result relative to today.
func (s *Service) Fetch(ctx context.Context, q Query, today model.Date) (Result, error) {
	// A single priority is passed to the server; several are filtered here.
	bq := backend.DeadlineQuery{Days: q.Days, Type: q.Type}
	if len(q.Priorities) == 1 {
		bq.Priority = string(q.Priorities[0])
	}
	list, err := s.lister.Deadlines(ctx, bq)
	if err != nil {
		return Result{}, err
	}

	items := Filter(list.Deadlines, q, today)
	res := Result{
		Items:    items,
		Summary:  Summarize(items),
		Upstream: list.Summary,
		Rejected: list.Rejected,
	}
	if list.Warning != nil {
		res.Warning = list.Warning.Error()
	}
	appLog.Debug("deadlines fetched", "upstream", len(list.Deadlines), "shown", len(items), "search", q.Search)
	return res, nil
}

// Filter applies the local priority and search filters and sorts: overdue
// first, then priority (urgent to low), then date and time.
func Filter(deadlines []model.Deadline, q Query, today model.Date) []Item {
	allowed := make(map[model.Priority]bool, len(q.Priorities))
	for _, p := range q.Priorities {
		allowed[p] = true
	}
	terms := strings.Fields(strings.ToLower(q.Search))

	out := make([]Item, 0, len(deadlines))
	for _, d := range deadlines {
		if len(allowed) > 0 && !allowed[d.Priority] {
			continue
		}
		if len(terms) > 0 && !matches(d, terms) {
			continue
		}
		left := today.DaysUntil(d.Date)
		out = append(out, Item{Deadline: d, Overdue: left < 0, DueToday: left == 0, DaysLeft: left})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Overdue != b.Overdue {
			return a.Overdue
		}
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra > rb
		}
		if c := a.Date.Compare(b.Date); c != 0 {
			return c < 0
		}
		if a.HasTime != b.HasTime {
			return a.HasTime
		}
		return a.Time < b.Time
	})
	return out
}

// matches requires every term to hit the title, case ref or client ref as a
// substring, or to be a close match of a title word.
func matches(d model.Deadline, terms []string) bool {
	title := strings.ToLower(d.Title)
	refs := []string{strings.ToLower(d.CaseRef), strings.ToLower(d.ClientRef)}
	for _, term := range terms {
		if !termMatches(term, title, refs) {
			return false
		}
	}
	return true
}

func termMatches(term, title string, refs []string) bool {
	if strings.Contains(title, term) {
		return true
	}
	for _, r := range refs {
		if r != "" && strings.Contains(r, term) {
			return true
		}
	}
	if len(term) < minFuzzyLen {
		return false
	}
	for _, word := range strings.Fields(title) {
		if edlib.JaroWinklerSimilarity(term, word) >= similarityThreshold {
			return true
		}
	}
	return false
}

// Summarize counts items by status and priority.
func Summarize(items []Item) Summary {
	s := Summary{Total: len(items), ByPriority: map[model.Priority]int{
		model.PriorityUrgent: 0,
		model.PriorityHigh:   0,
		model.PriorityMedium: 0,
		model.PriorityLow:    0,
	}}
	for _, it := range items {
		if it.Overdue {
			s.Overdue++
		}
		if it.DueToday {
			s.DueToday++
		}
		s.ByPriority[it.Priority]++
	}
	return s
}

// ParsePriorities splits a comma-separated list, dropping unknown values.
func ParsePriorities(s string) []model.Priority {
	var out []model.Priority
	for _, part := range strings.Split(s, ",") {
		if p, ok := model.LookupPriority(part); ok {
			out = append(out, p)
		}
	}
	return out
}
