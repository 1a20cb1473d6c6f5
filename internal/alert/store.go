package alert

import (
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/riskwatch/internal/event"
)

const (
	// DefaultCapacity bounds the store when no capacity is configured.
	DefaultCapacity = 1000

	// DefaultPageSize applies when a query gives no limit.
	DefaultPageSize = 20

	// MaxPageSize is the hard ceiling a query limit is clamped to.
	MaxPageSize = 50
)

// StoreHooks are optional instrumentation callbacks. Nil fields are skipped.
type StoreHooks struct {
	OnSize  func(n int)
	OnEvict func()
}

// Store is the bounded, append-only alert registry. Alerts are keyed by ID
// and evicted oldest-first once capacity is reached; there is no update or
// delete path. Safe for concurrent use.
type Store struct {
	capacity int
	hooks    StoreHooks

	mu    sync.RWMutex
	byID  map[string]*Alert
	order []string // insertion order, oldest first
}

// NewStore creates a Store holding at most capacity alerts.
func NewStore(capacity int, hooks StoreHooks) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		hooks:    hooks,
		byID:     make(map[string]*Alert),
	}
}

// Add stores a and evicts the oldest alerts beyond capacity. Re-adding an
// existing ID is a no-op; alerts are immutable.
func (s *Store) Add(a *Alert) {
	s.mu.Lock()
	if _, ok := s.byID[a.ID]; ok {
		s.mu.Unlock()
		return
	}
	cp := *a
	s.byID[a.ID] = &cp
	s.order = append(s.order, a.ID)

	evicted := 0
	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.byID, oldest)
		evicted++
	}
	n := len(s.order)
	s.mu.Unlock()

	for i := 0; i < evicted; i++ {
		if s.hooks.OnEvict != nil {
			s.hooks.OnEvict()
		}
	}
	if s.hooks.OnSize != nil {
		s.hooks.OnSize(n)
	}
}

// Get retrieves an alert by ID. Returns a copy.
func (s *Store) Get(id string) (*Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// GetAll returns a snapshot of every stored alert, newest first.
func (s *Store) GetAll() []*Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Alert, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		cp := *s.byID[s.order[i]]
		out = append(out, &cp)
	}
	return out
}

// Len reports how many alerts the store currently holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Query filters stored alerts. Zero-value fields match everything.
type Query struct {
	Severity     event.Severity
	Category     Category
	WithdrawalID string
	UserID       string
	Since        time.Time
	Until        time.Time
	Limit        int
	Offset       int
}

// Page is one page of query results plus the unpaginated total.
type Page struct {
	Alerts []*Alert `json:"alerts"`
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// Find returns alerts matching q, newest first, paginated. The limit is
// defaulted to DefaultPageSize and clamped to MaxPageSize; an offset past
// the end yields an empty page with the correct total.
func (s *Store) Find(q Query) *Page {
	limit := clampLimit(q.Limit)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	matched := make([]*Alert, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		a := s.byID[s.order[i]]
		if q.matches(a) {
			matched = append(matched, a)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	page := &Page{Total: total, Limit: limit, Offset: offset}
	if offset >= total {
		page.Alerts = []*Alert{}
		return page
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page.Alerts = make([]*Alert, 0, end-offset)
	for _, a := range matched[offset:end] {
		cp := *a
		page.Alerts = append(page.Alerts, &cp)
	}
	return page
}

func (q Query) matches(a *Alert) bool {
	if q.Severity != "" && a.Severity != q.Severity {
		return false
	}
	if q.Category != "" && a.Category != q.Category {
		return false
	}
	if q.WithdrawalID != "" && a.WithdrawalID != q.WithdrawalID {
		return false
	}
	if q.UserID != "" && a.UserID != q.UserID {
		return false
	}
	if !q.Since.IsZero() && a.CreatedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && a.CreatedAt.After(q.Until) {
		return false
	}
	return true
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
