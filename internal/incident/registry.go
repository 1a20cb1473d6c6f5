package incident

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/riskwatch/internal/alert"
	"github.com/linnemanlabs/riskwatch/internal/event"
)

const (
	// DefaultCapacity bounds how many incidents the registry retains.
	DefaultCapacity = 1000

	// DefaultPageSize applies when a query gives no limit.
	DefaultPageSize = 20

	// MaxPageSize is the hard ceiling a query limit is clamped to.
	MaxPageSize = 50
)

// ErrNotFound is returned when an incident lookup by ID misses. It is the
// only error this pipeline surfaces to callers.
var ErrNotFound = xerrors.New("incident not found")

// RegistryHooks are optional instrumentation callbacks. Nil fields are
// skipped.
type RegistryHooks struct {
	OnCreated func(severity string)
	OnFolded  func()
	OnEvicted func()
	OnCounts  func(open, stale int)
}

// Registry folds alerts into incidents. It is the stateful orchestrator
// around the pure correlation rules: it keys live incidents, maintains the
// alert-to-incident reverse index, derives staleness after every mutation,
// and evicts oldest-first at capacity. All mutable state sits behind one
// lock.
type Registry struct {
	logger    log.Logger
	hooks     RegistryHooks
	capacity  int
	staleness time.Duration
	now       func() time.Time

	mu      sync.Mutex
	byID    map[string]*Incident
	byKey   map[string]string         // correlation key -> incident ID
	byAlert map[string]string         // alert ID -> incident ID
	members map[string][]*alert.Alert // incident ID -> member alerts
}

// Options tune the registry. Zero values fall back to defaults.
type Options struct {
	Capacity  int
	Staleness time.Duration
	Now       func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger log.Logger, hooks RegistryHooks, opts Options) *Registry {
	if logger == nil {
		logger = log.Nop()
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	staleness := opts.Staleness
	if staleness <= 0 {
		staleness = DefaultStalenessThreshold
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		logger:    logger,
		hooks:     hooks,
		capacity:  capacity,
		staleness: staleness,
		now:       now,
		byID:      make(map[string]*Incident),
		byKey:     make(map[string]string),
		byAlert:   make(map[string]string),
		members:   make(map[string][]*alert.Alert),
	}
}

// HandleAlert correlates one alert into the registry. It matches the
// alerting engine's Sink signature, so wiring is engine.AddSink(r.HandleAlert).
func (r *Registry) HandleAlert(ctx context.Context, a *alert.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.correlate(ctx, a)
	r.refreshStatuses()
}

// SeedFromStore folds every alert currently in the store, oldest first.
// Used to rebuild incidents from an existing alert snapshot; new alerts
// still arrive through HandleAlert, so incidents keep forming afterwards.
func (r *Registry) SeedFromStore(ctx context.Context, store *alert.Store) {
	alerts := store.GetAll() // newest first
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(alerts) - 1; i >= 0; i-- {
		r.correlate(ctx, alerts[i])
	}
	r.refreshStatuses()
	r.logger.Info(ctx, "incident registry seeded",
		"alerts", len(alerts), "incidents", len(r.byID))
}

// correlate applies the key rules and either folds a into a live incident or
// starts a singleton. Caller holds the lock.
func (r *Registry) correlate(ctx context.Context, a *alert.Alert) {
	if _, dup := r.byAlert[a.ID]; dup {
		return
	}
	now := r.now()
	key := CorrelationKey(a)

	if incID, ok := r.byKey[key]; ok {
		inc := r.byID[incID]
		if inc != nil && !IsStale(inc, now, r.staleness) && ShouldCorrelate(a, inc) {
			cp := *a
			members := append(r.members[incID], &cp)
			r.members[incID] = members
			r.byID[incID] = Fold(inc, members)
			r.byAlert[a.ID] = incID
			if r.hooks.OnFolded != nil {
				r.hooks.OnFolded()
			}
			r.logger.Info(ctx, "alert folded into incident",
				"incident_id", incID, "alert_id", a.ID, "alert_count", len(members))
			return
		}
	}

	cp := *a
	inc := New([]*alert.Alert{&cp})
	r.byID[inc.ID] = inc
	r.byKey[key] = inc.ID
	r.byAlert[a.ID] = inc.ID
	r.members[inc.ID] = []*alert.Alert{&cp}
	if r.hooks.OnCreated != nil {
		r.hooks.OnCreated(string(inc.Severity))
	}
	r.logger.Info(ctx, "incident created",
		"incident_id", inc.ID, "key", key, "alert_id", a.ID,
		"severity", string(inc.Severity))

	r.evictOverCapacity(ctx)
}

// evictOverCapacity drops oldest-by-firstSeen incidents beyond capacity,
// cleaning the key and reverse indexes with them. Caller holds the lock.
func (r *Registry) evictOverCapacity(ctx context.Context) {
	for len(r.byID) > r.capacity {
		var oldest *Incident
		for _, inc := range r.byID {
			if oldest == nil || inc.FirstSeenAt.Before(oldest.FirstSeenAt) {
				oldest = inc
			}
		}
		if oldest == nil {
			return
		}
		delete(r.byID, oldest.ID)
		for _, id := range oldest.AlertIDs {
			delete(r.byAlert, id)
		}
		for key, id := range r.byKey {
			if id == oldest.ID {
				delete(r.byKey, key)
			}
		}
		delete(r.members, oldest.ID)
		if r.hooks.OnEvicted != nil {
			r.hooks.OnEvicted()
		}
		r.logger.Info(ctx, "incident evicted at capacity",
			"incident_id", oldest.ID, "first_seen_at", oldest.FirstSeenAt)
	}
}

// refreshStatuses re-derives OPEN/STALE for every incident. Caller holds the
// lock. Pull-based: there is no timer, so statuses move only on mutation or
// read.
func (r *Registry) refreshStatuses() {
	now := r.now()
	open, stale := 0, 0
	for _, inc := range r.byID {
		if IsStale(inc, now, r.staleness) {
			inc.Status = StatusStale
			stale++
		} else {
			inc.Status = StatusOpen
			open++
		}
	}
	if r.hooks.OnCounts != nil {
		r.hooks.OnCounts(open, stale)
	}
}

// Len reports how many incidents the registry currently holds.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// GetAll returns a status-refreshed snapshot of every incident, most
// recently active first.
func (r *Registry) GetAll() []*Incident {
	r.mu.Lock()
	r.refreshStatuses()
	out := make([]*Incident, 0, len(r.byID))
	for _, inc := range r.byID {
		out = append(out, inc.clone())
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})
	return out
}

// GetByID resolves an incident and its full member alerts.
func (r *Registry) GetByID(id string) (*WithAlerts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inc, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.refreshStatuses()
	out := &WithAlerts{Incident: *inc.clone()}
	for _, a := range r.members[id] {
		cp := *a
		out.Alerts = append(out.Alerts, &cp)
	}
	return out, nil
}

// IncidentForAlert resolves which incident an alert was folded into.
func (r *Registry) IncidentForAlert(alertID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byAlert[alertID]
	return id, ok
}

// Query filters incidents. Zero-value fields match everything; Since/Until
// apply to LastSeenAt.
type Query struct {
	Severity     event.Severity
	Category     alert.Category
	Status       Status
	WithdrawalID string
	UserID       string
	Since        time.Time
	Until        time.Time
	Limit        int
	Offset       int
}

// Page is one page of query results plus the unpaginated total.
type Page struct {
	Incidents []*Incident `json:"incidents"`
	Total     int         `json:"total"`
	Limit     int         `json:"limit"`
	Offset    int         `json:"offset"`
}

// Find returns incidents matching q sorted by LastSeenAt descending. The
// limit defaults to DefaultPageSize and is clamped to MaxPageSize; an
// offset past the end yields an empty page with the correct total.
func (r *Registry) Find(q Query) *Page {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	r.mu.Lock()
	r.refreshStatuses()
	matched := make([]*Incident, 0, len(r.byID))
	for _, inc := range r.byID {
		if q.matches(inc) {
			matched = append(matched, inc.clone())
		}
	}
	r.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].LastSeenAt.After(matched[j].LastSeenAt)
	})

	total := len(matched)
	page := &Page{Total: total, Limit: limit, Offset: offset}
	if offset >= total {
		page.Incidents = []*Incident{}
		return page
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page.Incidents = matched[offset:end]
	return page
}

func (q Query) matches(inc *Incident) bool {
	if q.Severity != "" && inc.Severity != q.Severity {
		return false
	}
	if q.Category != "" && inc.Category != q.Category {
		return false
	}
	if q.Status != "" && inc.Status != q.Status {
		return false
	}
	if q.WithdrawalID != "" && inc.WithdrawalID != q.WithdrawalID {
		return false
	}
	if q.UserID != "" && inc.UserID != q.UserID {
		return false
	}
	if !q.Since.IsZero() && inc.LastSeenAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && inc.LastSeenAt.After(q.Until) {
		return false
	}
	return true
}
