// Package registry implements the capability registry: the
// in-memory-plus-persisted catalog of resource servers and their tools,
// with cursor-based paginated search, a validated server status machine,
// and best-effort/transactional bulk operations.
//
// The store is split into an interface contract and a concrete
// sqlx-backed implementation, so the registry logic itself stays
// storage-agnostic and testable against an in-memory fake.
package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Status is a Server's position in its lifecycle status machine.
type Status string

const (
	StatusRegistered    Status = "registered"
	StatusActive        Status = "active"
	StatusInactive       Status = "inactive"
	StatusUnhealthy      Status = "unhealthy"
	StatusDecommissioned Status = "decommissioned"
)

// allowedTransitions enumerates every valid Status -> Status edge. A
// transition not present here is rejected.
var allowedTransitions = map[Status]map[Status]bool{
	StatusRegistered: {StatusActive: true, StatusDecommissioned: true},
	StatusActive:     {StatusInactive: true, StatusUnhealthy: true, StatusDecommissioned: true},
	StatusInactive:   {StatusActive: true, StatusDecommissioned: true},
	StatusUnhealthy:  {StatusActive: true, StatusDecommissioned: true},
}

// Transport is a Server's downstream protocol kind.
type Transport string

const (
	TransportHTTP     Transport = "http"
	TransportGRPC     Transport = "grpc"
	TransportDatabase Transport = "database"
	TransportStdio    Transport = "stdio"
)

// Sensitivity mirrors classifier.Sensitivity without importing it.
type Sensitivity string

const (
	SensitivityCritical Sensitivity = "critical"
	SensitivityHigh     Sensitivity = "high"
	SensitivityMedium   Sensitivity = "medium"
	SensitivityLow      Sensitivity = "low"
)

// Server is a registered downstream MCP endpoint.
type Server struct {
	ID           string
	Name         string
	Description  string
	Transport    Transport
	Endpoint     string
	Capabilities []string // tool/resource/prompt names declared at registration
	Sensitivity  Sensitivity
	OwnerID      string
	Teams        []string
	Status       Status
	Tags         []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Capability is a tool exposed by a Server.
type Capability struct {
	ID               string
	ServerID         string
	Name             string
	Description      string
	InputSchema      map[string]any
	Sensitivity      Sensitivity
	RequiresApproval bool
}

// Query is the AND-combined search predicate set for server search.
type Query struct {
	Status        []Status
	Sensitivity   []Sensitivity
	Team          string
	OwnerID       string
	Tags          []string
	MatchAllTags  bool
	Search        string // free text over name and description
	SortDescending bool
}

// Cursor encodes (sort_key, last_id): the created_at timestamp of the last
// item on the previous page plus its id, to disambiguate equal timestamps.
type Cursor struct {
	SortKey time.Time
	LastID  string
}

// EncodeCursor serializes a Cursor to an opaque page token.
func EncodeCursor(c Cursor) string {
	raw, _ := json.Marshal(struct {
		T string `json:"t"`
		I string `json:"i"`
	}{T: c.SortKey.Format(time.RFC3339Nano), I: c.LastID})
	return base64.URLEncoding.EncodeToString(raw)
}

// DecodeCursor parses an opaque page token back into a Cursor.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("registry: invalid cursor: %w", err)
	}
	var parsed struct {
		T string `json:"t"`
		I string `json:"i"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Cursor{}, fmt.Errorf("registry: invalid cursor: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, parsed.T)
	if err != nil {
		return Cursor{}, fmt.Errorf("registry: invalid cursor timestamp: %w", err)
	}
	return Cursor{SortKey: ts, LastID: parsed.I}, nil
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Page is one paginated slice of search results.
type Page struct {
	Servers    []Server
	NextCursor string
	HasMore    bool
	Total      *int // only populated when IncludeTotal is requested
}

// BulkMode selects how BulkRegister/BulkUpdate handle partial failure.
type BulkMode string

const (
	BulkBestEffort   BulkMode = "best_effort"
	BulkTransactional BulkMode = "transactional"
)

// BulkItemResult is one item's outcome within a BulkResult.
type BulkItemResult struct {
	Index  int
	ID     string
	Reason string // present only on failure
}

// BulkResult summarizes a bulk operation as the items that succeeded and
// the items that failed, each with its own reason.
type BulkResult struct {
	Succeeded []BulkItemResult
	Failed    []BulkItemResult
}

// Store is the persistence contract a Registry delegates to. SQLStore
// (internal/store-backed, sqlite by default / pgx in clustered
// deployments) is the production implementation.
type Store interface {
	Upsert(ctx context.Context, s Server) error
	Get(ctx context.Context, id string) (Server, bool, error)
	List(ctx context.Context) ([]Server, error)
	Delete(ctx context.Context, id string) error
}

// MemStore is an in-memory Store, sufficient for tests and single-process
// deployments with no configured database.
type MemStore struct {
	mu      sync.RWMutex
	servers map[string]Server
}

func NewMemStore() *MemStore {
	return &MemStore{servers: make(map[string]Server)}
}

func (m *MemStore) Upsert(_ context.Context, s Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[s.ID] = s
	return nil
}

func (m *MemStore) Get(_ context.Context, id string) (Server, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[id]
	return s, ok, nil
}

func (m *MemStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.servers, id)
	return nil
}

func (m *MemStore) List(_ context.Context) ([]Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Server, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, s)
	}
	return out, nil
}

// Registry exposes register/list/search/bulk over a Store, with an
// invalidation hook for any read cache sitting in front of it: updates
// always go through the persistence layer first and invalidate any
// caches afterward.
type Registry struct {
	store      Store
	logger     *slog.Logger
	onMutate   func(serverID string)
	nowFn      func() time.Time
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option { return func(r *Registry) { r.logger = logger } }

// WithInvalidation registers a callback fired on every successful mutation
// so an in-front read cache (if any) can evict the affected entry.
func WithInvalidation(fn func(serverID string)) Option {
	return func(r *Registry) { r.onMutate = fn }
}

func WithClock(fn func() time.Time) Option { return func(r *Registry) { r.nowFn = fn } }

func New(store Store, opts ...Option) *Registry {
	if store == nil {
		store = NewMemStore()
	}
	r := &Registry{store: store, logger: slog.Default(), nowFn: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry.Registry")
	return r
}

// RegisterServer creates a new Server in StatusRegistered. An empty ID is
// assigned a fresh ULID (sortable, for cursor pagination in List); an ID
// supplied by the caller is assumed to originate from an external CMDB
// or discovery tool and must be a valid RFC 4122 UUID, never a bare
// opaque string, so a typo in that field fails loudly here rather than
// surfacing later as an unmatched foreign key.
func (r *Registry) RegisterServer(ctx context.Context, s Server) (Server, error) {
	if s.Name == "" {
		return Server{}, fmt.Errorf("registry: server name required")
	}
	now := r.nowFn()
	if s.ID == "" {
		s.ID = ulid.Make().String()
	} else if _, err := uuid.Parse(s.ID); err != nil {
		return Server{}, fmt.Errorf("registry: externally supplied server id %q is not a valid uuid: %w", s.ID, err)
	}
	s.Status = StatusRegistered
	s.CreatedAt = now
	s.UpdatedAt = now
	if err := r.store.Upsert(ctx, s); err != nil {
		return Server{}, fmt.Errorf("registry: register: %w", err)
	}
	r.invalidate(s.ID)
	r.logger.Info("server registered", "server_id", s.ID, "name", s.Name)
	return s, nil
}

// UpdateServerStatus validates and applies a status transition.
func (r *Registry) UpdateServerStatus(ctx context.Context, id string, newStatus Status) (Server, error) {
	s, ok, err := r.store.Get(ctx, id)
	if err != nil {
		return Server{}, fmt.Errorf("registry: get: %w", err)
	}
	if !ok {
		return Server{}, fmt.Errorf("registry: server %s not found", id)
	}
	if s.Status == newStatus {
		return s, nil
	}
	if !allowedTransitions[s.Status][newStatus] {
		return Server{}, fmt.Errorf("registry: invalid transition %s -> %s", s.Status, newStatus)
	}
	s.Status = newStatus
	s.UpdatedAt = r.nowFn()
	if err := r.store.Upsert(ctx, s); err != nil {
		return Server{}, fmt.Errorf("registry: update status: %w", err)
	}
	r.invalidate(id)
	return s, nil
}

// GetServer fetches a single Server by id.
func (r *Registry) GetServer(ctx context.Context, id string) (Server, bool, error) {
	return r.store.Get(ctx, id)
}

// ListServers runs q over the catalog, sorted by CreatedAt, paginated by
// cursor. A pageSize <= 0 means DefaultPageSize; one above MaxPageSize is
// cut to MaxPageSize.
func (r *Registry) ListServers(ctx context.Context, q Query, pageSize int, cursorToken string, includeTotal bool) (Page, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	cursor, err := DecodeCursor(cursorToken)
	if err != nil {
		return Page{}, err
	}

	all, err := r.store.List(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("registry: list: %w", err)
	}

	matched := make([]Server, 0, len(all))
	for _, s := range all {
		if matches(s, q) {
			matched = append(matched, s)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if q.SortDescending {
			return sortKeyLess(matched[j], matched[i])
		}
		return sortKeyLess(matched[i], matched[j])
	})

	start := 0
	if !cursor.SortKey.IsZero() || cursor.LastID != "" {
		for i, s := range matched {
			if afterCursor(s, cursor, q.SortDescending) {
				start = i
				break
			}
			start = i + 1
		}
	}

	end := start + pageSize
	hasMore := end < len(matched)
	if end > len(matched) {
		end = len(matched)
	}
	page := matched[start:end]

	var next string
	if hasMore && len(page) > 0 {
		last := page[len(page)-1]
		next = EncodeCursor(Cursor{SortKey: last.CreatedAt, LastID: last.ID})
	}

	result := Page{Servers: page, NextCursor: next, HasMore: hasMore}
	if includeTotal {
		total := len(matched)
		result.Total = &total
	}
	return result, nil
}

func sortKeyLess(a, b Server) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func afterCursor(s Server, c Cursor, desc bool) bool {
	if s.CreatedAt.Equal(c.SortKey) {
		if desc {
			return s.ID < c.LastID
		}
		return s.ID > c.LastID
	}
	if desc {
		return s.CreatedAt.Before(c.SortKey)
	}
	return s.CreatedAt.After(c.SortKey)
}

func matches(s Server, q Query) bool {
	if len(q.Status) > 0 && !containsStatus(q.Status, s.Status) {
		return false
	}
	if len(q.Sensitivity) > 0 && !containsSensitivity(q.Sensitivity, s.Sensitivity) {
		return false
	}
	if q.Team != "" && !containsString(s.Teams, q.Team) {
		return false
	}
	if q.OwnerID != "" && s.OwnerID != q.OwnerID {
		return false
	}
	if len(q.Tags) > 0 {
		if q.MatchAllTags {
			for _, tag := range q.Tags {
				if !containsString(s.Tags, tag) {
					return false
				}
			}
		} else {
			any := false
			for _, tag := range q.Tags {
				if containsString(s.Tags, tag) {
					any = true
					break
				}
			}
			if !any {
				return false
			}
		}
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(s.Name), needle) &&
			!strings.Contains(strings.ToLower(s.Description), needle) {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func containsStatus(haystack []Status, needle Status) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func containsSensitivity(haystack []Sensitivity, needle Sensitivity) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

// BulkRegister registers every spec in specs. In BulkBestEffort mode each
// item is attempted independently; in BulkTransactional mode any failure
// rolls back all prior successful items in the same call.
func (r *Registry) BulkRegister(ctx context.Context, specs []Server, mode BulkMode) (BulkResult, error) {
	var result BulkResult
	var registered []string

	for i, spec := range specs {
		s, err := r.RegisterServer(ctx, spec)
		if err != nil {
			result.Failed = append(result.Failed, BulkItemResult{Index: i, Reason: err.Error()})
			if mode == BulkTransactional {
				r.rollback(ctx, registered)
				return BulkResult{}, fmt.Errorf("registry: transactional bulk register failed at item %d: %w", i, err)
			}
			continue
		}
		registered = append(registered, s.ID)
		result.Succeeded = append(result.Succeeded, BulkItemResult{Index: i, ID: s.ID})
	}
	return result, nil
}

// statusSnapshot records a server's status before a bulk update applied a
// new one, so a transactional rollback can restore it.
type statusSnapshot struct {
	id     string
	status Status
}

// BulkUpdate applies status transitions by id. Same best_effort/
// transactional semantics as BulkRegister.
func (r *Registry) BulkUpdate(ctx context.Context, updates map[string]Status, mode BulkMode) (BulkResult, error) {
	var result BulkResult
	var applied []statusSnapshot

	i := 0
	for id, newStatus := range updates {
		prior, ok, err := r.store.Get(ctx, id)
		if err != nil || !ok {
			result.Failed = append(result.Failed, BulkItemResult{Index: i, ID: id, Reason: "not found"})
			if mode == BulkTransactional {
				r.rollbackStatus(ctx, applied)
				return BulkResult{}, fmt.Errorf("registry: transactional bulk update failed at item %s", id)
			}
			i++
			continue
		}
		if _, err := r.UpdateServerStatus(ctx, id, newStatus); err != nil {
			result.Failed = append(result.Failed, BulkItemResult{Index: i, ID: id, Reason: err.Error()})
			if mode == BulkTransactional {
				r.rollbackStatus(ctx, applied)
				return BulkResult{}, fmt.Errorf("registry: transactional bulk update failed at item %s: %w", id, err)
			}
			i++
			continue
		}
		applied = append(applied, statusSnapshot{id: id, status: prior.Status})
		result.Succeeded = append(result.Succeeded, BulkItemResult{Index: i, ID: id})
		i++
	}
	return result, nil
}

// rollback removes every server registered earlier in a transactional
// batch that later failed, so observers see none of the batch rather than
// a partial, merely-decommissioned trace of it.
func (r *Registry) rollback(ctx context.Context, ids []string) {
	for _, id := range ids {
		_ = r.store.Delete(ctx, id)
	}
}

func (r *Registry) rollbackStatus(ctx context.Context, applied []statusSnapshot) {
	for _, a := range applied {
		if s, ok, err := r.store.Get(ctx, a.id); err == nil && ok {
			s.Status = a.status
			_ = r.store.Upsert(ctx, s)
		}
	}
}

func (r *Registry) invalidate(serverID string) {
	if r.onMutate != nil {
		r.onMutate(serverID)
	}
}
