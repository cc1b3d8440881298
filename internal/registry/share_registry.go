package registry

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// ErrShareUnderflow is returned when a share is released more often than acquired.
var ErrShareUnderflow = errors.New("share released more often than acquired")

// Share is the state shared by every open handle of one table.
type Share struct {
	// Name is the fully qualified table name ("db.table").
	Name string

	// Config contains the table-specific configuration.
	Config InternalTableConfig

	// OpenedAt is when the first handle acquired the share.
	OpenedAt time.Time

	mu            sync.Mutex
	useCount      int
	crashed       bool
	rowCount      int64
	rowCountValid bool
	updatedAt     time.Time
}

// Crashed reports whether the table has been marked crashed.
func (s *Share) Crashed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crashed
}

// MarkCrashed flags the table; handles opened on it refuse further work.
func (s *Share) MarkCrashed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.crashed {
		log.Printf("[REGISTRY] Marking table %s as crashed", s.Name)
	}
	s.crashed = true
	s.updatedAt = time.Now()
}

// RowCount returns the cached row count and whether it is valid.
func (s *Share) RowCount() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowCount, s.rowCountValid
}

// SetRowCount replaces the cached row count.
func (s *Share) SetRowCount(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowCount, s.rowCountValid = n, true
	s.updatedAt = time.Now()
}

// AdjustRowCount applies a delta to a valid cached row count.
func (s *Share) AdjustRowCount(delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rowCountValid {
		s.rowCount += delta
		s.updatedAt = time.Now()
	}
}

// InvalidateRowCount forces the next reader to ask the backend.
func (s *Share) InvalidateRowCount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowCountValid = false
}

// ShareInfo is a snapshot of one share.
type ShareInfo struct {
	Name          string    `json:"name" yaml:"name"`
	UseCount      int       `json:"use_count" yaml:"use_count"`
	Crashed       bool      `json:"crashed" yaml:"crashed"`
	RowCount      int64     `json:"row_count" yaml:"row_count"`
	RowCountValid bool      `json:"row_count_valid" yaml:"row_count_valid"`
	Mirror        bool      `json:"mirror" yaml:"mirror"`
	OpenedAt      time.Time `json:"opened_at" yaml:"opened_at"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`
}

// ShareRegistry holds the shares of all open tables. A share exists while
// at least one handle holds it.
type ShareRegistry struct {
	mu        sync.Mutex
	shares    map[string]*Share
	configMgr *ConfigManager
	lifecycle *LifecycleManager
}

// NewShareRegistry creates a registry. A nil lifecycle manager gets a fresh one.
func NewShareRegistry(configMgr *ConfigManager, lifecycle *LifecycleManager) *ShareRegistry {
	if configMgr == nil {
		configMgr = NewConfigManager()
	}
	if lifecycle == nil {
		lifecycle = NewLifecycleManager()
	}
	return &ShareRegistry{
		shares:    make(map[string]*Share),
		configMgr: configMgr,
		lifecycle: lifecycle,
	}
}

// Acquire returns the share of a table, creating it on first use, and
// increments its use count.
func (r *ShareRegistry) Acquire(name string) (*Share, error) {
	if name == "" {
		return nil, fmt.Errorf("table name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	share, ok := r.shares[name]
	if !ok {
		now := time.Now()
		share = &Share{
			Name:      name,
			Config:    r.configMgr.GetTableConfig(name),
			OpenedAt:  now,
			updatedAt: now,
		}
		r.shares[name] = share
	}
	share.mu.Lock()
	share.useCount++
	share.mu.Unlock()
	return share, nil
}

// Release decrements the use count and frees the share at zero.
func (r *ShareRegistry) Release(share *Share) error {
	if share == nil {
		return fmt.Errorf("share cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.shares[share.Name]
	if !ok || current != share {
		return fmt.Errorf("%w: %s is not registered", ErrShareUnderflow, share.Name)
	}

	share.mu.Lock()
	defer share.mu.Unlock()
	if share.useCount == 0 {
		return fmt.Errorf("%w: %s", ErrShareUnderflow, share.Name)
	}
	share.useCount--
	if share.useCount == 0 {
		delete(r.shares, share.Name)
	}
	return nil
}

// Get returns the share of an open table.
func (r *ShareRegistry) Get(name string) (*Share, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	share, ok := r.shares[name]
	return share, ok
}

// UseCount returns the number of handles holding a table's share.
func (r *ShareRegistry) UseCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	share, ok := r.shares[name]
	if !ok {
		return 0
	}
	share.mu.Lock()
	defer share.mu.Unlock()
	return share.useCount
}

// List returns snapshots of all shares ordered by name.
func (r *ShareRegistry) List() []ShareInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ShareInfo, 0, len(r.shares))
	for _, s := range r.shares {
		s.mu.Lock()
		out = append(out, ShareInfo{
			Name:          s.Name,
			UseCount:      s.useCount,
			Crashed:       s.crashed,
			RowCount:      s.rowCount,
			RowCountValid: s.rowCountValid,
			Mirror:        s.Config.Mirror,
			OpenedAt:      s.OpenedAt,
			UpdatedAt:     s.updatedAt,
		})
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of open shares.
func (r *ShareRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shares)
}

// RefreshConfig reloads the table configuration of every open share.
func (r *ShareRegistry) RefreshConfig() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.shares {
		cfg := r.configMgr.GetTableConfig(s.Name)
		s.mu.Lock()
		s.Config = cfg
		s.updatedAt = time.Now()
		s.mu.Unlock()
	}
}

// Lifecycle returns the hook manager notified of table DDL.
func (r *ShareRegistry) Lifecycle() *LifecycleManager {
	return r.lifecycle
}

// Config returns the configuration manager.
func (r *ShareRegistry) Config() *ConfigManager {
	return r.configMgr
}
