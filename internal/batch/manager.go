package batch

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/praxisllmlab/copydesk/internal/logs"
	"github.com/praxisllmlab/copydesk/internal/model"
)

// ManagerOptions configures the sessions a Manager creates.
type ManagerOptions struct {
	Backend       Backend
	SyncThreshold int
	Poll          PollOptions
	Defaults      model.GenerationConfig
	Observers     []Observer
	Logger        *zap.SugaredLogger
}

// Manager keeps one Session per user. Sessions are created on first use and
// live until Close.
type Manager struct {
	opts       ManagerOptions
	dispatcher *Dispatcher
	log        *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[string]*Session
	lastUsed map[string]time.Time
	now      func() time.Time
}

func NewManager(opts ManagerOptions) *Manager {
	log := logs.OrNop(opts.Logger)
	opts.Poll.Logger = log
	return &Manager{
		opts:       opts,
		dispatcher: NewDispatcher(opts.Backend, opts.SyncThreshold),
		log:        log,
		sessions:   make(map[string]*Session),
		lastUsed:   make(map[string]time.Time),
		now:        time.Now,
	}
}

// Session returns the session for key, creating it if needed.
func (m *Manager) Session(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUsed[key] = m.now()
	if s, ok := m.sessions[key]; ok {
		return s
	}
	s := NewSession(key, m.dispatcher, NewPoller(m.opts.Backend, m.opts.Poll), m.opts.Defaults.Clone(),
		WithObservers(m.opts.Observers...),
		WithLogger(m.log),
	)
	m.sessions[key] = s
	return s
}

// Lookup returns the session for key without creating one.
func (m *Manager) Lookup(key string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Keys lists the known session keys in sorted order.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EvictIdle drops sessions that have not been used for maxIdle and have no
// batch in flight. It returns the number of sessions removed. A caller still
// holding an evicted *Session gets ErrSessionClosed from Start.
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)
	var evicted []*Session

	m.mu.Lock()
	for key, s := range m.sessions {
		if m.lastUsed[key].After(cutoff) {
			continue
		}
		if !s.closeIfIdle() {
			continue
		}
		evicted = append(evicted, s)
		delete(m.sessions, key)
		delete(m.lastUsed, key)
	}
	m.mu.Unlock()

	for _, s := range evicted {
		s.Close()
	}
	return len(evicted)
}

// Close stops every session's poller. Cached snapshots are kept.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	m.log.Infof("batch: closed %d sessions", len(sessions))
}
