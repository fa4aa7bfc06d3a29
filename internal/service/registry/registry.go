package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
)

// Registry owns one DownloadSession per transfer id.
//
// mu guards the maps only and is never held while taking a session's
// generation lock, so guarded observations may call back into the registry.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*domain.DownloadSession
	generations map[string]uint64
	draining    map[string]*domain.WorkerHandle

	logger *zap.Logger
}

// New creates a new Registry
func New(logger *zap.Logger) *Registry {
	return &Registry{
		sessions:    make(map[string]*domain.DownloadSession),
		generations: make(map[string]uint64),
		draining:    make(map[string]*domain.WorkerHandle),
		logger:      logger.Named("registry"),
	}
}

// Create replaces any session for p.ID with a fresh one and returns its token.
// The previous session is invalidated and its worker stopped; its temp file is
// left alone since the new session may resume from it. The returned handle is the
// worker that still owns the id's temp file, if any; a new worker must wait for
// it before touching the file.
func (r *Registry) Create(p domain.SessionParams) (domain.Token, *domain.WorkerHandle) {
	r.mu.Lock()
	old := r.sessions[p.ID]
	gen := r.generations[p.ID]
	if old != nil {
		// old is advanced below; stay ahead of that generation too
		gen = max(gen, old.Generation()+1)
	}
	gen++
	r.generations[p.ID] = gen

	s := domain.NewDownloadSession(p, gen)
	r.sessions[p.ID] = s

	var predecessor *domain.WorkerHandle
	if old != nil {
		predecessor = old.Worker()
	}
	if predecessor == nil {
		predecessor = r.draining[p.ID]
	}
	r.mu.Unlock()

	if old != nil {
		old.Advance()
		if w := old.Worker(); w != nil {
			w.Stop()
		}
		r.logger.Debug("replaced existing session",
			zap.String("id", p.ID),
			zap.Uint64("generation", gen))
	}

	return s.Token(), predecessor
}

// BeginGeneration increments the session's generation, invalidating every
// outstanding worker token.
func (r *Registry) BeginGeneration(id string) (domain.Token, bool) {
	s, ok := r.Get(id)
	if !ok {
		return domain.Token{}, false
	}
	return s.Advance(), true
}

// IsCurrent reports whether tok belongs to the registered session for its id
// and that session is still at tok's generation.
func (r *Registry) IsCurrent(tok domain.Token) bool {
	s, ok := r.Get(tok.ID())
	if !ok || s != tok.Session() {
		return false
	}
	return s.IsCurrent(tok)
}

// Guard runs fn only while tok is current. See domain.DownloadSession.Guard.
func (r *Registry) Guard(tok domain.Token, fn func()) bool {
	s, ok := r.Get(tok.ID())
	if !ok || s != tok.Session() {
		return false
	}
	return s.Guard(tok, fn)
}

// Get returns the session for id
func (r *Registry) Get(id string) (*domain.DownloadSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the session for id
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	r.removeLocked(s)
	return true
}

// RemoveSession deletes s only if it is still the registered session for its id
func (r *Registry) RemoveSession(s *domain.DownloadSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.ID] != s {
		return false
	}
	r.removeLocked(s)
	return true
}

func (r *Registry) removeLocked(s *domain.DownloadSession) {
	delete(r.sessions, s.ID)
	r.generations[s.ID] = max(r.generations[s.ID], s.Generation())

	w := s.Worker()
	if w == nil {
		return
	}
	select {
	case <-w.Done():
		return
	default:
	}

	r.draining[s.ID] = w
	go func(id string, w *domain.WorkerHandle) {
		<-w.Done()
		r.mu.Lock()
		if r.draining[id] == w {
			delete(r.draining, id)
		}
		r.mu.Unlock()
	}(s.ID, w)
}

// AttachWorker records the worker running for tok's session
func (r *Registry) AttachWorker(tok domain.Token, h *domain.WorkerHandle) {
	if s := tok.Session(); s != nil {
		s.AttachWorker(h)
	}
}

// Predecessor returns the worker that still owns id's temp file, if any
func (r *Registry) Predecessor(id string) *domain.WorkerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		if w := s.Worker(); w != nil {
			return w
		}
	}
	return r.draining[id]
}

// Sessions returns every registered session, oldest first
func (r *Registry) Sessions() []*domain.DownloadSession {
	r.mu.Lock()
	out := make([]*domain.DownloadSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// List returns the listActive view of every session
func (r *Registry) List() []domain.ActiveTransfer {
	sessions := r.Sessions()
	out := make([]domain.ActiveTransfer, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Active())
	}
	return out
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CountRunning returns the number of sessions that are neither paused nor cancelled
func (r *Registry) CountRunning() int {
	n := 0
	for _, s := range r.Sessions() {
		if !s.IsPaused() && !s.IsCancelled() {
			n++
		}
	}
	return n
}
