package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/insightdelivered/statement-dashboard/internal/models"
)

// Store keeps one UploadState per browser session in an expiring cache.
type Store struct {
	mu    sync.Mutex
	items *cache.Cache
	ttl   time.Duration
}

// NewStore returns a store whose entries expire ttl after their last write.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		items: cache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id looks like an identifier issued by NewID.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Get returns a copy of the session's state; unknown sessions are idle.
func (s *Store) Get(id string) models.UploadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

// Begin marks the session as analyzing name. It fails with
// models.ErrAnalysisInProgress if an analysis is already running.
func (s *Store) Begin(id, name string, size int64) error {
	return s.update(id, func(st *models.UploadState) error {
		return st.Begin(name, size)
	})
}

// Complete stores the dashboard and switches the session to results.
func (s *Store) Complete(id string, d *models.Dashboard) {
	s.update(id, func(st *models.UploadState) error {
		st.Succeed(d)
		return nil
	})
}

// Fail records a user-facing error for the session.
func (s *Store) Fail(id, msg string) {
	s.update(id, func(st *models.UploadState) error {
		st.Fail(msg)
		return nil
	})
}

// Reject records a rejected upload unless an analysis is running, in which
// case it returns models.ErrAnalysisInProgress and leaves the state alone.
func (s *Store) Reject(id, msg string) error {
	return s.update(id, func(st *models.UploadState) error {
		return st.Reject(msg)
	})
}

// Reset discards any results and returns the session to the upload screen.
func (s *Store) Reset(id string) {
	s.update(id, func(st *models.UploadState) error {
		st.Reset()
		return nil
	})
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.items.ItemCount()
}

func (s *Store) update(id string, fn func(*models.UploadState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.load(id)
	if err := fn(&st); err != nil {
		return err
	}
	s.items.Set(id, st, s.ttl)
	return nil
}

func (s *Store) load(id string) models.UploadState {
	if v, ok := s.items.Get(id); ok {
		return v.(models.UploadState)
	}
	return models.UploadState{}
}
