package api

import (
	"strconv"
	"sync"
	"time"

	"consensus-chat/client/pkg/ws"

	"github.com/google/uuid"
)

// StoredFile is an uploaded attachment kept by the development server
type StoredFile struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Store is the development server's in-memory chat state. Session ids are
// numeric, like the production API's.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string][]ws.InboundEvent
	files       map[string]StoredFile
	nextSession uint64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		sessions: make(map[string][]ws.InboundEvent),
		files:    make(map[string]StoredFile),
	}
}

// EnsureSession returns the id of ref, creating a new session when ref is
// nil, empty or unknown
func (s *Store) EnsureSession(ref *ws.SessionRef) (id string, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref != nil && *ref != "" {
		if _, ok := s.sessions[ref.String()]; ok {
			return ref.String(), false
		}
	}
	s.nextSession++
	id = strconv.FormatUint(s.nextSession, 10)
	s.sessions[id] = nil
	return id, true
}

// Append stores ev at the end of the session log
func (s *Store) Append(sessionID string, ev ws.InboundEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], ev)
}

// Messages returns a copy of the session log
func (s *Store) Messages(sessionID string) ([]ws.InboundEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	out := make([]ws.InboundEvent, len(msgs))
	copy(out, msgs)
	return out, true
}

// SaveFile records an upload and returns its id
func (s *Store) SaveFile(name string, size int64) StoredFile {
	f := StoredFile{
		ID:         uuid.New().String(),
		Name:       name,
		Size:       size,
		UploadedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.files[f.ID] = f
	s.mu.Unlock()
	return f
}

// File looks up an upload by id
func (s *Store) File(id string) (StoredFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	return f, ok
}
