package session

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process shared credential medium. Each Attach
// call returns a Store representing one client instance ("tab"): writes
// through one attachment are broadcast to subscribers of every other
// attachment, never back to the writer.
type MemoryBackend struct {
	mu    sync.Mutex
	creds Credentials
	tabs  []*MemoryStore
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Attach registers a new client instance on the shared medium.
func (b *MemoryBackend) Attach() *MemoryStore {
	b.mu.Lock()
	defer b.mu.Unlock()

	store := &MemoryStore{
		backend: b,
		logger:  defLogger{},
		subs:    map[int]func(Change){},
	}
	b.tabs = append(b.tabs, store)
	return store
}

func (b *MemoryBackend) write(origin *MemoryStore, next Credentials) {
	b.mu.Lock()
	old := b.creds
	b.creds = next
	tabs := make([]*MemoryStore, len(b.tabs))
	copy(tabs, b.tabs)
	b.mu.Unlock()

	changes := diffCredentials(&old, &next)
	if len(changes) == 0 {
		return
	}

	for _, tab := range tabs {
		if tab == origin {
			continue
		}
		tab.notify(changes)
	}
}

func (b *MemoryBackend) read() Credentials {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creds
}

var _ Store = &MemoryStore{}

// MemoryStore is one attachment to a MemoryBackend.
type MemoryStore struct {
	backend *MemoryBackend
	logger  Logger

	mu     sync.Mutex
	subs   map[int]func(Change)
	nextID int
}

// NewMemoryStore returns a single-instance store on a private backend.
func NewMemoryStore() *MemoryStore {
	return NewMemoryBackend().Attach()
}

func (s *MemoryStore) WithLogger(logger Logger) *MemoryStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *MemoryStore) Load(_ context.Context) (*Credentials, error) {
	creds := s.backend.read()

	clean, err := sanitizeCredentials(&creds)
	if err != nil {
		s.logger.Warn("purging corrupt credential record: %v", err)
		s.backend.write(s, Credentials{})
		return &Credentials{}, nil
	}

	return clean.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, creds *Credentials) error {
	if creds == nil {
		creds = &Credentials{}
	}

	if creds.IsCorrupt() {
		return ErrCorruptRecord.Clone().WithMetadata(map[string]any{
			"reason": "access token and role must be written together",
		})
	}

	s.backend.write(s, *creds)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.backend.write(s, Credentials{})
	return nil
}

// Subscribe registers fn for changes made by other attachments. The
// returned function removes the subscription.
func (s *MemoryStore) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *MemoryStore) notify(changes []Change) {
	s.mu.Lock()
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, change := range changes {
		for _, fn := range subs {
			fn(change)
		}
	}
}
