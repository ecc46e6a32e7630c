// Package sessionkit is the client-side companion to the session
// service: a credential store, an idle-activity monitor, and a session
// terminator, assembled by Kit for embedding Go applications (desktop
// shells, kiosk frontends, CLI tooling) that hold a marketplace session.
package sessionkit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Fixed storage keys. Everything the kit persists locally lives under
// one of these; nothing else is scanned or guessed.
const (
	KeyCredential = "session.credential"
	KeyConsent    = "session.consent"
	KeyCart       = "session.cart"
)

// ConsentRecord is the locally persisted cookie/tracking consent choice.
type ConsentRecord struct {
	Necessary bool      `json:"necessary"`
	Analytics bool      `json:"analytics"`
	Marketing bool      `json:"marketing"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Backend persists the store's key-value state.
type Backend interface {
	Load() (map[string]string, error)
	Save(values map[string]string) error
}

// Store is the client-local key-value state: credential, consent record
// and cart blob. Mutations notify subscribers with the key that changed.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	values  map[string]string
	subs    map[int]func(key string)
	nextSub int
}

// NewStore returns an in-memory store.
func NewStore() *Store {
	return &Store{
		values: make(map[string]string),
		subs:   make(map[int]func(key string)),
	}
}

// NewFileStore returns a store persisted as JSON at path. Existing state
// is loaded; a missing file is an empty store.
func NewFileStore(path string) (*Store, error) {
	backend := &fileBackend{path: path}
	values, err := backend.Load()
	if err != nil {
		return nil, err
	}

	s := NewStore()
	s.backend = backend
	s.values = values
	return s, nil
}

// Get returns the raw value for a key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.values[key]
	return val, ok
}

// Set writes a key and notifies subscribers.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	err := s.persistLocked()
	s.mu.Unlock()

	s.notify(key)
	return err
}

// Delete removes a key. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	_, existed := s.values[key]
	if existed {
		delete(s.values, key)
	}
	var err error
	if existed {
		err = s.persistLocked()
	}
	s.mu.Unlock()

	if existed {
		s.notify(key)
	}
	return err
}

// ClearAll wipes every key. Used on deliberate sign-out; session expiry
// only clears the credential.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	s.values = make(map[string]string)
	err := s.persistLocked()
	s.mu.Unlock()

	for _, key := range keys {
		s.notify(key)
	}
	return err
}

// Subscribe registers a change listener and returns its cancel func.
// Listeners run synchronously on the mutating goroutine.
func (s *Store) Subscribe(fn func(key string)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Credential returns the stored access token, empty when logged out.
func (s *Store) Credential() string {
	val, _ := s.Get(KeyCredential)
	return val
}

// SetCredential stores the access token.
func (s *Store) SetCredential(token string) error {
	return s.Set(KeyCredential, token)
}

// ClearCredential removes only the access token, leaving consent and
// cart state for the next login.
func (s *Store) ClearCredential() error {
	return s.Delete(KeyCredential)
}

// Consent returns the persisted consent record, if any.
func (s *Store) Consent() (*ConsentRecord, bool) {
	raw, ok := s.Get(KeyConsent)
	if !ok {
		return nil, false
	}
	var rec ConsentRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

// SetConsent persists the consent record.
func (s *Store) SetConsent(rec ConsentRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.Set(KeyConsent, string(raw))
}

// Cart returns the persisted cart blob, if any. The kit treats it as
// opaque JSON owned by the embedding application.
func (s *Store) Cart() (json.RawMessage, bool) {
	raw, ok := s.Get(KeyCart)
	if !ok {
		return nil, false
	}
	return json.RawMessage(raw), true
}

// SetCart persists the cart blob.
func (s *Store) SetCart(blob json.RawMessage) error {
	return s.Set(KeyCart, string(blob))
}

func (s *Store) persistLocked() error {
	if s.backend == nil {
		return nil
	}
	snapshot := make(map[string]string, len(s.values))
	for key, val := range s.values {
		snapshot[key] = val
	}
	return s.backend.Save(snapshot)
}

func (s *Store) notify(key string) {
	s.mu.RLock()
	fns := make([]func(string), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(key)
	}
}

// fileBackend persists the store as a JSON object. Writes go through a
// temp file and rename so a crash never leaves a torn credential file.
type fileBackend struct {
	path string
}

func (b *fileBackend) Load() (map[string]string, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]string), nil
		}
		return nil, err
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return values, nil
}

func (b *fileBackend) Save(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(b.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}
