package eventlog

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrInstanceNotFound is returned when no history exists for an instance
var ErrInstanceNotFound = errors.New("instance not found")

// DefaultCapacity is the per-instance history length used when none is configured
const DefaultCapacity = 200

// DefaultMaxRetired is how many removed instances keep their history by default
const DefaultMaxRetired = 32

// Entry kinds recorded by the Recorder
const (
	KindLog          = "log"
	KindRegistered   = "registered"
	KindDisconnected = "disconnected"
	KindRemoved      = "removed"
)

// Entry is one line of instance history
type Entry struct {
	Time       time.Time `json:"time"`
	InstanceID string    `json:"instance_id"`
	Kind       string    `json:"kind"`
	Text       string    `json:"text,omitempty"`
}

// Store defines the interface for instance history
// All implementations must be thread-safe for concurrent access
type Store interface {
	// Append records an entry, evicting the oldest one when the instance is full
	Append(e Entry)

	// List returns up to limit of the newest entries, oldest first
	// limit <= 0 returns everything retained
	// Returns ErrInstanceNotFound if nothing was ever recorded for the instance
	List(instanceID string, limit int) ([]Entry, error)

	// Delete drops an instance's history
	// No error if the instance doesn't exist
	Delete(instanceID string) error

	// Instances returns the ids with retained history, sorted
	Instances() []string

	// Stats returns store statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Instances int    `json:"instances"` // Number of instances with history
	Entries   int    `json:"entries"`   // Entries currently retained
	Evicted   uint64 `json:"evicted"`   // Entries dropped to respect capacity
}

// ring is a fixed-capacity FIFO of entries
type ring struct {
	buf   []Entry
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Entry, capacity)}
}

// push appends e and reports whether an old entry was overwritten
func (r *ring) push(e Entry) bool {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = e
		r.size++
		return false
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
	return true
}

// tail returns copies of the newest n entries in order
func (r *ring) tail(n int) []Entry {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]Entry, 0, n)
	for i := r.size - n; i < r.size; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

// MemoryStore implements Store with one ring buffer per instance
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	mu         sync.RWMutex     // Protects concurrent access
	data       map[string]*ring // Instance id -> history
	retired    []string         // Removed instances, oldest first
	capacity   int              // Entries retained per instance
	maxRetired int              // Removed instances whose history is kept
	evicted    uint64           // Total entries overwritten
}

// NewMemoryStore creates a store retaining capacity entries per instance
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		data:       make(map[string]*ring),
		capacity:   capacity,
		maxRetired: DefaultMaxRetired,
	}
}

// SetMaxRetired bounds how many removed instances keep their history.
// Once exceeded, the history of the instance removed longest ago is dropped.
// n <= 0 uses DefaultMaxRetired.
func (m *MemoryStore) SetMaxRetired(n int) {
	if n <= 0 {
		n = DefaultMaxRetired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxRetired = n
	m.trimRetiredLocked()
}

// Append records an entry
// Entries without a timestamp are stamped with the current time
func (m *MemoryStore) Append(e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.data[e.InstanceID]
	if !ok {
		r = newRing(m.capacity)
		m.data[e.InstanceID] = r
	}
	if r.push(e) {
		m.evicted++
	}

	switch e.Kind {
	case KindRegistered:
		m.forgetRetiredLocked(e.InstanceID)
	case KindRemoved:
		m.forgetRetiredLocked(e.InstanceID)
		m.retired = append(m.retired, e.InstanceID)
		m.trimRetiredLocked()
	}
}

// forgetRetiredLocked takes id off the retired list, e.g. when an id registers again.
func (m *MemoryStore) forgetRetiredLocked(id string) {
	for i, r := range m.retired {
		if r == id {
			m.retired = append(m.retired[:i], m.retired[i+1:]...)
			return
		}
	}
}

func (m *MemoryStore) trimRetiredLocked() {
	for len(m.retired) > m.maxRetired {
		delete(m.data, m.retired[0])
		m.retired = m.retired[1:]
	}
}

// List returns the newest entries for an instance
// Returns copies so callers cannot modify retained history
func (m *MemoryStore) List(instanceID string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.data[instanceID]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return r.tail(limit), nil
}

// Delete removes an instance's history
// No error if the instance doesn't exist (idempotent)
func (m *MemoryStore) Delete(instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, instanceID)
	m.forgetRetiredLocked(instanceID)
	return nil
}

// Instances returns all instance ids with history
func (m *MemoryStore) Instances() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := 0
	for _, r := range m.data {
		entries += r.size
	}

	return StoreStats{
		Instances: len(m.data),
		Entries:   entries,
		Evicted:   m.evicted,
	}
}
