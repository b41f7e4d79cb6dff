package kad

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Record is a stored key/value pair and its expiry.
type Record struct {
	Key     []byte
	Value   []byte
	Expires time.Time
}

type storedRecord struct {
	value   []byte
	expires time.Time
	origin  bool
}

// Store holds records in memory with a TTL. Records we originated are
// tracked separately so they can be republished for as long as we live.
type Store struct {
	mu      sync.RWMutex
	clock   clock.Clock
	records map[string]*storedRecord
}

// NewStore creates an empty record store on the given clock.
func NewStore(clk clock.Clock) *Store {
	return &Store{
		clock:   clk,
		records: make(map[string]*storedRecord),
	}
}

// Put stores a value under key for ttl. origin marks records this node
// published itself, as opposed to records held for others.
func (s *Store) Put(key, value []byte, ttl time.Duration, origin bool) {
	v := make([]byte, len(value))
	copy(v, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[string(key)] = &storedRecord{
		value:   v,
		expires: s.clock.Now().Add(ttl),
		origin:  origin,
	}
}

// Get returns the value stored under key, if it exists and has not expired.
func (s *Store) Get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[string(key)]
	if !ok || s.clock.Now().After(rec.expires) {
		return nil, false
	}

	out := make([]byte, len(rec.value))
	copy(out, rec.value)
	return out, true
}

// Record returns the full record stored under key.
func (s *Store) Record(key []byte) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[string(key)]
	if !ok || s.clock.Now().After(rec.expires) {
		return Record{}, false
	}

	out := Record{
		Key:     append([]byte(nil), key...),
		Value:   append([]byte(nil), rec.value...),
		Expires: rec.expires,
	}
	return out, true
}

// Delete removes a record.
func (s *Store) Delete(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, string(key))
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	now := s.clock.Now()
	for _, rec := range s.records {
		if !now.After(rec.expires) {
			n++
		}
	}
	return n
}

// CleanupExpired drops expired records and returns how many were reaped.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	now := s.clock.Now()
	for key, rec := range s.records {
		if now.After(rec.expires) {
			delete(s.records, key)
			count++
		}
	}
	return count
}

// OriginRecords returns the live records this node originated.
func (s *Store) OriginRecords() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	now := s.clock.Now()
	for key, rec := range s.records {
		if !rec.origin || now.After(rec.expires) {
			continue
		}
		out = append(out, Record{
			Key:     []byte(key),
			Value:   append([]byte(nil), rec.value...),
			Expires: rec.expires,
		})
	}
	return out
}
