package engine

import (
	"container/list"
	"time"
)

// DedupSet is a bounded set of processed event IDs.
// Oldest entries are evicted first once capacity is reached, and entries older
// than ttl are treated as unseen. A zero ttl disables expiry.
// DedupSet is not safe for concurrent use; Engine guards it.
type DedupSet struct {
	capacity int
	ttl      time.Duration
	order    *list.List // front = newest
	items    map[string]*list.Element
}

type dedupEntry struct {
	id     string
	seenAt time.Time
}

// NewDedupSet creates a set holding at most capacity IDs.
func NewDedupSet(capacity int, ttl time.Duration) *DedupSet {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &DedupSet{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element, min(capacity, 1024)),
	}
}

// Contains reports whether id was seen and has not expired.
func (s *DedupSet) Contains(id string, now time.Time) bool {
	el, ok := s.items[id]
	if !ok {
		return false
	}
	if s.expired(el.Value.(*dedupEntry), now) {
		s.remove(el)
		return false
	}
	return true
}

// Add inserts id and returns false if it was already present.
func (s *DedupSet) Add(id string, now time.Time) bool {
	if s.Contains(id, now) {
		return false
	}
	s.items[id] = s.order.PushFront(&dedupEntry{id: id, seenAt: now})
	s.evict(now)
	return true
}

// Len returns the number of tracked IDs, including ones not yet swept after expiry.
func (s *DedupSet) Len() int {
	return s.order.Len()
}

// IDs returns tracked IDs from oldest to newest.
func (s *DedupSet) IDs() []string {
	ids := make([]string, 0, s.order.Len())
	for el := s.order.Back(); el != nil; el = el.Prev() {
		ids = append(ids, el.Value.(*dedupEntry).id)
	}
	return ids
}

func (s *DedupSet) evict(now time.Time) {
	for s.order.Len() > s.capacity {
		s.remove(s.order.Back())
	}
	// Sweep expired entries from the tail.
	for el := s.order.Back(); el != nil; el = s.order.Back() {
		if !s.expired(el.Value.(*dedupEntry), now) {
			break
		}
		s.remove(el)
	}
}

func (s *DedupSet) expired(e *dedupEntry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.seenAt) > s.ttl
}

func (s *DedupSet) remove(el *list.Element) {
	s.order.Remove(el)
	delete(s.items, el.Value.(*dedupEntry).id)
}
