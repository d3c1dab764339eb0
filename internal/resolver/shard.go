package resolver

import (
	"sync"

	"github.com/l0p7/uriguard/internal/policy"
)

// result is a cached resolution. ok=false is the negative entry.
type result[P any] struct {
	record policy.Record[P]
	ok     bool
}

// node is an intrusive list element; head is MRU, tail is LRU.
type node[P any] struct {
	key  string
	val  result[P]
	prev *node[P]
	next *node[P]
}

// shard is one partition of a generation's store with its own lock.
type shard[P any] struct {
	mu   sync.Mutex
	m    map[string]*node[P]
	head *node[P]
	tail *node[P]
	cap  int
}

func newShard[P any](capacity int) *shard[P] {
	return &shard[P]{m: make(map[string]*node[P]), cap: capacity}
}

// get returns the cached result and promotes it to MRU.
func (s *shard[P]) get(key string) (result[P], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.m[key]
	if !ok {
		return result[P]{}, false
	}
	s.moveToFront(n)
	return n.val, true
}

// peek returns the cached result without touching recency.
func (s *shard[P]) peek(key string) (result[P], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.m[key]
	if !ok {
		return result[P]{}, false
	}
	return n.val, true
}

// add stores key at MRU and trims the LRU tail down to capacity. It returns
// the number of entries evicted.
func (s *shard[P]) add(key string, val result[P]) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.m[key]; ok {
		n.val = val
		s.moveToFront(n)
		return 0
	}
	n := &node[P]{key: key, val: val}
	s.m[key] = n
	s.pushFront(n)

	evicted := 0
	for len(s.m) > s.cap && s.tail != nil {
		victim := s.tail
		s.unlink(victim)
		delete(s.m, victim.key)
		evicted++
	}
	return evicted
}

func (s *shard[P]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// -------------------- list internals (mu held) --------------------

func (s *shard[P]) pushFront(n *node[P]) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

func (s *shard[P]) moveToFront(n *node[P]) {
	if n == s.head {
		return
	}
	s.unlink(n)
	s.pushFront(n)
}

func (s *shard[P]) unlink(n *node[P]) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
}
