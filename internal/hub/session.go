package hub

import (
	"alcyxob/coachsync/internal/domain"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Conn is the outbound half of a live connection. Send and Ping are only
// called from the session's delivery loop; Close may be called concurrently.
type Conn interface {
	Send(deadline time.Time, payload []byte) error
	Ping(deadline time.Time) error
	Close() error
}

// Session is one live connection of one actor. It owns a bounded FIFO
// queue; when the queue is full the oldest entry is discarded.
type Session struct {
	id          string
	identity    domain.Identity
	conn        Conn
	connectedAt time.Time

	mu    sync.Mutex
	ring  [][]byte
	head  int
	size  int
	wake  chan struct{}
	done  chan struct{}
	close sync.Once

	dropped      atomic.Uint64
	delivered    atomic.Uint64
	lastDelivery atomic.Int64 // unix nanos
	lastSeen     atomic.Int64 // unix nanos
}

func newSession(identity domain.Identity, conn Conn, queueSize int, now time.Time) *Session {
	s := &Session{
		id:          uuid.NewString(),
		identity:    identity,
		conn:        conn,
		connectedAt: now,
		ring:        make([][]byte, queueSize),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	s.lastDelivery.Store(now.UnixNano())
	s.lastSeen.Store(now.UnixNano())
	return s
}

func (s *Session) ID() string                { return s.id }
func (s *Session) Identity() domain.Identity { return s.identity }
func (s *Session) ConnectedAt() time.Time    { return s.connectedAt }

// Dropped counts envelopes discarded for this session, whether evicted from
// a full queue or lost to a failed send.
func (s *Session) Dropped() uint64   { return s.dropped.Load() }
func (s *Session) Delivered() uint64 { return s.delivered.Load() }

// LastDelivery is the time of the last successful send, or the connect time
// if there has been none. A successful write says nothing about the peer.
func (s *Session) LastDelivery() time.Time {
	return time.Unix(0, s.lastDelivery.Load())
}

// LastSeen is the time the peer last proved it was alive, or the connect
// time. Sweep evicts on it.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Touch records that the peer answered a ping or sent a frame.
func (s *Session) Touch(at time.Time) {
	s.lastSeen.Store(at.UnixNano())
}

// Done is closed when the session is disconnected.
func (s *Session) Done() <-chan struct{} { return s.done }

// Queued returns the number of envelopes waiting for delivery.
func (s *Session) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// enqueue appends payload, evicting the oldest entry if the queue is full.
// It reports whether an entry was evicted. It never blocks.
func (s *Session) enqueue(payload []byte) (evicted bool) {
	s.mu.Lock()
	if s.closed() {
		s.mu.Unlock()
		return false
	}
	if s.size == len(s.ring) {
		s.ring[s.head] = nil
		s.head = (s.head + 1) % len(s.ring)
		s.size--
		evicted = true
	}
	s.ring[(s.head+s.size)%len(s.ring)] = payload
	s.size++
	s.mu.Unlock()

	if evicted {
		s.dropped.Add(1)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return evicted
}

func (s *Session) dequeue() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size == 0 {
		return nil, false
	}
	payload := s.ring[s.head]
	s.ring[s.head] = nil
	s.head = (s.head + 1) % len(s.ring)
	s.size--
	return payload, true
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// shutdown closes the session once and discards whatever is still queued.
// It returns false if the session was already shut down.
func (s *Session) shutdown() bool {
	first := false
	s.close.Do(func() {
		first = true
		s.mu.Lock()
		close(s.done)
		for i := range s.ring {
			s.ring[i] = nil
		}
		s.head, s.size = 0, 0
		s.mu.Unlock()
		_ = s.conn.Close()
	})
	return first
}

func (s *Session) markDelivered(at time.Time) {
	s.lastDelivery.Store(at.UnixNano())
}
