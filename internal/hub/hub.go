// Package hub fans domain events out to the live connections of the actors
// entitled to see them.
//
// The registry is sharded by actor ID so connects and disconnects of
// different actors never contend on one lock. Dispatch only enqueues; each
// session has its own delivery goroutine that performs the network write.
package hub

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/logging"
	"alcyxob/coachsync/internal/metrics"
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Config tunes the hub.
type Config struct {
	QueueSize      int
	SendTimeout    time.Duration
	PingInterval   time.Duration
	LivenessWindow time.Duration
	SweepInterval  time.Duration
	Shards         int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.LivenessWindow <= 0 {
		c.LivenessWindow = 3 * c.PingInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.LivenessWindow / 4
	}
	if c.Shards <= 0 {
		c.Shards = 32
	}
	return c
}

// EventSource feeds the hub. events.Bus satisfies it.
type EventSource interface {
	Consume(ctx context.Context, handle func(domain.Event)) error
}

type shard struct {
	mu       sync.RWMutex
	sessions map[primitive.ObjectID]map[string]*Session
}

// Hub is the process-wide registry of live sessions. Create it once at
// startup; Serve runs the event consumer and the liveness sweeper.
type Hub struct {
	cfg    Config
	source EventSource
	shards []*shard
	count  atomic.Int64
	now    func() time.Time
	wg     sync.WaitGroup
}

func New(cfg Config, source EventSource) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		source: source,
		shards: make([]*shard, cfg.Shards),
		now:    time.Now,
	}
	for i := range h.shards {
		h.shards[i] = &shard{sessions: make(map[primitive.ObjectID]map[string]*Session)}
	}
	return h
}

func (h *Hub) shardFor(actorID primitive.ObjectID) *shard {
	f := fnv.New32a()
	_, _ = f.Write(actorID[:])
	return h.shards[f.Sum32()%uint32(len(h.shards))]
}

// Connect registers a session for an already-verified identity and starts
// its delivery loop.
func (h *Hub) Connect(identity domain.Identity, conn Conn) *Session {
	s := newSession(identity, conn, h.cfg.QueueSize, h.now())

	sh := h.shardFor(identity.ActorID)
	sh.mu.Lock()
	byID := sh.sessions[identity.ActorID]
	if byID == nil {
		byID = make(map[string]*Session)
		sh.sessions[identity.ActorID] = byID
	}
	byID[s.id] = s
	sh.mu.Unlock()

	h.count.Add(1)
	metrics.HubSessions.Inc()
	logging.Debug().
		Str("session_id", s.id).
		Str("actor_id", identity.ActorID.Hex()).
		Str("role", string(identity.Role)).
		Msg("Session connected")

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.deliver(s)
	}()
	return s
}

// Disconnect removes the session and discards its queue. Safe to call more
// than once.
func (h *Hub) Disconnect(s *Session) {
	sh := h.shardFor(s.identity.ActorID)
	sh.mu.Lock()
	if byID, ok := sh.sessions[s.identity.ActorID]; ok {
		delete(byID, s.id)
		if len(byID) == 0 {
			delete(sh.sessions, s.identity.ActorID)
		}
	}
	sh.mu.Unlock()

	if s.shutdown() {
		h.count.Add(-1)
		metrics.HubSessions.Dec()
		logging.Debug().
			Str("session_id", s.id).
			Str("actor_id", s.identity.ActorID.Hex()).
			Uint64("dropped", s.Dropped()).
			Msg("Session disconnected")
	}
}

// LivenessWindow is how long a peer may stay silent before Sweep evicts it.
// Transports use it as their read deadline.
func (h *Hub) LivenessWindow() time.Duration {
	return h.cfg.LivenessWindow
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	return int(h.count.Load())
}

// SessionsFor returns the live sessions of one actor.
func (h *Hub) SessionsFor(actorID primitive.ObjectID) []*Session {
	sh := h.shardFor(actorID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	out := make([]*Session, 0, len(sh.sessions[actorID]))
	for _, s := range sh.sessions[actorID] {
		out = append(out, s)
	}
	return out
}

// Dispatch enqueues e on every session of its recipient and returns how
// many sessions it reached. It never blocks on a consumer.
func (h *Hub) Dispatch(e domain.Event) int {
	recipient, ok := e.Recipient()
	if !ok {
		return 0
	}
	payload, err := json.Marshal(NewEnvelope(e))
	if err != nil {
		logging.Error().Err(err).Str("event_type", string(e.Type)).Msg("Failed to encode envelope")
		return 0
	}
	metrics.HubEventsDispatched.WithLabelValues(string(e.Type)).Inc()

	sh := h.shardFor(recipient)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	n := 0
	for _, s := range sh.sessions[recipient] {
		if s.enqueue(payload) {
			metrics.HubEnvelopesDropped.WithLabelValues(metrics.DropQueueFull).Inc()
			logging.Debug().Str("session_id", s.id).Msg("Session queue full, dropped oldest envelope")
		}
		n++
	}
	return n
}

// deliver drains the session's queue in FIFO order and keeps the connection
// alive with pings. Failed sends are counted and dropped, never retried.
func (h *Hub) deliver(s *Session) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			for {
				payload, ok := s.dequeue()
				if !ok {
					break
				}
				if s.closed() {
					return
				}
				if err := s.conn.Send(h.now().Add(h.cfg.SendTimeout), payload); err != nil {
					s.dropped.Add(1)
					metrics.HubEnvelopesDropped.WithLabelValues(metrics.DropSendFailed).Inc()
					logging.Warn().Err(err).Str("session_id", s.id).Msg("Envelope send failed")
					continue
				}
				s.delivered.Add(1)
				s.markDelivered(h.now())
				metrics.HubEnvelopesDelivered.Inc()
			}
		case <-ticker.C:
			// Only the pong counts; the transport calls Touch when it arrives.
			if err := s.conn.Ping(h.now().Add(h.cfg.SendTimeout)); err != nil {
				logging.Debug().Err(err).Str("session_id", s.id).Msg("Ping failed")
			}
		}
	}
}

// Sweep disconnects every session whose peer has not been seen since now
// minus the liveness window and returns how many it removed.
func (h *Hub) Sweep(now time.Time) int {
	cutoff := now.Add(-h.cfg.LivenessWindow)
	var stale []*Session
	for _, sh := range h.shards {
		sh.mu.RLock()
		for _, byID := range sh.sessions {
			for _, s := range byID {
				if s.LastSeen().Before(cutoff) {
					stale = append(stale, s)
				}
			}
		}
		sh.mu.RUnlock()
	}
	for _, s := range stale {
		logging.Info().
			Str("session_id", s.id).
			Str("actor_id", s.identity.ActorID.Hex()).
			Time("last_seen", s.LastSeen()).
			Msg("Disconnecting stale session")
		h.Disconnect(s)
		metrics.HubSessionsExpired.Inc()
	}
	return len(stale)
}

// closeAll disconnects every session and waits for their delivery loops.
func (h *Hub) closeAll() {
	var all []*Session
	for _, sh := range h.shards {
		sh.mu.RLock()
		for _, byID := range sh.sessions {
			for _, s := range byID {
				all = append(all, s)
			}
		}
		sh.mu.RUnlock()
	}
	for _, s := range all {
		h.Disconnect(s)
	}
	h.wg.Wait()
}

// Serve consumes events from the source and sweeps stale sessions until ctx
// is done. It implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	defer h.closeAll()

	ctx, cancel := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		ticker := time.NewTicker(h.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Sweep(h.now())
			}
		}
	}()
	defer func() {
		cancel()
		<-sweepDone
	}()

	if h.source == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	err := h.source.Consume(ctx, func(e domain.Event) { h.Dispatch(e) })
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Hub event consumer stopped")
	}
	return err
}

func (h *Hub) String() string {
	return "notification-hub"
}
