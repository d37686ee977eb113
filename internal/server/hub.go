package server

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/presencehub/internal/auth"
	"github.com/Tyrowin/presencehub/internal/store"
)

// HubConfig holds the per-hub tunables.
type HubConfig struct {
	SweepInterval  time.Duration
	HistoryCap     int
	MaxMessageSize int64
	RateBurst      int
	RateInterval   time.Duration
}

// Hub is the connection registry. It owns every admitted session, fans frames
// out to them and drives the periodic liveness sweep. Admission, removal and
// iteration are safe to call concurrently.
type Hub struct {
	clients map[*Client]struct{}
	mutex   sync.RWMutex
	closed  bool
	wg      sync.WaitGroup

	cfg     HubConfig
	store   *store.Ephemeral
	log     *zap.Logger
	metrics *hubMetrics
	tracker *PresenceTracker
	relay   *ChatRelay

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	done    chan struct{}
}

// TokenVerifier validates access tokens.
type TokenVerifier interface {
	VerifyAccess(token string) (auth.Identity, error)
}

// NewHub creates a Hub backed by eph. Run must be called to start sweeping.
func NewHub(cfg HubConfig, eph *store.Ephemeral, tokens TokenVerifier, logger *zap.Logger, metrics *hubMetrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = store.DefaultListCap
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 512
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients: make(map[*Client]struct{}),
		cfg:     cfg,
		store:   eph,
		log:     logger.With(zap.String("component", "hub")),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	h.tracker = newPresenceTracker(h, cfg.SweepInterval)
	h.relay = newChatRelay(h, tokens, cfg.HistoryCap)
	return h
}

// Tracker returns the hub's presence tracker.
func (h *Hub) Tracker() *PresenceTracker { return h.tracker }

// Relay returns the hub's chat relay.
func (h *Hub) Relay() *ChatRelay { return h.relay }

// Admit registers a session for conn with a verified identity and starts its
// pumps. The session's first frame is its {online, messages} snapshot.
// Admit returns nil once the hub is shutting down.
func (h *Hub) Admit(conn *websocket.Conn, identity auth.Identity, addr string) *Client {
	return h.admit(conn, identity, addr)
}

// admit registers the session as pending before the snapshot is read, so a
// broadcast issued while the snapshot is built is held for it rather than
// lost, then queues the snapshot ahead of the held frames.
func (h *Hub) admit(conn wsConn, identity auth.Identity, addr string) *Client {
	client := newClient(conn, h, identity, addr)
	client.pending = true

	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		client.closeConn()
		return nil
	}
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.wg.Add(2)
	h.mutex.Unlock()
	h.metrics.incSession()

	snapshot := h.snapshot(h.ctx)
	h.mutex.RLock()
	if !client.closed {
		client.activate(snapshot)
	}
	h.mutex.RUnlock()

	h.log.Info("session admitted",
		zap.String("session", client.id),
		zap.String("name", identity.Name),
		zap.String("addr", addr),
		zap.Int("sessions", count))

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
	return client
}

// Remove drops client from the registry and closes its outbound queue. It
// reports whether the client was registered.
func (h *Hub) Remove(client *Client) bool {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return false
	}
	delete(h.clients, client)
	client.closed = true
	close(client.send)
	count := len(h.clients)
	h.mutex.Unlock()

	h.metrics.decSession()
	h.log.Info("session removed",
		zap.String("session", client.id),
		zap.String("name", client.identity.Name),
		zap.Int("sessions", count))
	return true
}

// terminate removes client and closes its transport immediately.
func (h *Hub) terminate(client *Client) {
	h.Remove(client)
	client.closeConn()
}

// ForEach calls fn for every session registered when ForEach was called.
// Sessions may be admitted or removed while fn runs.
func (h *Hub) ForEach(fn func(*Client)) {
	for _, client := range h.getClientSnapshot() {
		fn(client)
	}
}

// Identities returns the distinct names of registered sessions, sorted.
// Registered does not imply alive.
func (h *Hub) Identities() []string {
	seen := make(map[string]struct{})
	h.ForEach(func(c *Client) { seen[c.identity.Name] = struct{}{} })
	return sortedNames(seen)
}

// Count returns the number of registered sessions.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// broadcast queues payload for every registered session without waiting.
func (h *Hub) broadcast(payload []byte) {
	clients := h.getClientSnapshot()
	h.log.Debug("broadcasting frame", zap.Int("sessions", len(clients)), zap.Int("bytes", len(payload)))
	for _, client := range clients {
		h.sendTo(client, payload)
	}
}

// sendTo queues payload for one session. A full queue drops the frame; the
// session is left to the liveness sweep.
func (h *Hub) sendTo(client *Client, payload []byte) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		return false
	}
	if client.hold(payload) {
		return true
	}
	select {
	case client.send <- payload:
		return true
	default:
		h.metrics.recordDrop()
		h.log.Warn("session send buffer full, dropping frame", zap.String("session", client.id))
		return false
	}
}

func (h *Hub) snapshot(ctx context.Context) []byte {
	return encodeFrame(snapshotFrame{
		Online:   h.store.ReadSet(ctx, OnlineKey),
		Messages: h.relay.history(ctx),
	})
}

// Run drives the liveness sweep until Shutdown is called.
func (h *Hub) Run() {
	h.started.Store(true)
	defer close(h.done)

	h.tracker.run(h.ctx)
	h.shutdownClients()
}

// shutdownClients closes all active client connections
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	h.closed = true
	h.mutex.Unlock()

	clients := h.getClientSnapshot()
	for _, client := range clients {
		h.terminate(client)
	}
	h.log.Info("closed client connections", zap.Int("sessions", len(clients)))
}

// Shutdown stops the sweep, closes every session and waits for the session
// goroutines to finish or for timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")
	h.cancel()

	if h.started.Load() {
		<-h.done
	} else {
		h.shutdownClients()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
