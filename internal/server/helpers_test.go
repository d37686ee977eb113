package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/presencehub/internal/auth"
	"github.com/Tyrowin/presencehub/internal/config"
	"github.com/Tyrowin/presencehub/internal/store"
	"github.com/Tyrowin/presencehub/internal/users"
)

const (
	testOrigin        = "http://localhost:8080"
	testAccessSecret  = "access-secret"
	testRefreshSecret = "refresh-secret"
	frameTimeout      = 2 * time.Second
)

type testHub struct {
	t       *testing.T
	srv     *Server
	tokens  *auth.Service
	users   *users.MemoryStore
	backend store.Backend
	http    *httptest.Server
	wsURL   string
}

func newTestHub(t *testing.T) *testHub {
	return newTestHubWithBackend(t, store.NewMemoryBackend())
}

func newTestHubWithBackend(t *testing.T, backend store.Backend) *testHub {
	t.Helper()

	tokens := auth.NewService(testAccessSecret, testRefreshSecret, auth.NewMemoryRefreshStore())
	accounts := users.NewMemoryStore(users.NewHasher(bcrypt.MinCost))
	srv := New(Options{
		Config: config.Config{
			AllowedOrigins: []string{testOrigin},
			SweepInterval:  time.Hour,
			RateLimitBurst: 1000,
			MaxMessageSize: 4096,
		},
		Tokens:  tokens,
		Backend: backend,
		Users:   accounts,
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(time.Second)
		ts.Close()
	})

	return &testHub{
		t:       t,
		srv:     srv,
		tokens:  tokens,
		users:   accounts,
		backend: backend,
		http:    ts,
		wsURL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func identityFor(name string) auth.Identity {
	return auth.Identity{Name: name, UID: "uid-" + name, Rights: "user"}
}

func (th *testHub) accessToken(name string) string {
	th.t.Helper()
	token, err := th.tokens.IssueAccess(identityFor(name))
	require.NoError(th.t, err)
	return token
}

func (th *testHub) expiredToken(name string) string {
	th.t.Helper()
	past := time.Now().Add(-time.Hour)
	issuer := auth.NewService(testAccessSecret, testRefreshSecret, auth.NewMemoryRefreshStore(),
		auth.WithClock(func() time.Time { return past }))
	token, err := issuer.IssueAccess(identityFor(name))
	require.NoError(th.t, err)
	return token
}

// dial opens a websocket with token as the access cookie; an empty token sends no cookie.
func (th *testHub) dial(token string) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	header.Set("Origin", testOrigin)
	if token != "" {
		header.Set("Cookie", AccessCookie+"="+token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: frameTimeout}
	conn, resp, err := dialer.Dial(th.wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if conn != nil {
		th.t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

// connect admits a session for name and consumes its snapshot frame.
func (th *testHub) connect(name string) (*websocket.Conn, testFrame) {
	th.t.Helper()
	before := th.srv.Hub().Count()
	conn, _, err := th.dial(th.accessToken(name))
	require.NoError(th.t, err)
	snapshot := readFrame(th.t, conn)
	require.NotNil(th.t, snapshot.Online, "first frame must be the snapshot")
	require.NotNil(th.t, snapshot.Messages, "first frame must be the snapshot")
	require.Eventually(th.t, func() bool { return th.srv.Hub().Count() > before }, frameTimeout, 5*time.Millisecond)
	return conn, snapshot
}

func (th *testHub) session(name string) *Client {
	th.t.Helper()
	var found *Client
	require.Eventually(th.t, func() bool {
		th.srv.Hub().ForEach(func(c *Client) {
			if c.Identity().Name == name {
				found = c
			}
		})
		return found != nil
	}, frameTimeout, 5*time.Millisecond)
	return found
}

func (th *testHub) sweep() []string {
	return th.srv.Hub().Tracker().Sweep(context.Background())
}

type testFrame struct {
	Online   *[]string        `json:"online"`
	Messages *[]MessageRecord `json:"messages"`
	Errors   []string         `json:"errors"`
	raw      []byte
}

func readFrame(t *testing.T, conn *websocket.Conn) testFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(frameTimeout)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f testFrame
	require.NoError(t, json.Unmarshal(raw, &f), "frame %s", raw)
	f.raw = raw
	return f
}

// readUntil reads frames until match accepts one, skipping the rest.
func readUntil(t *testing.T, conn *websocket.Conn, match func(testFrame) bool) testFrame {
	t.Helper()
	for i := 0; i < 500; i++ {
		f := readFrame(t, conn)
		if match(f) {
			return f
		}
	}
	t.Fatal("no matching frame")
	return testFrame{}
}

func isMessagesFrame(f testFrame) bool { return f.Messages != nil && f.Online == nil }

func isOnlineFrame(f testFrame) bool { return f.Online != nil && f.Messages == nil }

func isErrorsFrame(f testFrame) bool { return len(f.Errors) > 0 }

func expectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, raw, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", raw)
	var netErr interface{ Timeout() bool }
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected timeout, got %v", err)
}

func sendChat(t *testing.T, conn *websocket.Conn, token, text string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(InboundFrame{Token: token, ChatMessage: text}))
}

// newDetachedHub returns a hub whose sessions have no transport, for driving
// the registry and sweep directly.
func newDetachedHub(t *testing.T) *Hub {
	t.Helper()
	tokens := auth.NewService(testAccessSecret, testRefreshSecret, auth.NewMemoryRefreshStore())
	h := NewHub(HubConfig{}, store.NewEphemeral(store.NewMemoryBackend(), nil), tokens, nil, nil)
	t.Cleanup(func() { _ = h.Shutdown(time.Second) })
	return h
}

func registerDetached(h *Hub, name string) *Client {
	c := newClient(newFakeConn(false), h, identityFor(name), "detached")
	h.mutex.Lock()
	h.clients[c] = struct{}{}
	h.mutex.Unlock()
	return c
}

type failingBackend struct{}

var errBackendDown = errors.New("backend down")

func (failingBackend) OverwriteSet(context.Context, string, []string) error { return errBackendDown }
func (failingBackend) AddToSet(context.Context, string, string) error       { return errBackendDown }
func (failingBackend) AppendBounded(context.Context, string, string, int) error {
	return errBackendDown
}
func (failingBackend) ReadSet(context.Context, string) ([]string, error) { return nil, errBackendDown }
func (failingBackend) ReadBoundedList(context.Context, string, int) ([]string, error) {
	return nil, errBackendDown
}

// fakeConn is an in-memory session transport. Reads block until Close. With
// stall set, writes block until Close like a peer that stopped reading.
type fakeConn struct {
	stall  bool
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	frames [][]byte
	pings  int
}

func newFakeConn(stall bool) *fakeConn {
	return &fakeConn{stall: stall, closed: make(chan struct{})}
}

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetPongHandler(func(string) error) {}
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, net.ErrClosed
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if err := f.wait(); err != nil {
		return err
	}
	if messageType == websocket.TextMessage {
		f.mu.Lock()
		f.frames = append(f.frames, append([]byte(nil), data...))
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	if err := f.wait(); err != nil {
		return err
	}
	if messageType == websocket.PingMessage {
		f.mu.Lock()
		f.pings++
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeConn) wait() error {
	if f.stall {
		<-f.closed
	}
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
		return nil
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func (f *fakeConn) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}
