package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUpgradeGateRefusesBadCredentials verifies refused upgrades never reach
// the websocket handshake and leave no trace in the registry.
func TestUpgradeGateRefusesBadCredentials(t *testing.T) {
	th := newTestHub(t)

	valid := th.accessToken("mallory")
	parts := strings.Split(valid, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{name: "no credential", token: "", reason: "missing"},
		{name: "expired credential", token: th.expiredToken("mallory"), reason: "expired"},
		{name: "tampered credential", token: tampered, reason: "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := th.dial(tt.token)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			assert.Nil(t, conn)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.InDelta(t, 1, testutil.ToFloat64(th.srv.metrics.upgradeRefused.WithLabelValues(tt.reason)), 0)
		})
	}

	assert.Zero(t, th.srv.Hub().Count())
	assert.NotContains(t, th.srv.Hub().store.ReadSet(context.Background(), OnlineKey), "mallory")
}

// TestUpgradeSendsSnapshotFirst verifies the admitted session's first frame is
// the one-time {online, messages} snapshot and later frames are broadcasts.
func TestUpgradeSendsSnapshotFirst(t *testing.T) {
	th := newTestHub(t)

	conn, resp, err := th.dial(th.accessToken("alice"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	first := readFrame(t, conn)
	require.NotNil(t, first.Online)
	require.NotNil(t, first.Messages)
	assert.Contains(t, *first.Online, "alice", "the upgrade records the name optimistically")
	assert.Empty(t, *first.Messages)

	th.session("alice")
	th.sweep()
	next := readFrame(t, conn)
	assert.True(t, isOnlineFrame(next), "got %s", next.raw)
	assert.Equal(t, []string{"alice"}, *next.Online)
}

func TestUpgradeSnapshotDegradesOnStoreOutage(t *testing.T) {
	th := newTestHubWithBackend(t, failingBackend{})

	_, snapshot := th.connect("alice")
	assert.Empty(t, *snapshot.Online)
	assert.Empty(t, *snapshot.Messages)
	assert.JSONEq(t, `{"online":[],"messages":[]}`, string(snapshot.raw))
	assert.Positive(t, testutil.ToFloat64(th.srv.metrics.storeErrors.WithLabelValues("add_to_set")))
}

func TestUpgradeAuthenticateReadsCookie(t *testing.T) {
	th := newTestHub(t)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	_, err := th.srv.upgrade.Authenticate(req)
	assert.Error(t, err)

	req.AddCookie(&http.Cookie{Name: AccessCookie, Value: th.accessToken("alice")})
	identity, err := th.srv.upgrade.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, identityFor("alice"), identity)
}

func TestUpgradeRejectsNonGET(t *testing.T) {
	th := newTestHub(t)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/ws", nil)
		rec := httptest.NewRecorder()
		th.srv.Routes().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
	}
}

func TestUpgradeRejectsDisallowedOrigin(t *testing.T) {
	th := newTestHub(t)

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	header.Set("Cookie", AccessCookie+"="+th.accessToken("alice"))
	conn, resp, err := websocket.DefaultDialer.Dial(th.wsURL, header)
	if conn != nil {
		_ = conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, th.srv.Hub().Count())
}

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "exact match", allowed: []string{"http://localhost:8080"}, origin: "http://localhost:8080", want: true},
		{name: "case insensitive", allowed: []string{"http://LocalHost:8080"}, origin: "HTTP://localhost:8080", want: true},
		{name: "other port", allowed: []string{"http://localhost:8080"}, origin: "http://localhost:9090", want: false},
		{name: "empty origin", allowed: []string{"*"}, origin: "", want: false},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://anything.example", want: true},
		{name: "invalid configured origin ignored", allowed: []string{"not a url"}, origin: "not a url", want: false},
		{name: "malformed request origin", allowed: []string{"http://localhost:8080"}, origin: "://bad", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOriginPolicy(tt.allowed, zapNop())
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, p.check(req))
		})
	}
}
