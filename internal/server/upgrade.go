package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/presencehub/internal/auth"
)

// UpgradeAuthenticator gates websocket upgrades on the access token carried in
// the accessToken cookie. Requests without a valid token are refused with 401
// before any frame is exchanged.
type UpgradeAuthenticator struct {
	hub      *Hub
	tokens   TokenVerifier
	origins  *originPolicy
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func newUpgradeAuthenticator(hub *Hub, tokens TokenVerifier, origins *originPolicy) *UpgradeAuthenticator {
	return &UpgradeAuthenticator{
		hub:     hub,
		tokens:  tokens,
		origins: origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		log: hub.log.With(zap.String("component", "upgrade")),
	}
}

// Authenticate returns the identity of the upgrade request's access cookie.
func (u *UpgradeAuthenticator) Authenticate(r *http.Request) (auth.Identity, error) {
	cookie, err := r.Cookie(AccessCookie)
	if err != nil || cookie.Value == "" {
		return auth.Identity{}, auth.ErrMissing
	}
	return u.tokens.VerifyAccess(cookie.Value)
}

// ServeHTTP handles GET /ws.
func (u *UpgradeAuthenticator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if !u.origins.check(r) {
		u.hub.metrics.recordUpgradeRefused("origin")
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	identity, err := u.Authenticate(r)
	if err != nil {
		reason := authReason(err)
		u.hub.metrics.recordUpgradeRefused(reason)
		u.log.Info("refusing websocket upgrade", zap.String("reason", reason), zap.String("addr", r.RemoteAddr))
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	// Recorded before the first sweep confirms liveness; the sweep corrects it.
	u.hub.store.AddToSet(r.Context(), OnlineKey, identity.Name)

	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		u.hub.metrics.recordUpgradeRefused("handshake")
		u.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	u.hub.Admit(conn, identity, r.RemoteAddr)
}
