package transport

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Upgrader wraps gorilla's websocket.Upgrader with an allowed-origins list,
// mirroring the teacher's upgradeWebSocket/validateOrigin split so CORS
// policy lives in one place shared by the HTTP router and the WS upgrade
// path.
type Upgrader struct {
	allowedOrigins map[string]struct{}
	up             websocket.Upgrader
}

// NewUpgrader builds an Upgrader that accepts connections only from the
// given origins (exact match); an empty list allows any origin, which is
// appropriate only in development mode.
func NewUpgrader(allowedOrigins []string) *Upgrader {
	set := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		set[strings.TrimSpace(o)] = struct{}{}
	}
	u := &Upgrader{allowedOrigins: set}
	u.up = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     u.validateOrigin,
	}
	return u
}

func (u *Upgrader) validateOrigin(r *http.Request) bool {
	if len(u.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	_, ok := u.allowedOrigins[origin]
	return ok
}

// Upgrade performs the HTTP->WebSocket handshake.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return u.up.Upgrade(w, r, nil)
}

// ExtractToken pulls the auth token from the "token" query parameter, with a
// Bearer-prefixed Authorization header as a fallback for non-browser clients.
func ExtractToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
