// Package supervisor bridges the in-process event bus to external
// observers: browser dashboards and operator tooling that want a live
// feed of packet_received/state_changed/ai_completed/ai_failed events
// without polling the store.
package supervisor

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"telecom-platform/internal/auth"
	"telecom-platform/internal/eventbus"
	"telecom-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// writeWait bounds how long a single event write may block before the
// connection is considered dead.
const writeWait = 5 * time.Second

const bearerPrefix = "Bearer "

// Hub upgrades incoming HTTP requests to a websocket and, for the
// lifetime of that connection, relays every event.Bus publication to the
// client verbatim as JSON. Each connection is its own bus subscriber, so
// a slow browser tab only ever loses its own events, per the bus's
// drop-subscriber-on-overflow contract.
type Hub struct {
	Bus  *eventbus.Bus
	Auth *auth.Manager
}

func New(bus *eventbus.Bus, authManager *auth.Manager) *Hub {
	return &Hub{Bus: bus, Auth: authManager}
}

// Stream handles GET /v1/stream. A bearer token is optional; if present
// it is verified exactly like the admin surface (auth.RequireAccessToken)
// and the resolved role is attached to the connection's logger for any
// future authorization decision. No role is required to connect: the
// core's own ingest/completion endpoints are unauthenticated, and this
// stream only ever exposes the same events they already publish.
//
// An optional ?call_id= query parameter narrows the feed to events for
// that call only; omitted, the connection receives every event on the bus.
func (h *Hub) Stream(c *gin.Context) {
	log := logger.FromGin(c)
	filterCallID := c.Query("call_id")

	role, ok, err := h.resolveRole(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if ok {
		log = log.With("role", role)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("supervisor stream upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	subID := uuid.NewString()
	events, unsubscribe := h.Bus.Subscribe(subID)
	defer unsubscribe()

	// Detect client-initiated close without blocking the read side on
	// anything meaningful: this connection is send-only.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return // dropped by the bus for falling behind
			}
			if filterCallID != "" && evt.CallID != filterCallID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// resolveRole verifies an optional bearer token the same way
// auth.RequireAccessToken does. ok is false (with a nil error) when no
// token was supplied, meaning the connection proceeds anonymously; a
// non-nil error means a token was supplied but failed verification and
// the caller must reject the connection before upgrading.
func (h *Hub) resolveRole(c *gin.Context) (role string, ok bool, err error) {
	raw := strings.TrimSpace(c.GetHeader("Authorization"))
	if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
		return "", false, nil
	}
	if h.Auth == nil {
		return "", false, errors.New("supervisor: no auth manager configured")
	}
	tok := strings.TrimPrefix(raw, bearerPrefix)
	claims, verr := h.Auth.Verify(tok, auth.TokenTypeAccess, time.Now())
	if verr != nil {
		return "", false, verr
	}
	return claims.Role, true, nil
}
