package supervisor

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"telecom-platform/internal/auth"
	"telecom-platform/internal/config"
	"telecom-platform/internal/eventbus"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newHubTestServer(t *testing.T) (*httptest.Server, *eventbus.Bus) {
	t.Helper()
	return newHubTestServerWithAuth(t, nil)
}

func newHubTestServerWithAuth(t *testing.T, authManager *auth.Manager) (*httptest.Server, *eventbus.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := eventbus.New(nil)
	hub := New(bus, authManager)

	r := gin.New()
	r.GET("/v1/stream", hub.Stream)
	srv := httptest.NewServer(r)
	return srv, bus
}

func testAuthManager(t *testing.T) *auth.Manager {
	t.Helper()
	m, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	return m
}

func dialStream(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func dialStreamWithHeader(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream"
	return websocket.DefaultDialer.Dial(url, header)
}

func TestHub_RelaysPublishedEvents(t *testing.T) {
	srv, bus := newHubTestServer(t)
	defer srv.Close()

	conn := dialStream(t, srv, "")
	defer conn.Close()

	time.Sleep(20 * time.Millisecond) // let the subscription register
	bus.Publish(eventbus.Event{Kind: eventbus.KindPacketReceived, CallID: "c1", Sequence: 0, ReceivedCount: 1})

	var got eventbus.Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("expected event, got err: %v", err)
	}
	if got.Kind != eventbus.KindPacketReceived || got.CallID != "c1" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestHub_FiltersByCallID(t *testing.T) {
	srv, bus := newHubTestServer(t)
	defer srv.Close()

	conn := dialStream(t, srv, "?call_id=wanted")
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)
	bus.Publish(eventbus.Event{Kind: eventbus.KindStateChanged, CallID: "ignored"})
	bus.Publish(eventbus.Event{Kind: eventbus.KindStateChanged, CallID: "wanted", ToState: "ARCHIVED"})

	var got eventbus.Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("expected event, got err: %v", err)
	}
	if got.CallID != "wanted" {
		t.Fatalf("expected filtered stream to skip 'ignored', got: %+v", got)
	}
}

func TestHub_UnsubscribesOnDisconnect(t *testing.T) {
	srv, bus := newHubTestServer(t)
	defer srv.Close()

	conn := dialStream(t, srv, "")
	time.Sleep(20 * time.Millisecond)
	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.SubscriberCount())
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bus.SubscriberCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected subscriber to be removed after disconnect")
}

func TestHub_ConnectsAnonymouslyWithoutToken(t *testing.T) {
	authManager := testAuthManager(t)
	srv, _ := newHubTestServerWithAuth(t, authManager)
	defer srv.Close()

	conn := dialStream(t, srv, "")
	defer conn.Close()
}

func TestHub_AcceptsValidBearerToken(t *testing.T) {
	authManager := testAuthManager(t)
	srv, bus := newHubTestServerWithAuth(t, authManager)
	defer srv.Close()

	pair, err := authManager.IssuePair(time.Now(), "user-1", "supervisor")
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}

	header := http.Header{"Authorization": []string{"Bearer " + pair.AccessToken}}
	conn, _, err := dialStreamWithHeader(t, srv, header)
	if err != nil {
		t.Fatalf("dial with valid token failed: %v", err)
	}
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)
	bus.Publish(eventbus.Event{Kind: eventbus.KindPacketReceived, CallID: "c1"})

	var got eventbus.Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("expected event after authenticated connect, got err: %v", err)
	}
}

func TestHub_RejectsInvalidBearerToken(t *testing.T) {
	authManager := testAuthManager(t)
	srv, _ := newHubTestServerWithAuth(t, authManager)
	defer srv.Close()

	header := http.Header{"Authorization": []string{"Bearer not-a-real-token"}}
	_, resp, err := dialStreamWithHeader(t, srv, header)
	if err == nil {
		t.Fatalf("expected dial to fail for invalid token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}
