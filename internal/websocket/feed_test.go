package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nutrikit/client/internal/notify"
	"github.com/nutrikit/client/pkg/api"
)

var upgrader = websocket.Upgrader{}

func TestBuildFeedURLSwapsScheme(t *testing.T) {
	client := api.NewClient("https://api.nutrikit.app", "install-1")
	client.SetToken("tok-1")
	f := NewFeed("https://api.nutrikit.app", client)

	u, err := f.buildFeedURL("u-1")
	if err != nil {
		t.Fatalf("buildFeedURL error = %v", err)
	}
	if u != "wss://api.nutrikit.app/api/v1/users/u-1/notifications/ws" {
		t.Fatalf("url = %s", u)
	}
	// The token must never appear in the URL; it travels as a header.
	if strings.Contains(u, "tok-1") {
		t.Fatalf("url leaks token: %s", u)
	}
}

func TestSubscribeUnreadDeliversNotifications(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]string{"type": "connected"})
		conn.WriteJSON(notify.Notification{SourceID: "n-1", Message: "log your lunch"})
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, "install-1")
	client.SetToken("tok-1")
	f := NewFeed(srv.URL, client)

	got := make(chan notify.Notification, 1)
	unsub, err := f.SubscribeUnread("u-1", func(n notify.Notification) { got <- n })
	if err != nil {
		t.Fatalf("SubscribeUnread error = %v", err)
	}
	defer unsub()

	select {
	case n := <-got:
		if n.SourceID != "n-1" || n.Message != "log your lunch" {
			t.Fatalf("notification = %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification delivered")
	}
}

func TestSubscribeUnreadSkipsAckMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]string{"type": "ack"})
		conn.WriteJSON(notify.Notification{SourceID: "n-2", Message: "weekly summary"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, "install-1")
	f := NewFeed(srv.URL, client)

	got := make(chan notify.Notification, 2)
	unsub, err := f.SubscribeUnread("u-1", func(n notify.Notification) { got <- n })
	if err != nil {
		t.Fatalf("SubscribeUnread error = %v", err)
	}
	defer unsub()

	select {
	case n := <-got:
		if n.SourceID != "n-2" {
			t.Fatalf("first delivery = %+v, want n-2 (ack skipped)", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification delivered")
	}
}

func TestUnsubscribeStopsFeed(t *testing.T) {
	connected := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connected <- struct{}{}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, "install-1")
	f := NewFeed(srv.URL, client)

	unsub, err := f.SubscribeUnread("u-1", func(notify.Notification) {})
	if err != nil {
		t.Fatalf("SubscribeUnread error = %v", err)
	}

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("feed never connected")
	}

	unsub()
	unsub() // idempotent

	// No reconnect should happen after stop.
	select {
	case <-connected:
		t.Fatal("feed reconnected after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStopDuringDialClosesConnection(t *testing.T) {
	serverClosed := make(chan struct{})
	dialStarted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(dialStarted)
		// Hold the handshake open so the stop lands mid-dial.
		time.Sleep(100 * time.Millisecond)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			close(serverClosed)
		}
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, "install-1")
	f := NewFeed(srv.URL, client)

	unsub, err := f.SubscribeUnread("u-1", func(notify.Notification) {})
	if err != nil {
		t.Fatalf("SubscribeUnread error = %v", err)
	}

	<-dialStarted
	unsub()

	// The conn established after the stop must be closed, not leaked: the
	// server sees the close instead of an idle connection.
	select {
	case <-serverClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection dialed during stop was never closed")
	}
}
