// Package websocket carries the live unread-notification feed. Each
// subscription maintains its own connection with reconnect and backoff so
// a flaky network degrades to delayed notifications, never a crash.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nutrikit/client/internal/logging"
	"github.com/nutrikit/client/internal/notify"
	"github.com/nutrikit/client/pkg/api"
)

var log = logging.L("websocket")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3
)

// Feed implements notify.Channel over a per-user websocket stream.
// Mark-read confirmations go over the REST client; the stream itself is
// receive-only.
type Feed struct {
	serverURL string
	client    *api.Client
}

func NewFeed(serverURL string, client *api.Client) *Feed {
	return &Feed{serverURL: serverURL, client: client}
}

// SubscribeUnread opens the feed for userID. onAdded runs on the feed's
// read goroutine; keep it fast.
func (f *Feed) SubscribeUnread(userID string, onAdded func(notify.Notification)) (func(), error) {
	wsURL, err := f.buildFeedURL(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed URL: %w", err)
	}

	s := &stream{
		url:     wsURL,
		token:   f.client.Token,
		onAdded: onAdded,
		done:    make(chan struct{}),
	}
	go s.run()
	return s.stop, nil
}

// MarkRead marks a notification consumed via the REST API.
func (f *Feed) MarkRead(ctx context.Context, sourceID string) error {
	return f.client.MarkNotificationRead(ctx, sourceID)
}

func (f *Feed) buildFeedURL(userID string) (string, error) {
	u, err := url.Parse(f.serverURL)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	u.Path = fmt.Sprintf("/api/v1/users/%s/notifications/ws", userID)
	return u.String(), nil
}

// stream is one live subscription: a reconnect loop plus read/ping pumps.
// The token is re-read on every dial so reconnects pick up a swapped
// session token, and it travels as a header rather than in the URL to
// keep it out of server access logs.
type stream struct {
	url     string
	token   func() string
	onAdded func(notify.Notification)

	connMu   sync.RWMutex
	conn     *websocket.Conn
	done     chan struct{}
	stopOnce sync.Once
}

func (s *stream) stop() {
	s.stopOnce.Do(func() {
		close(s.done)

		s.connMu.Lock()
		if s.conn != nil {
			s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			s.conn.Close()
			s.conn = nil
		}
		s.connMu.Unlock()

		log.Debug("feed stopped")
	})
}

func (s *stream) run() {
	backoff := initialBackoff

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.connect(); err != nil {
			if errors.Is(err, errFeedStopped) {
				return
			}
			log.Warn("feed connection failed", "error", err)

			jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
			sleep := backoff + jitter
			if sleep < 0 {
				sleep = backoff
			}

			select {
			case <-s.done:
				return
			case <-time.After(sleep):
			}

			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = initialBackoff

		pumpDone := make(chan struct{})
		go s.pingPump(pumpDone)
		s.readPump()
		close(pumpDone)

		select {
		case <-s.done:
			return
		default:
		}
	}
}

var errFeedStopped = errors.New("feed stopped")

func (s *stream) connect() error {
	header := http.Header{}
	if tok := s.token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(s.url, header)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	s.connMu.Lock()
	select {
	case <-s.done:
		// stop() won the race while the dial was in flight; it will never
		// see this conn, so close it here.
		s.connMu.Unlock()
		conn.Close()
		return errFeedStopped
	default:
	}
	s.conn = conn
	s.connMu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	log.Debug("feed connected")
	return nil
}

func (s *stream) readPump() {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn == nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("feed read error", "error", err)
			}
			return
		}

		var n notify.Notification
		if err := json.Unmarshal(message, &n); err != nil {
			log.Warn("failed to parse notification", "error", err)
			continue
		}
		if n.SourceID == "" {
			// Server acknowledgments and keepalives carry no sourceId.
			continue
		}

		s.onAdded(n)
	}
}

func (s *stream) pingPump(pumpDone chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-pumpDone:
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.RLock()
			conn := s.conn
			s.connMu.RUnlock()

			if conn == nil {
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
