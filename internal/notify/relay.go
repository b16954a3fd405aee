// Package notify surfaces server-pushed notifications as one-shot popups.
// The relay marks each record read before publishing so a notification is
// delivered at most once across restarts and duplicate feed events.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/nutrikit/client/internal/health"
	"github.com/nutrikit/client/internal/logging"
	"github.com/nutrikit/client/internal/workerpool"
)

var log = logging.L("notify")

// Notification is one unread record from the user's feed.
type Notification struct {
	SourceID string `json:"sourceId"`
	Message  string `json:"message"`
}

// Channel is the notification transport contract.
type Channel interface {
	// SubscribeUnread opens a live feed of unread notifications owned by
	// userID. The returned func stops the feed.
	SubscribeUnread(userID string, onAdded func(Notification)) (func(), error)

	// MarkRead marks a notification consumed server-side.
	MarkRead(ctx context.Context, sourceID string) error
}

const markReadTimeout = 10 * time.Second

// Relay owns at most one live feed subscription. Each Arm gets its own
// seen-set and delivery gate, so records from a torn-down feed can never
// reach the current sink.
type Relay struct {
	channel Channel
	pool    *workerpool.Pool
	monitor *health.Monitor

	mu          sync.Mutex
	unsubscribe func()
	armed       *armedFeed
}

// armedFeed is the per-arm state: the sink, the already-delivered set,
// and the stopped flag consulted before every delivery.
type armedFeed struct {
	mu      sync.Mutex
	stopped bool
	seen    map[string]bool
	sink    func(Notification)
}

func NewRelay(channel Channel, pool *workerpool.Pool, monitor *health.Monitor) *Relay {
	return &Relay{channel: channel, pool: pool, monitor: monitor}
}

// Arm opens the feed for userID, delivering each new notification to sink
// exactly once. A previous feed is torn down first.
func (r *Relay) Arm(userID string, sink func(Notification)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.disarmLocked()

	feed := &armedFeed{seen: make(map[string]bool), sink: sink}
	unsub, err := r.channel.SubscribeUnread(userID, func(n Notification) {
		r.handle(feed, n)
	})
	if err != nil {
		log.Warn("failed to open notification feed", "userId", userID, "error", err)
		if r.monitor != nil {
			r.monitor.Update("notify", health.Unhealthy, err.Error())
		}
		return err
	}

	if r.monitor != nil {
		r.monitor.Update("notify", health.Healthy, "")
	}
	r.unsubscribe = unsub
	r.armed = feed
	return nil
}

// Disarm stops the current feed immediately. Safe to call when not armed.
func (r *Relay) Disarm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disarmLocked()
}

func (r *Relay) disarmLocked() {
	if r.armed != nil {
		r.armed.mu.Lock()
		r.armed.stopped = true
		r.armed.mu.Unlock()
		r.armed = nil
	}
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

// handle delivers one feed record: dedupe, mark read, publish. The mark
// read goes out before the publish; its failure is logged, not retried
// inline, because the feed's server-side unread filter is the backstop.
func (r *Relay) handle(feed *armedFeed, n Notification) {
	feed.mu.Lock()
	if feed.stopped || feed.seen[n.SourceID] {
		feed.mu.Unlock()
		return
	}
	feed.seen[n.SourceID] = true
	feed.mu.Unlock()

	r.markRead(n.SourceID)

	feed.mu.Lock()
	stopped := feed.stopped
	feed.mu.Unlock()
	if stopped {
		return
	}
	feed.sink(n)
}

func (r *Relay) markRead(sourceID string) {
	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
		defer cancel()
		if err := r.channel.MarkRead(ctx, sourceID); err != nil {
			log.Warn("failed to mark notification read", "sourceId", sourceID, "error", err)
		}
	}

	if r.pool != nil {
		if !r.pool.Submit(task) {
			log.Warn("mark-read task rejected", "sourceId", sourceID)
		}
		return
	}
	task()
}
