// Package identity delivers the authenticated-user-or-none signal the
// session bootstrap hangs off. A Watcher owns at most one live provider
// subscription at a time; disarming guarantees no further deliveries from
// the torn-down subscription.
package identity

import (
	"context"
	"sync"

	"github.com/nutrikit/client/internal/logging"
)

var log = logging.L("identity")

// Identity is an authenticated user's stable identifier plus email.
type Identity struct {
	UserID string
	Email  string
}

// Event carries the current identity, or nil for signed-out.
type Event struct {
	Identity *Identity
}

// Provider is the upstream identity source.
type Provider interface {
	// Subscribe registers onChange and delivers the current
	// identity-or-none soon after, then again on every sign-in and
	// sign-out. The returned func cancels the subscription.
	Subscribe(onChange func(Event)) (func(), error)

	// SignIn authenticates with the given credentials. On success
	// subscribers receive an Event carrying the new identity.
	SignIn(ctx context.Context, email, secret string) error

	// SignOut ends the current session. Subscribers receive a nil-identity
	// Event.
	SignOut(ctx context.Context) error
}

// Watcher wraps a Provider subscription with an armed/disarmed gate so a
// superseded subscription can never deliver into current session state.
type Watcher struct {
	provider Provider

	mu          sync.Mutex
	unsubscribe func()
	gate        *deliveryGate
}

// deliveryGate blocks deliveries once closed. Each Arm gets a fresh gate,
// so callbacks queued by a previous subscription are dropped even if the
// provider's unsubscribe is asynchronous.
type deliveryGate struct {
	mu     sync.Mutex
	closed bool
}

func (g *deliveryGate) deliver(sink func(Event), ev Event) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		log.Debug("dropping event from disarmed subscription")
		return
	}
	sink(ev)
}

func (g *deliveryGate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func NewWatcher(provider Provider) *Watcher {
	return &Watcher{provider: provider}
}

// Arm subscribes sink to identity changes. Any previous subscription is
// torn down first.
func (w *Watcher) Arm(sink func(Event)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.disarmLocked()

	gate := &deliveryGate{}
	unsub, err := w.provider.Subscribe(func(ev Event) {
		gate.deliver(sink, ev)
	})
	if err != nil {
		// Fail open: a broken provider routes to the login screen, it
		// must never wedge the bootstrap. Deliver a synthetic none.
		log.Warn("identity provider subscribe failed, treating as signed out", "error", err)
		gate.deliver(sink, Event{})
		w.gate = gate
		return nil
	}

	w.unsubscribe = unsub
	w.gate = gate
	return nil
}

// Disarm cancels the current subscription. Events already in flight are
// dropped at the gate. Safe to call when not armed.
func (w *Watcher) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disarmLocked()
}

func (w *Watcher) disarmLocked() {
	if w.gate != nil {
		w.gate.close()
		w.gate = nil
	}
	if w.unsubscribe != nil {
		w.unsubscribe()
		w.unsubscribe = nil
	}
}
