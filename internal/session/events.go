package session

import (
	"github.com/nutrikit/client/internal/identity"
	"github.com/nutrikit/client/internal/notify"
	"github.com/nutrikit/client/internal/profile"
	"github.com/nutrikit/client/internal/subscription"
)

// Events are the only way collaborators and callers reach session state.
// Asynchronous results carry the generation they were spawned under; the
// run loop drops anything tagged with a superseded generation before it
// can touch current state.
type event any

type identityEvent struct {
	gen   uint64
	ident *identity.Identity
}

type profileEvent struct {
	gen uint64
	res profile.Resolution
}

type subscriptionEvent struct {
	gen    uint64
	status subscription.Status
}

type notificationEvent struct {
	gen uint64
	n   notify.Notification
}

type autoLoginEvent struct {
	gen uint64
	ok  bool
}

type timeoutEvent struct {
	gen uint64
}

// Commands from the presentation layer are not generation-tagged; they
// always apply to the current generation.
type dismissCommand struct{}

type retryCommand struct{}

type reloadCommand struct{}
