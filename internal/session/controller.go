// Package session owns the client's bootstrap state machine: the ordered
// checks that turn a cold process start into a terminal application mode,
// under a global timeout that guarantees the UI is never left on an
// indefinite spinner.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nutrikit/client/internal/autologin"
	"github.com/nutrikit/client/internal/config"
	"github.com/nutrikit/client/internal/credstore"
	"github.com/nutrikit/client/internal/health"
	"github.com/nutrikit/client/internal/identity"
	"github.com/nutrikit/client/internal/logging"
	"github.com/nutrikit/client/internal/notify"
	"github.com/nutrikit/client/internal/profile"
	"github.com/nutrikit/client/internal/subscription"
	"github.com/nutrikit/client/internal/workerpool"
)

var log = logging.L("session")

// Deps are the external collaborators the bootstrap sequences. All of
// them are narrow contracts; the concrete bindings live in pkg/api,
// internal/identity, and internal/websocket.
type Deps struct {
	Provider      identity.Provider
	Profiles      profile.Store
	Subscriptions subscription.Service
	Notifications notify.Channel
	Credentials   *credstore.Store
	Health        *health.Monitor
	MarkReadPool  *workerpool.Pool
}

// Controller runs the session bootstrap. A single run-loop goroutine is
// the only writer of session state; collaborator callbacks post
// generation-tagged events and never touch state directly.
type Controller struct {
	cfg     *config.Config
	deps    Deps
	timeout time.Duration

	watcher  *identity.Watcher
	relay    *notify.Relay
	resolver *profile.Resolver
	gate     *subscription.Gate
	fallback *autologin.Attempter

	events  chan event
	updates chan Snapshot
	quit    chan struct{}
	stopped chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	runCtx    context.Context
	cancel    context.CancelFunc

	snapMu sync.RWMutex
	snap   Snapshot

	// Everything below is owned by the run loop.
	st loopState
}

// loopState is the mutable session aggregate. It is read and written only
// from the run loop.
type loopState struct {
	phase              Phase
	mode               Mode
	ident              *identity.Identity
	role               profile.Role
	onboardingComplete bool
	subStatus          subscription.Status
	lastErr            *Error
	pending            *notify.Notification
	generation         uint64
	began              bool
	autoLoginTried     bool
	timeoutFired       bool
	timer              *time.Timer
}

func New(cfg *config.Config, deps Deps) *Controller {
	return &Controller{
		cfg:      cfg,
		deps:     deps,
		timeout:  time.Duration(cfg.BootstrapTimeoutSeconds) * time.Second,
		watcher:  identity.NewWatcher(deps.Provider),
		relay:    notify.NewRelay(deps.Notifications, deps.MarkReadPool, deps.Health),
		resolver: profile.NewResolver(deps.Profiles, cfg.PrivilegedEmail, deps.Health),
		gate:     subscription.NewGate(deps.Subscriptions, deps.Health),
		fallback: autologin.New(deps.Credentials, deps.Provider),
		events:   make(chan event, 64),
		updates:  make(chan Snapshot, 16),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		st: loopState{
			phase:     PhaseInit,
			subStatus: subscription.Unknown,
		},
	}
}

// Start launches the run loop and kicks off generation 0. Calling Start
// more than once is a no-op.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.runCtx, c.cancel = context.WithCancel(ctx)
		go c.run()
	})
}

// Stop shuts the run loop down and tears down all live subscriptions.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.quit)
		if c.cancel != nil {
			c.cancel()
			<-c.stopped
		}
	})
}

// Snapshot returns the current read-only projection of session state.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Updates delivers a snapshot after every state change. Slow consumers
// miss intermediate snapshots, never the ability to read the latest via
// Snapshot().
func (c *Controller) Updates() <-chan Snapshot {
	return c.updates
}

// DismissNotification clears the pending notification. A no-op when
// nothing is pending.
func (c *Controller) DismissNotification() {
	c.post(dismissCommand{})
}

// RetryAfterError restarts the bootstrap from the Error phase.
func (c *Controller) RetryAfterError() {
	c.post(retryCommand{})
}

// ForceReload tears everything down and re-arms a fresh generation.
func (c *Controller) ForceReload() {
	c.post(reloadCommand{})
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

func (c *Controller) run() {
	defer close(c.stopped)

	c.begin(false)

	for {
		select {
		case <-c.runCtx.Done():
			c.teardown()
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Controller) teardown() {
	c.relay.Disarm()
	c.watcher.Disarm()
	c.stopTimer()
}

// begin starts (or restarts) the bootstrap sequence. Previous-generation
// subscriptions are torn down before the new generation arms its own, so
// no two generations ever have live subscriptions at once.
func (c *Controller) begin(bump bool) {
	if bump || c.st.began {
		c.st.generation++
	}
	c.st.began = true
	gen := c.st.generation

	c.stopTimer()
	c.relay.Disarm()
	c.watcher.Disarm()

	c.st.phase = PhaseInit
	c.st.mode = ModeNone
	c.st.ident = nil
	c.st.role = ""
	c.st.onboardingComplete = false
	c.st.subStatus = subscription.Unknown
	c.st.lastErr = nil
	c.st.pending = nil
	c.st.autoLoginTried = false
	c.st.timeoutFired = false

	log.Info("bootstrap starting", "generation", gen)

	c.st.phase = PhaseEnvCheck
	if missing := c.cfg.MissingRequired(); len(missing) > 0 {
		c.st.phase = PhaseError
		c.st.lastErr = fatalf("missing required configuration: %s", strings.Join(missing, ", "))
		log.Error("environment check failed", "missing", missing)
		c.publish()
		return
	}

	c.st.phase = PhaseArmWatchers
	c.st.timer = time.AfterFunc(c.timeout, func() {
		c.post(timeoutEvent{gen: gen})
	})

	if err := c.watcher.Arm(func(ev identity.Event) {
		c.post(identityEvent{gen: gen, ident: ev.Identity})
	}); err != nil {
		// Watcher arming fails open internally; an error here is
		// unexpected but still must not wedge the UI.
		c.st.phase = PhaseError
		c.st.lastErr = fatalf("failed to arm identity watcher: %w", err)
		c.stopTimer()
		c.publish()
		return
	}

	c.st.phase = PhaseAwaitingIdentity
	c.publish()
}

func (c *Controller) handle(ev event) {
	switch ev := ev.(type) {
	case identityEvent:
		if c.stale(ev.gen, "identity") {
			return
		}
		c.onIdentity(ev.ident)
	case profileEvent:
		if c.stale(ev.gen, "profile") {
			return
		}
		c.onProfile(ev.res)
	case subscriptionEvent:
		if c.stale(ev.gen, "subscription") {
			return
		}
		c.onSubscription(ev.status)
	case autoLoginEvent:
		if c.stale(ev.gen, "autologin") {
			return
		}
		c.onAutoLogin(ev.ok)
	case notificationEvent:
		if c.stale(ev.gen, "notification") {
			return
		}
		c.onNotification(ev.n)
	case timeoutEvent:
		if c.stale(ev.gen, "timeout") {
			return
		}
		c.onTimeout()
	case dismissCommand:
		if c.st.pending != nil {
			c.st.pending = nil
			c.publish()
		}
	case retryCommand:
		if c.st.phase == PhaseError {
			c.begin(true)
		}
	case reloadCommand:
		c.begin(true)
	}
}

func (c *Controller) stale(gen uint64, kind string) bool {
	if gen != c.st.generation {
		log.Debug("discarding stale event", "kind", kind, "eventGeneration", gen, "generation", c.st.generation)
		return true
	}
	return false
}

func (c *Controller) onIdentity(ident *identity.Identity) {
	if ident == nil {
		if c.st.ident != nil {
			// Sign-out: derived state is invalid the instant the identity
			// goes away. Re-arm a fresh generation.
			log.Info("identity cleared, restarting bootstrap")
			c.begin(true)
			return
		}

		if c.st.phase == PhaseAwaitingIdentity && !c.st.autoLoginTried {
			c.st.autoLoginTried = true
			c.st.phase = PhaseAutoLogin
			c.publish()

			gen := c.st.generation
			go func() {
				ok := c.fallback.Attempt(c.runCtx)
				c.post(autoLoginEvent{gen: gen, ok: ok})
			}()
			return
		}

		if c.st.phase != PhaseAutoLogin && c.st.phase != PhaseUnauthenticated {
			c.st.phase = PhaseUnauthenticated
			c.stopTimer()
			c.publish()
		}
		return
	}

	if c.st.ident != nil {
		if c.st.ident.UserID == ident.UserID {
			return
		}
		// Account switch mid-session: everything derived from the old
		// identity is suspect, restart cleanly.
		log.Info("identity changed, restarting bootstrap", "userId", ident.UserID)
		c.begin(true)
		return
	}

	id := *ident
	c.st.ident = &id
	c.st.phase = PhaseResolvingProfile
	c.publish()

	gen := c.st.generation
	if c.st.timer == nil {
		// Sign-in from a steady phase: the original guard is retired, so
		// the resumed resolution gets a fresh one.
		c.st.timeoutFired = false
		c.st.timer = time.AfterFunc(c.timeout, func() {
			c.post(timeoutEvent{gen: gen})
		})
	}
	go func() {
		res := c.resolver.Resolve(c.runCtx, id)
		c.post(profileEvent{gen: gen, res: res})
	}()
}

func (c *Controller) onProfile(res profile.Resolution) {
	if c.st.phase != PhaseResolvingProfile {
		// The timeout guard already committed a transition for this
		// generation; late results must not regress it.
		log.Debug("discarding profile result, phase moved on", "phase", c.st.phase)
		return
	}

	if res.CreatedPlaceholder {
		// The freshly created record invalidates whatever this generation
		// has cached; re-arm so downstream state sees it.
		log.Info("placeholder profile created, re-arming")
		c.begin(true)
		return
	}

	c.st.role = res.Role
	c.st.onboardingComplete = res.OnboardingComplete

	if res.Role == profile.RolePrivileged {
		c.setReady(ModePrivileged)
		return
	}

	// Standard users get the live notification feed regardless of which
	// Ready mode they end up in. Arming may race the subscription check;
	// both are generation-guarded.
	c.armRelay()

	if !res.OnboardingComplete {
		c.setReady(ModeNeedsOnboarding)
		return
	}

	c.st.phase = PhaseCheckingSubscription
	c.publish()

	gen := c.st.generation
	userID := c.st.ident.UserID
	go func() {
		status := c.gate.Check(c.runCtx, userID)
		c.post(subscriptionEvent{gen: gen, status: status})
	}()
}

func (c *Controller) onSubscription(status subscription.Status) {
	if c.st.phase != PhaseCheckingSubscription {
		log.Debug("discarding subscription result, phase moved on", "phase", c.st.phase)
		return
	}

	c.st.subStatus = status
	if status == subscription.Active {
		c.setReady(ModeMain)
	} else {
		c.setReady(ModeNeedsSubscription)
	}
}

func (c *Controller) onAutoLogin(ok bool) {
	if c.st.phase != PhaseAutoLogin {
		// A sign-in event may have arrived before the attempt result;
		// the result is then redundant.
		return
	}

	if ok {
		// The provider broadcasts the new identity; wait for it.
		c.st.phase = PhaseAwaitingIdentity
		c.publish()
		return
	}

	c.st.phase = PhaseUnauthenticated
	c.stopTimer()
	c.publish()
}

func (c *Controller) onNotification(n notify.Notification) {
	// Most-recent-overwrite: a second notification before the first is
	// dismissed replaces it.
	c.st.pending = &n
	c.publish()
}

// onTimeout is the availability-over-consistency escape hatch: after the
// guard duration the UI gets whichever steady state the partial results
// support, and in-flight resolution for this generation is ignored.
func (c *Controller) onTimeout() {
	if c.st.timeoutFired || c.st.phase.Steady() {
		return
	}
	c.st.timeoutFired = true
	log.Warn("bootstrap timeout fired", "phase", c.st.phase, "generation", c.st.generation)

	switch c.st.phase {
	case PhaseResolvingProfile:
		// Fail closed: an unresolved profile is treated as a standard
		// account that has not onboarded.
		c.st.role = profile.RoleStandard
		c.st.onboardingComplete = false
		c.setReady(ModeNeedsOnboarding)
	case PhaseCheckingSubscription:
		c.st.subStatus = subscription.Inactive
		c.setReady(ModeNeedsSubscription)
	case PhaseAutoLogin:
		// Identity is known to be absent; the login screen is the
		// conservative unblock.
		c.st.phase = PhaseUnauthenticated
		c.stopTimer()
		c.publish()
	default:
		c.st.phase = PhaseError
		c.st.lastErr = timeoutf("bootstrap timed out before identity resolved")
		c.stopTimer()
		c.publish()
	}
}

func (c *Controller) armRelay() {
	gen := c.st.generation
	if err := c.relay.Arm(c.st.ident.UserID, func(n notify.Notification) {
		c.post(notificationEvent{gen: gen, n: n})
	}); err != nil {
		// A dead feed degrades to no popups; it never blocks the flow.
		log.Warn("notification relay failed to arm", "error", err)
	}
}

func (c *Controller) setReady(mode Mode) {
	c.st.phase = PhaseReady
	c.st.mode = mode
	c.stopTimer()
	log.Info("bootstrap ready", "mode", string(mode), "generation", c.st.generation)
	c.publish()
}

// stopTimer retires the timeout guard for the current generation. Safe to
// call repeatedly; the timer is stopped at most once.
func (c *Controller) stopTimer() {
	if c.st.timer != nil {
		c.st.timer.Stop()
		c.st.timer = nil
	}
}

func (c *Controller) publish() {
	snap := Snapshot{
		Phase:              c.st.phase,
		Mode:               c.st.mode,
		Role:               c.st.role,
		OnboardingComplete: c.st.onboardingComplete,
		Subscription:       c.st.subStatus,
		LastError:          c.st.lastErr,
		Generation:         c.st.generation,
	}
	if c.st.ident != nil {
		id := *c.st.ident
		snap.Identity = &id
	}
	if c.st.pending != nil {
		n := *c.st.pending
		snap.PendingNotification = &n
	}

	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()

	if c.deps.Health != nil {
		status := health.Healthy
		if c.st.phase == PhaseError {
			status = health.Unhealthy
		}
		c.deps.Health.Update("session", status, string(c.st.phase))
	}

	select {
	case c.updates <- snap:
	default:
		log.Debug("updates channel full, dropping snapshot")
	}
}
