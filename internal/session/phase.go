package session

import (
	"github.com/nutrikit/client/internal/identity"
	"github.com/nutrikit/client/internal/notify"
	"github.com/nutrikit/client/internal/profile"
	"github.com/nutrikit/client/internal/subscription"
)

// Phase is the bootstrap state machine's current position.
type Phase string

const (
	PhaseInit                 Phase = "init"
	PhaseEnvCheck             Phase = "env_check"
	PhaseArmWatchers          Phase = "arm_watchers"
	PhaseAwaitingIdentity     Phase = "awaiting_identity"
	PhaseAutoLogin            Phase = "auto_login"
	PhaseUnauthenticated      Phase = "unauthenticated"
	PhaseResolvingProfile     Phase = "resolving_profile"
	PhaseCheckingSubscription Phase = "checking_subscription"
	PhaseReady                Phase = "ready"
	PhaseError                Phase = "error"
)

// Steady reports whether the phase is one the presentation layer can
// settle on. Once a steady phase is reached the timeout guard is retired.
func (p Phase) Steady() bool {
	switch p {
	case PhaseReady, PhaseUnauthenticated, PhaseError:
		return true
	}
	return false
}

// Mode selects the top-level screen once the phase is Ready.
type Mode string

const (
	ModeNone              Mode = ""
	ModeMain              Mode = "main"
	ModeNeedsOnboarding   Mode = "needs_onboarding"
	ModeNeedsSubscription Mode = "needs_subscription"
	ModePrivileged        Mode = "privileged"
)

// Snapshot is the read-only projection of session state handed to the
// presentation layer. Identity and Notification values are copies; the
// orchestrator's own state cannot be reached through one.
type Snapshot struct {
	Phase               Phase
	Mode                Mode
	Role                profile.Role
	Identity            *identity.Identity
	OnboardingComplete  bool
	Subscription        subscription.Status
	PendingNotification *notify.Notification
	LastError           *Error
	Generation          uint64
}
