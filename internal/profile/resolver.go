// Package profile resolves an authenticated identity into its role and
// onboarding status. Resolution never fails: fetch errors collapse to the
// more restrictive outcome so the bootstrap always reaches a steady state.
package profile

import (
	"context"
	"errors"
	"strings"

	"github.com/nutrikit/client/internal/health"
	"github.com/nutrikit/client/internal/identity"
	"github.com/nutrikit/client/internal/logging"
	"github.com/nutrikit/client/pkg/api"
)

var log = logging.L("profile")

// Role distinguishes the single privileged dietician account from
// everyone else.
type Role string

const (
	RoleStandard   Role = "standard"
	RolePrivileged Role = "privileged"
)

// PlaceholderFirstName is the generic value the backend seeds new standard
// profiles with; a profile carrying it has not finished onboarding.
const PlaceholderFirstName = "User"

// Fixed attributes for the auto-created privileged profile record.
const (
	privilegedFirstName = "Dietician"
	privilegedAge       = 30
	privilegedGender    = "unspecified"
)

// Store is the profile backend contract.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*api.Profile, error)
	CreateProfile(ctx context.Context, p *api.Profile) error
}

// Resolution is the settled outcome of resolving one identity.
type Resolution struct {
	Role               Role
	OnboardingComplete bool

	// CreatedPlaceholder is true when the privileged account's profile
	// record was just created; the orchestrator reacts by re-arming a
	// fresh generation so downstream state sees the new record.
	CreatedPlaceholder bool
}

// Resolver decides role and onboarding status for an identity.
type Resolver struct {
	store           Store
	privilegedEmail string
	monitor         *health.Monitor
}

func NewResolver(store Store, privilegedEmail string, monitor *health.Monitor) *Resolver {
	return &Resolver{
		store:           store,
		privilegedEmail: privilegedEmail,
		monitor:         monitor,
	}
}

// Resolve settles the role and onboarding status for ident. It always
// returns a usable Resolution; errors degrade to fail-closed defaults.
func (r *Resolver) Resolve(ctx context.Context, ident identity.Identity) Resolution {
	if strings.EqualFold(ident.Email, r.privilegedEmail) {
		return r.resolvePrivileged(ctx, ident)
	}
	return r.resolveStandard(ctx, ident)
}

// resolvePrivileged handles the fixed dietician account: onboarding never
// applies, and a missing profile record is created with placeholder
// attributes so downstream screens have something to render.
func (r *Resolver) resolvePrivileged(ctx context.Context, ident identity.Identity) Resolution {
	res := Resolution{Role: RolePrivileged, OnboardingComplete: true}

	_, err := r.store.GetProfile(ctx, ident.UserID)
	switch {
	case err == nil:
		r.report(health.Healthy, "")
	case errors.Is(err, api.ErrNotFound):
		created := &api.Profile{
			UserID:    ident.UserID,
			FirstName: privilegedFirstName,
			Age:       privilegedAge,
			Gender:    privilegedGender,
		}
		if cerr := r.store.CreateProfile(ctx, created); cerr != nil {
			log.Warn("failed to create privileged placeholder profile", "error", cerr)
			r.report(health.Degraded, cerr.Error())
		} else {
			log.Info("created privileged placeholder profile", "userId", ident.UserID)
			res.CreatedPlaceholder = true
			r.report(health.Healthy, "")
		}
	default:
		// The privileged role comes from the email match alone, so a
		// fetch error does not demote it.
		log.Warn("privileged profile fetch failed", "error", err)
		r.report(health.Degraded, err.Error())
	}

	return res
}

// resolveStandard fetches the profile and treats any failure as
// onboarding-incomplete rather than fatal.
func (r *Resolver) resolveStandard(ctx context.Context, ident identity.Identity) Resolution {
	res := Resolution{Role: RoleStandard}

	p, err := r.store.GetProfile(ctx, ident.UserID)
	if err != nil {
		if !errors.Is(err, api.ErrNotFound) {
			log.Warn("profile fetch failed, treating onboarding as incomplete", "userId", ident.UserID, "error", err)
			r.report(health.Degraded, err.Error())
		} else {
			r.report(health.Healthy, "")
		}
		return res
	}

	r.report(health.Healthy, "")
	res.OnboardingComplete = p.FirstName != "" && p.FirstName != PlaceholderFirstName
	return res
}

func (r *Resolver) report(status health.Status, msg string) {
	if r.monitor != nil {
		r.monitor.Update("profile", status, msg)
	}
}
