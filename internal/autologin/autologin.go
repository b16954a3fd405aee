// Package autologin performs the single silent re-authentication attempt
// made when the bootstrap finds no identity.
package autologin

import (
	"context"

	"github.com/nutrikit/client/internal/credstore"
	"github.com/nutrikit/client/internal/identity"
	"github.com/nutrikit/client/internal/logging"
)

var log = logging.L("autologin")

// Attempter reads the persisted credential pair and tries one sign-in.
type Attempter struct {
	creds    *credstore.Store
	provider identity.Provider
}

func New(creds *credstore.Store, provider identity.Provider) *Attempter {
	return &Attempter{creds: creds, provider: provider}
}

// Attempt returns true when a sign-in was performed successfully. Missing
// credentials and sign-in failures both return false; neither is an
// error — the caller falls through to the login screen.
func (a *Attempter) Attempt(ctx context.Context) bool {
	email, ok, err := a.creds.Get(credstore.KeySavedEmail)
	if err != nil || !ok {
		if err != nil {
			log.Warn("failed to read saved identifier", "error", err)
		}
		return false
	}

	secret, ok, err := a.creds.Get(credstore.KeySavedSecret)
	if err != nil || !ok {
		if err != nil {
			log.Warn("failed to read saved secret", "error", err)
		}
		return false
	}

	if err := a.provider.SignIn(ctx, email, secret); err != nil {
		log.Info("silent sign-in failed", "error", err)
		return false
	}

	log.Info("silent sign-in succeeded")
	return true
}
