package identity

import (
	"context"
	"errors"
	"sync"

	"github.com/nutrikit/client/internal/credstore"
	"github.com/nutrikit/client/pkg/api"
)

// TokenProvider implements Provider on top of the backend API and the
// persisted session token. The initial signal comes from verifying the
// stored token; later signals fan out from SignIn/SignOut.
type TokenProvider struct {
	api      *api.Client
	creds    *credstore.Store
	clientID string

	mu      sync.Mutex
	nextID  int
	subs    map[int]func(Event)
	current *Identity
}

func NewTokenProvider(client *api.Client, creds *credstore.Store, clientID string) *TokenProvider {
	return &TokenProvider{
		api:      client,
		creds:    creds,
		clientID: clientID,
		subs:     make(map[int]func(Event)),
	}
}

// Subscribe registers onChange and kicks off asynchronous resolution of
// the persisted token into the initial identity-or-none signal. Token
// verification failures are logged and surfaced as signed-out, never as
// errors: the bootstrap must route to the login screen, not crash.
func (p *TokenProvider) Subscribe(onChange func(Event)) (func(), error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = onChange
	p.mu.Unlock()

	go p.deliverInitial(onChange)

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}, nil
}

func (p *TokenProvider) deliverInitial(onChange func(Event)) {
	ident := p.resolveStoredToken(context.Background())

	p.mu.Lock()
	p.current = ident
	p.mu.Unlock()

	onChange(Event{Identity: ident})
}

func (p *TokenProvider) resolveStoredToken(ctx context.Context) *Identity {
	token, ok, err := p.creds.Get(credstore.KeySessionToken)
	if err != nil {
		log.Warn("failed to read persisted token", "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	p.api.SetToken(token)
	info, err := p.api.VerifySession(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			log.Info("persisted token is no longer valid")
			p.creds.Delete(credstore.KeySessionToken)
			p.api.SetToken("")
		} else {
			// Transient verify failure: fail open to signed-out rather
			// than guessing the identity from a token we cannot confirm.
			log.Warn("token verification failed, treating as signed out", "error", err)
		}
		return nil
	}

	return &Identity{UserID: info.UserID, Email: info.Email}
}

// SignIn authenticates, persists the new session token, and notifies
// subscribers of the new identity.
func (p *TokenProvider) SignIn(ctx context.Context, email, secret string) error {
	resp, err := p.api.SignIn(ctx, &api.SignInRequest{
		Email:    email,
		Password: secret,
		Device:   api.CollectDeviceInfo(p.clientID),
	})
	if err != nil {
		return err
	}

	if err := p.creds.Set(credstore.KeySessionToken, resp.Token); err != nil {
		log.Warn("failed to persist session token", "error", err)
	}
	p.api.SetToken(resp.Token)

	ident := &Identity{UserID: resp.UserID, Email: resp.Email}
	p.broadcast(ident)
	return nil
}

// SignOut invalidates the session server-side (best effort), clears the
// persisted token, and notifies subscribers.
func (p *TokenProvider) SignOut(ctx context.Context) error {
	if err := p.api.SignOut(ctx); err != nil {
		log.Warn("server-side sign-out failed", "error", err)
	}
	if err := p.creds.Delete(credstore.KeySessionToken); err != nil {
		log.Warn("failed to clear persisted token", "error", err)
	}
	p.api.SetToken("")

	p.broadcast(nil)
	return nil
}

// Current returns the last resolved identity, or nil.
func (p *TokenProvider) Current() *Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *TokenProvider) broadcast(ident *Identity) {
	p.mu.Lock()
	p.current = ident
	sinks := make([]func(Event), 0, len(p.subs))
	for _, fn := range p.subs {
		sinks = append(sinks, fn)
	}
	p.mu.Unlock()

	for _, fn := range sinks {
		fn(Event{Identity: ident})
	}
}
