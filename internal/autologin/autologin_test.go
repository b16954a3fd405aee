package autologin

import (
	"context"
	"errors"
	"testing"

	"github.com/nutrikit/client/internal/credstore"
	"github.com/nutrikit/client/internal/identity"
)

type fakeProvider struct {
	signInErr error
	calls     int
	email     string
	secret    string
}

func (f *fakeProvider) Subscribe(func(identity.Event)) (func(), error) {
	return func() {}, nil
}

func (f *fakeProvider) SignIn(ctx context.Context, email, secret string) error {
	f.calls++
	f.email = email
	f.secret = secret
	return f.signInErr
}

func (f *fakeProvider) SignOut(ctx context.Context) error { return nil }

func TestAttemptWithSavedCredentials(t *testing.T) {
	creds := credstore.New(t.TempDir())
	creds.Set(credstore.KeySavedEmail, "ann@example.com")
	creds.Set(credstore.KeySavedSecret, "pw")

	fp := &fakeProvider{}
	a := New(creds, fp)

	if !a.Attempt(context.Background()) {
		t.Fatal("Attempt = false, want true")
	}
	if fp.calls != 1 || fp.email != "ann@example.com" || fp.secret != "pw" {
		t.Fatalf("sign-in calls = %d (%q, %q)", fp.calls, fp.email, fp.secret)
	}
}

func TestAttemptWithoutCredentials(t *testing.T) {
	fp := &fakeProvider{}
	a := New(credstore.New(t.TempDir()), fp)

	if a.Attempt(context.Background()) {
		t.Fatal("Attempt = true, want false")
	}
	if fp.calls != 0 {
		t.Fatalf("sign-in calls = %d, want 0", fp.calls)
	}
}

func TestAttemptWithPartialCredentials(t *testing.T) {
	creds := credstore.New(t.TempDir())
	creds.Set(credstore.KeySavedEmail, "ann@example.com")

	fp := &fakeProvider{}
	a := New(creds, fp)

	if a.Attempt(context.Background()) {
		t.Fatal("Attempt = true, want false (secret missing)")
	}
	if fp.calls != 0 {
		t.Fatalf("sign-in calls = %d, want 0", fp.calls)
	}
}

func TestAttemptSwallowsSignInFailure(t *testing.T) {
	creds := credstore.New(t.TempDir())
	creds.Set(credstore.KeySavedEmail, "ann@example.com")
	creds.Set(credstore.KeySavedSecret, "stale")

	fp := &fakeProvider{signInErr: errors.New("wrong password")}
	a := New(creds, fp)

	if a.Attempt(context.Background()) {
		t.Fatal("Attempt = true, want false on sign-in failure")
	}
}
