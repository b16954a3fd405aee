package subscription

import (
	"context"
	"errors"
	"testing"

	"github.com/nutrikit/client/internal/health"
)

type fakeService struct {
	active bool
	err    error
}

func (f *fakeService) GetStatus(ctx context.Context, userID string) (bool, error) {
	return f.active, f.err
}

func TestCheckActive(t *testing.T) {
	g := NewGate(&fakeService{active: true}, nil)
	if got := g.Check(context.Background(), "u-1"); got != Active {
		t.Fatalf("Check = %q, want active", got)
	}
}

func TestCheckInactive(t *testing.T) {
	g := NewGate(&fakeService{active: false}, nil)
	if got := g.Check(context.Background(), "u-1"); got != Inactive {
		t.Fatalf("Check = %q, want inactive", got)
	}
}

func TestCheckErrorFailsClosed(t *testing.T) {
	g := NewGate(&fakeService{active: true, err: errors.New("service down")}, nil)
	if got := g.Check(context.Background(), "u-1"); got != Inactive {
		t.Fatalf("Check on error = %q, want inactive (fail closed)", got)
	}
}

func TestCheckUpdatesHealth(t *testing.T) {
	m := health.NewMonitor()
	g := NewGate(&fakeService{err: errors.New("service down")}, m)
	g.Check(context.Background(), "u-1")

	c, ok := m.Get("subscription")
	if !ok || c.Status != health.Degraded {
		t.Fatalf("health = (%+v, %v), want degraded", c, ok)
	}
}
