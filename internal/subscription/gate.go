// Package subscription answers whether the paid-access gate should block
// a standard user from the main application.
package subscription

import (
	"context"

	"github.com/nutrikit/client/internal/health"
	"github.com/nutrikit/client/internal/logging"
)

var log = logging.L("subscription")

// Status of a user's paid subscription.
type Status string

const (
	Unknown  Status = "unknown"
	Active   Status = "active"
	Inactive Status = "inactive"
)

// Service is the subscription backend contract.
type Service interface {
	GetStatus(ctx context.Context, userID string) (active bool, err error)
}

// Gate checks subscription status, failing closed: a user is never
// silently granted access on a transient check failure.
type Gate struct {
	service Service
	monitor *health.Monitor
}

func NewGate(service Service, monitor *health.Monitor) *Gate {
	return &Gate{service: service, monitor: monitor}
}

// Check resolves the subscription status for userID. Errors map to
// Inactive; the caller routes those users to the subscription screen.
func (g *Gate) Check(ctx context.Context, userID string) Status {
	active, err := g.service.GetStatus(ctx, userID)
	if err != nil {
		log.Warn("subscription check failed, gating access", "userId", userID, "error", err)
		if g.monitor != nil {
			g.monitor.Update("subscription", health.Degraded, err.Error())
		}
		return Inactive
	}

	if g.monitor != nil {
		g.monitor.Update("subscription", health.Healthy, "")
	}
	if active {
		return Active
	}
	return Inactive
}
