package subscription

import (
	"context"

	"github.com/nutrikit/client/pkg/api"
)

// APIService adapts the backend client to the Service contract.
type APIService struct {
	client *api.Client
}

func NewAPIService(client *api.Client) *APIService {
	return &APIService{client: client}
}

func (s *APIService) GetStatus(ctx context.Context, userID string) (bool, error) {
	status, err := s.client.GetSubscriptionStatus(ctx, userID)
	if err != nil {
		return false, err
	}
	return status.Active, nil
}
