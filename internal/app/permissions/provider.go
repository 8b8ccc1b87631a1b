package permissions

import (
	"context"

	"github.com/dkeye/Concord/internal/core"
)

// Provider publishes the flattened effective permission set of each
// subscriber as a per-participant synchronized object.
type Provider struct {
	svc *Service
}

func NewProvider(svc *Service) *Provider {
	return &Provider{svc: svc}
}

func (p *Provider) PerParticipant() bool { return true }

func (p *Provider) FetchValue(ctx context.Context, participant core.Participant) (any, error) {
	stack, err := p.svc.Resolve(ctx, participant)
	if err != nil {
		return nil, err
	}
	return stack.Flatten(), nil
}
