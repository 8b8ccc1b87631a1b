package chat

import (
	"context"

	"github.com/dkeye/Concord/internal/core"
)

// Provider publishes the shared typing-indicator object.
type Provider struct {
	svc *Service
}

func NewProvider(svc *Service) *Provider {
	return &Provider{svc: svc}
}

func (p *Provider) PerParticipant() bool { return false }

func (p *Provider) FetchValue(_ context.Context, participant core.Participant) (any, error) {
	return p.svc.Snapshot(participant.ConferenceID), nil
}
