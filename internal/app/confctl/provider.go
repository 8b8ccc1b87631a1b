package confctl

import (
	"context"

	"github.com/dkeye/Concord/internal/core"
)

// Provider publishes the shared conference info object.
type Provider struct {
	svc *Service
}

func NewProvider(svc *Service) *Provider {
	return &Provider{svc: svc}
}

func (p *Provider) PerParticipant() bool { return false }

func (p *Provider) FetchValue(ctx context.Context, participant core.Participant) (any, error) {
	conf, err := p.svc.repo.FindConferenceByID(ctx, participant.ConferenceID)
	if err != nil {
		return nil, err
	}
	moderators := conf.Moderators
	if moderators == nil {
		moderators = []string{}
	}
	return SynchronizedConferenceInfo{Open: conf.Open, Moderators: moderators}, nil
}
