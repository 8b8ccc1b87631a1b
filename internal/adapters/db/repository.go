// Package db holds the conference document repository. Conferences are
// created out of band (REST, admin tooling); the core only reads them and
// flips the open flag.
package db

import (
	"context"
	"errors"
	"time"
)

var ErrConferenceNotFound = errors.New("db: conference not found")

// Conference is the stored configuration document of one conference.
type Conference struct {
	ID         string          `json:"id"`
	Open       bool            `json:"open"`
	Moderators []string        `json:"moderators"`
	// Permissions is the conference-scoped permission layer.
	Permissions map[string]any `json:"permissions"`
	// ModeratorPermissions applies on top of Permissions for moderators.
	ModeratorPermissions map[string]any `json:"moderatorPermissions"`
	CreatedAt            time.Time      `json:"createdAt"`
}

func (c *Conference) IsModerator(participantID string) bool {
	for _, m := range c.Moderators {
		if m == participantID {
			return true
		}
	}
	return false
}

// ConferenceRepository is the document store collaborator.
type ConferenceRepository interface {
	CreateConference(ctx context.Context, conf *Conference) error
	FindConferenceByID(ctx context.Context, id string) (*Conference, error)
	SetConferenceOpen(ctx context.Context, id string, open bool) error
	IsConferenceOpen(ctx context.Context, id string) (bool, error)
}
