// Package core holds the shared value types and narrow interfaces the
// services and adapters communicate through. No business logic lives here.
package core

// Participant identifies one attendee within one conference.
// Immutable; compare by value.
type Participant struct {
	ConferenceID string `json:"conferenceId"`
	ID           string `json:"participantId"`
}

func NewParticipant(conferenceID, participantID string) Participant {
	return Participant{ConferenceID: conferenceID, ID: participantID}
}

// ParticipantMetadata carries join-time display information.
type ParticipantMetadata struct {
	DisplayName string `json:"displayName"`
}
