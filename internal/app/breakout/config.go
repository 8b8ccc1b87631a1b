package breakout

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the stored configuration of an active breakout session.
type Config struct {
	Amount      int        `json:"amount" validate:"gte=0"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Description string     `json:"description,omitempty"`
}

// OpenRequest opens a breakout session. Assignments, when present,
// partition a subset of the current participants into at most Amount
// groups; group i is moved into the i-th created room.
type OpenRequest struct {
	Config
	Assignments [][]string `json:"assignedRooms,omitempty"`
}

// ConfigPatch is a diff-style partial update of Config. A field left out
// of the JSON object is untouched; "deadline": null clears the deadline.
type ConfigPatch struct {
	Amount      *int
	Description *string
	Deadline    *time.Time
	DeadlineSet bool
}

func (p *ConfigPatch) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount      *int            `json:"amount"`
		Description *string         `json:"description"`
		Deadline    json.RawMessage `json:"deadline"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Amount = raw.Amount
	p.Description = raw.Description
	p.Deadline = nil
	p.DeadlineSet = raw.Deadline != nil
	if p.DeadlineSet && string(raw.Deadline) != "null" {
		var t time.Time
		if err := json.Unmarshal(raw.Deadline, &t); err != nil {
			return err
		}
		p.Deadline = &t
	}
	return nil
}

// SynchronizedBreakoutRooms is the conference-wide breakout object; Active
// is nil while no session runs.
type SynchronizedBreakoutRooms struct {
	Active *Config `json:"active"`
}

// Breakout rooms are named after the NATO alphabet in creation order.
var roomNames = []string{
	"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot", "Golf",
	"Hotel", "India", "Juliett", "Kilo", "Lima", "Mike", "November",
	"Oscar", "Papa", "Quebec", "Romeo", "Sierra", "Tango", "Uniform",
	"Victor", "Whiskey", "X-ray", "Yankee", "Zulu",
}

func roomName(i int) string {
	if i < len(roomNames) {
		return roomNames[i]
	}
	return fmt.Sprintf("Room %d", i+1)
}
