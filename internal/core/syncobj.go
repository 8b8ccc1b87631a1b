package core

// SyncObjID names one synchronized object inside a conference.
// Scope is empty for conference-wide objects and a participant id for
// per-participant objects. Stable for the lifetime of the conference.
type SyncObjID struct {
	Category string `json:"category"`
	Scope    string `json:"scope,omitempty"`
}

func SyncObjIDFor(category, scope string) SyncObjID {
	return SyncObjID{Category: category, Scope: scope}
}

func (id SyncObjID) String() string {
	if id.Scope == "" {
		return id.Category
	}
	return id.Category + "?" + id.Scope
}
