// Package permissions resolves effective permission values for a
// participant by merging ordered layers: system defaults, conference
// configuration, moderator overrides, room-scoped overrides and temporary
// per-participant grants.
package permissions

import "fmt"

// ValueType constrains what a permission key may hold.
type ValueType string

const (
	TypeBool   ValueType = "bool"
	TypeString ValueType = "string"
	TypeNumber ValueType = "number"
	TypeJSON   ValueType = "json"
)

// Descriptor declares one permission key, its value type and the
// hard-coded default used when no layer defines it.
type Descriptor struct {
	Key     string
	Type    ValueType
	Default any
}

// Defined permission keys.
const (
	PermConferenceCanOpenAndClose        = "conference/canOpenAndClose"
	PermConferenceCanKickParticipant     = "conference/canKickParticipant"
	PermPermissionsCanGiveTemporary      = "permissions/canGiveTemporaryPermission"
	PermPermissionsCanSeeAnyParticipants = "permissions/canSeeAnyParticipantsPermissions"
	PermRoomsCanCreateAndRemove          = "rooms/canCreateAndRemove"
	PermRoomsCanSwitchRoom               = "rooms/canSwitchRoom"
	PermChatCanSendMessage               = "chat/canSendChatMessage"
	PermChatMaxMessageLength             = "chat/maxMessageLength"
)

// Defined is the registry of every known permission.
var Defined = []Descriptor{
	{Key: PermConferenceCanOpenAndClose, Type: TypeBool, Default: false},
	{Key: PermConferenceCanKickParticipant, Type: TypeBool, Default: false},
	{Key: PermPermissionsCanGiveTemporary, Type: TypeBool, Default: false},
	{Key: PermPermissionsCanSeeAnyParticipants, Type: TypeBool, Default: false},
	{Key: PermRoomsCanCreateAndRemove, Type: TypeBool, Default: false},
	{Key: PermRoomsCanSwitchRoom, Type: TypeBool, Default: true},
	{Key: PermChatCanSendMessage, Type: TypeBool, Default: true},
	{Key: PermChatMaxMessageLength, Type: TypeNumber, Default: 1000},
}

var definedByKey = func() map[string]Descriptor {
	m := make(map[string]Descriptor, len(Defined))
	for _, d := range Defined {
		m[d.Key] = d
	}
	return m
}()

// DescriptorFor looks up a defined permission by key.
func DescriptorFor(key string) (Descriptor, bool) {
	d, ok := definedByKey[key]
	return d, ok
}

// ValidateValue checks a JSON-decoded value against the descriptor's type.
func (d Descriptor) ValidateValue(v any) error {
	switch d.Type {
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("permissions: %s expects bool, got %T", d.Key, v)
		}
	case TypeString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("permissions: %s expects string, got %T", d.Key, v)
		}
	case TypeNumber:
		switch v.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("permissions: %s expects number, got %T", d.Key, v)
		}
	case TypeJSON:
		// Any JSON value is acceptable.
	}
	return nil
}
