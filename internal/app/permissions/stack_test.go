package permissions

import (
	"reflect"
	"testing"
)

func TestStackPrecedence(t *testing.T) {
	stack := NewStack([]Layer{
		SystemDefaultLayer(),
		{Name: "conference", Order: OrderConference, Values: map[string]any{
			PermRoomsCanCreateAndRemove: false,
			PermChatCanSendMessage:      true,
		}},
		{Name: "room", Order: OrderRoom, Values: map[string]any{
			PermChatCanSendMessage: false,
		}},
		{Name: "temporary", Order: OrderTemporary, Values: map[string]any{
			PermRoomsCanCreateAndRemove: true,
		}},
	})

	canCreate, err := stack.GetBool(PermRoomsCanCreateAndRemove)
	if err != nil {
		t.Fatal(err)
	}
	if !canCreate {
		t.Error("temporary layer must override conference layer")
	}

	canChat, err := stack.GetBool(PermChatCanSendMessage)
	if err != nil {
		t.Fatal(err)
	}
	if canChat {
		t.Error("room layer must override conference layer")
	}
}

func TestStackFallsBackToDefaults(t *testing.T) {
	stack := NewStack(nil)

	canSwitch, err := stack.GetBool(PermRoomsCanSwitchRoom)
	if err != nil {
		t.Fatal(err)
	}
	if !canSwitch {
		t.Error("canSwitchRoom defaults to true")
	}

	canKick, err := stack.GetBool(PermConferenceCanKickParticipant)
	if err != nil {
		t.Fatal(err)
	}
	if canKick {
		t.Error("canKickParticipant defaults to false")
	}

	maxLen, err := stack.GetNumber(PermChatMaxMessageLength)
	if err != nil {
		t.Fatal(err)
	}
	if maxLen != 1000 {
		t.Errorf("maxMessageLength default = %v, want 1000", maxLen)
	}
}

func TestStackUnknownKey(t *testing.T) {
	stack := NewStack(nil)
	if _, err := stack.GetBool("nope/unknown"); err == nil {
		t.Error("unknown key must error")
	}
	if _, ok := stack.Get("nope/unknown"); ok {
		t.Error("unknown key must report not defined")
	}
}

func TestStackTypeMismatch(t *testing.T) {
	stack := NewStack([]Layer{
		{Name: "conference", Order: OrderConference, Values: map[string]any{
			PermChatCanSendMessage: "yes",
		}},
	})
	if _, err := stack.GetBool(PermChatCanSendMessage); err == nil {
		t.Error("string value for a bool key must error")
	}
}

func TestStackDeterministic(t *testing.T) {
	layers := []Layer{
		{Name: "temporary", Order: OrderTemporary, Values: map[string]any{PermChatCanSendMessage: false}},
		{Name: "conference", Order: OrderConference, Values: map[string]any{PermChatCanSendMessage: true}},
	}

	first := NewStack(layers).Flatten()
	for i := 0; i < 10; i++ {
		if got := NewStack(layers).Flatten(); !reflect.DeepEqual(got, first) {
			t.Fatalf("resolution not deterministic: %v vs %v", got, first)
		}
	}
	if first[PermChatCanSendMessage] != false {
		t.Error("higher order layer must win regardless of slice position")
	}
}

func TestFlattenCoversAllDefined(t *testing.T) {
	flat := NewStack(nil).Flatten()
	if len(flat) != len(Defined) {
		t.Fatalf("flatten covers %d keys, want %d", len(flat), len(Defined))
	}
	for _, d := range Defined {
		if _, ok := flat[d.Key]; !ok {
			t.Errorf("missing key %s", d.Key)
		}
	}
}

func TestValidateValue(t *testing.T) {
	tests := []struct {
		key   string
		value any
		ok    bool
	}{
		{PermChatCanSendMessage, true, true},
		{PermChatCanSendMessage, "true", false},
		{PermChatMaxMessageLength, float64(500), true},
		{PermChatMaxMessageLength, 500, true},
		{PermChatMaxMessageLength, "500", false},
	}
	for _, tt := range tests {
		desc, ok := DescriptorFor(tt.key)
		if !ok {
			t.Fatalf("descriptor missing for %s", tt.key)
		}
		err := desc.ValidateValue(tt.value)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateValue(%s, %v) err=%v, want ok=%v", tt.key, tt.value, err, tt.ok)
		}
	}
}
