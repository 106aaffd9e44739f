package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"worldmemory.ai/internal/protocol"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return v
}

// roundTrip marshals a Go message the way the transport does and returns
// the generic JSON value the schema sees.
func roundTrip(t *testing.T, msg any) any {
	t.Helper()
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return decode(t, string(b))
}

func TestSchemas_ValidateSamples(t *testing.T) {
	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	validate(compile(t, "hello.schema.json"), decode(t, `{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "client_id":"4b825dc6-42a3-4d0f-9a8e-1f2c3d4e5f60",
	  "name":"steve",
	  "max_queue":16
	}`))

	validate(compile(t, "act.schema.json"), decode(t, `{
	  "type":"ACT",
	  "protocol_version":"1.0",
	  "id":"a1",
	  "action":"move",
	  "pose":{"x":10.5,"y":64,"z":-3.5,"yaw":90,"pitch":0}
	}`))

	validate(compile(t, "event.schema.json"), decode(t, `{
	  "type":"EVENT",
	  "protocol_version":"1.0",
	  "kind":"outcome",
	  "tick":12,
	  "dimension":"mwp:survival",
	  "pose":{"x":100.5,"y":64,"z":100.5,"yaw":0,"pitch":0},
	  "outcome":"spawn_placed"
	}`))
}

func TestSchemas_GoMessagesConform(t *testing.T) {
	pose := protocol.Pose{X: 0.5, Y: 64, Z: 0.5, Yaw: 180}
	cases := []struct {
		schema string
		msg    any
	}{
		{"hello.schema.json", protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Name: "alex"}},
		{"welcome.schema.json", protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			ClientID:        "4b825dc6-42a3-4d0f-9a8e-1f2c3d4e5f60",
			Dimension:       "minecraft:overworld",
			Pose:            pose,
			TickRateHz:      20,
			Dimensions:      []string{"minecraft:overworld", "mwp:survival"},
			Groups:          []string{"survival", "hub"},
		}},
		{"act.schema.json", protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, ID: "1", Action: protocol.ActionIgnite, At: &[3]int{1, 64, 2}}},
		{"act.schema.json", protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, ID: "2", Action: protocol.ActionCommand, Command: protocol.CommandGroup, Group: "creative"}},
		{"ack.schema.json", protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, AckFor: "2", Code: protocol.ErrUnknownGroup, Message: "no such group"}},
		{"ack.schema.json", protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, AckFor: "3", Accepted: true, Lines: []string{"lastDefaultDimension=none, savedDimensions=0"}}},
		{"event.schema.json", protocol.EventMsg{Type: protocol.TypeEvent, ProtocolVersion: protocol.Version, Kind: protocol.EventTransfer, Tick: 3, Dimension: "minecraft:the_nether", From: "minecraft:overworld", Pose: &pose}},
	}
	for _, c := range cases {
		if err := compile(t, c.schema).Validate(roundTrip(t, c.msg)); err != nil {
			t.Fatalf("%s: %v", c.schema, err)
		}
	}
}

func TestSchemas_RejectMalformed(t *testing.T) {
	act := compile(t, "act.schema.json")
	bad := []string{
		`{"type":"ACT","protocol_version":"1.0","id":"1","action":"move"}`,
		`{"type":"ACT","protocol_version":"1.0","id":"1","action":"fly"}`,
		`{"type":"ACT","protocol_version":"1.0","id":"1","action":"command","command":"group"}`,
		`{"type":"ACT","protocol_version":"1.0","id":"1","action":"ignite","at":[1,2]}`,
	}
	for _, raw := range bad {
		if err := act.Validate(decode(t, raw)); err == nil {
			t.Fatalf("accepted %s", raw)
		}
	}
	ack := compile(t, "ack.schema.json")
	if err := ack.Validate(decode(t, `{"type":"ACK","protocol_version":"1.0","ack_for":"1","accepted":false}`)); err == nil {
		t.Fatalf("refusal without a code accepted")
	}
}
