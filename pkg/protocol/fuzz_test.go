package protocol

import (
	"encoding/json"
	"testing"
)

// FuzzDownstreamUnmarshalJSON fuzzes the tagged-union `[tag, payload]`
// downstream decoder. Adapted from the teacher's FuzzParseMessage, which
// fuzzes the same decode-then-reencode-then-redecode shape against its own
// tagged Phoenix envelope.
func FuzzDownstreamUnmarshalJSON(f *testing.F) {
	f.Add([]byte(`["connected",{}]`))
	f.Add([]byte(`["pong",{}]`))
	f.Add([]byte(`["error","boom"]`))
	f.Add([]byte(`["poke",{"baseCookie":null,"cookie":1,"lastMutationID":1,"patch":[]}]`))
	f.Add([]byte(`["poke",[{"baseCookie":null,"cookie":1,"lastMutationID":1,"patch":[]}]]`))
	f.Add([]byte(`["unknown",{}]`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`[]`))
	f.Add([]byte(`null`))
	f.Add([]byte(``))
	f.Add([]byte(`["connected"]`))
	f.Add([]byte(`[1,2]`))
	f.Add([]byte(`["poke",{"cookie":"not-a-number"}]`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var d Downstream
		err := json.Unmarshal(data, &d)
		if err != nil {
			// Any rejection is fine: the decoder must never panic.
			return
		}

		// A successfully decoded envelope must always re-marshal and
		// round-trip to the same Kind, since Kind is all a consumer
		// branches on (pkg/connection's handleFrame switch).
		out, err := json.Marshal(d)
		if err != nil {
			t.Fatalf("failed to re-marshal a successfully decoded envelope: %v", err)
		}

		var d2 Downstream
		if err := json.Unmarshal(out, &d2); err != nil {
			t.Fatalf("failed to re-decode our own re-marshaled envelope: %v", err)
		}

		if d.Kind != d2.Kind {
			t.Fatalf("kind mismatch after roundtrip: %v != %v", d.Kind, d2.Kind)
		}
	})
}

// FuzzBinaryCodecDecodeDownstream fuzzes the MessagePack variant the same
// way, since it parses the same tagged-union shape over a different wire
// encoding (SPEC_FULL §3).
func FuzzBinaryCodecDecodeDownstream(f *testing.F) {
	codec := NewBinaryCodec()

	connected, _ := NewJSONCodec().EncodeUpstream(PingEnvelope())
	f.Add(connected)
	f.Add([]byte{})
	f.Add([]byte{0x90})
	f.Add([]byte{0xc0})

	f.Fuzz(func(t *testing.T, data []byte) {
		// The MessagePack decoder must never panic regardless of input;
		// any returned error is an acceptable rejection.
		_, _ = codec.DecodeDownstream(data)
	})
}
