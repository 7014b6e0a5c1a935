package pairux

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

// ============================================================================
// Encode / Decode
// ============================================================================

func TestEnvelopeRoundTrip(t *testing.T) {
	cases := []Envelope{
		JoinEnvelope("realtime:session:s1", "u1", "t1", "1"),
		BroadcastEnvelope("realtime:chat:c1", "chat_message", json.RawMessage(`{"type":"chat_message","id":"m1"}`)),
		HeartbeatEnvelope(),
		{Topic: "x", Event: "custom", Payload: json.RawMessage(`{"a":[1,2,3]}`), Ref: stringRef("42")},
	}

	for _, env := range cases {
		t.Run(env.Event, func(t *testing.T) {
			data, err := EncodeEnvelope(env)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := DecodeEnvelope(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			assert.Equal(t, got.Topic, env.Topic)
			assert.Equal(t, got.Event, env.Event)
			assert.Equal(t, string(got.Payload), string(env.Payload))
			if (got.Ref == nil) != (env.Ref == nil) {
				t.Fatalf("ref presence mismatch: got %v want %v", got.Ref, env.Ref)
			}
			if env.Ref != nil {
				assert.Equal(t, *got.Ref, *env.Ref)
			}
		})
	}
}

func TestEncodeEnvelope(t *testing.T) {
	t.Run("absent ref is null", func(t *testing.T) {
		data, err := EncodeEnvelope(HeartbeatEnvelope())
		if err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, string(data), `{"topic":"phoenix","event":"heartbeat","payload":{},"ref":null}`)
	})

	t.Run("nil payload becomes empty object", func(t *testing.T) {
		data, err := EncodeEnvelope(Envelope{Topic: "t", Event: "e"})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), `"payload":{}`) {
			t.Fatalf("expected empty payload object, got %s", data)
		}
	})

	t.Run("join payload", func(t *testing.T) {
		data, err := EncodeEnvelope(JoinEnvelope("realtime:session:s1", "u1", "t1", "1"))
		if err != nil {
			t.Fatal(err)
		}
		want := `{"topic":"realtime:session:s1","event":"phx_join","payload":{"config":{"broadcast":{"self":false},"presence":{"key":"u1"}},"access_token":"t1"},"ref":"1"}`
		assert.Equal(t, string(data), want)
	})

	t.Run("join without presence key", func(t *testing.T) {
		env := JoinEnvelope("realtime:chat:c1", "", "t1", "abc")
		if strings.Contains(string(env.Payload), "presence") {
			t.Fatalf("unexpected presence config: %s", env.Payload)
		}
	})

	t.Run("broadcast payload", func(t *testing.T) {
		env := BroadcastEnvelope("realtime:session:s1", "signaling", json.RawMessage(`{"type":"user_left","user_id":"u1"}`))
		assert.Equal(t, env.Event, EventBroadcast)
		assert.Equal(t, string(env.Payload), `{"type":"broadcast","event":"signaling","payload":{"type":"user_left","user_id":"u1"}}`)
	})
}

func TestDecodeEnvelope(t *testing.T) {
	t.Run("malformed", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte(`{not json`))
		if !errors.Is(err, ErrDecode) {
			t.Fatalf("expected decode error, got %v", err)
		}
	})

	t.Run("missing event", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte(`{"topic":"x","payload":{}}`))
		if !errors.Is(err, ErrDecode) {
			t.Fatalf("expected decode error, got %v", err)
		}
	})

	t.Run("null payload", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(`{"topic":"x","event":"e","payload":null,"ref":null}`))
		if err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, string(env.Payload), "{}")
		assert.Equal(t, env.Ref == nil, true)
	})
}

// ============================================================================
// Classification
// ============================================================================

func classify(t *testing.T, frame string) Inbound {
	t.Helper()
	env, err := DecodeEnvelope([]byte(frame))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	in, err := ClassifyEnvelope(env)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	return in
}

func TestClassifyEnvelope(t *testing.T) {
	t.Run("join reply", func(t *testing.T) {
		in := classify(t, `{"topic":"realtime:session:s1","event":"phx_reply","payload":{"status":"ok","response":{}},"ref":"1"}`)
		reply, ok := in.(JoinReply)
		if !ok {
			t.Fatalf("expected JoinReply, got %T", in)
		}
		assert.Equal(t, reply.Status, "ok")
		assert.Equal(t, reply.Ref, "1")
		assert.Equal(t, reply.Topic, "realtime:session:s1")
	})

	t.Run("broadcast", func(t *testing.T) {
		in := classify(t, `{"topic":"t","event":"broadcast","payload":{"type":"broadcast","event":"signaling","payload":{"type":"user_left","user_id":"u2"}},"ref":null}`)
		b, ok := in.(BroadcastFrame)
		if !ok {
			t.Fatalf("expected BroadcastFrame, got %T", in)
		}
		assert.Equal(t, b.Event, "signaling")
		assert.Equal(t, string(b.Payload), `{"type":"user_left","user_id":"u2"}`)
	})

	t.Run("broadcast without payload", func(t *testing.T) {
		env, _ := DecodeEnvelope([]byte(`{"topic":"t","event":"broadcast","payload":{"type":"broadcast","event":"x"}}`))
		if _, err := ClassifyEnvelope(env); !errors.Is(err, ErrDecode) {
			t.Fatalf("expected decode error, got %v", err)
		}
	})

	t.Run("presence diff", func(t *testing.T) {
		in := classify(t, `{"topic":"t","event":"presence_diff","payload":{"joins":{"u7":{},"u3":{}},"leaves":{"u1":{}}}}`)
		d, ok := in.(PresenceDelta)
		if !ok {
			t.Fatalf("expected PresenceDelta, got %T", in)
		}
		assert.Equal(t, d.Joins, []string{"u3", "u7"})
		assert.Equal(t, d.Leaves, []string{"u1"})
		assert.Equal(t, d.Full, false)
	})

	t.Run("presence state snapshot", func(t *testing.T) {
		in := classify(t, `{"topic":"t","event":"presence_state","payload":{"u2":{"metas":[]},"u1":{"metas":[]}}}`)
		d := in.(PresenceDelta)
		assert.Equal(t, d.Joins, []string{"u1", "u2"})
		assert.Equal(t, len(d.Leaves), 0)
		assert.Equal(t, d.Full, true)
	})

	t.Run("presence with bad joins", func(t *testing.T) {
		env, _ := DecodeEnvelope([]byte(`{"topic":"t","event":"presence_diff","payload":{"joins":[1,2]}}`))
		if _, err := ClassifyEnvelope(env); !errors.Is(err, ErrDecode) {
			t.Fatalf("expected decode error, got %v", err)
		}
	})

	t.Run("unknown event", func(t *testing.T) {
		in := classify(t, `{"topic":"t","event":"phx_close","payload":{}}`)
		u, ok := in.(UnknownEvent)
		if !ok {
			t.Fatalf("expected UnknownEvent, got %T", in)
		}
		assert.Equal(t, u.Event, "phx_close")
	})
}
