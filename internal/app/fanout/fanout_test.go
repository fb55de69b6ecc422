package fanout

import (
	"encoding/json"
	"testing"

	"github.com/nkosi/liveclass/internal/core"
	"github.com/nkosi/liveclass/internal/domain"
)

func event(name, data string) core.Event {
	return core.Event{Name: name, Data: json.RawMessage(data)}
}

func TestHandles(t *testing.T) {
	for _, name := range []string{
		domain.EvChatMessage, domain.EvNewPoll, domain.EvPollCreated,
		domain.EvPollVote, domain.EvContentShared,
		domain.EvUserJoined, domain.EvUserLeft,
	} {
		if !Handles(name) {
			t.Errorf("Handles(%q) = false", name)
		}
	}
	for _, name := range []string{domain.EvWebRTCOffer, domain.EvSessionInfo, "made_up"} {
		if Handles(name) {
			t.Errorf("Handles(%q) = true", name)
		}
	}
}

func TestChatDelivered(t *testing.T) {
	f := New()
	f.Dispatch(event(domain.EvChatMessage,
		`{"session_id":"s1","message":"molweni","user_name":"Thandi","user_type":"student","timestamp":1700000000123}`))

	select {
	case msg := <-f.Chat():
		if msg.Message != "molweni" || msg.UserName != "Thandi" || msg.Timestamp != 1700000000123 {
			t.Errorf("unexpected chat message: %+v", msg)
		}
	default:
		t.Fatal("chat message not delivered")
	}
}

func TestMalformedPayloadDroppedPerMessage(t *testing.T) {
	f := New()

	// One broken frame must not poison delivery of the frames around it.
	f.Dispatch(event(domain.EvChatMessage, `{"session_id":"s1","message":"first","user_name":"A"}`))
	f.Dispatch(event(domain.EvChatMessage, `{not json`))
	f.Dispatch(event(domain.EvChatMessage, `{"session_id":"s1","user_name":"B"}`)) // missing message
	f.Dispatch(event(domain.EvChatMessage, `{"session_id":"s1","message":"second","user_name":"C"}`))

	var got []string
	for {
		select {
		case msg := <-f.Chat():
			got = append(got, msg.Message)
			continue
		default:
		}
		break
	}
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("delivered %v, want [first second]", got)
	}
}

func TestPollAliasesMapToCreated(t *testing.T) {
	f := New()
	payload := `{"poll_id":"p1","question":"2+2?","options":["3","4"],"timestamp":5}`

	for _, name := range []string{domain.EvNewPoll, domain.EvPollCreated} {
		f.Dispatch(event(name, payload))
		select {
		case p := <-f.Polls():
			if p.Kind != domain.PollCreated {
				t.Errorf("%s: kind %v, want PollCreated", name, p.Kind)
			}
			if p.PollID != "p1" || p.Question != "2+2?" || len(p.Options) != 2 {
				t.Errorf("%s: unexpected poll event: %+v", name, p)
			}
		default:
			t.Fatalf("%s: poll not delivered", name)
		}
	}
}

func TestPollVoteDelivered(t *testing.T) {
	f := New()
	f.Dispatch(event(domain.EvPollVote, `{"poll_id":"p1","result":{"4":12,"3":1},"timestamp":9}`))

	select {
	case p := <-f.Polls():
		if p.Kind != domain.PollVoted || p.Results["4"] != 12 {
			t.Errorf("unexpected vote event: %+v", p)
		}
	default:
		t.Fatal("poll vote not delivered")
	}
}

func TestContentSharedDelivered(t *testing.T) {
	f := New()
	f.Dispatch(event(domain.EvContentShared,
		`{"session_id":"s1","payload":{"slide":7},"timestamp":3}`))

	select {
	case c := <-f.Content():
		if string(c.Payload) != `{"slide":7}` {
			t.Errorf("payload %s, want opaque passthrough", c.Payload)
		}
	default:
		t.Fatal("content not delivered")
	}

	// payload is required
	f.Dispatch(event(domain.EvContentShared, `{"session_id":"s1","timestamp":3}`))
	select {
	case <-f.Content():
		t.Fatal("content without payload should be dropped")
	default:
	}
}

func TestPresenceKinds(t *testing.T) {
	f := New()
	f.Dispatch(event(domain.EvUserJoined, `{"session_id":"s1","user_id":"u1","user_name":"Sipho","timestamp":1}`))
	f.Dispatch(event(domain.EvUserLeft, `{"session_id":"s1","user_id":"u1","user_name":"Sipho","timestamp":2}`))

	first := <-f.Presence()
	if first.Kind != domain.ParticipantJoined || first.Participant != "u1" || first.Name != "Sipho" {
		t.Errorf("unexpected join event: %+v", first)
	}
	second := <-f.Presence()
	if second.Kind != domain.ParticipantLeft {
		t.Errorf("unexpected leave event: %+v", second)
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	f := New()
	f.Dispatch(event("totally_new_event", `{"whatever":true}`))

	select {
	case <-f.Chat():
		t.Fatal("unknown event reached the chat stream")
	case <-f.Polls():
		t.Fatal("unknown event reached the poll stream")
	case <-f.Presence():
		t.Fatal("unknown event reached the presence stream")
	case <-f.Content():
		t.Fatal("unknown event reached the content stream")
	default:
	}
}

func TestFullStreamDropsInsteadOfBlocking(t *testing.T) {
	f := New()
	payload := `{"session_id":"s1","message":"m","user_name":"A"}`
	for i := 0; i < streamBuffer+10; i++ {
		f.Dispatch(event(domain.EvChatMessage, payload))
	}

	n := 0
	for {
		select {
		case <-f.Chat():
			n++
			continue
		default:
		}
		break
	}
	if n != streamBuffer {
		t.Errorf("delivered %d, want the buffer size %d", n, streamBuffer)
	}
}
