package domain

import (
	"encoding/json"
	"testing"
)

// The relay parses signaling payloads by their SDP key: offers carry "offer",
// answers carry "answer". Guard the key names, not the full shape.
func TestSignalingPayloadKeys(t *testing.T) {
	offer, err := json.Marshal(OfferPayload{SessionID: "s1", FromUserID: "u1", Offer: "v=0"})
	if err != nil {
		t.Fatal(err)
	}
	var offerKeys map[string]any
	if err := json.Unmarshal(offer, &offerKeys); err != nil {
		t.Fatal(err)
	}
	if _, ok := offerKeys["offer"]; !ok {
		t.Errorf("offer payload %s lacks the offer key", offer)
	}
	if _, ok := offerKeys["sdp"]; ok {
		t.Errorf("offer payload %s carries a stray sdp key", offer)
	}

	answer, err := json.Marshal(AnswerPayload{SessionID: "s1", FromUserID: "u1", Answer: "v=0"})
	if err != nil {
		t.Fatal(err)
	}
	var answerKeys map[string]any
	if err := json.Unmarshal(answer, &answerKeys); err != nil {
		t.Fatal(err)
	}
	if _, ok := answerKeys["answer"]; !ok {
		t.Errorf("answer payload %s lacks the answer key", answer)
	}
	if _, ok := answerKeys["sdp"]; ok {
		t.Errorf("answer payload %s carries a stray sdp key", answer)
	}
}

func TestTargetUserIDOmittedWhenUnknown(t *testing.T) {
	data, err := json.Marshal(ICECandidatePayload{SessionID: "s1", FromUserID: "u1", Candidate: "c"})
	if err != nil {
		t.Fatal(err)
	}
	var keys map[string]any
	if err := json.Unmarshal(data, &keys); err != nil {
		t.Fatal(err)
	}
	if _, ok := keys["target_user_id"]; ok {
		t.Errorf("payload %s carries an empty target_user_id", data)
	}
}
