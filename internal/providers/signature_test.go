package providers

import "testing"

func TestVerifySignatureRoundTrip(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"event_id":"evt_1"}`)

	sig := signPayload(secret, payload)
	if !verifySignature(secret, payload, sig) {
		t.Fatal("valid signature rejected")
	}
	if !verifySignature(secret, payload, "sha256="+sig) {
		t.Fatal("prefixed signature rejected")
	}
}

func TestVerifySignatureRejections(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"event_id":"evt_1"}`)
	sig := signPayload(secret, payload)

	cases := map[string]struct {
		secret  string
		payload []byte
		header  string
	}{
		"wrong secret":     {"other", payload, sig},
		"tampered payload": {secret, []byte(`{"event_id":"evt_2"}`), sig},
		"empty header":     {secret, payload, ""},
		"not hex":          {secret, payload, "zzzz"},
		"empty secret":     {"", payload, sig},
	}
	for name, tc := range cases {
		if verifySignature(tc.secret, tc.payload, tc.header) {
			t.Errorf("%s: signature accepted", name)
		}
	}
}
