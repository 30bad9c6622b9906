package api

import (
	"encoding/json"
	"testing"
)

func TestIndexResponseWireShape(t *testing.T) {
	cases := []struct {
		name string
		in   IndexResponse
		want string
	}{
		{"settling", Settling(), `{"status":"SETTLING"}`},
		{"settled", Settled(2, 3), `{"status":"SETTLED","index":2,"total":3}`},
	}
	for _, tc := range cases {
		got, err := json.Marshal(tc.in)
		if err != nil {
			t.Fatalf("%s: marshal: %v", tc.name, err)
		}
		if string(got) != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestSessionResponseIsEmptyObject(t *testing.T) {
	got, _ := json.Marshal(SessionResponse{})
	if string(got) != "{}" {
		t.Fatalf("got %s, want {}", got)
	}
}
