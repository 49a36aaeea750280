package queue

import (
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	req := NewRefreshRequest("alice", "Aria")
	if req.RequestID == "" {
		t.Fatal("expected request ID")
	}
	data, err := req.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	got, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON() error = %v", err)
	}
	if got.User != "alice" || got.SaveID != "Aria" || got.Type != RequestTypeRefresh {
		t.Errorf("FromJSON() = %+v", got)
	}
	if !got.EnqueuedAt.Equal(req.EnqueuedAt) {
		t.Errorf("EnqueuedAt = %v, want %v", got.EnqueuedAt, req.EnqueuedAt)
	}
}

func TestFromJSON_Invalid(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"chat","user":"a","save_id":"b"}`,
		`{"type":"refresh","user":"","save_id":"b"}`,
	}
	for _, c := range cases {
		if _, err := FromJSON([]byte(c)); err == nil {
			t.Errorf("FromJSON(%s) expected error", c)
		}
	}
}
