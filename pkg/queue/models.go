package queue

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// RequestType identifies the type of request in the queue
type RequestType string

const (
	// RequestTypeRefresh asks a worker to regenerate the cached outcomes of a
	// save's current options.
	RequestTypeRefresh RequestType = "refresh"
)

// Request is one unit of background work.
type Request struct {
	RequestID  string      `json:"request_id"`
	Type       RequestType `json:"type"`
	User       string      `json:"user"`
	SaveID     string      `json:"save_id"`
	Attempts   int         `json:"attempts,omitempty"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// NewRefreshRequest builds a refresh request with a fresh ID.
func NewRefreshRequest(user, saveID string) *Request {
	return &Request{
		RequestID:  uuid.NewString(),
		Type:       RequestTypeRefresh,
		User:       user,
		SaveID:     saveID,
		EnqueuedAt: time.Now().UTC(),
	}
}

func (r *Request) Validate() error {
	if r.Type != RequestTypeRefresh {
		return errors.New("unknown request type: " + string(r.Type))
	}
	if r.User == "" || r.SaveID == "" {
		return errors.New("request needs a user and a save")
	}
	return nil
}

// ToJSON converts the request to JSON bytes for Redis
func (r *Request) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON parses a request from JSON bytes
func FromJSON(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}
