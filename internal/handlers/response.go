package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/gamemaster/internal/game"
)

// UsernameHeader names the player. An upstream proxy sets it.
const UsernameHeader = "X-Username"

// GenericReason hides internal errors from clients.
const GenericReason = "An error has occurred!"

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Response is the envelope of every API reply.
type Response struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Validator is implemented by request bodies.
type Validator interface {
	Validate() error
}

// responder writes envelopes. Unless debug is set, internal errors are
// logged and replaced by GenericReason.
type responder struct {
	logger *slog.Logger
	debug  bool
}

func (rs responder) write(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		rs.logger.Error("Failed to encode response", "error", err)
	}
}

func (rs responder) success(w http.ResponseWriter, result any) {
	rs.write(w, http.StatusOK, Response{Status: statusSuccess, Result: result})
}

func (rs responder) badRequest(w http.ResponseWriter, reason string) {
	rs.write(w, http.StatusBadRequest, Response{Status: statusError, Reason: reason})
}

func (rs responder) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ce *game.CustomError
	if errors.As(err, &ce) {
		rs.badRequest(w, ce.Message)
		return
	}
	rs.logger.Error("Request failed",
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"user", r.Header.Get(UsernameHeader))
	reason := GenericReason
	if rs.debug {
		reason = err.Error()
	}
	rs.write(w, http.StatusInternalServerError, Response{Status: statusError, Reason: reason})
}

// decode reads a JSON body into v and validates it. An empty body is
// treated as an empty object.
func decode(r *http.Request, v Validator) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("Invalid request body: %v", err)
	}
	return v.Validate()
}
