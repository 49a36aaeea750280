package game

import (
	"errors"
	"fmt"
)

// CustomError is a validation failure whose message is shown to the player
// as is.
type CustomError struct {
	Message string
}

func (e *CustomError) Error() string {
	return e.Message
}

func customf(format string, args ...any) error {
	return &CustomError{Message: fmt.Sprintf(format, args...)}
}

// IsCustom reports whether err carries a player facing message.
func IsCustom(err error) bool {
	var ce *CustomError
	return errors.As(err, &ce)
}

var (
	ErrSaveNotFound = &CustomError{Message: "Save not found."}
	ErrNoStory      = &CustomError{Message: "No story to end!"}
	ErrStoryRunning = &CustomError{Message: "The shop is closed during an adventure."}
)

// Messages returned instead of an error.
const (
	MsgOptionCreated = "Created!"
	MsgOptionInvalid = "Invalid action. Please try a possible action."
)
