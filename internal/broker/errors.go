package broker

import "errors"

// User-facing errors.  None of them terminates the connection.
var (
	ErrInvalidRole    = errors.New("invalid role")
	ErrInvalidName    = errors.New("invalid name")
	ErrAlreadyQueued  = errors.New("already queued")
	ErrNotFound       = errors.New("queue entry not found")
	ErrNotInRoom      = errors.New("not in a room")
	ErrInRoom         = errors.New("already in a room")
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownConn    = errors.New("unknown connection")
)

/*
userMessage maps the error to the text sent back to the client inside the
error event.
*/
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRole):
		return "Invalid Profile Type"
	case errors.Is(err, ErrInvalidName):
		return "Invalid name"
	case errors.Is(err, ErrAlreadyQueued):
		return "Already in queue"
	case errors.Is(err, ErrNotFound):
		return "Unable to find entry in queue"
	case errors.Is(err, ErrNotInRoom):
		return "Not in a room"
	case errors.Is(err, ErrInRoom):
		return "Already in a room"
	case errors.Is(err, ErrUnknownConn):
		return "Unknown connection"
	}
	return "Malformed event"
}
