package broker

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/treepeck/venthub/pkg/event"
)

var validate = validator.New()

/*
Dispatch decodes an inbound client event and routes it to the corresponding
operation.  The returned error is the one already reported to the client, it
is meant for logging only.
*/
func (b *Broker) Dispatch(connId string, e event.ClientEvent) error {
	switch e.Action {
	case event.JOIN_QUEUE:
		role, name, err := decodeQueueRequest(e.Payload)
		if err != nil {
			b.reject(connId, err)
			return err
		}
		return b.Join(connId, role, name)

	case event.LEAVE_QUEUE:
		role, name, err := decodeQueueRequest(e.Payload)
		if err != nil {
			b.reject(connId, err)
			return err
		}
		return b.LeaveQueue(connId, role, name)

	case event.MESSAGE:
		var m event.Message
		if err := json.Unmarshal(e.Payload, &m); err != nil {
			err = fmt.Errorf("%w: %s", ErrMalformedEvent, err)
			b.reject(connId, err)
			return err
		}
		return b.Relay(connId, m.Message)

	case event.LEAVE_ROOM:
		return b.Leave(connId)
	}

	err := fmt.Errorf("%w: unknown action %q", ErrMalformedEvent, e.Action)
	b.reject(connId, err)
	return err
}

/*
decodeQueueRequest decodes the joinQueue and leaveQueue payload.  The role is
checked before the name.
*/
func decodeQueueRequest(raw json.RawMessage) (Role, string, error) {
	var req event.QueueRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return 0, "", fmt.Errorf("%w: %s", ErrMalformedEvent, err)
	}

	role, err := ParseRole(req.Profile)
	if err != nil {
		return 0, "", err
	}

	if err := validate.Struct(req); err != nil {
		return 0, "", fmt.Errorf("%w: %s", ErrInvalidName, err)
	}
	return role, req.Name, nil
}

func (b *Broker) reject(connId string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sendError(connId, err)
}
