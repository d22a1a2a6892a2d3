/*
Package event declares the envelopes exchanged between venthub and its
WebSocket clients, and the notifications published to the message broker.
*/
package event

import (
	"encoding/json"
	"log"
)

/*
EventAction is a domain of possible event types.  Client actions are accepted
from the WebSocket connection, server actions are only ever written to it.
*/
type EventAction string

const (
	// Client events.
	JOIN_QUEUE  EventAction = "joinQueue"
	LEAVE_QUEUE EventAction = "leaveQueue"
	LEAVE_ROOM  EventAction = "leaveRoom"

	// Events that can be sent by both the server and the clients.
	MESSAGE EventAction = "message"

	// Server events.
	JOIN  EventAction = "join"
	LEAVE EventAction = "leave"
	MATCH EventAction = "match"
	ERROR EventAction = "error"
)

/*
ServerSender is the sender name of every event which is not a relayed chat
message.
*/
const ServerSender = "SERVER"

/*
ClientEvent represents an event emitted by a client.
*/
type ClientEvent struct {
	Payload json.RawMessage `json:"p"`
	Action  EventAction     `json:"a"`
}

/*
ServerEvent represents an event emitted by the server.  Payload is always an
encoded [Message].
*/
type ServerEvent struct {
	Payload json.RawMessage `json:"p"`
	Action  EventAction     `json:"a"`
}

/*
Message is the payload of every server event and of the client "message"
event.
*/
type Message struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

/*
QueueRequest is the payload of the joinQueue and leaveQueue client events.
Only Name and Profile affect matching, the remaining fields are passed
through untouched.
*/
type QueueRequest struct {
	Name     string `json:"name" validate:"required,max=64"`
	Profile  string `json:"profile"`
	College  string `json:"college,omitempty"`
	Major    string `json:"major,omitempty"`
	Standing string `json:"standing,omitempty"`
}

/*
Notification is published to the message broker on room and queue lifecycle
changes.  It never reaches the WebSocket clients.
*/
type Notification struct {
	RoomId  string   `json:"rid,omitempty"`
	Names   []string `json:"names"`
	Reason  string   `json:"reason,omitempty"`
	Routing string   `json:"-"`
}

// Notification routing keys.
const (
	ROOM_CREATED  = "room.created"
	ROOM_CLOSED   = "room.closed"
	QUEUE_TIMEOUT = "queue.timeout"
)

/*
EncodeOrPanic is a helper function to encode a JSON payload on the fly skipping
the error check.  If the error occurs, the panic will be arised.
*/
func EncodeOrPanic(v any) []byte {
	p, err := json.Marshal(v)
	if err != nil {
		log.Panicf("cannot encode payload %v: %s", v, err)
	}
	return p
}

/*
Encode builds a ready to write server event with the specified action and
message payload.
*/
func Encode(action EventAction, sender, message string) []byte {
	return EncodeOrPanic(ServerEvent{
		Action:  action,
		Payload: EncodeOrPanic(Message{Sender: sender, Message: message}),
	})
}
