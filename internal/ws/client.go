package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/treepeck/venthub/pkg/event"
)

// Connection parameters.
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period.  Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

/*
inbound is a client event tagged with the id of the connection it was read
from.
*/
type inbound struct {
	clientId string
	e        event.ClientEvent
}

/*
client manages the connection lifecycle and provides methods for reading and
writing WebSocket messages.

The reason for the send channel is that events must be written sequentially,
since the Gorilla WebSocket library allows only one concurrent writer to a
connection at a time.  Only the gatekeeper goroutine sends to and closes the
send channel.
*/
type client struct {
	id string
	// unregister is a channel which will notify the gatekeeper about the
	// client disconnection.
	unregister chan<- *client
	// forward is a channel to which the client will send the read events.
	forward chan<- inbound
	// send is a channel which recieves events that the client will write to
	// the WebSocket connection.  It recieves raw bytes to avoid JSON encoding
	// for each room member in case of event broadcasting.
	send chan []byte
	// done is closed when the gatekeeper is destroyed.
	done <-chan struct{}
	conn *websocket.Conn
}

/*
newClient creates a new client and sets the WebSocket connection properties.
*/
func newClient(
	id string,
	unregister chan<- *client,
	forward chan<- inbound,
	done <-chan struct{},
	conn *websocket.Conn,
	sendBuffer int,
) *client {
	c := &client{
		id:         id,
		unregister: unregister,
		forward:    forward,
		send:       make(chan []byte, sendBuffer),
		done:       done,
		conn:       conn,
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(c.pongHandler)

	return c
}

/*
read reads events from the connection sequentially (one at a time) and
forwards them to the gatekeeper.  If a frame cannot be read, the connection
will be interrupted.  A frame which is not a valid event is forwarded as an
event without action, which the broker rejects as malformed.
*/
func (c *client) read() {
	defer c.cleanup()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var e event.ClientEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			e = event.ClientEvent{}
		}

		select {
		case c.forward <- inbound{clientId: c.id, e: e}:
		case <-c.done:
			return
		}
	}
}

/*
write takes the incomming events from the send channel and writes them to the
connection sequentially (one at a time).

Automatically sends ping messages to maintain a hearbeat.
*/
func (c *client) write() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

		// Send ping messages periodically.
		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) pongHandler(string) error {
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

/*
cleanup closes the connection and unregisters the client from the gatekeeper.
*/
func (c *client) cleanup() {
	c.conn.Close()

	select {
	case c.unregister <- c:
	case <-c.done:
	}
}
