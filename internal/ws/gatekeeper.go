/*
Package ws is the WebSocket transport of the broker.  It upgrades HTTP
requests, pumps events between the connections and the broker, and maps
connection lifecycle to broker registrations.
*/
package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/treepeck/venthub/internal/broker"
)

var (
	errUnknownClient  = errors.New("client is not registered")
	errSendBufferFull = errors.New("send buffer is full")
)

type Options struct {
	// Zero QueueTimeout disables the eviction of long waiting entries.
	QueueTimeout  time.Duration
	SweepInterval time.Duration
	SendBuffer    int
	// Empty AllowedOrigin accepts connections from any origin.
	AllowedOrigin string
}

/*
handshake is an upgraded connection together with the subject the
[Authorize] middleware extracted from the request, if any.
*/
type handshake struct {
	conn    *websocket.Conn
	subject string
}

/*
Gatekeeper handles client connections, disconnections and routes incomming
events into the broker.

All of them are handled by the single routeEvents goroutine, so the clients
map is never accessed concurrently.  The broker writes outbound events back
through [Gatekeeper.Send], which is only ever called from that goroutine.
*/
type Gatekeeper struct {
	broker        *broker.Broker
	clients       map[string]*client
	register      chan handshake
	unregister    chan *client
	bus           chan inbound
	done          chan struct{}
	stopped       chan struct{}
	destroyOnce   sync.Once
	upgrader      websocket.Upgrader
	sendBuffer    int
	sweepInterval time.Duration
	log           *slog.Logger
}

/*
NewGatekeeper creates the broker and starts the routeEvents goroutine.
*/
func NewGatekeeper(log *slog.Logger, n broker.Notifier, opts Options) *Gatekeeper {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 192
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 10 * time.Second
	}

	g := &Gatekeeper{
		clients:    make(map[string]*client),
		register:   make(chan handshake),
		unregister: make(chan *client),
		bus:        make(chan inbound),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(opts.AllowedOrigin),
		},
		sendBuffer:    opts.SendBuffer,
		sweepInterval: opts.SweepInterval,
		log:           log,
	}
	g.broker = broker.New(log, g, n, opts.QueueTimeout)

	go g.routeEvents()

	return g
}

/*
routeEvents consiquentially (one at a time) recieves incomming events from the
gatekeeper channels and forwards them to the corresponding handlers.
*/
func (g *Gatekeeper) routeEvents() {
	defer close(g.stopped)

	sweepTicker := time.NewTicker(g.sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case h := <-g.register:
			g.handleRegister(h)

		case c := <-g.unregister:
			g.handleUnregister(c)

		case in := <-g.bus:
			if err := g.broker.Dispatch(in.clientId, in.e); err != nil {
				g.log.Debug("event rejected", "conn_id", in.clientId,
					"action", in.e.Action, "err", err)
			}

		case now := <-sweepTicker.C:
			g.broker.Sweep(now)

		case <-g.done:
			return
		}
	}
}

/*
handleRegister registers a new client in the broker and starts its pumps.
*/
func (g *Gatekeeper) handleRegister(h handshake) {
	c := newClient(uuid.NewString(), g.unregister, g.bus, g.done, h.conn,
		g.sendBuffer)

	g.clients[c.id] = c
	g.broker.Connect(c.id)

	go c.read()
	go c.write()

	g.log.Info("client registered", "conn_id", c.id, "subject", h.subject)
}

/*
handleUnregister cleans up the broker state of the client before closing its
send channel, so that no event is ever sent to a closed channel.
*/
func (g *Gatekeeper) handleUnregister(c *client) {
	if _, exists := g.clients[c.id]; !exists {
		return
	}

	g.broker.Disconnect(c.id)

	delete(g.clients, c.id)
	close(c.send)

	g.log.Info("client unregistered", "conn_id", c.id)
}

/*
Send implements [broker.Sender].  It never blocks: if the client does not keep
up with its events, the event is dropped and an error is returned.
*/
func (g *Gatekeeper) Send(connId string, raw []byte) error {
	c, exists := g.clients[connId]
	if !exists {
		return errUnknownClient
	}

	select {
	case c.send <- raw:
		return nil
	default:
		return errSendBufferFull
	}
}

/*
HandleNewConnection upgrades the request to a WebSocket connection and hands
it to the routeEvents goroutine.
*/
func (g *Gatekeeper) HandleNewConnection(rw http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		g.log.Debug("cannot upgrade connection", "err", err)
		return
	}

	subject, _ := r.Context().Value(subjectKey).(string)

	select {
	case g.register <- handshake{conn: conn, subject: subject}:
	case <-g.done:
		conn.Close()
	}
}

/*
HandleStats writes the broker statistics as JSON.
*/
func (g *Gatekeeper) HandleStats(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(g.broker.Stats()); err != nil {
		g.log.Error("cannot encode stats", "err", err)
	}
}

/*
Destroy stops the routeEvents goroutine and closes every connection.  The
write pumps send a close frame and close the connections once their send
channels are closed.
*/
func (g *Gatekeeper) Destroy() {
	g.destroyOnce.Do(func() {
		close(g.done)
		<-g.stopped

		for id, c := range g.clients {
			delete(g.clients, id)
			close(c.send)
		}
	})
}

func checkOrigin(allowed string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return allowed == "" || r.Header.Get("Origin") == allowed
	}
}
