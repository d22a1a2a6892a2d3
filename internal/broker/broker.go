//go:generate go run go.uber.org/mock/mockgen -source=broker.go -destination=../mocks/mock_broker.go -package=mocks

/*
Package broker implements the matchmaking core: it tracks live connections,
keeps one FIFO waiting queue per role, pairs opposite roles into two-party
rooms and relays chat messages inside those rooms.

The package is transport-agnostic.  Outbound events are written through the
[Sender] interface and lifecycle changes are reported through the [Notifier]
interface.
*/
package broker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/treepeck/venthub/pkg/event"
)

/*
Sender delivers an encoded server event to a single connection.  Send must not
block: the broker calls it while holding its lock.
*/
type Sender interface {
	Send(connId string, raw []byte) error
}

/*
Notifier receives room and queue lifecycle notifications, e.g. to forward them
to a message broker.  Notify must not block.
*/
type Notifier interface {
	Notify(n event.Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(event.Notification) {}

/*
Stats is a point-in-time snapshot of the broker state.
*/
type Stats struct {
	Connections int `json:"connections"`
	Venters     int `json:"venters"`
	Listeners   int `json:"listeners"`
	Rooms       int `json:"rooms"`
}

/*
Broker owns the connection registry, the role queues and the room table.

Every operation takes the same mutex, so two near-simultaneous joins of
opposite roles are always serialized: the second one observes the first one
in the queue and matches it.
*/
type Broker struct {
	mu       sync.Mutex
	registry *registry
	queues   *queues
	rooms    *rooms
	sender   Sender
	notifier Notifier
	log      *slog.Logger
	// Entries waiting longer than queueTimeout are evicted by [Broker.Sweep].
	// Zero disables the eviction.
	queueTimeout time.Duration
	now          func() time.Time
}

/*
New creates an empty broker.  A nil notifier discards all notifications.
*/
func New(log *slog.Logger, s Sender, n Notifier, queueTimeout time.Duration) *Broker {
	if n == nil {
		n = nopNotifier{}
	}

	return &Broker{
		registry:     newRegistry(),
		queues:       newQueues(),
		rooms:        newRooms(),
		sender:       s,
		notifier:     n,
		log:          log,
		queueTimeout: queueTimeout,
		now:          time.Now,
	}
}

/*
Connect registers a new unassigned connection.  Calling it twice with the same
id is harmless.
*/
func (b *Broker) Connect(connId string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.registry.register(connId)
	b.log.Debug("connection registered", "conn_id", connId)
}

/*
Disconnect unregisters the connection, removes its queue entry and dissolves
its room.  The remaining room member receives a leave event.  Disconnecting an
unknown connection is a no-op.
*/
func (b *Broker) Disconnect(connId string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, exists := b.registry.unregister(connId)
	if !exists {
		return
	}

	if e, removed := b.queues.removeByConnection(connId); removed {
		b.log.Info("queue entry removed on disconnect",
			"conn_id", connId, "name", e.Name, "role", e.Role.String())
	}

	if c.State == StateInRoom {
		if r, exists := b.rooms.get(c.RoomId); exists {
			b.log.Info("room member disconnected", "room_id", r.Id,
				"conn_id", connId, "peer_id", r.peer(connId))
		}
		b.dissolve(c.RoomId, "Peer disconnected")
	}

	b.log.Debug("connection unregistered", "conn_id", connId)
}

/*
CurrentRoom returns the id of the room the connection is in.
*/
func (b *Broker) CurrentRoom(connId string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.registry.currentRoom(connId)
}

/*
QueueNames returns the names waiting in the role's queue, oldest first.
*/
func (b *Broker) QueueNames(role Role) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.queues.names(role)
}

/*
Stats returns the number of registered connections, queued entries per role
and open rooms.
*/
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Connections: b.registry.len(),
		Venters:     b.queues.len(Venter),
		Listeners:   b.queues.len(Listener),
		Rooms:       b.rooms.len(),
	}
}

/*
Sweep evicts the queue entries which have been waiting longer than the queue
timeout and notifies their owners.  Returns the number of evicted entries.
*/
func (b *Broker) Sweep(now time.Time) int {
	if b.queueTimeout <= 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	expired := b.queues.expired(now.Add(-b.queueTimeout))
	for _, e := range expired {
		b.queues.removeByConnection(e.ConnId)

		if c, exists := b.registry.get(e.ConnId); exists {
			c.State = StateUnassigned
		}
		b.send(e.ConnId, event.Encode(event.LEAVE, event.ServerSender,
			"Queue wait timed out"))
		b.notifier.Notify(event.Notification{
			Names:   []string{e.Name},
			Reason:  "timeout",
			Routing: event.QUEUE_TIMEOUT,
		})

		b.log.Info("queue entry timed out", "conn_id", e.ConnId,
			"name", e.Name, "role", e.Role.String())
	}
	return len(expired)
}

/*
send writes the raw event to a single connection.  Delivery errors are logged
and swallowed: an unreachable recipient must never affect anyone else.
*/
func (b *Broker) send(connId string, raw []byte) {
	if err := b.sender.Send(connId, raw); err != nil {
		b.log.Warn("cannot deliver event", "conn_id", connId, "err", err)
	}
}

func (b *Broker) sendError(connId string, err error) {
	b.send(connId, event.Encode(event.ERROR, event.ServerSender, userMessage(err)))
}

/*
broadcast writes the raw event to every member of the room which is still
registered.
*/
func (b *Broker) broadcast(r *Room, raw []byte) {
	for _, id := range r.Members {
		if _, exists := b.registry.get(id); exists {
			b.send(id, raw)
		}
	}
}
