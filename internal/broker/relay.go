package broker

import (
	"github.com/treepeck/venthub/pkg/event"
)

/*
Relay broadcasts the chat message to both members of the sender's room,
including the sender itself.  The message is attributed to the name the
sender joined the queue with.
*/
func (b *Broker) Relay(connId, body string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.relay(connId, body)
	if err != nil {
		b.sendError(connId, err)
	}
	return err
}

func (b *Broker) relay(connId, body string) error {
	c, exists := b.registry.get(connId)
	if !exists || c.State != StateInRoom {
		return ErrNotInRoom
	}

	r, exists := b.rooms.get(c.RoomId)
	if !exists {
		return ErrNotInRoom
	}

	b.broadcast(r, event.Encode(event.MESSAGE, c.Name, body))
	return nil
}

/*
Leave dissolves the room of the connection.  Neither member is put back into
the queues.
*/
func (b *Broker) Leave(connId string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, exists := b.registry.get(connId)
	if !exists || c.State != StateInRoom {
		b.sendError(connId, ErrNotInRoom)
		return ErrNotInRoom
	}

	b.dissolve(c.RoomId, "Room closed")
	return nil
}

/*
dissolve destroys the room and resets its members.  Members that are still
registered receive a leave event with the specified reason.
*/
func (b *Broker) dissolve(roomId, reason string) {
	r, exists := b.rooms.get(roomId)
	if !exists {
		return
	}
	b.rooms.remove(roomId)

	names := make([]string, 0, 2)
	for _, id := range r.Members {
		if c, exists := b.registry.get(id); exists {
			c.State = StateUnassigned
			c.RoomId = ""
			names = append(names, c.Name)
		}
	}

	b.broadcast(r, event.Encode(event.LEAVE, event.ServerSender, reason))

	b.notifier.Notify(event.Notification{
		RoomId:  roomId,
		Names:   names,
		Reason:  reason,
		Routing: event.ROOM_CLOSED,
	})

	b.log.Info("room closed", "room_id", roomId, "reason", reason)
}
