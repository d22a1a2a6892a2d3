package broker

import (
	"fmt"

	"github.com/treepeck/venthub/pkg/event"
)

/*
Join handles a joinQueue request.

If a connection of the opposite role is waiting, the oldest one is popped and
paired with the requester in a new room, and both receive a match event.
Otherwise the requester is appended to its role's queue and receives a join
event.  On failure the requester receives an error event and the state is left
untouched.
*/
func (b *Broker) Join(connId string, role Role, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.join(connId, role, name)
	if err != nil {
		b.sendError(connId, err)
	}
	return err
}

func (b *Broker) join(connId string, role Role, name string) error {
	if !role.valid() {
		return ErrInvalidRole
	}

	c, exists := b.registry.get(connId)
	if !exists {
		return fmt.Errorf("connection %q: %w", connId, ErrUnknownConn)
	}

	switch c.State {
	case StateInRoom:
		return ErrInRoom
	case StateQueued:
		return ErrAlreadyQueued
	}

	// Disconnect removes the queue entry together with the registration, so
	// the head always belongs to a registered connection.
	if head, ok := b.queues.dequeueOppositeHead(role); ok {
		peer, _ := b.registry.get(head.ConnId)
		c.Name = name
		b.match(peer, c)
		return nil
	}

	if err := b.queues.enqueue(role, name, connId, b.now()); err != nil {
		return err
	}

	c.Name = name
	c.Role = role
	c.State = StateQueued

	b.send(connId, event.Encode(event.JOIN, event.ServerSender,
		"Successfully joined queue"))

	b.log.Info("queue joined", "conn_id", connId, "name", name, "role", role.String())
	return nil
}

/*
match creates a room for the waiting connection and the joiner and notifies
both of them.
*/
func (b *Broker) match(waiting, joiner *Connection) {
	r := b.rooms.create(waiting.Id, joiner.Id, b.now())

	for _, c := range []*Connection{waiting, joiner} {
		c.State = StateInRoom
		c.RoomId = r.Id
	}

	b.broadcast(r, event.Encode(event.MATCH, event.ServerSender,
		fmt.Sprintf("Matched %s and %s", waiting.Name, joiner.Name)))

	b.notifier.Notify(event.Notification{
		RoomId:  r.Id,
		Names:   []string{waiting.Name, joiner.Name},
		Routing: event.ROOM_CREATED,
	})

	b.log.Info("room created", "room_id", r.Id,
		"waiting", waiting.Name, "joiner", joiner.Name)
}

/*
LeaveQueue handles a leaveQueue request.  Only the connection that owns the
entry may remove it; for everyone else the entry is reported as not found.
*/
func (b *Broker) LeaveQueue(connId string, role Role, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.leaveQueue(connId, role, name)
	if err != nil {
		b.sendError(connId, err)
	}
	return err
}

func (b *Broker) leaveQueue(connId string, role Role, name string) error {
	if !role.valid() {
		return ErrInvalidRole
	}

	e, exists := b.queues.find(role, name)
	if !exists || e.ConnId != connId {
		return ErrNotFound
	}

	if _, err := b.queues.remove(role, name); err != nil {
		return err
	}

	if c, exists := b.registry.get(connId); exists {
		c.State = StateUnassigned
	}

	b.send(connId, event.Encode(event.LEAVE, event.ServerSender,
		"Successfully left queue"))

	b.log.Info("queue left", "conn_id", connId, "name", name, "role", role.String())
	return nil
}
