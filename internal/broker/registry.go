package broker

/*
State is the assignment of a connection.  Transitions:

	unassigned -> queued -> unassigned   (leaveQueue, queue timeout)
	unassigned -> in room -> unassigned  (matched on join, room closed)
	queued -> in room                    (matched by an opposite joiner)
*/
type State int

const (
	StateUnassigned State = iota
	StateQueued
	StateInRoom
)

/*
Connection is a single live client session.  Name is empty until the first
joinQueue request; Role is meaningful only while queued and RoomId only while
in a room.
*/
type Connection struct {
	Id     string
	Name   string
	RoomId string
	Role   Role
	State  State
}

/*
registry is the single owner of the Connection records.
*/
type registry struct {
	conns map[string]*Connection
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*Connection)}
}

/*
register creates an unassigned connection.  Registering an existing id returns
the existing record untouched.
*/
func (r *registry) register(id string) *Connection {
	if c, exists := r.conns[id]; exists {
		return c
	}

	c := &Connection{Id: id}
	r.conns[id] = c
	return c
}

// unregister removes and returns the connection record.
func (r *registry) unregister(id string) (*Connection, bool) {
	c, exists := r.conns[id]
	if exists {
		delete(r.conns, id)
	}
	return c, exists
}

func (r *registry) get(id string) (*Connection, bool) {
	c, exists := r.conns[id]
	return c, exists
}

func (r *registry) currentRoom(id string) (string, bool) {
	c, exists := r.conns[id]
	if !exists || c.State != StateInRoom {
		return "", false
	}
	return c.RoomId, true
}

func (r *registry) len() int {
	return len(r.conns)
}
