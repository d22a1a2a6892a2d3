package broker

import (
	"container/list"
	"time"
)

// Entry is a connection waiting in one of the role queues.
type Entry struct {
	EnqueuedAt time.Time
	Name       string
	ConnId     string
	Role       Role
}

/*
queues stores the two FIFO waiting lists.

Each list keeps the arrival order in a linked list and indexes its elements by
name, while byConn indexes every element by connection id.  This way both
removal by name (leaveQueue) and by connection (disconnect) never scan the
list or shift the positions of unrelated entries.
*/
type queues struct {
	order  [2]*list.List
	byName [2]map[string]*list.Element
	byConn map[string]*list.Element
}

func newQueues() *queues {
	q := &queues{byConn: make(map[string]*list.Element)}
	for _, r := range []Role{Venter, Listener} {
		q.order[r] = list.New()
		q.byName[r] = make(map[string]*list.Element)
	}
	return q
}

/*
enqueue appends the entry to the tail of the role's queue.  The request is
rejected with [ErrAlreadyQueued] if the name is already waiting in that queue.
*/
func (q *queues) enqueue(role Role, name, connId string, at time.Time) error {
	if _, exists := q.byName[role][name]; exists {
		return ErrAlreadyQueued
	}
	if _, exists := q.byConn[connId]; exists {
		return ErrAlreadyQueued
	}

	el := q.order[role].PushBack(Entry{
		EnqueuedAt: at,
		Name:       name,
		ConnId:     connId,
		Role:       role,
	})
	q.byName[role][name] = el
	q.byConn[connId] = el
	return nil
}

/*
dequeueOppositeHead pops the oldest entry of the opposite role's queue.
*/
func (q *queues) dequeueOppositeHead(role Role) (Entry, bool) {
	el := q.order[role.Opposite()].Front()
	if el == nil {
		return Entry{}, false
	}
	return q.drop(el), true
}

func (q *queues) find(role Role, name string) (Entry, bool) {
	el, exists := q.byName[role][name]
	if !exists {
		return Entry{}, false
	}
	return el.Value.(Entry), true
}

// remove deletes the named entry or returns [ErrNotFound].
func (q *queues) remove(role Role, name string) (Entry, error) {
	el, exists := q.byName[role][name]
	if !exists {
		return Entry{}, ErrNotFound
	}
	return q.drop(el), nil
}

// removeByConnection is a no-op if the connection isn't queued.
func (q *queues) removeByConnection(connId string) (Entry, bool) {
	el, exists := q.byConn[connId]
	if !exists {
		return Entry{}, false
	}
	return q.drop(el), true
}

/*
expired returns the entries enqueued before the specified time.  Since each
queue is ordered by arrival, only the heads have to be inspected.
*/
func (q *queues) expired(before time.Time) []Entry {
	var res []Entry
	for _, l := range q.order {
		for el := l.Front(); el != nil; el = el.Next() {
			e := el.Value.(Entry)
			if !e.EnqueuedAt.Before(before) {
				break
			}
			res = append(res, e)
		}
	}
	return res
}

// names returns a snapshot of the role's queue in FIFO order.
func (q *queues) names(role Role) []string {
	res := make([]string, 0, q.order[role].Len())
	for el := q.order[role].Front(); el != nil; el = el.Next() {
		res = append(res, el.Value.(Entry).Name)
	}
	return res
}

func (q *queues) len(role Role) int {
	return q.order[role].Len()
}

func (q *queues) drop(el *list.Element) Entry {
	e := el.Value.(Entry)
	q.order[e.Role].Remove(el)
	delete(q.byName[e.Role], e.Name)
	delete(q.byConn, e.ConnId)
	return e
}
