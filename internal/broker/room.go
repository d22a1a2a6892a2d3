package broker

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

/*
Room is an ephemeral pairing of exactly two connections.  Members never change
during the room lifetime: a room is created full and destroyed as a whole.
*/
type Room struct {
	CreatedAt time.Time
	Id        string
	Members   [2]string
}

/*
peer returns the other member of the room.
*/
func (r *Room) peer(connId string) string {
	others := lo.Without(r.Members[:], connId)
	if len(others) == 0 {
		return ""
	}
	return others[0]
}

type rooms struct {
	byId map[string]*Room
}

func newRooms() *rooms {
	return &rooms{byId: make(map[string]*Room)}
}

func (rs *rooms) create(a, b string, at time.Time) *Room {
	r := &Room{
		CreatedAt: at,
		Id:        uuid.NewString(),
		Members:   [2]string{a, b},
	}
	rs.byId[r.Id] = r
	return r
}

func (rs *rooms) get(id string) (*Room, bool) {
	r, exists := rs.byId[id]
	return r, exists
}

func (rs *rooms) remove(id string) {
	delete(rs.byId, id)
}

func (rs *rooms) len() int {
	return len(rs.byId)
}
