package broker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"github.com/treepeck/venthub/internal/mocks"
	"github.com/treepeck/venthub/pkg/event"
	"go.uber.org/mock/gomock"
)

type received struct {
	action event.EventAction
	msg    event.Message
}

/*
outbox records every event sent to each connection.  Connections listed in
unreachable make Send fail after recording.
*/
type outbox struct {
	mu          sync.Mutex
	events      map[string][]received
	unreachable map[string]bool
}

func newOutbox() *outbox {
	return &outbox{
		events:      make(map[string][]received),
		unreachable: make(map[string]bool),
	}
}

func (o *outbox) Send(connId string, raw []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.unreachable[connId] {
		return errors.New("connection is gone")
	}

	var e event.ServerEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return err
	}
	var m event.Message
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return err
	}

	o.events[connId] = append(o.events[connId], received{action: e.Action, msg: m})
	return nil
}

func (o *outbox) of(connId string) []received {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]received(nil), o.events[connId]...)
}

func (o *outbox) last(connId string) received {
	evs := o.of(connId)
	if len(evs) == 0 {
		return received{}
	}
	return evs[len(evs)-1]
}

func newTestBroker(t *testing.T, n Notifier, timeout time.Duration) (*Broker, *outbox) {
	t.Helper()

	out := newOutbox()
	b := New(logs.GetLoggerFromLevel(slog.LevelDebug), out, n, timeout)
	return b, out
}

func queueRequest(name, profile string) event.ClientEvent {
	return event.ClientEvent{
		Action: event.JOIN_QUEUE,
		Payload: event.EncodeOrPanic(event.QueueRequest{
			Name:    name,
			Profile: profile,
			College: "Engineering",
		}),
	}
}

func chat(sender, body string) event.ClientEvent {
	return event.ClientEvent{
		Action:  event.MESSAGE,
		Payload: event.EncodeOrPanic(event.Message{Sender: sender, Message: body}),
	}
}

func TestBroker_AliceAndBob(t *testing.T) {
	req := require.New(t)
	b, out := newTestBroker(t, nil, 0)
	b.Connect("alice")
	b.Connect("bob")

	// When Alice joins as a venter
	req.NoError(b.Dispatch("alice", queueRequest("Alice", "venter")))

	// Then she is queued and receives a join event
	req.Equal(received{event.JOIN, event.Message{
		Sender: "SERVER", Message: "Successfully joined queue"}}, out.last("alice"))
	req.Equal([]string{"Alice"}, b.QueueNames(Venter))

	// When Bob joins as a listener
	req.NoError(b.Dispatch("bob", queueRequest("Bob", "listener")))

	// Then both receive a match event mentioning both names
	for _, id := range []string{"alice", "bob"} {
		got := out.last(id)
		req.Equal(event.MATCH, got.action)
		req.Equal("SERVER", got.msg.Sender)
		req.Contains(got.msg.Message, "Alice")
		req.Contains(got.msg.Message, "Bob")
	}
	// And Bob never receives a join event
	req.Len(out.of("bob"), 1)
	req.Empty(b.QueueNames(Venter))
	req.Empty(b.QueueNames(Listener))

	aliceRoom, ok := b.CurrentRoom("alice")
	req.True(ok)
	bobRoom, ok := b.CurrentRoom("bob")
	req.True(ok)
	req.Equal(aliceRoom, bobRoom)

	// When Alice sends a message
	req.NoError(b.Dispatch("alice", chat("Alice", "hi")))

	// Then both clients receive it, including Alice herself
	want := received{event.MESSAGE, event.Message{Sender: "Alice", Message: "hi"}}
	req.Equal(want, out.last("alice"))
	req.Equal(want, out.last("bob"))
}

func TestBroker_MatchesOldestWaiter(t *testing.T) {
	req := require.New(t)
	b, out := newTestBroker(t, nil, 0)
	for _, id := range []string{"l1", "l2", "l3", "v1"} {
		b.Connect(id)
	}

	req.NoError(b.Join("l1", Listener, "L1"))
	req.NoError(b.Join("l2", Listener, "L2"))
	req.NoError(b.Join("l3", Listener, "L3"))
	req.Equal([]string{"L1", "L2", "L3"}, b.QueueNames(Listener))

	req.NoError(b.Join("v1", Venter, "V1"))

	req.Equal("Matched L1 and V1", out.last("v1").msg.Message)
	req.Equal(event.MATCH, out.last("l1").action)
	req.Equal(event.JOIN, out.last("l2").action)
	req.Equal([]string{"L2", "L3"}, b.QueueNames(Listener))
	// The venter is never enqueued.
	req.Empty(b.QueueNames(Venter))
}

func TestBroker_SameRoleNeverMatches(t *testing.T) {
	req := require.New(t)
	b, out := newTestBroker(t, nil, 0)
	b.Connect("a")
	b.Connect("b")

	req.NoError(b.Join("a", Venter, "A"))
	req.NoError(b.Join("b", Venter, "B"))

	req.Equal([]string{"A", "B"}, b.QueueNames(Venter))
	req.Equal(event.JOIN, out.last("b").action)
	_, ok := b.CurrentRoom("a")
	req.False(ok)
}

func TestBroker_JoinTwiceIsRejected(t *testing.T) {
	req := require.New(t)
	b, out := newTestBroker(t, nil, 0)
	b.Connect("a")
	b.Connect("a2")

	req.NoError(b.Dispatch("a", queueRequest("Alice", "venter")))

	// Same connection twice
	err := b.Dispatch("a", queueRequest("Alice", "venter"))
	req.ErrorIs(err, ErrAlreadyQueued)
	req.Equal(received{event.ERROR, event.Message{
		Sender: "SERVER", Message: "Already in queue"}}, out.last("a"))

	// Same name from another connection
	err = b.Dispatch("a2", queueRequest("Alice", "venter"))
	req.ErrorIs(err, ErrAlreadyQueued)
	req.Equal(event.ERROR, out.last("a2").action)

	req.Equal([]string{"Alice"}, b.QueueNames(Venter))
}

func TestBroker_InvalidRole(t *testing.T) {
	req := require.New(t)
	b, out := newTestBroker(t, nil, 0)
	b.Connect("a")

	err := b.Dispatch("a", queueRequest("Alice", "speaker"))
	req.ErrorIs(err, ErrInvalidRole)
	req.Equal(received{event.ERROR, event.Message{
		Sender: "SERVER", Message: "Invalid Profile Type"}}, out.last("a"))
	req.Equal(Stats{Connections: 1}, b.Stats())

	err = b.Dispatch("a", event.ClientEvent{
		Action:  event.LEAVE_QUEUE,
		Payload: event.EncodeOrPanic(event.QueueRequest{Name: "Alice", Profile: "x"}),
	})
	req.ErrorIs(err, ErrInvalidRole)
}

func TestBroker_OutOfRangeRole(t *testing.T) {
	req := require.New(t)
	b, out := newTestBroker(t, nil, 0)
	b.Connect("a")

	// When the role is neither venter nor listener
	err := b.Join("a", Role(2), "Alice")

	// Then the request is rejected without touching the queues
	req.ErrorIs(err, ErrInvalidRole)
	req.Equal(received{event.ERROR, event.Message{
		Sender: "SERVER", Message: "Invalid Profile Type"}}, out.last("a"))
	req.Equal(Stats{Connections: 1}, b.Stats())

	err = b.LeaveQueue("a", Role(-1), "Alice")
	req.ErrorIs(err, ErrInvalidRole)
	req.Equal("Invalid Profile Type", out.last("a").msg.Message)
}

func TestBroker_LogsRoleName(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	b := New(slog.New(slog.NewJSONHandler(&buf, nil)), newOutbox(), nil, 0)
	b.Connect("a")

	req.NoError(b.Join("a", Listener, "Alice"))
	req.Contains(buf.String(), `"role":"listener"`)
}

func TestBroker_InvalidName(t *testing.T) {
	req := require.New(t)
	b, out := newTestBroker(t, nil, 0)
	b.Connect("a")

	err := b.Dispatch("a", queueRequest("", "venter"))
	req.ErrorIs(err, ErrInvalidName)
	req.Equal("Invalid name", out.last("a").msg.Message)
	req.Empty(b.QueueNames(Venter))
}

func TestBroker_MalformedEvents(t *testing.T) {
	req := require.New(t)
	b, out := newTestBroker(t, nil, 0)
	b.Connect("a")

	err := b.Dispatch("a", event.ClientEvent{Action: "dance"})
	req.ErrorIs(err, ErrMalformedEvent)
	req.Equal(received{event.ERROR, event.Message{
		Sender: "SERVER", Message: "Malformed event"}}, out.last("a"))

	err = b.Dispatch("a", event.ClientEvent{
		Action:  event.JOIN_QUEUE,
		Payload: []byte(`"not an object"`),
	})
	req.ErrorIs(err, ErrMalformedEvent)
}

func TestBroker_LeaveQueue(t *testing.T) {
	req := require.New(t)
	b, out := newTestBroker(t, nil, 0)
	b.Connect("a")
	b.Connect("b")

	leave := func(name, profile string) event.ClientEvent {
		return event.ClientEvent{
			Action:  event.LEAVE_QUEUE,
			Payload: event.EncodeOrPanic(event.QueueRequest{Name: name, Profile: profile}),
		}
	}

	// Not present
	err := b.Dispatch("a", leave("Alice", "venter"))
	req.ErrorIs(err, ErrNotFound)
	req.Equal(received{event.ERROR, event.Message{
		Sender: "SERVER", Message: "Unable to find entry in queue"}}, out.last("a"))

	req.NoError(b.Join("a", Venter, "Alice"))

	// Present in the other role's queue only
	req.ErrorIs(b.Dispatch("a", leave("Alice", "listener")), ErrNotFound)

	// Owned by another connection
	req.ErrorIs(b.Dispatch("b", leave("Alice", "venter")), ErrNotFound)
	req.Equal([]string{"Alice"}, b.QueueNames(Venter))

	// Present
	req.NoError(b.Dispatch("a", leave("Alice", "venter")))
	req.Equal(received{event.LEAVE, event.Message{
		Sender: "SERVER", Message: "Successfully left queue"}}, out.last("a"))
	req.Empty(b.QueueNames(Venter))

	// The connection can queue again afterwards
	req.NoError(b.Join("a", Listener, "Alice"))
	req.Equal([]string{"Alice"}, b.QueueNames(Listener))
}

func TestBroker_RelayWithoutRoom(t *testing.T) {
	req := require.New(t)
	b, out := newTestBroker(t, nil, 0)
	b.Connect("a")

	err := b.Dispatch("a", chat("Alice", "hello?"))
	req.ErrorIs(err, ErrNotInRoom)
	req.Equal(received{event.ERROR, event.Message{
		Sender: "SERVER", Message: "Not in a room"}}, out.last("a"))

	// A queued connection isn't in a room either
	req.NoError(b.Join("a", Venter, "Alice"))
	req.ErrorIs(b.Relay("a", "hello?"), ErrNotInRoom)
}

func TestBroker_RelayUsesJoinedName(t *testing.T) {
	req := require.New(t)
	b, out := newTestBroker(t, nil, 0)
	b.Connect("a")
	b.Connect("b")
	req.NoError(b.Join("a", Venter, "Alice"))
	req.NoError(b.Join("b", Listener, "Bob"))

	req.NoError(b.Dispatch("b", chat("Mallory", "hey")))

	want := received{event.MESSAGE, event.Message{Sender: "Bob", Message: "hey"}}
	req.Equal(want, out.last("a"))
	req.Equal(want, out.last("b"))
}

func TestBroker_LeaveRoom(t *testing.T) {
	req := require.New(t)
	b, out := newTestBroker(t, nil, 0)
	b.Connect("a")
	b.Connect("b")
	req.NoError(b.Join("a", Venter, "Alice"))
	req.NoError(b.Join("b", Listener, "Bob"))

	req.NoError(b.Dispatch("a", event.ClientEvent{Action: event.LEAVE_ROOM}))

	for _, id := range []string{"a", "b"} {
		req.Equal(received{event.LEAVE, event.Message{
			Sender: "SERVER", Message: "Room closed"}}, out.last(id))
		_, ok := b.CurrentRoom(id)
		req.False(ok)
	}
	// Nobody is requeued
	req.Equal(Stats{Connections: 2}, b.Stats())

	// Leaving again fails
	req.ErrorIs(b.Leave("b"), ErrNotInRoom)
	req.Equal(event.ERROR, out.last("b").action)

	// Both can queue again
	req.NoError(b.Join("b", Listener, "Bob"))
	req.NoError(b.Join("a", Venter, "Alice"))
	_, ok := b.CurrentRoom("a")
	req.True(ok)
}

func TestBroker_JoinWhileInRoom(t *testing.T) {
	req := require.New(t)
	b, out := newTestBroker(t, nil, 0)
	for _, id := range []string{"a", "b", "c"} {
		b.Connect(id)
	}
	req.NoError(b.Join("a", Venter, "Alice"))
	req.NoError(b.Join("b", Listener, "Bob"))
	req.NoError(b.Join("c", Venter, "Carol"))

	err := b.Join("b", Listener, "Bob")
	req.ErrorIs(err, ErrInRoom)
	req.Equal("Already in a room", out.last("b").msg.Message)
	// Carol stays queued, Bob belongs to a single room
	req.Equal([]string{"Carol"}, b.QueueNames(Venter))
	req.Equal(1, b.Stats().Rooms)
}

func TestBroker_DisconnectQueued(t *testing.T) {
	req := require.New(t)
	b, out := newTestBroker(t, nil, 0)
	b.Connect("a")
	b.Connect("b")
	req.NoError(b.Join("a", Venter, "Alice"))

	b.Disconnect("a")

	req.Empty(b.QueueNames(Venter))

	// The next listener is queued instead of being matched with Alice
	req.NoError(b.Join("b", Listener, "Bob"))
	req.Equal(event.JOIN, out.last("b").action)
	req.Equal([]string{"Bob"}, b.QueueNames(Listener))
	for _, e := range out.of("b") {
		req.NotContains(e.msg.Message, "Alice")
	}
}

func TestBroker_DisconnectRoomMember(t *testing.T) {
	req := require.New(t)
	b, out := newTestBroker(t, nil, 0)
	b.Connect("a")
	b.Connect("b")
	req.NoError(b.Join("a", Venter, "Alice"))
	req.NoError(b.Join("b", Listener, "Bob"))
	sentToA := len(out.of("a"))

	b.Disconnect("a")

	req.Equal(received{event.LEAVE, event.Message{
		Sender: "SERVER", Message: "Peer disconnected"}}, out.last("b"))
	_, ok := b.CurrentRoom("b")
	req.False(ok)
	// Nothing is sent to the disconnected connection
	req.Len(out.of("a"), sentToA)
	req.Equal(Stats{Connections: 1}, b.Stats())

	// Idempotent
	b.Disconnect("a")
	b.Disconnect("unknown")
	req.Equal(Stats{Connections: 1}, b.Stats())

	// The peer can relay no more
	req.ErrorIs(b.Relay("b", "still there?"), ErrNotInRoom)
}

func TestBroker_UnreachableMemberDoesNotBlockPeer(t *testing.T) {
	req := require.New(t)
	b, out := newTestBroker(t, nil, 0)
	b.Connect("a")
	b.Connect("b")
	req.NoError(b.Join("a", Venter, "Alice"))
	req.NoError(b.Join("b", Listener, "Bob"))

	out.mu.Lock()
	out.unreachable["a"] = true
	out.mu.Unlock()

	req.NoError(b.Relay("a", "anyone?"))
	req.Equal(received{event.MESSAGE, event.Message{
		Sender: "Alice", Message: "anyone?"}}, out.last("b"))
}

func TestBroker_ConcurrentJoinsAlwaysMatch(t *testing.T) {
	req := require.New(t)
	b, _ := newTestBroker(t, nil, 0)

	const pairs = 200
	for i := 0; i < pairs; i++ {
		b.Connect(fmt.Sprintf("v%d", i))
		b.Connect(fmt.Sprintf("l%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < pairs; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			b.Join(fmt.Sprintf("v%d", i), Venter, fmt.Sprintf("V%d", i))
		}(i)
		go func(i int) {
			defer wg.Done()
			b.Join(fmt.Sprintf("l%d", i), Listener, fmt.Sprintf("L%d", i))
		}(i)
	}
	wg.Wait()

	// Equal numbers of opposite joins must all end up paired.
	s := b.Stats()
	req.Equal(0, s.Venters)
	req.Equal(0, s.Listeners)
	req.Equal(pairs, s.Rooms)
}

func TestBroker_Sweep(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	b, out := newTestBroker(t, notifier, time.Minute)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	b.now = func() time.Time { return clock }

	b.Connect("a")
	b.Connect("b")
	req.NoError(b.Join("a", Venter, "Alice"))
	clock = base.Add(40 * time.Second)
	req.NoError(b.Join("b", Venter, "Brian"))

	// Given Alice has been waiting for longer than the timeout
	var got []event.Notification
	notifier.EXPECT().Notify(gomock.Any()).Do(func(n event.Notification) {
		got = append(got, n)
	}).Times(1)

	// When the queues are swept
	evicted := b.Sweep(base.Add(70 * time.Second))

	// Then only Alice is evicted and notified
	req.Equal(1, evicted)
	req.Equal([]string{"Brian"}, b.QueueNames(Venter))
	req.Equal(received{event.LEAVE, event.Message{
		Sender: "SERVER", Message: "Queue wait timed out"}}, out.last("a"))
	req.Equal(event.QUEUE_TIMEOUT, got[0].Routing)
	req.Equal([]string{"Alice"}, got[0].Names)

	// And she can queue again
	req.NoError(b.Join("a", Venter, "Alice"))
}

func TestBroker_SweepDisabled(t *testing.T) {
	req := require.New(t)
	b, _ := newTestBroker(t, nil, 0)
	b.Connect("a")
	req.NoError(b.Join("a", Venter, "Alice"))

	req.Equal(0, b.Sweep(time.Now().Add(24*time.Hour)))
	req.Equal([]string{"Alice"}, b.QueueNames(Venter))
}

func TestBroker_LifecycleNotifications(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	b, _ := newTestBroker(t, notifier, 0)

	var got []event.Notification
	notifier.EXPECT().Notify(gomock.Any()).Do(func(n event.Notification) {
		got = append(got, n)
	}).Times(2)

	b.Connect("a")
	b.Connect("b")
	req.NoError(b.Join("a", Listener, "Alice"))
	req.NoError(b.Join("b", Venter, "Bob"))
	roomId, _ := b.CurrentRoom("a")
	b.Disconnect("b")

	req.Len(got, 2)
	req.Equal(event.ROOM_CREATED, got[0].Routing)
	req.Equal(roomId, got[0].RoomId)
	req.Equal([]string{"Alice", "Bob"}, got[0].Names)
	req.Equal(event.ROOM_CLOSED, got[1].Routing)
	req.Equal(roomId, got[1].RoomId)
	req.Equal([]string{"Alice"}, got[1].Names)
	req.Equal("Peer disconnected", got[1].Reason)
}

func TestBroker_UnknownConnection(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	b := New(logs.GetLoggerFromLevel(slog.LevelDebug), sender, nil, 0)

	sender.EXPECT().Send("ghost", gomock.Any()).Return(errors.New("gone")).Times(1)

	req.ErrorIs(b.Join("ghost", Venter, "Casper"), ErrUnknownConn)
	req.Empty(b.QueueNames(Venter))
}
