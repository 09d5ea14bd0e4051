package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketchat/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type testFrame struct {
	Type    string          `json:"type"`
	RoomID  uint            `json:"roomId"`
	Message json.RawMessage `json:"message"`
}

func (f testFrame) errorText(t *testing.T) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(f.Message, &s))
	return s
}

func nextFrame(t *testing.T, c *Client) testFrame {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var f testFrame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return testFrame{}
	}
}

func event(typ string, roomID uint, content string) []byte {
	b, _ := json.Marshal(InboundEvent{Type: typ, RoomID: roomID, Content: content})
	return b
}

type brokerFixture struct {
	hub    *Hub
	authz  *MockAuthorizer
	poster *MockMessagePoster
	broker *Broker
}

func newBrokerFixture(t *testing.T, serialize bool) *brokerFixture {
	ctrl := gomock.NewController(t)
	f := &brokerFixture{
		hub:    NewHub(zerolog.Nop()),
		authz:  NewMockAuthorizer(ctrl),
		poster: NewMockMessagePoster(ctrl),
	}
	f.broker = NewBroker(f.hub, f.authz, f.poster, serialize, zerolog.Nop())
	return f
}

// joined registers a client and joins it to roomID through the broker.
func (f *brokerFixture) joined(t *testing.T, userID, roomID uint, opts Options) *Client {
	t.Helper()
	c := newClient(nil, userID, opts)
	require.True(t, f.hub.Register(c))
	f.authz.EXPECT().Authorize(gomock.Any(), roomID, userID).Return(&service.Access{}, nil)
	f.broker.Handle(context.Background(), c, event(EventJoinRoom, roomID, ""))
	frame := nextFrame(t, c)
	require.Equal(t, EventJoined, frame.Type)
	require.Equal(t, roomID, frame.RoomID)
	return c
}

func TestBroker_Join(t *testing.T) {
	f := newBrokerFixture(t, false)
	c := f.joined(t, 1, 7, Options{})
	assert.Equal(t, 1, f.hub.Online(7))

	// Re-joining is acknowledged without another membership check.
	f.broker.Handle(context.Background(), c, event(EventJoinRoom, 7, ""))
	frame := nextFrame(t, c)
	assert.Equal(t, EventJoined, frame.Type)
	assert.Equal(t, 1, f.hub.Online(7))
}

func TestBroker_JoinDenied(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"not a member", service.ErrNotMember, "not a member of this chat room"},
		{"missing room", service.ErrRoomNotFound, "chat room not found"},
		{"storage down", fmt.Errorf("%w: get room: %w", service.ErrPersistence, errors.New("dial tcp")), "temporarily unable to complete the request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBrokerFixture(t, false)
			c := newClient(nil, 3, Options{})
			require.True(t, f.hub.Register(c))
			f.authz.EXPECT().Authorize(gomock.Any(), uint(7), uint(3)).Return(nil, tt.err)

			f.broker.Handle(context.Background(), c, event(EventJoinRoom, 7, ""))

			frame := nextFrame(t, c)
			assert.Equal(t, EventError, frame.Type)
			assert.Equal(t, tt.wantMsg, frame.errorText(t))
			assert.Equal(t, 0, f.hub.Online(7))
			assert.Empty(t, c.rooms)
		})
	}
}

func TestBroker_MalformedEvents(t *testing.T) {
	f := newBrokerFixture(t, false)
	c := newClient(nil, 1, Options{})
	require.True(t, f.hub.Register(c))

	for _, raw := range []string{
		`not json`,
		`{"type":"dance","roomId":1}`,
		`{"type":"join_room"}`,
		`{"type":"send_message","roomId":"abc","content":"hi"}`,
	} {
		f.broker.Handle(context.Background(), c, []byte(raw))
		frame := nextFrame(t, c)
		assert.Equal(t, EventError, frame.Type, raw)
		assert.Equal(t, "malformed event", frame.errorText(t), raw)
	}
}

func TestBroker_SendWithoutJoin(t *testing.T) {
	f := newBrokerFixture(t, false)
	c := newClient(nil, 1, Options{})
	require.True(t, f.hub.Register(c))
	f.poster.EXPECT().Post(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	f.broker.Handle(context.Background(), c, event(EventSendMessage, 7, "hello"))

	frame := nextFrame(t, c)
	assert.Equal(t, EventError, frame.Type)
	assert.Equal(t, ErrNotJoined.Msg, frame.errorText(t))
}

func TestBroker_SendBroadcastsToEveryMember(t *testing.T) {
	f := newBrokerFixture(t, false)
	buyer := f.joined(t, 1, 7, Options{})
	seller := f.joined(t, 2, 7, Options{})
	elsewhere := f.joined(t, 3, 8, Options{})

	dto := &service.MessageDTO{
		ID:         42,
		Content:    "hello",
		ChatRoomID: 7,
		SenderID:   1,
		CreatedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Sender:     service.UserSummary{ID: 1, Nickname: "buyer"},
	}
	f.poster.EXPECT().Post(gomock.Any(), uint(7), uint(1), "  hello ").Return(dto, nil)

	f.broker.Handle(context.Background(), buyer, event(EventSendMessage, 7, "  hello "))

	fromBuyer := nextFrame(t, buyer)
	fromSeller := nextFrame(t, seller)
	assert.Equal(t, EventReceiveMessage, fromBuyer.Type)
	assert.Equal(t, fromBuyer, fromSeller)

	var got service.MessageDTO
	require.NoError(t, json.Unmarshal(fromSeller.Message, &got))
	assert.Equal(t, dto.ID, got.ID)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, dto.Sender, got.Sender)
	assert.True(t, dto.CreatedAt.Equal(got.CreatedAt))

	assert.Empty(t, drain(elsewhere))
}

func TestBroker_PostFailureIsPrivate(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"persistence", fmt.Errorf("%w: create message: %w", service.ErrPersistence, errors.New("disk full")), "temporarily unable to complete the request"},
		{"empty content", service.ErrEmptyContent, "message content is empty"},
		{"no longer a member", service.ErrNotMember, "not a member of this chat room"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBrokerFixture(t, false)
			sender := f.joined(t, 1, 7, Options{})
			other := f.joined(t, 2, 7, Options{})
			f.poster.EXPECT().Post(gomock.Any(), uint(7), uint(1), gomock.Any()).Return(nil, tt.err)

			f.broker.Handle(context.Background(), sender, event(EventSendMessage, 7, "hi"))

			frame := nextFrame(t, sender)
			assert.Equal(t, EventError, frame.Type)
			assert.Equal(t, tt.wantMsg, frame.errorText(t))
			assert.Empty(t, drain(other))
		})
	}
}

func TestBroker_SendCompletesAfterSenderDisconnects(t *testing.T) {
	f := newBrokerFixture(t, false)
	buyer := f.joined(t, 1, 7, Options{})
	seller := f.joined(t, 2, 7, Options{})

	started := make(chan struct{})
	release := make(chan struct{})
	postCtxErr := make(chan error, 1)
	f.poster.EXPECT().Post(gomock.Any(), uint(7), uint(1), "still there?").
		DoAndReturn(func(ctx context.Context, roomID, senderID uint, content string) (*service.MessageDTO, error) {
			close(started)
			<-release
			postCtxErr <- ctx.Err()
			return &service.MessageDTO{ID: 10, Content: content, ChatRoomID: roomID, SenderID: senderID}, nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.broker.Handle(ctx, buyer, event(EventSendMessage, 7, "still there?"))
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("post never started")
	}
	// The socket drops while the write is in flight: the request context ends
	// and the read loop unregisters the sender.
	cancel()
	f.hub.Unregister(buyer)
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handle did not return")
	}

	require.NoError(t, <-postCtxErr)
	frame := nextFrame(t, seller)
	require.Equal(t, EventReceiveMessage, frame.Type)
	var msg service.MessageDTO
	require.NoError(t, json.Unmarshal(frame.Message, &msg))
	assert.Equal(t, uint(10), msg.ID)
	assert.Equal(t, "still there?", msg.Content)

	_, open := <-buyer.send
	assert.False(t, open, "disconnected sender must not receive the broadcast")
	assert.Equal(t, 1, f.hub.Online(7))
}

func TestBroker_Leave(t *testing.T) {
	f := newBrokerFixture(t, false)
	a := f.joined(t, 1, 7, Options{})
	b := f.joined(t, 2, 7, Options{})

	f.broker.Handle(context.Background(), a, event(EventLeaveRoom, 7, ""))
	frame := nextFrame(t, a)
	assert.Equal(t, EventLeft, frame.Type)
	assert.Equal(t, 1, f.hub.Online(7))

	f.poster.EXPECT().Post(gomock.Any(), uint(7), uint(2), "bye").
		Return(&service.MessageDTO{ID: 1, ChatRoomID: 7, SenderID: 2, Content: "bye"}, nil)
	f.broker.Handle(context.Background(), b, event(EventSendMessage, 7, "bye"))
	assert.Equal(t, EventReceiveMessage, nextFrame(t, b).Type)
	assert.Empty(t, drain(a))

	f.broker.Handle(context.Background(), a, event(EventSendMessage, 7, "again"))
	assert.Equal(t, ErrNotJoined.Msg, nextFrame(t, a).errorText(t))
}

func TestBroker_RateLimited(t *testing.T) {
	f := newBrokerFixture(t, false)
	c := f.joined(t, 1, 7, Options{MessagesPerSecond: 1})
	f.poster.EXPECT().Post(gomock.Any(), uint(7), uint(1), "one").
		Return(&service.MessageDTO{ID: 1, ChatRoomID: 7, SenderID: 1, Content: "one"}, nil).Times(1)

	f.broker.Handle(context.Background(), c, event(EventSendMessage, 7, "one"))
	assert.Equal(t, EventReceiveMessage, nextFrame(t, c).Type)

	f.broker.Handle(context.Background(), c, event(EventSendMessage, 7, "two"))
	frame := nextFrame(t, c)
	assert.Equal(t, EventError, frame.Type)
	assert.Equal(t, ErrRateLimited.Msg, frame.errorText(t))
}

func TestBroker_SerializedRoomSends(t *testing.T) {
	f := newBrokerFixture(t, true)
	const n = 8
	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = f.joined(t, uint(i+1), 7, Options{SendBuffer: n + 1})
	}

	var inFlight, maxInFlight atomic.Int32
	var nextID atomic.Uint32
	f.poster.EXPECT().Post(gomock.Any(), uint(7), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, roomID, senderID uint, content string) (*service.MessageDTO, error) {
			cur := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				prev := maxInFlight.Load()
				if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return &service.MessageDTO{ID: uint(nextID.Add(1)), ChatRoomID: roomID, SenderID: senderID, Content: content}, nil
		}).Times(n)

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			f.broker.Handle(context.Background(), c, event(EventSendMessage, 7, "hi"))
		}(c)
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxInFlight.Load())

	// Every member sees the same sequence of message ids.
	var want []uint
	for i, c := range clients {
		var ids []uint
		for _, raw := range drain(c) {
			var fr struct {
				Message service.MessageDTO `json:"message"`
			}
			require.NoError(t, json.Unmarshal(raw, &fr))
			ids = append(ids, fr.Message.ID)
		}
		require.Len(t, ids, n)
		if i == 0 {
			want = ids
			continue
		}
		assert.Equal(t, want, ids)
	}
}

func TestRoomLocks_Recycled(t *testing.T) {
	l := newRoomLocks()
	unlock := l.lock(1)
	assert.Len(t, l.m, 1)
	unlock()
	assert.Empty(t, l.m)
}
