package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"marketchat/internal/metrics"
	"marketchat/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

//go:generate mockgen -source=broker.go -destination=mock_broker_test.go -package=ws

const eventTimeout = 10 * time.Second

var (
	ErrNotJoined   = service.NewError(service.ErrForbidden, "join the chat room before sending messages")
	ErrRateLimited = service.NewError(service.ErrInvalidOperation, "sending too fast, slow down")
)

type Authorizer interface {
	Authorize(ctx context.Context, roomID, userID uint) (*service.Access, error)
}

type MessagePoster interface {
	Post(ctx context.Context, roomID, senderID uint, content string) (*service.MessageDTO, error)
}

// Broker 处理单个连接上的事件：加入/离开房间、持久化后广播消息。
// 同一连接的事件由其读协程顺序调用 Handle，不同连接之间互不阻塞。
type Broker struct {
	hub       *Hub
	authz     Authorizer
	messages  MessagePoster
	validate  *validator.Validate
	serialize bool
	locks     *roomLocks
	log       zerolog.Logger
}

// NewBroker 中 serialize 为 true 时，同一房间的持久化与广播串行执行，保证严格 FIFO。
func NewBroker(hub *Hub, authz Authorizer, messages MessagePoster, serialize bool, log zerolog.Logger) *Broker {
	return &Broker{
		hub:       hub,
		authz:     authz,
		messages:  messages,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		serialize: serialize,
		locks:     newRoomLocks(),
		log:       log,
	}
}

func (b *Broker) Handle(ctx context.Context, c *Client, data []byte) {
	var in InboundEvent
	if err := json.Unmarshal(data, &in); err != nil {
		b.fail(c, "invalid", ErrMalformedEvent)
		return
	}
	if err := b.validate.Struct(in); err != nil {
		b.fail(c, "invalid", ErrMalformedEvent)
		return
	}

	// 已经开始的写入不因连接断开或停服而中止。
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
	defer cancel()

	var err error
	switch in.Type {
	case EventJoinRoom:
		err = b.join(ctx, c, in.RoomID)
	case EventLeaveRoom:
		b.leave(c, in.RoomID)
	case EventSendMessage:
		err = b.sendMessage(ctx, c, in.RoomID, in.Content)
	}
	if err != nil {
		b.fail(c, in.Type, err)
	}
}

func (b *Broker) join(ctx context.Context, c *Client, roomID uint) error {
	if _, ok := c.rooms[roomID]; !ok {
		if _, err := b.authz.Authorize(ctx, roomID, c.userID); err != nil {
			return err
		}
		if !b.hub.Join(c, roomID) {
			return nil
		}
		c.rooms[roomID] = struct{}{}
		c.log.Debug().Uint("room_id", roomID).Msg("joined room")
	}
	b.hub.Deliver(c, encodeRoom(EventJoined, roomID))
	return nil
}

func (b *Broker) leave(c *Client, roomID uint) {
	delete(c.rooms, roomID)
	b.hub.Leave(c, roomID)
	b.hub.Deliver(c, encodeRoom(EventLeft, roomID))
}

func (b *Broker) sendMessage(ctx context.Context, c *Client, roomID uint, content string) error {
	if _, ok := c.rooms[roomID]; !ok {
		return ErrNotJoined
	}
	if !c.limiter.Allow() {
		return ErrRateLimited
	}
	if b.serialize {
		unlock := b.locks.lock(roomID)
		defer unlock()
	}
	msg, err := b.messages.Post(ctx, roomID, c.userID, content)
	if err != nil {
		return err
	}
	frame, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	n := b.hub.Broadcast(roomID, frame)
	metrics.MessagesTotal.Inc()
	c.log.Debug().Uint("room_id", roomID).Uint("message_id", msg.ID).Int("delivered", n).Msg("message broadcast")
	return nil
}

// fail 只把错误发回给发起事件的连接。
func (b *Broker) fail(c *Client, event string, err error) {
	metrics.EventErrorsTotal.WithLabelValues(event).Inc()
	if errors.Is(err, service.ErrPersistence) || !isTaxonomy(err) {
		b.log.Error().Err(err).Str("conn_id", c.id.String()).Uint("user_id", c.userID).Str("event", event).Msg("ws event failed")
	}
	b.hub.Deliver(c, encodeError(err))
}

func isTaxonomy(err error) bool {
	for _, kind := range []error{service.ErrNotFound, service.ErrForbidden, service.ErrInvalidOperation, service.ErrUnauthenticated} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// roomLocks 是按房间 ID 引用计数的互斥锁表，空闲的锁会被回收。
type roomLocks struct {
	mu sync.Mutex
	m  map[uint]*roomLock
}

func newRoomLocks() *roomLocks { return &roomLocks{m: make(map[uint]*roomLock)} }

func (l *roomLocks) lock(roomID uint) func() {
	l.mu.Lock()
	rl := l.m[roomID]
	if rl == nil {
		rl = &roomLock{}
		l.m[roomID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.m, roomID)
		}
		l.mu.Unlock()
	}
}
