package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// MaxContentLength 是单条消息允许的最大字符数。
const MaxContentLength = 2000

// MaxEventBytes 是一帧 send_message 事件的读取下限：每个字符按 JSON 转义后最坏 6 字节（\uXXXX）计，
// 另留 1KiB 给事件外壳。WebSocket 读限制低于它时，合法消息会被当作超长帧断开。
const MaxEventBytes = MaxContentLength*6 + 1024

// MessageService 负责消息的写入与历史查询，两者都先经过成员校验。
type MessageService struct {
	messages MessageStore
	users    UserLookup
	authz    *Authorizer
}

func NewMessageService(messages MessageStore, users UserLookup, authz *Authorizer) *MessageService {
	return &MessageService{messages: messages, users: users, authz: authz}
}

// MessageDTO 是对外输出的消息数据，REST 历史与 WebSocket 推送共用同一结构。
type MessageDTO struct {
	ID         uint        `json:"id"`
	Content    string      `json:"content"`
	ChatRoomID uint        `json:"chatRoomId"`
	SenderID   uint        `json:"senderId"`
	CreatedAt  time.Time   `json:"createdAt"`
	Sender     UserSummary `json:"sender"`
}

// Post 校验内容与成员身份后持久化一条消息，返回带发送者摘要的完整消息。
// 失败时不会写入任何数据。
func (s *MessageService) Post(ctx context.Context, roomID, senderID uint, content string) (*MessageDTO, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, ErrContentTooLong
	}
	if _, err := s.authz.Authorize(ctx, roomID, senderID); err != nil {
		return nil, err
	}
	msg, err := s.messages.CreateMessage(ctx, roomID, senderID, content)
	if err != nil {
		return nil, storeErr("create message", err)
	}
	users, err := s.users.GetUserSummaries(ctx, []uint{senderID})
	if err != nil {
		// 消息已经落库，发送者摘要缺失不影响投递。
		log.Warn().Err(err).Uint("room_id", roomID).Uint("message_id", msg.ID).Uint("sender_id", senderID).Msg("load sender summary")
		users = nil
	}
	dto := toMessageDTO(*msg, users)
	return &dto, nil
}

// History 返回房间内全部消息，按创建顺序升序。
func (s *MessageService) History(ctx context.Context, roomID, requesterID uint) ([]MessageDTO, error) {
	if _, err := s.authz.Authorize(ctx, roomID, requesterID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListMessages(ctx, roomID)
	if err != nil {
		return nil, storeErr("list messages", err)
	}
	senderIDs := lo.Uniq(lo.Map(msgs, func(m Message, _ int) uint { return m.SenderID }))
	users, err := s.users.GetUserSummaries(ctx, senderIDs)
	if err != nil {
		return nil, storeErr("get senders", err)
	}
	return lo.Map(msgs, func(m Message, _ int) MessageDTO { return toMessageDTO(m, users) }), nil
}

func toMessageDTO(m Message, users map[uint]UserSummary) MessageDTO {
	return MessageDTO{
		ID:         m.ID,
		Content:    m.Content,
		ChatRoomID: m.RoomID,
		SenderID:   m.SenderID,
		CreatedAt:  m.CreatedAt,
		Sender:     summaryOf(users, m.SenderID),
	}
}
