package ws

import (
	"encoding/json"

	"marketchat/internal/service"
)

// 客户端 -> 服务端事件
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
)

// 服务端 -> 客户端事件
const (
	EventJoined         = "joined"
	EventLeft           = "left"
	EventReceiveMessage = "receive_message"
	EventError          = "error"
)

var ErrMalformedEvent = service.NewError(service.ErrInvalidOperation, "malformed event")

// InboundEvent 是客户端发来的一帧；content 的空白校验交给 MessageService。
type InboundEvent struct {
	Type    string `json:"type" validate:"required,oneof=join_room leave_room send_message"`
	RoomID  uint   `json:"roomId" validate:"required"`
	Content string `json:"content"`
}

type roomFrame struct {
	Type   string `json:"type"`
	RoomID uint   `json:"roomId"`
}

type messageFrame struct {
	Type    string              `json:"type"`
	Message *service.MessageDTO `json:"message"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func encodeRoom(typ string, roomID uint) []byte {
	b, _ := json.Marshal(roomFrame{Type: typ, RoomID: roomID})
	return b
}

func encodeMessage(m *service.MessageDTO) ([]byte, error) {
	return json.Marshal(messageFrame{Type: EventReceiveMessage, Message: m})
}

func encodeError(err error) []byte {
	b, _ := json.Marshal(errorFrame{Type: EventError, Message: service.PublicMessage(err)})
	return b
}
